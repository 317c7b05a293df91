// Package webhooks forwards board events from the event bus to HTTP
// endpoints
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-shuttle/foreman/internal/events"
)

// Webhook is a configured endpoint
type Webhook struct {
	ID      string
	URL     string
	Secret  string             // HMAC secret for verification
	Events  []events.EventType // empty means every event except stream chunks
	Headers map[string]string
}

// Payload is the body POSTed to an endpoint
type Payload struct {
	Event       events.EventType `json:"event"`
	EventID     string           `json:"event_id"`
	Timestamp   int64            `json:"timestamp"` // Unix milliseconds
	WebhookID   string           `json:"webhook_id"`
	DeliveryID  string           `json:"delivery_id"`
	TaskID      string           `json:"task_id,omitempty"`
	ExecutionID string           `json:"execution_id,omitempty"`
	Data        map[string]any   `json:"data,omitempty"`
}

// DeliveryResult is the outcome of one delivery attempt
type DeliveryResult struct {
	WebhookID  string
	DeliveryID string
	Event      events.EventType
	StatusCode int
	Success    bool
	Error      string
	DurationMS int64
	Timestamp  int64
}

type delivery struct {
	webhook *Webhook
	payload *Payload
}

// Forwarder subscribes to a bus and delivers matching events to webhooks
type Forwarder struct {
	webhooks []*Webhook
	client   *http.Client
	verbose  bool

	queue   chan *delivery
	stopCh  chan struct{}
	intake  sync.WaitGroup
	workers sync.WaitGroup
	started bool

	historyMu   sync.Mutex
	history     []*DeliveryResult
	historySize int
	historyPos  int
}

// NewForwarder validates the webhooks and creates a forwarder
func NewForwarder(hooks []Webhook) (*Forwarder, error) {
	f := &Forwarder{
		client:      &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan *delivery, 1000),
		stopCh:      make(chan struct{}),
		history:     make([]*DeliveryResult, 0, 100),
		historySize: 100,
	}
	for i := range hooks {
		h := hooks[i]
		if h.URL == "" {
			return nil, fmt.Errorf("webhook %d: url is required", i+1)
		}
		if h.ID == "" {
			h.ID = fmt.Sprintf("webhook-%d", i+1)
		}
		f.webhooks = append(f.webhooks, &h)
	}
	return f, nil
}

// SetTimeout sets the HTTP client timeout
func (f *Forwarder) SetTimeout(timeout time.Duration) {
	f.client.Timeout = timeout
}

// SetVerbose enables or disables per-delivery logging
func (f *Forwarder) SetVerbose(v bool) {
	f.verbose = v
}

// Start subscribes to bus and begins delivering with the given number of
// workers
func (f *Forwarder) Start(bus *events.Bus, workers int) {
	if workers < 1 {
		workers = 1
	}
	f.started = true
	ch := bus.Subscribe("webhooks")

	f.intake.Add(1)
	go func() {
		defer f.intake.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				f.Emit(ev)
			case <-f.stopCh:
				bus.Unsubscribe(ch)
				f.drain(ch)
				return
			}
		}
	}()

	for i := 0; i < workers; i++ {
		f.workers.Add(1)
		go func() {
			defer f.workers.Done()
			for d := range f.queue {
				f.deliver(d)
			}
		}()
	}
}

// drain forwards events already buffered on ch
func (f *Forwarder) drain(ch chan *events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.Emit(ev)
		default:
			return
		}
	}
}

// Stop stops taking events, then waits for queued deliveries until ctx ends
func (f *Forwarder) Stop(ctx context.Context) error {
	if !f.started {
		return nil
	}
	close(f.stopCh)
	f.intake.Wait()
	close(f.queue)

	done := make(chan struct{})
	go func() {
		f.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook deliveries still pending: %w", ctx.Err())
	}
}

// Emit queues an event for every webhook subscribed to it. It must not be
// called after Stop.
func (f *Forwarder) Emit(ev *events.Event) {
	for _, h := range f.webhooks {
		if !subscribed(h, ev.Type) {
			continue
		}

		payload := &Payload{
			Event:       ev.Type,
			EventID:     ev.ID,
			Timestamp:   ev.Timestamp,
			WebhookID:   h.ID,
			DeliveryID:  uuid.NewString(),
			TaskID:      ev.TaskID,
			ExecutionID: ev.ExecutionID,
			Data:        ev.Data,
		}

		select {
		case f.queue <- &delivery{webhook: h, payload: payload}:
		default:
			log.Printf("[webhooks] delivery queue full, dropping %s for %s", ev.Type, h.ID)
		}
	}
}

func subscribed(h *Webhook, t events.EventType) bool {
	if len(h.Events) == 0 {
		return t != events.EventTaskStreamChunk
	}
	for _, e := range h.Events {
		if e == t {
			return true
		}
	}
	return false
}

func (f *Forwarder) deliver(d *delivery) {
	start := time.Now()
	result := &DeliveryResult{
		WebhookID:  d.webhook.ID,
		DeliveryID: d.payload.DeliveryID,
		Event:      d.payload.Event,
		Timestamp:  start.Unix(),
	}
	defer f.record(result)

	body, err := json.Marshal(d.payload)
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal payload: %v", err)
		log.Printf("[webhooks] %s", result.Error)
		return
	}

	req, err := http.NewRequest(http.MethodPost, d.webhook.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		log.Printf("[webhooks] %s", result.Error)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Foreman-Webhooks/1.0")
	req.Header.Set("X-Webhook-ID", d.webhook.ID)
	req.Header.Set("X-Webhook-Delivery-ID", d.payload.DeliveryID)
	req.Header.Set("X-Webhook-Event", string(d.payload.Event))
	for k, v := range d.webhook.Headers {
		req.Header.Set(k, v)
	}
	if d.webhook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+sign(body, d.webhook.Secret))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		log.Printf("[webhooks] %s delivery to %s failed: %v", d.payload.Event, d.webhook.URL, err)
		return
	}
	resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.DurationMS = time.Since(start).Milliseconds()

	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		log.Printf("[webhooks] %s delivery to %s failed: HTTP %d", d.payload.Event, d.webhook.URL, resp.StatusCode)
	} else if f.verbose {
		log.Printf("[webhooks] %s delivered to %s (HTTP %d, %dms)", d.payload.Event, d.webhook.URL, resp.StatusCode, result.DurationMS)
	}
}

func (f *Forwarder) record(result *DeliveryResult) {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()

	if len(f.history) < f.historySize {
		f.history = append(f.history, result)
	} else {
		f.history[f.historyPos] = result
		f.historyPos = (f.historyPos + 1) % f.historySize
	}
}

// History returns up to limit recent delivery results, oldest first
func (f *Forwarder) History(limit int) []*DeliveryResult {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()

	n := len(f.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	if limit == 0 {
		return nil
	}

	result := make([]*DeliveryResult, limit)
	// historyPos is the oldest slot once the buffer has wrapped
	start := (f.historyPos + n - limit) % n
	for i := 0; i < limit; i++ {
		result[i] = f.history[(start+i)%n]
	}
	return result
}

// VerifySignature checks an HMAC signature produced for payload
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
