package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloud-shuttle/foreman/internal/events"
)

// receiver is a test endpoint that records what it is sent
type receiver struct {
	mu       sync.Mutex
	payloads []Payload
	headers  []http.Header
	bodies   [][]byte
	status   int
}

func newReceiver(t *testing.T) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{status: http.StatusOK}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("Failed to decode payload: %v", err)
		}
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.headers = append(r.headers, req.Header.Clone())
		r.bodies = append(r.bodies, body)
		status := r.status
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return r, server
}

func (r *receiver) Payloads() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payload(nil), r.payloads...)
}

func publish(t *testing.T, bus *events.Bus, evs ...*events.Event) {
	t.Helper()
	for _, ev := range evs {
		if err := bus.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
}

func TestNewForwarder_RequiresURL(t *testing.T) {
	if _, err := NewForwarder([]Webhook{{URL: ""}}); err == nil {
		t.Fatal("expected error for webhook without url")
	}

	f, err := NewForwarder([]Webhook{{URL: "http://example.invalid"}})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	if f.webhooks[0].ID != "webhook-1" {
		t.Errorf("default ID = %q", f.webhooks[0].ID)
	}
}

func TestForwarder_DeliversBusEvents(t *testing.T) {
	rec, server := newReceiver(t)

	f, err := NewForwarder([]Webhook{{
		ID:      "ci",
		URL:     server.URL,
		Secret:  "test-secret",
		Headers: map[string]string{"X-Team": "platform"},
	}})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	f.Start(bus, 1)

	publish(t, bus,
		events.NewEvent(events.EventExecutionCompleted, "task-1", "exec-1", map[string]any{"status": "completed"}),
		events.NewEvent(events.EventTaskStreamChunk, "task-1", "", map[string]any{"chunk": "noise"}),
	)

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := rec.Payloads()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1 (stream chunks are not forwarded by default)", len(got))
	}
	p := got[0]
	if p.Event != events.EventExecutionCompleted || p.TaskID != "task-1" || p.ExecutionID != "exec-1" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.DeliveryID == "" || p.EventID == "" {
		t.Error("payload is missing ids")
	}

	h := rec.headers[0]
	if h.Get("X-Webhook-Id") != "ci" {
		t.Errorf("X-Webhook-Id = %q", h.Get("X-Webhook-Id"))
	}
	if h.Get("X-Team") != "platform" {
		t.Errorf("custom header missing")
	}
	sig := h.Get("X-Webhook-Signature")
	if sig != "sha256="+sign(rec.bodies[0], "test-secret") {
		t.Errorf("signature %q does not match body", sig)
	}
}

func TestForwarder_Filtering(t *testing.T) {
	rec, server := newReceiver(t)

	f, err := NewForwarder([]Webhook{{
		URL:    server.URL,
		Events: []events.EventType{events.EventVerificationFailed, events.EventTaskStreamChunk},
	}})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	f.Start(bus, 2)

	publish(t, bus,
		events.NewEvent(events.EventVerificationCompleted, "task-1", "", nil),
		events.NewEvent(events.EventVerificationFailed, "task-2", "", nil),
		events.NewEvent(events.EventTaskStreamChunk, "task-2", "", map[string]any{"chunk": "hi"}),
	)
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := rec.Payloads()
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	for _, p := range got {
		if p.Event == events.EventVerificationCompleted {
			t.Errorf("unsubscribed event delivered: %s", p.Event)
		}
	}
}

func TestForwarder_History(t *testing.T) {
	rec, server := newReceiver(t)
	rec.status = http.StatusInternalServerError

	f, err := NewForwarder([]Webhook{{URL: server.URL}})
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	f.SetTimeout(2 * time.Second)

	bus := events.NewBus()
	defer bus.Close()
	f.Start(bus, 1)

	for i := 0; i < 3; i++ {
		publish(t, bus, events.NewEvent(events.EventDesignCompleted, "task-1", "", nil))
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	history := f.History(10)
	if len(history) != 3 {
		t.Fatalf("history has %d results, want 3", len(history))
	}
	for _, r := range history {
		if r.Success || r.StatusCode != http.StatusInternalServerError || r.Error != "HTTP 500" {
			t.Errorf("unexpected result %+v", r)
		}
	}
	if got := f.History(2); len(got) != 2 {
		t.Errorf("History(2) returned %d results", len(got))
	}
}

func TestForwarder_StopWithoutStart(t *testing.T) {
	f, err := NewForwarder(nil)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "test-secret"
	payload := []byte(`{"test": "data"}`)
	sig := sign(payload, secret)

	if !VerifySignature(payload, sig, secret) {
		t.Error("Signature verification failed")
	}
	if VerifySignature(payload, sig, "wrong-secret") {
		t.Error("Signature should fail with wrong secret")
	}
	if VerifySignature([]byte(`{"test": "tampered"}`), sig, secret) {
		t.Error("Signature should fail with tampered payload")
	}
}
