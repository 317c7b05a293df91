package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Recorder is a Notifier that keeps every event in memory, in order.
// Used by tests and by the CLI to summarise a run.
type Recorder struct {
	*Emitter

	mu      sync.Mutex
	events  []*events.Event
	changed chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	r := &Recorder{changed: make(chan struct{})}
	r.Emitter = NewEmitter(r.record)
	return r
}

func (r *Recorder) record(ev *events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t events.EventType) []*events.Event {
	var out []*events.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of a type were recorded
func (r *Recorder) Count(t events.EventType) int {
	return len(r.OfType(t))
}

// WaitFor blocks until an event matching one of the types is recorded or
// the timeout elapses. It returns the first match.
func (r *Recorder) WaitFor(timeout time.Duration, ts ...events.EventType) (*events.Event, error) {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		for _, ev := range r.events {
			for _, t := range ts {
				if ev.Type == t {
					r.mu.Unlock()
					return ev, nil
				}
			}
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return nil, fmt.Errorf("timed out after %v waiting for %v", timeout, ts)
		}
	}
}

// Execution extracts the execution snapshot carried by an execution event
func Execution(ev *events.Event) *types.PipelineExecution {
	if ev == nil {
		return nil
	}
	exec, _ := ev.Data["execution"].(*types.PipelineExecution)
	return exec
}
