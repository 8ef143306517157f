package events

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// EventPublisher is the interface for publishing session events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *Event) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *Event) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *Event) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// Publish calls the callback.
func (p *CallbackPublisher) Publish(ctx context.Context, event *Event) error {
	return p.callback(ctx, event)
}

// FanoutPublisher delivers every event to each of its publishers and
// combines their errors.
type FanoutPublisher struct {
	publishers []EventPublisher
}

// NewFanoutPublisher creates a FanoutPublisher. Nil entries are skipped.
func NewFanoutPublisher(pubs ...EventPublisher) *FanoutPublisher {
	out := &FanoutPublisher{}
	for _, p := range pubs {
		if p != nil {
			out.publishers = append(out.publishers, p)
		}
	}
	return out
}

// Publish delivers event to all publishers.
func (p *FanoutPublisher) Publish(ctx context.Context, event *Event) error {
	var err error
	for _, pub := range p.publishers {
		err = multierr.Append(err, pub.Publish(ctx, event))
	}
	return err
}

// Recorder keeps the most recent events in memory, oldest first.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*Event
}

// NewRecorder creates a Recorder holding at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

// Publish records event.
func (r *Recorder) Publish(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []*Event {
	var out []*Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
