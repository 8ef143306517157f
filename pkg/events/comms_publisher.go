package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/peer-services/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// EventSubject overrides the global event subject (HOST_EVENT_SUBJECT).
	EventSubject string
}

// CommsPublisher publishes session events to COMMS subjects.
type CommsPublisher struct {
	nc           *comms.Conn
	eventSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectHostEvents
	if opts != nil && opts.EventSubject != "" {
		subject = opts.EventSubject
	}
	return &CommsPublisher{nc: nc, eventSubject: subject}
}

// Publish sends the event to its granular subject (<base>.<type>) and to
// the global event subject.
func (p *CommsPublisher) Publish(_ context.Context, event *Event) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granular := commsutil.BuildEventSubject(p.eventSubject, string(event.Type))
	if err := p.nc.Publish(granular, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granular, err))
		return err
	}

	if err := p.nc.Publish(p.eventSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.eventSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event", commsPublisherLogPrefix, event.Type))
	return nil
}
