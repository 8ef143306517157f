// Package exchange implements a single correlated request/reply exchange
// with a remote peer and its lifecycle state machine.
package exchange

import (
	"context"
	"time"

	"github.com/morezero/peer-services/pkg/stanza"
)

// Direction tells which side of the exchange this process is on.
type Direction int

const (
	Outbound Direction = iota + 1
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	}
	return "unknown"
}

// ParseDirection maps "inbound" or "outbound" back to a Direction. The
// empty string yields the zero Direction, which matches either side in
// lookups.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "":
		return 0, true
	case "outbound":
		return Outbound, true
	case "inbound":
		return Inbound, true
	}
	return 0, false
}

// State is the lifecycle state of an exchange.
type State int

const (
	StateCreated State = iota
	StateSubmitted
	StateReplied
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateReplied:
		return "replied"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// RequestType selects the iq type of an outbound request.
type RequestType int

const (
	RequestGet RequestType = 1
	RequestSet RequestType = 2
)

// Valid reports whether t is Get or Set.
func (t RequestType) Valid() bool {
	return t == RequestGet || t == RequestSet
}

// IQType maps t onto the wire iq type.
func (t RequestType) IQType() stanza.IQType {
	if t == RequestSet {
		return stanza.IQSet
	}
	return stanza.IQGet
}

// Payload is the immutable content of a request.
type Payload struct {
	TargetService    string            `json:"targetService"`
	InitiatorService string            `json:"initiatorService"`
	RequestType      RequestType       `json:"requestType"`
	Attributes       map[string]string `json:"attributes"`
	Body             string            `json:"body"`
}

// Key identifies an exchange under the keyed matching policy.
type Key struct {
	Peer      string
	Direction Direction
	ID        string
}

// Outbox is how an exchange puts stanzas on the wire. The registry
// supplies one per matching policy.
type Outbox interface {
	// SendRequest sends an outbound request. The response, when it
	// arrives, must be handed to ex.HandleResponse.
	SendRequest(ctx context.Context, ex *Exchange, request *stanza.Node) error
	// SendResponse sends a result or error answering an inbound request.
	SendResponse(ctx context.Context, response *stanza.Node) error
}

// NotificationKind names an exchange lifecycle notification.
type NotificationKind string

const (
	NotifyReplied NotificationKind = "replied"
	NotifyFailed  NotificationKind = "failed"
	NotifyClosed  NotificationKind = "closed"
)

// Notification is delivered to the observer after the exchange lock is
// released.
type Notification struct {
	Kind       NotificationKind
	Exchange   *Exchange
	Attributes map[string]string
	Body       string
	Error      *stanza.StanzaError
}

// Observer receives exchange notifications.
type Observer func(Notification)

// Info is a read-only snapshot of an exchange.
type Info struct {
	ID               string            `json:"id"`
	Direction        string            `json:"direction"`
	Peer             string            `json:"peer"`
	State            string            `json:"state"`
	TargetService    string            `json:"targetService"`
	InitiatorService string            `json:"initiatorService"`
	RequestType      RequestType       `json:"requestType"`
	Attributes       map[string]string `json:"attributes"`
	Body             string            `json:"body"`
	CreatedAt        time.Time         `json:"createdAt"`
}
