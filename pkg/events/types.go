// Package events defines the lifecycle and discovery events raised by a
// session and the publishers that deliver them to the host.
package events

import "time"

// Type names an event.
type Type string

const (
	ExchangeNew     Type = "exchange.new"
	ExchangeReplied Type = "exchange.replied"
	ExchangeFailed  Type = "exchange.failed"
	ExchangeClosed  Type = "exchange.closed"
	StatusChanged   Type = "status.changed"
	ServiceAdded    Type = "service.added"
	ServiceRemoved  Type = "service.removed"
)

// Event is the envelope published for every notification. Exactly one of
// the detail pointers is set, matching Type.
type Event struct {
	Type      Type           `json:"type"`
	Exchange  *ExchangeEvent `json:"exchange,omitempty"`
	Status    *StatusEvent   `json:"status,omitempty"`
	Service   *ServiceEvent  `json:"service,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// ExchangeEvent describes an exchange lifecycle change.
type ExchangeEvent struct {
	ID         string            `json:"id"`
	Direction  string            `json:"direction"`
	Peer       string            `json:"peer"`
	Target     string            `json:"targetService,omitempty"`
	Initiator  string            `json:"initiatorService,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Body       string            `json:"body,omitempty"`
	Error      *ExchangeError    `json:"error,omitempty"`
}

// ExchangeError carries the remote failure of an outbound exchange.
type ExchangeError struct {
	Type            int    `json:"type"`
	TypeName        string `json:"typeName"`
	Condition       string `json:"condition"`
	DomainCondition string `json:"domainCondition,omitempty"`
	Text            string `json:"text,omitempty"`
}

// StatusEvent reports a discovered status change. An empty Status means
// the status was withdrawn.
type StatusEvent struct {
	Peer       string `json:"peer"`
	Capability string `json:"capability"`
	Service    string `json:"service"`
	Status     string `json:"status"`
}

// ServiceEvent reports a service appearing on or disappearing from a peer.
type ServiceEvent struct {
	Peer         string            `json:"peer"`
	Service      string            `json:"service"`
	Type         string            `json:"type,omitempty"`
	Names        map[string]string `json:"names,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

// New stamps an event with the current time.
func New(t Type) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}
