// Package dispatcher routes host API requests arriving over COMMS to the
// local session.
package dispatcher

import "encoding/json"

// HostRequest is the JSON envelope for incoming host API requests.
type HostRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// HostResponse is the JSON envelope for host API responses.
type HostResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	ClientID      string `json:"clientId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	DeadlineMs    int    `json:"deadlineMs,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// CreateExchangeParams are the params of createExchange.
type CreateExchangeParams struct {
	Request json.RawMessage `json:"request"`
	// Submit sends the request right away.
	Submit bool `json:"submit,omitempty"`
}

// ExchangeParams address an existing exchange. Peer and Direction
// ("inbound" or "outbound") are needed when the id alone is ambiguous.
type ExchangeParams struct {
	ID        string `json:"id"`
	Peer      string `json:"peer,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// ReplyParams are the params of reply.
type ReplyParams struct {
	ID         string            `json:"id"`
	Peer       string            `json:"peer,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// FailParams are the params of fail.
type FailParams struct {
	ID          string `json:"id"`
	Peer        string `json:"peer,omitempty"`
	ErrorType   int    `json:"errorType"`
	StanzaError string `json:"stanzaError"`
	DomainError string `json:"domainError,omitempty"`
	Text        string `json:"text,omitempty"`
}

// RepresentClientParams are the params of representClient.
type RepresentClientParams struct {
	ClientID       string   `json:"clientId"`
	Tokens         []string `json:"tokens"`
	TargetServices []string `json:"targetServices,omitempty"`
}

// AdvertiseStatusParams are the params of advertiseStatus.
type AdvertiseStatusParams struct {
	Capability string `json:"capability"`
	Service    string `json:"service"`
	Body       string `json:"body,omitempty"`
}
