package stanza

import (
	"errors"
	"fmt"
)

// ElementMessage is the local name of the message payload element.
const ElementMessage = "message"

// Message body validation failures.
var (
	ErrInvalidXML     = errors.New("invalid XML")
	ErrWrongNamespace = errors.New("must be of the " + NSMessage + " namespace")
	ErrWrongElement   = errors.New("must be a <message> element")
	ErrInvalidAttr    = errors.New("invalid attribute")
)

// EmptyMessage returns the canonical empty message payload.
func EmptyMessage() *Node {
	return NewElement(NSMessage, ElementMessage)
}

// ParseMessageBody parses a serialized message payload. An empty body
// yields the canonical empty payload.
func ParseMessageBody(body string) (*Node, error) {
	if body == "" {
		return EmptyMessage(), nil
	}

	n, err := ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXML, err)
	}
	if n.Name.Space != NSMessage {
		return nil, ErrWrongNamespace
	}
	if n.Name.Local != ElementMessage {
		return nil, ErrWrongElement
	}
	return n, nil
}

// BuildMessage parses body and overlays attrs onto it. Attributes given
// explicitly win over those already present in the body. Every key must be
// a valid plain attribute name.
func BuildMessage(attrs map[string]string, body string) (*Node, error) {
	keys := sortedKeys(attrs)
	for _, k := range keys {
		if err := ValidateAttrName(k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttr, err)
		}
	}
	n, err := ParseMessageBody(body)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		n.SetAttr(k, attrs[k])
	}
	return n, nil
}

// MessageChild returns the message payload of st, or nil.
func MessageChild(st *Node) *Node {
	if st == nil {
		return nil
	}
	return st.Child(NSMessage, ElementMessage)
}

// IsMessageRequest reports whether st is an iq get or set with an id and
// a message payload.
func IsMessageRequest(st *Node) bool {
	if !IsIQ(st) || ID(st) == "" {
		return false
	}
	switch TypeOf(st) {
	case IQGet, IQSet:
	default:
		return false
	}
	return MessageChild(st) != nil
}
