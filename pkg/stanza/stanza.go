package stanza

import (
	"github.com/google/uuid"
)

// Namespaces used on the wire.
const (
	NSClient       = "jabber:client"
	NSMessage      = "urn:ytstenut:message"
	NSStatus       = "urn:ytstenut:status"
	NSCapabilities = "urn:ytstenut:capabilities"
	NSService      = "urn:ytstenut:service"
	NSStanzaErrors = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSPubsubErrors = "http://jabber.org/protocol/pubsub#errors"
	NSPubsubEvent  = "http://jabber.org/protocol/pubsub#event"
	NSCaps         = "http://jabber.org/protocol/caps"
	NSDataForms    = "jabber:x:data"
)

// ServicePrefix prefixes a service uid to form its data form FORM_TYPE.
const ServicePrefix = NSCapabilities + "#"

// ServiceFeaturePrefix prefixes a target service name to form a feature.
const ServiceFeaturePrefix = NSService + "#"

// Top-level stanza element names.
const (
	KindIQ       = "iq"
	KindMessage  = "message"
	KindPresence = "presence"
)

// IQType is the type attribute of an iq stanza.
type IQType string

const (
	IQGet    IQType = "get"
	IQSet    IQType = "set"
	IQResult IQType = "result"
	IQError  IQType = "error"
)

// NewID returns a fresh stanza id.
func NewID() string {
	return uuid.NewString()
}

// NewIQ builds an iq stanza carrying child.
func NewIQ(typ IQType, id, from, to string, child *Node) *Node {
	iq := NewElement(NSClient, KindIQ)
	iq.SetAttr("type", string(typ))
	if id != "" {
		iq.SetAttr("id", id)
	}
	if from != "" {
		iq.SetAttr("from", from)
	}
	if to != "" {
		iq.SetAttr("to", to)
	}
	return iq.Append(child)
}

// IsIQ reports whether st is an iq stanza.
func IsIQ(st *Node) bool {
	return st != nil && st.Name.Local == KindIQ
}

// TypeOf returns the iq type of st.
func TypeOf(st *Node) IQType {
	return IQType(st.Attr("type"))
}

// ID returns the stanza id.
func ID(st *Node) string { return st.Attr("id") }

// From returns the sender address.
func From(st *Node) string { return st.Attr("from") }

// To returns the recipient address.
func To(st *Node) string { return st.Attr("to") }

// BuildResult answers request with an iq result carrying child.
func BuildResult(request *Node, child *Node) *Node {
	return NewIQ(IQResult, ID(request), To(request), From(request), child)
}

// BuildErrorReply answers request with an iq error carrying e.
func BuildErrorReply(request *Node, e StanzaError) *Node {
	return NewIQ(IQError, ID(request), To(request), From(request), e.Node())
}
