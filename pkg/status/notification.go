package status

import (
	"errors"

	"github.com/morezero/peer-services/pkg/stanza"
)

// Notification is a parsed status notification.
type Notification struct {
	Peer       string
	Capability string
	Service    string
	// Status is the serialized status element, or "" when withdrawn.
	Status string
}

// EmptyStatus returns the canonical empty status element.
func EmptyStatus() *stanza.Node {
	return stanza.NewElement(stanza.NSStatus, ElementStatus)
}

func parseStatusBody(body string) (*stanza.Node, error) {
	if body == "" {
		return EmptyStatus(), nil
	}
	el, err := stanza.ParseString(body)
	if err != nil {
		return nil, errors.New("invalid status XML")
	}
	if !el.Is(stanza.NSStatus, ElementStatus) {
		return nil, errors.New("status must be a <status/> element in the " + stanza.NSStatus + " namespace")
	}
	return el, nil
}

// BuildNotification wraps a status element in the headline message
// published on a capability's topic.
func BuildNotification(from, capability string, status *stanza.Node) *stanza.Node {
	item := stanza.NewElement(stanza.NSPubsubEvent, "item").Append(status)
	items := stanza.NewElement(stanza.NSPubsubEvent, "items").SetAttr("node", capability).Append(item)
	event := stanza.NewElement(stanza.NSPubsubEvent, "event").Append(items)

	msg := stanza.NewElement(stanza.NSClient, stanza.KindMessage).
		SetAttr("type", "headline").
		SetAttr("from", from)
	return msg.Append(event)
}

// ParseNotification extracts the status carried by a headline message.
// A status element whose only content is the stamped from-service and
// capability attributes means the status was withdrawn.
func ParseNotification(st *stanza.Node) (Notification, bool) {
	if st == nil || st.Name.Local != stanza.KindMessage {
		return Notification{}, false
	}
	event := st.Child(stanza.NSPubsubEvent, "event")
	if event == nil {
		return Notification{}, false
	}
	items := event.Child(stanza.NSPubsubEvent, "items")
	if items == nil {
		return Notification{}, false
	}
	item := items.Child(stanza.NSPubsubEvent, "item")
	if item == nil {
		return Notification{}, false
	}
	el := item.Child(stanza.NSStatus, ElementStatus)
	if el == nil {
		return Notification{}, false
	}

	n := Notification{
		Peer:       stanza.From(st),
		Capability: el.Attr(AttrCapability),
		Service:    el.Attr(AttrFromService),
	}
	if n.Capability == "" {
		n.Capability = items.Attr("node")
	}
	if n.Peer == "" || n.Capability == "" || n.Service == "" {
		return Notification{}, false
	}

	if !isWithdrawal(el) {
		n.Status = el.String()
	}
	return n, true
}

func isWithdrawal(el *stanza.Node) bool {
	if el.HasContent() {
		return false
	}
	for _, a := range el.Attrs {
		if a.Name.Space != "" {
			return false
		}
		if a.Name.Local != AttrFromService && a.Name.Local != AttrCapability {
			return false
		}
	}
	return true
}
