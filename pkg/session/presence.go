package session

import (
	"sort"

	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/stanza"
)

// Presence element names and attributes.
const (
	ElementCaps      = "c"
	ElementFeature   = "feature"
	AttrProtocol     = "protocol"
	AttrVar          = "var"
	PresenceOffline  = "unavailable"
	presenceTypeAttr = "type"
)

// Presence is a parsed presence stanza.
type Presence struct {
	From            string
	Available       bool
	ProtocolVersion string
	Features        []string
	Services        []caps.ServiceDescriptor
}

// BuildPresence renders an available presence carrying the feature set
// and one data form per service.
func BuildPresence(from, protocolVersion string, a caps.Announcement) *stanza.Node {
	p := stanza.NewElement(stanza.NSClient, stanza.KindPresence)
	p.SetAttr("from", from)

	c := stanza.NewElement(stanza.NSCaps, ElementCaps)
	c.SetAttr(AttrProtocol, protocolVersion)
	features := append([]string(nil), a.Features...)
	sort.Strings(features)
	for _, f := range features {
		c.Append(stanza.NewElement(stanza.NSCaps, ElementFeature).SetAttr(AttrVar, f))
	}
	for _, svc := range a.Services {
		c.Append(svc.Form())
	}
	return p.Append(c)
}

// BuildUnavailable renders the presence sent when leaving.
func BuildUnavailable(from string) *stanza.Node {
	p := stanza.NewElement(stanza.NSClient, stanza.KindPresence)
	p.SetAttr("from", from)
	p.SetAttr(presenceTypeAttr, PresenceOffline)
	return p
}

// ParsePresence decodes a presence stanza. It reports false for anything
// that is not a presence with a sender.
func ParsePresence(st *stanza.Node) (Presence, bool) {
	if st == nil || st.Name.Local != stanza.KindPresence {
		return Presence{}, false
	}
	from := stanza.From(st)
	if from == "" {
		return Presence{}, false
	}

	p := Presence{From: from, Available: st.Attr(presenceTypeAttr) != PresenceOffline}
	if !p.Available {
		return p, true
	}

	c := st.Child(stanza.NSCaps, ElementCaps)
	if c == nil {
		return p, true
	}
	p.ProtocolVersion = c.Attr(AttrProtocol)
	for _, el := range c.Elements() {
		switch {
		case el.Is(stanza.NSCaps, ElementFeature):
			if v := el.Attr(AttrVar); v != "" {
				p.Features = append(p.Features, v)
			}
		case el.Name.Space == stanza.NSDataForms:
			if d, ok := caps.DescriptorFromForm(el); ok {
				p.Services = append(p.Services, d)
			}
		}
	}
	return p, true
}
