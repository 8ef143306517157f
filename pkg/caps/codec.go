// Package caps turns the capability tokens a local client declares into
// the feature set and service descriptors announced to peers, and parses
// the descriptors peers announce back.
package caps

import "strings"

// ChannelPrefix optionally precedes every token.
const ChannelPrefix = "org.freedesktop.ytstenut.xpmn.Channel/"

// DefaultServiceType is used when a declaration carries no type token.
const DefaultServiceType = "application"

// NotifySuffix marks a feature as a request for status notifications.
const NotifySuffix = "+notify"

// Kind is the category of a capability token.
type Kind int

const (
	KindUnknown Kind = iota
	KindUID
	KindType
	KindName
	KindCaps
	KindInterested
)

var kindPrefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindUID, "uid/"},
	{KindType, "type/"},
	{KindName, "name/"},
	{KindCaps, "caps/"},
	{KindInterested, "interested/"},
}

func (k Kind) prefix() string {
	for _, kp := range kindPrefixes {
		if kp.kind == k {
			return kp.prefix
		}
	}
	return ""
}

// Token is one parsed capability token.
type Token struct {
	Kind  Kind
	Value string
}

// String renders t in its fully prefixed wire form.
func (t Token) String() string {
	if t.Kind == KindUnknown {
		return t.Value
	}
	return ChannelPrefix + t.Kind.prefix() + t.Value
}

// ParseToken classifies raw. Anything unrecognised becomes KindUnknown
// with the raw string as its value.
func ParseToken(raw string) Token {
	s := strings.TrimPrefix(raw, ChannelPrefix)
	for _, kp := range kindPrefixes {
		if strings.HasPrefix(s, kp.prefix) {
			return Token{Kind: kp.kind, Value: s[len(kp.prefix):]}
		}
	}
	return Token{Kind: KindUnknown, Value: raw}
}

// Declaration is what one client declared in a single announcement.
type Declaration struct {
	UID       string   `json:"uid,omitempty"`
	Type      string   `json:"type"`
	Names     []string `json:"names,omitempty"`
	Caps      []string `json:"caps,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// HasService reports whether the declaration carries a service (a uid).
func (d Declaration) HasService() bool {
	return d.UID != ""
}

// Descriptor returns the service descriptor for the declaration.
func (d Declaration) Descriptor() ServiceDescriptor {
	return ServiceDescriptor{
		UID:          d.UID,
		Type:         d.Type,
		Names:        append([]string(nil), d.Names...),
		Capabilities: append([]string(nil), d.Caps...),
	}
}

// Features returns the notification features the declaration asks for.
func (d Declaration) Features() FeatureSet {
	fs := NewFeatureSet()
	for _, c := range d.Interests {
		fs.Add(c + NotifySuffix)
	}
	return fs
}

// Decode partitions raw tokens into a declaration. It accepts any order,
// keeps the last uid and type, and ignores unknown tokens.
func Decode(raw []string) Declaration {
	d := Declaration{Type: DefaultServiceType}
	for _, r := range raw {
		t := ParseToken(r)
		switch t.Kind {
		case KindUID:
			d.UID = t.Value
		case KindType:
			d.Type = t.Value
		case KindName:
			d.Names = append(d.Names, t.Value)
		case KindCaps:
			d.Caps = append(d.Caps, t.Value)
		case KindInterested:
			d.Interests = append(d.Interests, t.Value)
		}
	}
	return d
}

// Encode renders a declaration as prefixed tokens that Decode maps back
// to the same declaration.
func Encode(d Declaration) []string {
	var out []string
	if d.UID != "" {
		out = append(out, Token{Kind: KindUID, Value: d.UID}.String())
	}
	if d.Type != "" {
		out = append(out, Token{Kind: KindType, Value: d.Type}.String())
	}
	for _, n := range d.Names {
		out = append(out, Token{Kind: KindName, Value: n}.String())
	}
	for _, c := range d.Caps {
		out = append(out, Token{Kind: KindCaps, Value: c}.String())
	}
	for _, i := range d.Interests {
		out = append(out, Token{Kind: KindInterested, Value: i}.String())
	}
	return out
}

// EncodeDescriptor renders a service descriptor as tokens.
func EncodeDescriptor(s ServiceDescriptor) []string {
	return Encode(Declaration{UID: s.UID, Type: s.Type, Names: s.Names, Caps: s.Capabilities})
}
