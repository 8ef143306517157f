package stanza

import (
	"errors"
	"sort"
)

// ErrorType classifies a failed request.
type ErrorType int

const (
	ErrorTypeCancel ErrorType = iota + 1
	ErrorTypeContinue
	ErrorTypeModify
	ErrorTypeAuth
	ErrorTypeWait
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeCancel:   "cancel",
	ErrorTypeContinue: "continue",
	ErrorTypeModify:   "modify",
	ErrorTypeAuth:     "auth",
	ErrorTypeWait:     "wait",
}

// Valid reports whether t is one of the five defined error types.
func (t ErrorType) Valid() bool {
	_, ok := errorTypeNames[t]
	return ok
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseErrorType maps a wire nick back to an ErrorType.
func ParseErrorType(s string) (ErrorType, bool) {
	for t, name := range errorTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Domain error conditions.
const (
	DomainForbidden    = "forbidden"
	DomainItemNotFound = "item-not-found"
)

// DomainErrors lists the domain conditions with their default error type.
var DomainErrors = map[string]ErrorType{
	DomainForbidden:    ErrorTypeModify,
	DomainItemNotFound: ErrorTypeModify,
}

// StanzaError is the content of an iq error child.
type StanzaError struct {
	Type            ErrorType `json:"type"`
	Condition       string    `json:"condition"`
	DomainCondition string    `json:"domainCondition"`
	Text            string    `json:"text"`
}

// Validate checks that e can be rendered: a defined type, a stanza
// condition that is empty or a valid element name, and a domain condition
// that is empty or listed in DomainErrors.
func (e StanzaError) Validate() error {
	if !e.Type.Valid() {
		return errors.New("error type is set to an invalid value")
	}
	if e.Condition != "" && !ValidNCName(e.Condition) {
		return errors.New("stanza error " + `"` + e.Condition + `"` + " is not a valid element name")
	}
	if e.DomainCondition != "" {
		if _, ok := DomainErrors[e.DomainCondition]; !ok {
			return errors.New("unknown domain error " + `"` + e.DomainCondition + `"`)
		}
	}
	return nil
}

// Node renders e as an <error/> element.
func (e StanzaError) Node() *Node {
	n := NewElement(NSClient, "error")
	n.SetAttr("type", e.Type.String())
	if e.Condition != "" {
		n.Append(NewElement(NSStanzaErrors, e.Condition))
	}
	if e.DomainCondition != "" {
		n.Append(NewElement(NSPubsubErrors, e.DomainCondition))
	}
	text := NewElement(NSStanzaErrors, "text")
	text.AppendText(e.Text)
	return n.Append(text)
}

// ExtractError reads the error child of an iq error stanza. The second
// result is false when st is not an error. Only domain conditions listed
// in DomainErrors are recognised; a missing error type falls back to the
// domain condition's default.
func ExtractError(st *Node) (StanzaError, bool) {
	if !IsIQ(st) || TypeOf(st) != IQError {
		return StanzaError{}, false
	}

	out := StanzaError{Type: ErrorTypeCancel}
	errNode := st.Child("", "error")
	if errNode == nil {
		return out, true
	}

	for _, c := range errNode.Elements() {
		switch {
		case c.Name.Local == "text":
			out.Text = c.InnerText()
		case c.Name.Space == NSStanzaErrors && out.Condition == "":
			out.Condition = c.Name.Local
		case c.Name.Space == NSPubsubErrors && out.DomainCondition == "":
			if _, ok := DomainErrors[c.Name.Local]; ok {
				out.DomainCondition = c.Name.Local
			}
		}
	}
	if t, ok := ParseErrorType(errNode.Attr("type")); ok {
		out.Type = t
	} else if t, ok := DomainErrors[out.DomainCondition]; ok {
		out.Type = t
	}
	if out.Condition == "" {
		out.Condition = "undefined-condition"
	}
	return out, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
