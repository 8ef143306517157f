// Package stanza models the XML stanzas exchanged between peers: a small
// namespace-aware element tree, IQ helpers, the message payload rules and
// the error child carried by failed requests.
package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const nodeLogPrefix = "stanza:node"

// NSXML is the namespace bound to the reserved xml prefix.
const NSXML = "http://www.w3.org/XML/1998/namespace"

// Node is an XML element or, when Name.Local is empty, a text run.
// Name.Space always holds the resolved namespace URI, never a prefix.
type Node struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Node
	Text     string
}

// NewElement creates an element in the given namespace.
func NewElement(space, local string) *Node {
	return &Node{Name: xml.Name{Space: space, Local: local}}
}

// Parse reads exactly one root element from data. Comments, processing
// instructions and whitespace may surround it; any other content is an
// error.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*Node
	var root *Node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s - %w", nodeLogPrefix, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, fmt.Errorf("%s - element <%s> after the root element", nodeLogPrefix, t.Name.Local)
			}
			n := &Node{Name: t.Name}
			for _, a := range t.Attr {
				if isNamespaceDecl(a) {
					continue
				}
				n.Attrs = append(n.Attrs, a)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = closed
			}
		case xml.CharData:
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, &Node{Text: string(t)})
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("%s - text outside the root element", nodeLogPrefix)
			}
		}
	}

	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// ParseString is Parse for string input.
func ParseString(s string) (*Node, error) {
	return Parse([]byte(s))
}

func isNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

// IsText reports whether n is a text run.
func (n *Node) IsText() bool {
	return n.Name.Local == ""
}

// Is reports whether n is the element local in namespace space.
func (n *Node) Is(space, local string) bool {
	return n != nil && n.Name.Space == space && n.Name.Local == local
}

// LookupAttr returns the value of the non-namespaced attribute local.
func (n *Node) LookupAttr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Attr returns the value of the non-namespaced attribute local, or "".
func (n *Node) Attr(local string) string {
	v, _ := n.LookupAttr(local)
	return v
}

// SetAttr sets a non-namespaced attribute, replacing any existing value.
func (n *Node) SetAttr(local, value string) *Node {
	for i, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	return n
}

// RemoveAttr drops a non-namespaced attribute if present.
func (n *Node) RemoveAttr(local string) {
	for i, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

// PlainAttrs returns the attributes that carry no namespace.
func (n *Node) PlainAttrs() map[string]string {
	out := make(map[string]string, len(n.Attrs))
	for _, a := range n.Attrs {
		if a.Name.Space == "" {
			out[a.Name.Local] = a.Value
		}
	}
	return out
}

// Append adds child nodes and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// AppendText adds a text run and returns n.
func (n *Node) AppendText(s string) *Node {
	if s != "" {
		n.Children = append(n.Children, &Node{Text: s})
	}
	return n
}

// Elements returns the element children, skipping text.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if !c.IsText() {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first element child named local. An empty space
// matches any namespace.
func (n *Node) Child(space, local string) *Node {
	for _, c := range n.Children {
		if c.IsText() || c.Name.Local != local {
			continue
		}
		if space == "" || c.Name.Space == space {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every element child named local in space.
func (n *Node) ChildrenNamed(space, local string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if !c.IsText() && c.Name.Local == local && (space == "" || c.Name.Space == space) {
			out = append(out, c)
		}
	}
	return out
}

// InnerText concatenates the direct text runs of n.
func (n *Node) InnerText() string {
	var b strings.Builder
	for _, c := range n.Children {
		if c.IsText() {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// HasContent reports whether n has any element child or non-blank text.
func (n *Node) HasContent() bool {
	for _, c := range n.Children {
		if !c.IsText() || strings.TrimSpace(c.Text) != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name, Text: n.Text}
	if len(n.Attrs) > 0 {
		out.Attrs = make([]xml.Attr, len(n.Attrs))
		copy(out.Attrs, n.Attrs)
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// String serializes n. Namespace declarations are emitted where an
// element's namespace differs from its parent's.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, "")
	return b.String()
}

// Bytes is String as a byte slice.
func (n *Node) Bytes() []byte {
	return []byte(n.String())
}

func (n *Node) write(b *strings.Builder, parentSpace string) {
	if n.IsText() {
		writeEscaped(b, n.Text)
		return
	}

	b.WriteByte('<')
	b.WriteString(n.Name.Local)
	if n.Name.Space != parentSpace {
		b.WriteString(` xmlns="`)
		writeEscaped(b, n.Name.Space)
		b.WriteByte('"')
	}

	prefixes := map[string]string{}
	for _, a := range n.Attrs {
		b.WriteByte(' ')
		switch a.Name.Space {
		case "":
		case NSXML, "xml":
			b.WriteString("xml:")
		default:
			p, ok := prefixes[a.Name.Space]
			if !ok {
				p = fmt.Sprintf("ns%d", len(prefixes)+1)
				prefixes[a.Name.Space] = p
				b.WriteString("xmlns:" + p + `="`)
				writeEscaped(b, a.Name.Space)
				b.WriteString(`" `)
			}
			b.WriteString(p + ":")
		}
		b.WriteString(a.Name.Local)
		b.WriteString(`="`)
		writeEscaped(b, a.Value)
		b.WriteByte('"')
	}

	if len(n.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	for _, c := range n.Children {
		c.write(b, n.Name.Space)
	}
	b.WriteString("</")
	b.WriteString(n.Name.Local)
	b.WriteByte('>')
}

func writeEscaped(b *strings.Builder, s string) {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	b.Write(buf.Bytes())
}
