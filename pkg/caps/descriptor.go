package caps

import (
	"strings"

	"github.com/morezero/peer-services/pkg/stanza"
)

// Data form field names.
const (
	FieldFormType     = "FORM_TYPE"
	FieldType         = "type"
	FieldName         = "name"
	FieldCapabilities = "capabilities"
)

// ServiceDescriptor describes one service a peer exposes.
type ServiceDescriptor struct {
	UID          string   `json:"uid"`
	Type         string   `json:"type"`
	Names        []string `json:"names,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// NameMap splits "lang/Name" entries into a language to name map.
// Entries without a language are skipped.
func (s ServiceDescriptor) NameMap() map[string]string {
	out := make(map[string]string, len(s.Names))
	for _, n := range s.Names {
		lang, name, ok := strings.Cut(n, "/")
		if !ok || lang == "" {
			continue
		}
		out[lang] = name
	}
	return out
}

// Equal reports whether s and o describe the same service.
func (s ServiceDescriptor) Equal(o ServiceDescriptor) bool {
	return s.UID == o.UID && s.Type == o.Type &&
		equalStrings(s.Names, o.Names) && equalStrings(s.Capabilities, o.Capabilities)
}

// Form renders s as a result data form.
func (s ServiceDescriptor) Form() *stanza.Node {
	typ := s.Type
	if typ == "" {
		typ = DefaultServiceType
	}

	x := stanza.NewElement(stanza.NSDataForms, "x").SetAttr("type", "result")
	x.Append(field(FieldFormType, "hidden", stanza.ServicePrefix+s.UID))
	x.Append(field(FieldType, "text-single", typ))
	if len(s.Names) > 0 {
		x.Append(field(FieldName, "text-multi", s.Names...))
	}
	if len(s.Capabilities) > 0 {
		x.Append(field(FieldCapabilities, "text-multi", s.Capabilities...))
	}
	return x
}

// DescriptorFromForm parses a data form. The second result is false when
// the form is not a service form.
func DescriptorFromForm(x *stanza.Node) (ServiceDescriptor, bool) {
	if !x.Is(stanza.NSDataForms, "x") {
		return ServiceDescriptor{}, false
	}

	values := map[string][]string{}
	for _, f := range x.ChildrenNamed(stanza.NSDataForms, "field") {
		v := f.Attr("var")
		for _, val := range f.ChildrenNamed(stanza.NSDataForms, "value") {
			values[v] = append(values[v], val.InnerText())
		}
	}

	formType := first(values[FieldFormType])
	if !strings.HasPrefix(formType, stanza.ServicePrefix) {
		return ServiceDescriptor{}, false
	}
	uid := strings.TrimPrefix(formType, stanza.ServicePrefix)
	if uid == "" {
		return ServiceDescriptor{}, false
	}

	typ := first(values[FieldType])
	if typ == "" {
		typ = DefaultServiceType
	}
	return ServiceDescriptor{
		UID:          uid,
		Type:         typ,
		Names:        values[FieldName],
		Capabilities: values[FieldCapabilities],
	}, true
}

func field(name, typ string, values ...string) *stanza.Node {
	f := stanza.NewElement(stanza.NSDataForms, "field").SetAttr("var", name).SetAttr("type", typ)
	for _, v := range values {
		f.Append(stanza.NewElement(stanza.NSDataForms, "value").AppendText(v))
	}
	return f
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
