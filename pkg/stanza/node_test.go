package stanza

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ResolvesNamespaces(t *testing.T) {
	n, err := ParseString(`<y:message xmlns:y="urn:ytstenut:message" a="1"><body>hi</body></y:message>`)
	require.NoError(t, err)

	assert.Equal(t, NSMessage, n.Name.Space)
	assert.Equal(t, "message", n.Name.Local)
	assert.Equal(t, map[string]string{"a": "1"}, n.PlainAttrs())

	body := n.Child(NSMessage, "body")
	require.NotNil(t, body)
	assert.Equal(t, "hi", body.InnerText())
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "not xml", "<open>", "<a></b>"} {
		_, err := ParseString(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestNode_StringRoundTrip(t *testing.T) {
	in := `<message xmlns="urn:ytstenut:message" k="v &amp; w"><child xmlns="urn:other">text</child><empty/></message>`
	n, err := ParseString(in)
	require.NoError(t, err)
	assert.Equal(t, in, n.String())

	again, err := ParseString(n.String())
	require.NoError(t, err)
	assert.Equal(t, n.String(), again.String())
}

func TestNode_NamespacedAttributesArePreserved(t *testing.T) {
	n, err := ParseString(`<m xmlns="urn:a" xmlns:p="urn:p" p:x="1" y="2"/>`)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"y": "2"}, n.PlainAttrs())
	_, ok := n.LookupAttr("x")
	assert.False(t, ok)

	again, err := ParseString(n.String())
	require.NoError(t, err)
	require.Len(t, again.Attrs, 2)
	assert.Equal(t, "urn:p", again.Attrs[0].Name.Space)
}

func TestNode_SetAndRemoveAttr(t *testing.T) {
	n := NewElement("urn:a", "e")
	n.SetAttr("k", "1").SetAttr("k", "2")
	assert.Equal(t, "2", n.Attr("k"))
	assert.Len(t, n.Attrs, 1)

	n.RemoveAttr("k")
	_, ok := n.LookupAttr("k")
	assert.False(t, ok)
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := NewElement("urn:a", "e").Append(NewElement("urn:a", "c").SetAttr("k", "v"))
	c := n.Clone()
	c.Children[0].SetAttr("k", "changed")
	assert.Equal(t, "v", n.Children[0].Attr("k"))
}

func TestNode_HasContent(t *testing.T) {
	assert.False(t, NewElement("urn:a", "e").HasContent())
	assert.False(t, NewElement("urn:a", "e").AppendText("  \n").HasContent())
	assert.True(t, NewElement("urn:a", "e").AppendText("x").HasContent())
	assert.True(t, NewElement("urn:a", "e").Append(NewElement("urn:a", "c")).HasContent())
}
