package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
)

const testDoc ids.DocumentID = "0000000000000000000000a1"

func TestLoad(t *testing.T) {
	reg, err := Load("testdata/config")
	require.NoError(t, err)

	names := []string{}
	for _, ft := range reg.FieldTypes() {
		names = append(names, ft.Name)
	}
	assert.Equal(t, []string{"default", "heading", "tags", "url"}, names)

	article, ok := reg.Template("Article")
	require.True(t, ok)
	assert.Equal(t, "00000000000000000000cafe", article.ID)
	require.Len(t, article.Fields, 3)
	assert.Equal(t, "url", article.Fields[1].Type)

	author, ok := reg.Template("Author")
	require.True(t, ok)
	assert.True(t, author.Inline)

	byID, ok := reg.TemplateByID(author.ID)
	require.True(t, ok)
	assert.Equal(t, "Author", byID.Name)

	assert.True(t, reg.IsInline(author.ID))
	assert.False(t, reg.IsInline(article.ID))
	assert.False(t, reg.IsInline("0000000000000000000000ff"))

	assert.Empty(t, Validate(reg))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("testdata/does-not-exist")
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "no CUE files")
}

func TestRegistry_FieldTypeFallback(t *testing.T) {
	reg, err := CompileString(`fieldtype: url: { transform: "slug" }`)
	require.NoError(t, err)

	assert.Equal(t, ir.KindSlug, reg.FieldType("url").Transform)
	assert.Equal(t, DefaultFieldType, reg.FieldType(""))
	assert.Equal(t, DefaultFieldType, reg.FieldType("missing"), "unknown types fall back")

	_, err = reg.StrictFieldType("missing")
	require.Error(t, err)
	assert.True(t, IsUnknownFieldType(err))
	assert.EqualError(t, err, `unknown field type "missing"`)
}

func TestRegistry_AddTemplateIDClash(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddTemplate(ir.Template{Name: "A", ID: "00000000000000000000000a"}))
	require.NoError(t, reg.AddTemplate(ir.Template{Name: "A", ID: "00000000000000000000000b"}), "redefining a name replaces it")

	_, ok := reg.TemplateByID("00000000000000000000000a")
	assert.False(t, ok)

	err := reg.AddTemplate(ir.Template{Name: "B", ID: "00000000000000000000000b"})
	assert.ErrorContains(t, err, `already used by "A"`)
}

func TestInstantiate(t *testing.T) {
	reg, err := Load("testdata/config")
	require.NoError(t, err)

	blocks, err := reg.Instantiate("Article", testDoc)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	article, _ := reg.Template("Article")
	title := ids.DeriveFieldID(testDoc, ids.DocumentID(article.ID), 0)
	assert.Equal(t, ir.Block{
		ID:    ids.FieldBlockID(title),
		Type:  DefaultFieldTypeName,
		Value: ir.Computation{ir.Str("Untitled")},
	}, blocks[0])
	assert.Equal(t, "url", blocks[1].Type)

	field, err := ids.BlockField(blocks[2].ID)
	require.NoError(t, err)
	assert.Equal(t, testDoc, field.Document())

	key, ok := FieldKey(article, testDoc, "price")
	require.True(t, ok)
	assert.Equal(t, field, key)
	_, ok = FieldKey(article, testDoc, "nope")
	assert.False(t, ok)

	_, err = reg.Instantiate("Nope", testDoc)
	assert.Error(t, err)
}

func TestInstantiate_SameTemplateFieldAcrossDocuments(t *testing.T) {
	reg, err := Load("testdata/config")
	require.NoError(t, err)

	a, err := reg.Instantiate("Article", "0000000000000000000000a1")
	require.NoError(t, err)
	b, err := reg.Instantiate("Article", "0000000000000000000000b2")
	require.NoError(t, err)

	fa, err := ids.BlockField(a[0].ID)
	require.NoError(t, err)
	fb, err := ids.BlockField(b[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
	assert.Equal(t, fa.TemplateRelative(), fb.TemplateRelative())
}

func TestInstantiate_DefaultsAreCopied(t *testing.T) {
	tmpl := ir.Template{ID: "00000000000000000000cafe", Fields: []ir.TemplateField{
		{Key: "a", Default: ir.Computation{ir.Str("x")}},
	}}
	blocks := Instantiate(tmpl, testDoc)
	blocks[0].Value[0] = ir.Str("changed")
	assert.Equal(t, ir.Str("x"), tmpl.Fields[0].Default[0])
}
