package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockID(t *testing.T) {
	doc := DocumentID("0123456789abcdef01234567")

	assert.Equal(t, "0123456789abcdef01234567/title", BlockID(doc, "title"))
	assert.Equal(t, "0123456789abcdef01234567/body/0/arg", BlockID(doc, "body", "0", "arg"))

	gotDoc, key, suffix, err := ParseBlockID("0123456789abcdef01234567/body/0/arg")
	require.NoError(t, err)
	assert.Equal(t, doc, gotDoc)
	assert.Equal(t, "body", key)
	assert.Equal(t, []string{"0", "arg"}, suffix)
}

func TestParseBlockIDErrors(t *testing.T) {
	for _, input := range []string{"", "nokey", "0123456789abcdef01234567/", "zz/title"} {
		_, _, _, err := ParseBlockID(input)
		assert.Error(t, err, input)
	}
}

func TestTargets(t *testing.T) {
	doc := DocumentID("0123456789abcdef01234567")
	field := DeriveFieldID(doc, doc, 0)

	name := FieldTarget(field)
	kind, id, err := ParseTarget(name)
	require.NoError(t, err)
	assert.Equal(t, TargetField, kind)
	assert.Equal(t, string(field), id)

	kind, id, err = ParseTarget(ConfigTarget(doc))
	require.NoError(t, err)
	assert.Equal(t, TargetConfig, kind)
	assert.Equal(t, string(doc), id)

	kind, _, err = ParseTarget(FolderTarget(FolderID(doc)))
	require.NoError(t, err)
	assert.Equal(t, TargetFolder, kind)

	kind, id, err = ParseTarget("t:x")
	require.NoError(t, err)
	assert.Equal(t, TargetKind("t"), kind)
	assert.Equal(t, "x", id)

	_, _, err = ParseTarget("t")
	assert.Error(t, err)
}

func TestFieldBlockID(t *testing.T) {
	doc := DocumentID("0123456789abcdef01234567")
	field := DeriveFieldID(doc, "ffffffffffffffffffffffff", 2)

	blockID := FieldBlockID(field)
	assert.Equal(t, "0123456789abcdef01234567/ffffffffffffffff00000002", blockID)

	back, err := BlockField(blockID)
	require.NoError(t, err)
	assert.Equal(t, field, back)

	_, err = BlockField(blockID + "/0")
	assert.Error(t, err)
	_, err = BlockField(BlockID(doc, "title"))
	assert.Error(t, err)
}
