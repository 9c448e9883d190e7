package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func TestWriteBlock_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	value := ir.Computation{ir.Open(), ir.Num(5), ir.Op(ir.KindMul), ir.Num(2), ir.Close(), ir.Str("x")}
	id := testDoc + "/" + keyTitle
	changed, err := s.WriteBlock(ctx, ir.Block{ID: id, Type: "url", Value: value}, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok, err := s.Block(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "url", got.Type)
	assert.Equal(t, value, got.Value)
}

func TestWriteBlock_NoOpAndTypeKept(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := testDoc + "/" + keyTitle

	_, err := s.WriteBlock(ctx, ir.Block{ID: id, Type: "url", Value: ir.Computation{ir.Str("a")}}, 1)
	require.NoError(t, err)

	changed, err := s.WriteBlock(ctx, ir.Block{ID: id, Value: ir.Computation{ir.Str("a")}}, 2)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.WriteBlock(ctx, ir.Block{ID: id, Value: ir.Computation{ir.Str("b")}}, 3)
	require.NoError(t, err)
	assert.True(t, changed)

	got, _, err := s.Block(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "url", got.Type)
	assert.Equal(t, ir.Computation{ir.Str("b")}, got.Value)
}

func TestBlock_Missing(t *testing.T) {
	s := createTestStore(t)
	_, ok, err := s.Block(context.Background(), testDoc+"/"+keyTitle)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteBlock_InvalidID(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteBlock(context.Background(), ir.Block{ID: "not-a-block"}, 1)
	assert.Error(t, err)
}

func TestWriteBlock_Projection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := testDoc + "/" + keyTitle

	_, err := s.WriteBlock(ctx, ir.Block{ID: id, Value: ir.Computation{
		ir.Str("a"), ir.Open(), ir.Num(3), ir.Close(), ir.Boolean(true),
	}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, countValues(t, s, id))

	_, err = s.WriteBlock(ctx, ir.Block{ID: id, Value: ir.Computation{ir.Str("only")}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, countValues(t, s, id))

	sub := id + "/args/0"
	_, err = s.WriteBlock(ctx, ir.Block{ID: sub, Value: ir.Computation{ir.Str("nested")}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, countValues(t, s, sub))
}

func TestDocumentBlocks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, ir.Block{ID: testDoc + "/" + keyPrice, Value: ir.Computation{ir.Num(1)}}, 1)
	require.NoError(t, err)
	_, err = s.WriteBlock(ctx, ir.Block{ID: testDoc + "/" + keyTitle, Value: ir.Computation{ir.Str("t")}}, 1)
	require.NoError(t, err)
	_, err = s.WriteBlock(ctx, ir.Block{ID: testDoc2 + "/" + keyTitle, Value: ir.Computation{}}, 1)
	require.NoError(t, err)

	blocks, err := s.DocumentBlocks(ctx, testDoc)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, testDoc+"/"+keyTitle, blocks[0].ID)
	assert.Equal(t, testDoc+"/"+keyPrice, blocks[1].ID)

	none, err := s.DocumentBlocks(ctx, "0000000000000000000000ff")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func countValues(t *testing.T, s *Store, blockID string) int {
	t.Helper()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM document_values WHERE block_id = ?", blockID).Scan(&n)
	require.NoError(t, err)
	return n
}
