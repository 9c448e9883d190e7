package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

const (
	testDoc      = "0000000000000000000000a1"
	testDoc2     = "0000000000000000000000a2"
	testTemplate = "00000000000000000000cafe"
)

// createTestStore creates a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDocument writes a document and one field block per stream.
func seedDocument(t *testing.T, s *Store, doc ir.Document, fields map[string]ir.Computation) {
	t.Helper()
	ctx := context.Background()
	_, err := s.WriteDocument(ctx, doc)
	require.NoError(t, err)
	for key, value := range fields {
		_, err := s.WriteBlock(ctx, ir.Block{ID: doc.ID + "/" + key, Value: value}, doc.Seq)
		require.NoError(t, err)
	}
}
