package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/syntax"
	"github.com/roach88/storyflow/internal/txn"
)

const (
	testDoc      ids.DocumentID = "0000000000000000000000a1"
	testTemplate ids.DocumentID = "00000000000000000000cafe"
)

var (
	titleField  = ids.DeriveFieldID(testDoc, testTemplate, 0)
	titleTarget = ids.FieldTarget(titleField)
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// startEngine runs the event loop until the test ends.
func startEngine(t *testing.T, s *store.Store, opts ...EngineOption) *Engine {
	t.Helper()
	e := New(s, UUIDv7Generator{}, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func insert(index int, values ...ir.Value) EntryInput {
	return EntryInput{Entry: txn.Entry{Operations: []txn.Operation{txn.Splice{Index: index, Insert: values}}}}
}

func on(target string, in EntryInput, base int64) EntryInput {
	in.Entry.Target = target
	in.BaseVersion = base
	return in
}

func submit(t *testing.T, e *Engine, client string, seq int64, entries ...EntryInput) []EntryResult {
	t.Helper()
	results, err := e.Submit(context.Background(), Submission{ClientID: client, ClientSeq: seq, Entries: entries})
	require.NoError(t, err)
	require.Len(t, results, len(entries))
	return results
}

func TestSubmit_AppliesAndBumpsVersion(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	res := submit(t, e, "editor", 1, on(titleTarget, insert(0, ir.String("hello")), 0))
	require.NoError(t, res[0].Err)
	assert.Equal(t, int64(1), res[0].Version)
	assert.Equal(t, int64(1), res[0].Seq)
	assert.False(t, res[0].Replayed)

	res = submit(t, e, "editor", 2, on(titleTarget, insert(1, ir.String(" world")), 1))
	require.NoError(t, res[0].Err)
	assert.Equal(t, int64(2), res[0].Version)
	assert.Equal(t, int64(2), res[0].Seq)

	rec, err := s.ReadTarget(ctx, titleTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, []ir.Value{ir.String("hello"), ir.String(" world")}, rec.State.Items)
}

func TestSubmit_MirrorsFieldBlock(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)

	res := submit(t, e, "editor", 1, on(titleTarget, insert(0,
		ir.Number(2),
		ir.Object{"_": ir.String("*")},
		ir.Number(3),
	), 0))
	require.NoError(t, res[0].Err)

	block, ok, err := s.Block(context.Background(), ids.FieldBlockID(titleField))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Computation{ir.Num(2), ir.Op(ir.KindMul), ir.Num(3)}, block.Value)
}

func TestSubmit_OutOfOrderLeavesTargetUnchanged(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	submit(t, e, "a", 1, on(titleTarget, insert(0, ir.String("first")), 0))

	res := submit(t, e, "b", 1, on(titleTarget, insert(0, ir.String("stale")), 0))
	require.Error(t, res[0].Err)
	assert.True(t, IsOutOfOrder(res[0].Err))
	assert.Equal(t, int64(1), res[0].Version, "rejection reports the current version")

	var oe *OutOfOrderError
	require.True(t, errors.As(res[0].Err, &oe))
	assert.Equal(t, int64(0), oe.Base)
	assert.Equal(t, int64(1), oe.Current)

	rec, err := s.ReadTarget(ctx, titleTarget)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.String("first")}, rec.State.Items)

	log, err := s.ReadLog(ctx)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestSubmit_ReplayedEntryIsNotReapplied(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	first := submit(t, e, "editor", 7, on(titleTarget, insert(0, ir.String("once")), 0))
	require.NoError(t, first[0].Err)

	again := submit(t, e, "editor", 7, on(titleTarget, insert(0, ir.String("once")), 0))
	require.NoError(t, again[0].Err)
	assert.True(t, again[0].Replayed)
	assert.Equal(t, first[0].Seq, again[0].Seq)
	assert.Equal(t, first[0].Version, again[0].Version)

	rec, err := s.ReadTarget(ctx, titleTarget)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.String("once")}, rec.State.Items)
	assert.Equal(t, int64(1), e.Sequencer().Last(), "replayed entries take no seq")
}

func TestSubmit_EntriesAreIndependent(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	config := ids.ConfigTarget(testDoc)

	res := submit(t, e, "editor", 1,
		on(config, EntryInput{Entry: txn.Entry{Operations: []txn.Operation{
			txn.Toggle{Name: "published", Value: ir.Bool(true)},
		}}}, 0),
		on(titleTarget, insert(3, ir.String("x")), 0),
	)
	require.NoError(t, res[0].Err)
	assert.True(t, txn.IsRangeError(res[1].Err))

	rec, err := s.ReadTarget(context.Background(), config)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), rec.State.Flags["published"])
}

func TestSubmit_RejectsMalformedStream(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)

	res := submit(t, e, "editor", 1, on(titleTarget, insert(0, ir.Object{"(": ir.Bool(true)}, ir.Number(1)), 0))
	require.Error(t, res[0].Err)
	assert.True(t, syntax.IsMalformed(res[0].Err))

	rec, err := s.ReadTarget(context.Background(), titleTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Version)
	assert.Empty(t, rec.State.Items)
}

func TestSubmit_DuplicateTarget(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)

	res := submit(t, e, "editor", 1,
		on(titleTarget, insert(0, ir.String("a")), 0),
		on(titleTarget, insert(0, ir.String("b")), 1),
	)
	require.NoError(t, res[0].Err)
	require.Error(t, res[1].Err)
	assert.True(t, hasCode(res[1].Err, ErrCodeDuplicateTarget))
}

func TestSubmit_InvalidTarget(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)

	res := submit(t, e, "editor", 1, on("nonsense", insert(0, ir.String("a")), 0))
	assert.True(t, hasCode(res[0].Err, ErrCodeInvalidTarget))
}

func TestSubmit_Quota(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s, WithMaxEntries(1))

	results, err := e.Submit(context.Background(), Submission{
		ClientID:  "editor",
		ClientSeq: 1,
		Entries: []EntryInput{
			on(titleTarget, insert(0, ir.String("a")), 0),
			on(ids.ConfigTarget(testDoc), insert(0, ir.String("b")), 0),
		},
	})
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	assert.Nil(t, results)
}

func TestCreateDocument_SeedsFieldTargets(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	doc := ir.Document{ID: string(testDoc), TemplateID: string(testTemplate), Label: "Post"}
	blocks := []ir.Block{
		{ID: ids.FieldBlockID(titleField), Type: "text", Value: ir.Computation{ir.Str("Hello")}},
		{ID: ids.BlockID(testDoc, "title", "0"), Value: ir.Computation{ir.Num(1)}},
	}
	created, err := e.CreateDocument(ctx, doc, blocks)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Seq)

	rec, err := s.ReadTarget(ctx, titleTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, []ir.Value{ir.String("Hello")}, rec.State.Items)

	log, err := s.ReadLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 1, "only whole-field blocks are seeded")
	assert.Equal(t, SystemClientID, log[0].ClientID)
	assert.Equal(t, created.Seq, log[0].ClientSeq)

	block, ok, err := s.Block(ctx, ids.FieldBlockID(titleField))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text", block.Type, "mirroring keeps the block type")

	_, err = e.CreateDocument(ctx, doc, nil)
	assert.ErrorContains(t, err, "already exists")
}

func TestCreateDocument_MalformedBlockWritesNothing(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	doc := ir.Document{ID: string(testDoc), TemplateID: string(testTemplate), Label: "Post"}
	bad := []ir.Block{{ID: ids.FieldBlockID(titleField), Value: ir.Computation{ir.Open(), ir.Str("x")}}}
	_, err := e.CreateDocument(ctx, doc, bad)
	require.Error(t, err)
	assert.True(t, syntax.IsMalformed(err))

	_, err = s.ReadDocument(ctx, string(testDoc))
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, ok, err := s.Block(ctx, ids.FieldBlockID(titleField))
	require.NoError(t, err)
	assert.False(t, ok)
	log, err := s.ReadLog(ctx)
	require.NoError(t, err)
	assert.Empty(t, log)
	assert.Equal(t, int64(0), e.Sequencer().Last())

	good := []ir.Block{{ID: ids.FieldBlockID(titleField), Value: ir.Computation{ir.Str("Hello")}}}
	created, err := e.CreateDocument(ctx, doc, good)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Seq)
}

func TestCreateDocument_RejectsFieldSeededTwice(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	block := ir.Block{ID: ids.FieldBlockID(titleField), Value: ir.Computation{ir.Str("a")}}
	_, err := e.CreateDocument(ctx, ir.Document{ID: string(testDoc)}, []ir.Block{block, block})
	assert.True(t, IsDuplicateTarget(err))

	_, err = s.ReadDocument(ctx, string(testDoc))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateDocument_AppendsToFolder(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	ctx := context.Background()

	folder := ids.FolderID("0000000000000000000000f0")
	second := ids.DocumentID("0000000000000000000000a2")
	_, err := e.CreateDocument(ctx, ir.Document{ID: string(testDoc), FolderID: string(folder)}, nil)
	require.NoError(t, err)
	_, err = e.CreateDocument(ctx, ir.Document{ID: string(second), FolderID: string(folder)}, nil)
	require.NoError(t, err)

	rec, err := s.ReadTarget(ctx, ids.FolderTarget(folder))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, []ir.Value{ir.String(string(testDoc)), ir.String(string(second))}, rec.State.Items)

	_, err = e.CreateDocument(ctx, ir.Document{ID: "0000000000000000000000a3", FolderID: "not-hex"}, nil)
	require.Error(t, err)
	_, err = s.ReadDocument(ctx, "0000000000000000000000a3")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStop_AnswersWithErrStopped(t *testing.T) {
	s := createTestStore(t)
	e := New(s, UUIDv7Generator{})
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	res, err := e.Submit(context.Background(), Submission{ClientID: "a", ClientSeq: 1, Entries: []EntryInput{
		on(titleTarget, insert(0, ir.String("a")), 0),
	}})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)

	e.Stop()
	require.NoError(t, <-done)

	_, err = e.Submit(context.Background(), Submission{ClientID: "a", ClientSeq: 2})
	assert.True(t, IsStopped(err))
	_, err = e.CreateDocument(context.Background(), ir.Document{ID: string(testDoc)}, nil)
	assert.True(t, IsStopped(err))
}

func TestRun_ContextCancel(t *testing.T) {
	s := createTestStore(t)
	e := New(s, UUIDv7Generator{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := e.Submit(context.Background(), Submission{ClientID: "a", ClientSeq: 1})
	assert.True(t, IsStopped(err))
}

func TestResume_ContinuesSeq(t *testing.T) {
	s := createTestStore(t)
	e := startEngine(t, s)
	submit(t, e, "editor", 1, on(titleTarget, insert(0, ir.String("a")), 0))
	submit(t, e, "editor", 2, on(titleTarget, insert(1, ir.String("b")), 1))

	resumed, err := Resume(context.Background(), s, UUIDv7Generator{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resumed.Sequencer().Last())
}
