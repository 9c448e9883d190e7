package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/syntax"
	"github.com/roach88/storyflow/internal/txn"
)

// SystemClientID is the client under which document creation seeds fields.
const SystemClientID = "storyflow"

// DefaultMaxEntries bounds the entries of one submission.
const DefaultMaxEntries = 1000

// Submission is one client transaction. ClientSeq is the client's own
// counter; together with the target it identifies an entry for anti-replay.
type Submission struct {
	ClientID  string
	ClientSeq int64
	Entries   []EntryInput
}

// EntryInput is a transaction entry and the target version it was built on.
type EntryInput struct {
	Entry       txn.Entry
	BaseVersion int64
}

// EntryResult is the outcome of one entry. On success Seq is the log seq and
// Version the target's new version. Replayed marks an entry that had been
// applied before; its recorded result is returned. On rejection Err is set
// and Version is the target's current version.
type EntryResult struct {
	Target   string
	Seq      int64
	Version  int64
	Replayed bool
	Err      error
}

// Engine is the single-writer transaction sequencer.
//
// Thread-safety model:
//   - Submit, CreateDocument, NewClient: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store      *store.Store
	seq        *Sequencer
	inbox      *inbox
	clientGen  ClientIDGenerator
	maxEntries int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxEntries sets the entry quota per submission.
func WithMaxEntries(n int) EngineOption {
	return func(e *Engine) {
		e.maxEntries = n
	}
}

// New creates an Engine for an empty store.
func New(s *store.Store, clientGen ClientIDGenerator, opts ...EngineOption) *Engine {
	return NewWithSequencer(s, clientGen, NewSequencer(0), opts...)
}

// NewWithSequencer creates an Engine that stamps seqs from seq.
func NewWithSequencer(s *store.Store, clientGen ClientIDGenerator, seq *Sequencer, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      s,
		seq:        seq,
		inbox:      newInbox(),
		clientGen:  clientGen,
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resume creates an Engine whose seqs continue after the highest seq in
// the store.
func Resume(ctx context.Context, s *store.Store, clientGen ClientIDGenerator, opts ...EngineOption) (*Engine, error) {
	last, err := s.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume engine: %w", err)
	}
	return NewWithSequencer(s, clientGen, NewSequencer(last), opts...), nil
}

// NewClient issues a client id.
func (e *Engine) NewClient() string {
	return e.clientGen.Generate()
}

// Sequencer returns the seq source shared by entries and documents.
func (e *Engine) Sequencer() *Sequencer {
	return e.seq
}

// Submit enqueues a submission and waits for its results, one per entry in
// order. The error is non-nil only when the submission as a whole was not
// processed (stopped engine, cancelled context, quota).
func (e *Engine) Submit(ctx context.Context, sub Submission) ([]EntryResult, error) {
	out, err := e.enqueue(ctx, Event{Type: EventTypeSubmission, Submission: &sub})
	if err != nil {
		return nil, err
	}
	return out.results, out.err
}

// CreateDocument creates a document and seeds its blocks. Whole-field
// blocks also get a seeding entry in the log. Returns the document with
// its seq.
func (e *Engine) CreateDocument(ctx context.Context, doc ir.Document, blocks []ir.Block) (ir.Document, error) {
	out, err := e.enqueue(ctx, Event{Type: EventTypeDocument, Document: &DocumentInput{Document: doc, Blocks: blocks}})
	if err != nil {
		return ir.Document{}, err
	}
	return out.document, out.err
}

func (e *Engine) enqueue(ctx context.Context, ev Event) (outcome, error) {
	ev.reply = make(chan outcome, 1)
	if !e.inbox.push(ev) {
		return outcome{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	case out := <-ev.reply:
		return out, nil
	}
}

// Run is the single-writer loop. It drains the inbox in batches and answers
// each event in arrival order, until ctx is cancelled or Stop is called.
// Events that were never drained are answered with ErrStopped.
//
// Must be called from exactly one goroutine. A failing event is answered
// with its error and logged; the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "seq", e.seq.Last())

	for {
		batch, shut := e.inbox.drain()
		for i, ev := range batch {
			if ctx.Err() != nil {
				for _, rest := range batch[i:] {
					rest.answer(outcome{err: ErrStopped})
				}
				break
			}
			out := e.processEvent(ctx, ev)
			if out.err != nil {
				logEventError(ev, out.err)
			}
			ev.answer(out)
		}
		if shut {
			slog.Info("engine stopping: inbox shut")
			return nil
		}
		if len(batch) > 0 && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.Stop()
			return ctx.Err()
		case <-e.inbox.ready():
		}
	}
}

// Stop shuts the inbox. Run returns after answering the batch it holds;
// undrained events get ErrStopped.
func (e *Engine) Stop() {
	for _, ev := range e.inbox.shutdown() {
		ev.answer(outcome{err: ErrStopped})
	}
}

// processEvent routes an event to its handler.
// Called only from Run.
func (e *Engine) processEvent(ctx context.Context, event Event) outcome {
	switch event.Type {
	case EventTypeSubmission:
		if event.Submission == nil {
			return outcome{err: fmt.Errorf("submission event missing submission data")}
		}
		results, err := e.processSubmission(ctx, *event.Submission)
		return outcome{results: results, err: err}

	case EventTypeDocument:
		if event.Document == nil {
			return outcome{err: fmt.Errorf("document event missing document data")}
		}
		doc, err := e.processDocument(ctx, *event.Document)
		return outcome{document: doc, err: err}

	default:
		return outcome{err: fmt.Errorf("unknown event type: %d", event.Type)}
	}
}

// processSubmission applies each entry independently, in order.
func (e *Engine) processSubmission(ctx context.Context, sub Submission) ([]EntryResult, error) {
	if e.maxEntries > 0 && len(sub.Entries) > e.maxEntries {
		return nil, NewQuotaError(sub.ClientID, len(sub.Entries), e.maxEntries)
	}

	results := make([]EntryResult, len(sub.Entries))
	seen := make(map[string]bool, len(sub.Entries))
	for i, in := range sub.Entries {
		target := in.Entry.Target
		if seen[target] {
			results[i] = EntryResult{Target: target, Err: &RuntimeError{
				Code:    ErrCodeDuplicateTarget,
				Message: "target appears twice in one submission",
				Target:  target,
			}}
			continue
		}
		seen[target] = true

		results[i] = e.applyEntry(ctx, sub.ClientID, sub.ClientSeq, in)
		if err := results[i].Err; err != nil {
			slog.Warn("entry rejected",
				"client", sub.ClientID,
				"client_seq", sub.ClientSeq,
				"target", target,
				"error", err,
			)
		}
	}
	return results, nil
}

// applyEntry runs one entry through anti-replay, the version check, apply
// and persist.
func (e *Engine) applyEntry(ctx context.Context, clientID string, clientSeq int64, in EntryInput) EntryResult {
	target := in.Entry.Target
	result := EntryResult{Target: target}

	if _, _, err := ids.ParseTarget(target); err != nil {
		result.Err = &RuntimeError{Code: ErrCodeInvalidTarget, Message: err.Error(), Target: target}
		return result
	}

	prior, ok, err := e.store.FindEntry(ctx, target, clientID, clientSeq)
	if err != nil {
		result.Err = err
		return result
	}
	if ok {
		slog.Debug("entry already applied", "target", target, "client", clientID, "client_seq", clientSeq, "seq", prior.Seq)
		result.Seq = prior.Seq
		result.Version = prior.Version
		result.Replayed = true
		return result
	}

	rec, err := e.store.ReadTarget(ctx, target)
	if err != nil {
		result.Err = err
		return result
	}
	result.Version = rec.Version
	if in.BaseVersion != rec.Version {
		result.Err = &OutOfOrderError{Target: target, Base: in.BaseVersion, Current: rec.Version}
		return result
	}

	next, err := txn.ApplyEntry(rec.State, in.Entry)
	if err != nil {
		result.Err = err
		return result
	}
	mirror, err := mirrorBlock(target, next)
	if err != nil {
		result.Err = err
		return result
	}
	hash, err := txn.EntryHash(in.Entry)
	if err != nil {
		result.Err = err
		return result
	}

	entry := store.LogEntry{
		Seq:         e.seq.Stamp(),
		Target:      target,
		ClientID:    clientID,
		ClientSeq:   clientSeq,
		BaseVersion: rec.Version,
		Version:     rec.Version + 1,
		Operations:  in.Entry.Operations,
		Hash:        hash,
	}
	if _, err := e.store.AppendEntry(ctx, entry, next, mirror); err != nil {
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			result.Version = conflict.Current
			result.Err = &OutOfOrderError{Target: target, Base: conflict.Base, Current: conflict.Current}
			return result
		}
		result.Err = err
		return result
	}

	slog.Debug("entry applied", "target", target, "seq", entry.Seq, "version", entry.Version)
	result.Seq = entry.Seq
	result.Version = entry.Version
	return result
}

// mirrorBlock returns the computation block a field target projects to, or
// nil for other target kinds.
func mirrorBlock(target string, s txn.State) (*ir.Block, error) {
	kind, id, err := ids.ParseTarget(target)
	if err != nil || kind != ids.TargetField {
		return nil, nil
	}
	field, err := ids.ParseFieldID(id)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	c, err := txn.ToComputation(s.Items)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	return &ir.Block{ID: ids.FieldBlockID(field), Value: c}, nil
}

// processDocument writes the header and blocks, then logs one seeding entry
// per whole-field block so the field targets start at version 1, plus one
// folder entry when the document is filed. Every
// block is checked before the first write, so a rejected document leaves
// nothing behind and can be retried.
func (e *Engine) processDocument(ctx context.Context, in DocumentInput) (ir.Document, error) {
	doc := in.Document
	seeds, err := e.planSeeds(ctx, doc, in.Blocks)
	if err != nil {
		return ir.Document{}, fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	doc.Seq = e.seq.Stamp()

	inserted, err := e.store.WriteDocument(ctx, doc)
	if err != nil {
		return ir.Document{}, err
	}
	if !inserted {
		return ir.Document{}, fmt.Errorf("create document %s: already exists", doc.ID)
	}

	for _, b := range in.Blocks {
		if _, err := e.store.WriteBlock(ctx, b, doc.Seq); err != nil {
			return ir.Document{}, fmt.Errorf("create document %s: %w", doc.ID, err)
		}
	}
	for _, seed := range seeds {
		if res := e.applyEntry(ctx, SystemClientID, doc.Seq, seed); res.Err != nil {
			return ir.Document{}, fmt.Errorf("create document %s: seed %s: %w", doc.ID, seed.Entry.Target, res.Err)
		}
	}

	slog.Info("document created", "id", doc.ID, "template", doc.TemplateID, "blocks", len(in.Blocks), "seq", doc.Seq)
	return doc, nil
}

// planSeeds validates a document before it is written: the id is unused,
// every block parses, and each whole-field block seeds an untouched target.
// A document with a folder is also appended to the folder's target.
func (e *Engine) planSeeds(ctx context.Context, doc ir.Document, blocks []ir.Block) ([]EntryInput, error) {
	if _, err := e.store.ReadDocument(ctx, doc.ID); err == nil {
		return nil, errors.New("already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var seeds []EntryInput
	seen := make(map[string]bool)
	for _, b := range blocks {
		if err := syntax.Check(b.Value); err != nil {
			return nil, fmt.Errorf("block %s: %w", b.ID, err)
		}
		field, err := ids.BlockField(b.ID)
		if err != nil {
			continue // sub-expression block, no target
		}
		items, err := txn.FromComputation(b.Value)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", b.ID, err)
		}
		target := ids.FieldTarget(field)
		if seen[target] {
			return nil, &RuntimeError{Code: ErrCodeDuplicateTarget, Message: "field seeded twice", Target: target}
		}
		seen[target] = true
		rec, err := e.store.ReadTarget(ctx, target)
		if err != nil {
			return nil, err
		}
		if rec.Version != 0 {
			return nil, &OutOfOrderError{Target: target, Base: 0, Current: rec.Version}
		}
		seeds = append(seeds, EntryInput{Entry: txn.Entry{
			Target:     target,
			Operations: []txn.Operation{txn.Splice{Index: 0, Insert: items}},
		}})
	}

	if doc.FolderID != "" {
		folder, err := ids.ParseFolderID(doc.FolderID)
		if err != nil {
			return nil, err
		}
		target := ids.FolderTarget(folder)
		rec, err := e.store.ReadTarget(ctx, target)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, EntryInput{BaseVersion: rec.Version, Entry: txn.Entry{
			Target: target,
			Operations: []txn.Operation{
				txn.Splice{Index: len(rec.State.Items), Insert: []ir.Value{ir.String(doc.ID)}},
			},
		}})
	}
	return seeds, nil
}

func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeSubmission:
		if event.Submission != nil {
			slog.Error("submission failed",
				"client", event.Submission.ClientID,
				"client_seq", event.Submission.ClientSeq,
				"entries", len(event.Submission.Entries),
				"error", err,
			)
			return
		}
	case EventTypeDocument:
		if event.Document != nil {
			slog.Error("document creation failed",
				"id", event.Document.Document.ID,
				"error", err,
			)
			return
		}
	}
	slog.Error("event failed", "type", event.Type, "error", err)
}
