package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/eval"
	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/syntax"
	"github.com/roach88/storyflow/internal/testutil"
	"github.com/roach88/storyflow/internal/txn"
)

// Harness holds the live state of one scenario run.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	reg    *compiler.Registry
	refs   *refs
	graph  *eval.Graph
	server *eval.Server

	// fields lists every document field in scenario order, as "doc.key".
	fields []fieldRef
	values map[string]fieldValue
}

type fieldRef struct {
	name string // "doc.key"
	id   ids.FieldID
}

type fieldValue struct {
	values []ir.Value
	err    error
}

// LoadConfig compiles and validates a scenario's configuration.
func LoadConfig(s *Scenario) (*compiler.Registry, error) {
	var (
		reg *compiler.Registry
		err error
	)
	if s.Config != "" {
		reg, err = compiler.CompileString(s.Config)
	} else {
		reg, err = compiler.Load(s.ConfigDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if errs := compiler.Validate(reg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errs[0])
	}
	return reg, nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential document
// ids, so traces and field ids are reproducible.
//
// Execution flow:
//  1. Compile the configuration and start an engine over a fresh store
//  2. Create the documents through the engine
//  3. Submit the transactions, checking each entry's expected outcome
//  4. Evaluate every field concurrently, one document at a time
//  5. Evaluate assertions
//
// An error is returned when the scenario cannot be executed at all; expected
// outcomes that do not match are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := LoadConfig(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(ctx)
	var engOpts []engine.EngineOption
	if scenario.MaxEntries > 0 {
		engOpts = append(engOpts, engine.WithMaxEntries(scenario.MaxEntries))
	}
	eng := engine.New(st, testutil.NewFixedClientGenerator(""), engOpts...)
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var opts []eval.Option
	if scenario.MaxDepth > 0 {
		opts = append(opts, eval.WithMaxDepth(scenario.MaxDepth))
	}
	graph := eval.NewGraph(st, reg)
	h := &Harness{
		store:  st,
		engine: eng,
		reg:    reg,
		refs:   newRefs(reg),
		graph:  graph,
		server: eval.NewServer(graph.Resolve, st.Fetch, opts...),
		values: make(map[string]fieldValue),
	}

	result := NewResult()
	if err := h.createDocuments(ctx, scenario.Documents, result); err != nil {
		return nil, fmt.Errorf("failed to create documents: %w", err)
	}
	if err := h.submitTransactions(ctx, scenario.Transactions, result); err != nil {
		return nil, fmt.Errorf("failed to submit transactions: %w", err)
	}
	if err := h.evaluateFields(ctx, scenario.Documents, result); err != nil {
		return nil, fmt.Errorf("failed to evaluate fields: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// createDocuments allocates every document id first so that streams can
// reference documents declared later.
func (h *Harness) createDocuments(ctx context.Context, docs []DocumentStep, result *Result) error {
	gen := testutil.NewSequentialIDs("")
	for i, step := range docs {
		tmpl, ok := h.reg.Template(step.Template)
		if !ok {
			return fmt.Errorf("documents[%d]: unknown template %q", i, step.Template)
		}
		id := gen.Generate()
		if step.ID != "" {
			parsed, err := ids.ParseDocumentID(step.ID)
			if err != nil {
				return fmt.Errorf("documents[%d]: %w", i, err)
			}
			id = parsed
		}
		h.refs.declare(step.Name, id, tmpl)
		for _, f := range tmpl.Fields {
			h.fields = append(h.fields, fieldRef{
				name: step.Name + "." + f.Key,
				id:   ids.DeriveFieldID(id, ids.DocumentID(tmpl.ID), f.Index),
			})
		}
	}

	for i, step := range docs {
		id := h.refs.docs[step.Name]
		tmpl := h.refs.templates[step.Name]

		blocks := compiler.Instantiate(tmpl, id)
		byID := make(map[string]int, len(blocks))
		for j, b := range blocks {
			byID[b.ID] = j
		}

		keys := make([]string, 0, len(step.Fields))
		for k := range step.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			field, ok := compiler.FieldKey(tmpl, id, key)
			if !ok {
				return fmt.Errorf("documents[%d]: template %s has no field %q", i, tmpl.Name, key)
			}
			stream, err := h.stream(step.Fields[key])
			if err != nil {
				return fmt.Errorf("documents[%d].fields.%s: %w", i, key, err)
			}
			blocks[byID[ids.FieldBlockID(field)]].Value = stream
		}

		doc, err := h.engine.CreateDocument(ctx, ir.Document{
			ID:         string(id),
			FolderID:   h.refs.resolve(step.Folder).(string),
			TemplateID: tmpl.ID,
			Label:      step.Label,
		}, blocks)
		if err != nil {
			return fmt.Errorf("documents[%d]: %w", i, err)
		}
		result.AddDocumentTrace(doc.ID, doc.Seq)
	}
	return nil
}

// stream converts a YAML-decoded token stream into a computation.
func (h *Harness) stream(v any) (ir.Computation, error) {
	data, err := json.Marshal(h.refs.resolve(v))
	if err != nil {
		return nil, err
	}
	return ir.UnmarshalComputation(data)
}

func (h *Harness) submitTransactions(ctx context.Context, txs []TransactionStep, result *Result) error {
	for i, step := range txs {
		sub := engine.Submission{ClientID: step.Client, ClientSeq: step.Seq}
		for j, e := range step.Entries {
			in, err := h.entry(e)
			if err != nil {
				return fmt.Errorf("transactions[%d].entries[%d]: %w", i, j, err)
			}
			sub.Entries = append(sub.Entries, in)
		}

		results, err := h.engine.Submit(ctx, sub)
		if err != nil {
			if step.Error == "" {
				result.AddError(fmt.Sprintf("transactions[%d]: unexpected error: %v", i, err))
			} else if got := submissionError(err); got != step.Error {
				result.AddError(fmt.Sprintf("transactions[%d]: expected error %s, got %s (%v)", i, step.Error, got, err))
			}
			continue
		}
		if step.Error != "" {
			result.AddError(fmt.Sprintf("transactions[%d]: expected error %s, submission was processed", i, step.Error))
		}

		for j, res := range results {
			got := Outcome(res)
			result.AddEntryTrace(TraceEvent{
				Target:    res.Target,
				Client:    step.Client,
				ClientSeq: step.Seq,
				Seq:       res.Seq,
				Version:   res.Version,
				Outcome:   got,
			})
			want := step.Entries[j].Expect
			if want == "" {
				want = OutcomeOK
			}
			if got != want {
				result.AddError(fmt.Sprintf("transactions[%d].entries[%d] %s: expected %s, got %s (%v)",
					i, j, step.Entries[j].Target, want, got, res.Err))
			}
		}
	}
	return nil
}

func (h *Harness) entry(e EntryStep) (engine.EntryInput, error) {
	target, err := h.refs.target(e.Target)
	if err != nil {
		return engine.EntryInput{}, err
	}
	ops := make([]txn.Operation, len(e.Ops))
	for i, raw := range e.Ops {
		data, err := json.Marshal(h.refs.resolve(raw))
		if err != nil {
			return engine.EntryInput{}, fmt.Errorf("ops[%d]: %w", i, err)
		}
		op, err := txn.DecodeOperation(data)
		if err != nil {
			return engine.EntryInput{}, fmt.Errorf("ops[%d]: %w", i, err)
		}
		ops[i] = op
	}
	return engine.EntryInput{
		Entry:       txn.Entry{Target: target, Operations: ops},
		BaseVersion: e.Base,
	}, nil
}

// Outcome classifies an entry result.
func Outcome(res engine.EntryResult) string {
	switch err := res.Err; {
	case err == nil && res.Replayed:
		return OutcomeReplayed
	case err == nil:
		return OutcomeOK
	case engine.IsOutOfOrder(err):
		return OutcomeOutOfOrder
	case txn.IsRangeError(err):
		return OutcomeRange
	case syntax.IsMalformed(err):
		return OutcomeMalformed
	case engine.IsDuplicateTarget(err):
		return OutcomeDuplicate
	case engine.IsInvalidTarget(err):
		return OutcomeInvalidTarget
	default:
		return OutcomeError
	}
}

func submissionError(err error) string {
	switch {
	case engine.IsQuotaError(err):
		return "quota"
	case engine.IsStopped(err):
		return "stopped"
	default:
		return OutcomeError
	}
}

// ErrorKind classifies an evaluation error.
func ErrorKind(err error) string {
	switch {
	case eval.IsCyclicImport(err):
		return ErrorCyclicImport
	case eval.IsDepthExceeded(err):
		return ErrorDepthExceeded
	case syntax.IsMalformed(err):
		return ErrorMalformed
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return OutcomeError
	}
}

// evaluateFields evaluates each document's fields with the server evaluator
// and records them in the result.
func (h *Harness) evaluateFields(ctx context.Context, docs []DocumentStep, result *Result) error {
	start := 0
	for _, step := range docs {
		n := len(h.refs.templates[step.Name].Fields)
		refs := h.fields[start : start+n]
		start += n

		fields := make([]ids.FieldID, len(refs))
		for i, r := range refs {
			fields[i] = r.id
		}
		inputs, err := h.graph.Inputs(ctx, fields)
		if err != nil {
			return err
		}

		for i, res := range h.server.EvaluateDocument(ctx, inputs, eval.NewScope()) {
			name := refs[i].name
			h.values[name] = fieldValue{values: res.Values, err: res.Err}
			if res.Err != nil {
				result.Fields[name] = FieldOutcome{Error: ErrorKind(res.Err)}
				continue
			}
			result.Fields[name] = FieldOutcome{Values: ir.ToAny(ir.Array(res.Values))}
		}
	}
	return nil
}
