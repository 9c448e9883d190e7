package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/eval"
	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/render"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	DB       string
	Config   string
	MaxDepth int
}

// FieldEvaluation is the outcome of one field.
type FieldEvaluation struct {
	Key     string           `json:"key,omitempty"`
	ID      string           `json:"id"`
	Version int64            `json:"version"`
	Values  []ir.Value       `json:"values,omitempty"`
	Render  []render.Element `json:"render,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// EvalResult holds every field of an evaluated document.
type EvalResult struct {
	Document ir.Document       `json:"document"`
	Fields   []FieldEvaluation `json:"fields"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <document-id>",
		Short: "Evaluate every field of a stored document",
		Long: `Evaluate the fields of a document with the server evaluator.

Imports resolve against stored field blocks and fetchers query the stored
documents. Fields are evaluated concurrently; a field that fails (cyclic
import, depth exceeded) reports its error without affecting the others.

The configuration is optional. Without it field keys are not shown and
every field uses the default field type.

Examples:
  storyflow eval --db cms.db 0192a4c4e5f67890abcdef12
  storyflow eval --db cms.db --config ./config 0192a4c4e5f67890abcdef12 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration directory")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "maximum import depth (0 for the default)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEval(opts *EvalOptions, docArg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	docID, err := ids.ParseDocumentID(docArg)
	if err != nil {
		return formatter.CommandError(ErrCodeInvalidInput, "parsing document id", err)
	}
	reg, err := loadConfig(opts.Config)
	if err != nil {
		return formatter.CommandError(ErrCodeConfigFailed, "loading config", err)
	}
	st, err := openStore(opts.DB, false)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "opening database", err)
	}
	defer st.Close()

	doc, err := st.ReadDocument(ctx, string(docID))
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.CommandError(ErrCodeNotFound, fmt.Sprintf("document %s not found", docID), nil)
	}
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "reading document", err)
	}
	blocks, err := st.DocumentBlocks(ctx, doc.ID)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "reading blocks", err)
	}

	var fields []ids.FieldID
	for _, b := range blocks {
		if f, err := ids.BlockField(b.ID); err == nil {
			fields = append(fields, f)
		}
	}
	targets, err := engine.FieldTargets(ctx, st, docID)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "reading field targets", err)
	}
	versions := make(map[string]int64, len(targets))
	for _, rec := range targets {
		versions[rec.Name] = rec.Version
	}

	graph := eval.NewGraph(st, reg)
	inputs, err := graph.Inputs(ctx, fields)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "loading fields", err)
	}
	var evalOpts []eval.Option
	if opts.MaxDepth > 0 {
		evalOpts = append(evalOpts, eval.WithMaxDepth(opts.MaxDepth))
	}
	server := eval.NewServer(graph.Resolve, st.Fetch, evalOpts...)
	results := server.EvaluateDocument(ctx, inputs, eval.NewScope())

	keys := fieldKeys(reg.TemplateByID, doc.TemplateID)
	result := EvalResult{Document: doc, Fields: make([]FieldEvaluation, len(results))}
	for i, r := range results {
		fe := FieldEvaluation{
			ID:      r.Field,
			Key:     keys[ids.FieldID(r.Field).TemplateRelative()],
			Version: versions[ids.FieldTarget(ids.FieldID(r.Field))],
		}
		if r.Err != nil {
			fe.Error = r.Err.Error()
		} else {
			fe.Values = r.Values
			fe.Render = render.Project(r.Values, reg.IsInline)
		}
		result.Fields[i] = fe
	}
	formatter.VerboseLog("Evaluated %d field(s) of %s", len(result.Fields), doc.ID)

	return formatter.Success(result, evalText(result))
}

// fieldKeys maps template-relative field ids to their keys, or nothing when
// the template is not configured.
func fieldKeys(lookup func(string) (ir.Template, bool), templateID string) map[ids.TemplateFieldID]string {
	keys := make(map[ids.TemplateFieldID]string)
	tmpl, ok := lookup(templateID)
	if !ok {
		return keys
	}
	for _, f := range tmpl.Fields {
		keys[ids.TemplateField(ids.DocumentID(tmpl.ID), f.Index)] = f.Key
	}
	return keys
}

func evalText(r EvalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document %s", r.Document.ID)
	if r.Document.Label != "" {
		fmt.Fprintf(&b, " (%s)", r.Document.Label)
	}
	for _, f := range r.Fields {
		name := f.ID
		if f.Key != "" {
			name = f.Key
		}
		if f.Error != "" {
			fmt.Fprintf(&b, "\n\n✗ %s: %s", name, f.Error)
			continue
		}
		fmt.Fprintf(&b, "\n\n%s:", name)
		if text := render.PlainText(f.Render); text != "" {
			fmt.Fprintf(&b, "\n  %s", strings.ReplaceAll(text, "\n", "\n  "))
		}
	}
	return b.String()
}
