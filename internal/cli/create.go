package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	DB       string
	Config   string
	Template string
	Label    string
	Folder   string
	Fields   []string // key=<stream json>
}

// CreatedField is one field of a newly created document.
type CreatedField struct {
	Key    string         `json:"key"`
	ID     string         `json:"id"`
	Target string         `json:"target"`
	Stream ir.Computation `json:"stream"`
}

// CreateResult describes a created document.
type CreateResult struct {
	Document ir.Document    `json:"document"`
	Fields   []CreatedField `json:"fields"`
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document from a template",
		Long: `Create a document by instantiating a template from the configuration.

Every template field becomes a field of the new document, seeded with the
template default unless overridden with --field key=<stream json>. The
document and its seed entries are written through the engine, so the
database log stays replayable.

Examples:
  storyflow create --db cms.db --config ./config --template Article
  storyflow create --db cms.db --config ./config --template Article \
    --label "Launch" --field 'title=["Hello"]'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to SQLite database (created if missing)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration directory")
	cmd.Flags().StringVar(&opts.Template, "template", "", "template name")
	cmd.Flags().StringVar(&opts.Label, "label", "", "document label")
	cmd.Flags().StringVar(&opts.Folder, "folder", "", `folder id to file the document under ("new" for a fresh folder)`)
	cmd.Flags().StringArrayVar(&opts.Fields, "field", nil, "field stream override as key=<json> (repeatable)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	reg, err := loadConfig(opts.Config)
	if err != nil {
		return formatter.CommandError(ErrCodeConfigFailed, "loading config", err)
	}
	tmpl, ok := reg.Template(opts.Template)
	if !ok {
		return formatter.CommandError(ErrCodeNotFound, fmt.Sprintf("unknown template %q", opts.Template), nil)
	}
	switch opts.Folder {
	case "":
	case "new":
		opts.Folder = string(ids.NewFolderID())
	default:
		if _, err := ids.ParseFolderID(opts.Folder); err != nil {
			return formatter.CommandError(ErrCodeInvalidInput, "parsing folder", err)
		}
	}

	docID := ids.NewDocumentID()
	blocks := compiler.Instantiate(tmpl, docID)
	if err := applyFieldOverrides(tmpl, docID, blocks, opts.Fields); err != nil {
		return formatter.CommandError(ErrCodeInvalidInput, "parsing --field", err)
	}

	st, err := openStore(opts.DB, true)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "opening database", err)
	}
	defer st.Close()

	sess, err := startSession(ctx, st)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "starting engine", err)
	}
	doc, err := sess.engine.CreateDocument(ctx, ir.Document{
		ID:         string(docID),
		FolderID:   opts.Folder,
		TemplateID: tmpl.ID,
		Label:      opts.Label,
	}, blocks)
	if closeErr := sess.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return formatter.CommandError(ErrCodeGeneric, "creating document", err)
	}

	result := CreateResult{Document: doc}
	for _, f := range tmpl.Fields {
		field := ids.DeriveFieldID(docID, ids.DocumentID(tmpl.ID), f.Index)
		stream := ir.Computation{}
		for _, b := range blocks {
			if b.ID == ids.FieldBlockID(field) {
				stream = b.Value
			}
		}
		result.Fields = append(result.Fields, CreatedField{
			Key:    f.Key,
			ID:     string(field),
			Target: ids.FieldTarget(field),
			Stream: stream,
		})
	}
	formatter.VerboseLog("Created %s at seq %d with %d field(s)", doc.ID, doc.Seq, len(result.Fields))

	var b strings.Builder
	fmt.Fprintf(&b, "✓ Created document %s (%s) at seq %d", doc.ID, tmpl.Name, doc.Seq)
	for _, f := range result.Fields {
		fmt.Fprintf(&b, "\n  %s  %s", f.Key, f.Target)
	}
	return formatter.Success(result, b.String())
}

// applyFieldOverrides replaces template defaults with "key=<json>" streams.
func applyFieldOverrides(tmpl ir.Template, doc ids.DocumentID, blocks []ir.Block, overrides []string) error {
	byID := make(map[string]int, len(blocks))
	for i, b := range blocks {
		byID[b.ID] = i
	}

	sort.Strings(overrides)
	for _, o := range overrides {
		key, raw, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("%q: want key=<stream json>", o)
		}
		field, ok := compiler.FieldKey(tmpl, doc, key)
		if !ok {
			return fmt.Errorf("template %s has no field %q", tmpl.Name, key)
		}
		stream, err := ir.UnmarshalComputation([]byte(raw))
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if err := syntax.Check(stream); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		blocks[byID[ids.FieldBlockID(field)]].Value = stream
	}
	return nil
}
