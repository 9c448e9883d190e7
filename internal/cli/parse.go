package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/eval"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/render"
	"github.com/roach88/storyflow/internal/syntax"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Eval bool // evaluate the stream standalone
}

// ParseResult is the parsed form of a token stream.
type ParseResult struct {
	Tree   *ir.Node         `json:"tree"`
	Stream ir.Computation   `json:"stream"`
	Values []ir.Value       `json:"values,omitempty"`
	Render []render.Element `json:"render,omitempty"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse <stream.json>",
		Short: "Parse a token stream into a syntax tree",
		Long: `Parse a JSON token stream and print its syntax tree along with the
stream serialized back from the tree. Use "-" to read from stdin.

With --eval the tree is also evaluated without imports or fetches and
projected into a render array.

Examples:
  storyflow parse field.json
  echo '[5, {"_":"*"}, 2]' | storyflow parse - --eval`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Eval, "eval", false, "evaluate the stream standalone")

	return cmd
}

func runParse(opts *ParseOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.CommandError(ErrCodeReadFailed, "reading stream", err)
	}
	stream, err := ir.UnmarshalComputation(data)
	if err != nil {
		return formatter.CommandError(ErrCodeInvalidInput, "decoding stream", err)
	}
	tree, err := syntax.Parse(stream)
	if err != nil {
		return formatter.Failure(ErrCodeMalformed, err.Error(), nil, fmt.Sprintf("✗ %v", err))
	}

	result := ParseResult{Tree: tree, Stream: syntax.Serialize(tree)}
	formatter.VerboseLog("Parsed %d token(s) into %d top-level element(s)", len(stream), len(tree.Children))

	if opts.Eval {
		values, err := eval.NewClient(nil, nil).Evaluate(tree)
		if err != nil {
			return formatter.Failure(ErrCodeGeneric, err.Error(), result, fmt.Sprintf("✗ %v", err))
		}
		result.Values = values
		result.Render = render.Project(values, compiler.NewRegistry().IsInline)
	}

	text, err := parseText(result)
	if err != nil {
		return err
	}
	return formatter.Success(result, text)
}

func parseText(r ParseResult) (string, error) {
	var b strings.Builder
	tree, err := json.MarshalIndent(r.Tree, "", "  ")
	if err != nil {
		return "", err
	}
	stream, err := json.Marshal(r.Stream)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Tree:\n%s\n\nStream: %s", tree, stream)
	if r.Values != nil {
		values, err := json.Marshal(r.Values)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\nValues: %s\n\n%s", values, render.PlainText(r.Render))
	}
	return b.String(), nil
}

// readInput reads a file argument, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
