package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	FieldTypes int                        `json:"field_types"`
	Templates  int                        `json:"templates"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate field type and template configuration",
		Long: `Compile the CUE configuration in a directory and check its field types
and templates: unique field keys and indexes, known field types, parseable
default streams and supported transforms.

All validation errors are reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	reg, err := compiler.Load(dir)
	if err != nil {
		return formatter.CommandError(ErrCodeConfigFailed, "loading config", err)
	}

	result := ValidationResult{
		FieldTypes: len(reg.FieldTypes()),
		Templates:  len(reg.Templates()),
		Errors:     compiler.Validate(reg),
	}
	result.Valid = len(result.Errors) == 0
	formatter.VerboseLog("Compiled %d field type(s) and %d template(s) from %s",
		result.FieldTypes, result.Templates, dir)

	if !result.Valid {
		var b strings.Builder
		fmt.Fprintf(&b, "Validation failed with %d error(s):", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "\n  %s", e.Error())
		}
		return formatter.Failure(ErrCodeValidation,
			fmt.Sprintf("%d validation error(s)", len(result.Errors)), result, b.String())
	}

	return formatter.Success(result, fmt.Sprintf("✓ Configuration valid: %d field type(s), %d template(s)",
		result.FieldTypes, result.Templates))
}
