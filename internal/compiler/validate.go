package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// Validation error codes (E100-E199)
const (
	ErrTemplateNoFields     = "E101" // template declares no fields
	ErrDuplicateFieldKey    = "E102" // two fields share a key
	ErrDuplicateFieldIndex  = "E103" // two fields share an index (and field id)
	ErrUnknownFieldType     = "E104" // field references an undeclared type
	ErrMalformedDefault     = "E105" // default stream does not parse
	ErrInvalidTemplateID    = "E106" // template id is not 24 hex characters
	ErrInvalidFieldKey      = "E107" // key is empty or contains "/"
	ErrUnsupportedTransform = "E108" // transform outside the fixed set
	ErrInvalidFieldIndex    = "E109" // index is negative or exceeds 4 bytes
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled registry. Returns all errors found (does not
// fail fast), field types first, then templates in name order.
func Validate(reg *Registry) []ValidationError {
	var errs []ValidationError

	for _, ft := range reg.FieldTypes() {
		if !validTransform(ft.Transform) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fieldtype.%s.transform", ft.Name),
				Message: fmt.Sprintf("unsupported transform %q", ft.Transform),
				Code:    ErrUnsupportedTransform,
			})
		}
	}

	for _, t := range reg.Templates() {
		errs = append(errs, validateTemplate(reg, t)...)
	}
	return errs
}

func validateTemplate(reg *Registry, t ir.Template) []ValidationError {
	var errs []ValidationError
	prefix := "template." + t.Name

	if _, err := ids.ParseDocumentID(t.ID); err != nil {
		errs = append(errs, ValidationError{
			Field:   prefix + ".id",
			Message: err.Error(),
			Code:    ErrInvalidTemplateID,
		})
	}

	if len(t.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".fields",
			Message: "at least one field is required",
			Code:    ErrTemplateNoFields,
		})
	}

	keys := make(map[string]bool)
	indexes := make(map[int]string)
	for i, f := range t.Fields {
		path := fmt.Sprintf("%s.fields[%d]", prefix, i)

		if strings.TrimSpace(f.Key) == "" || strings.Contains(f.Key, "/") {
			errs = append(errs, ValidationError{
				Field:   path + ".key",
				Message: fmt.Sprintf("invalid field key %q", f.Key),
				Code:    ErrInvalidFieldKey,
			})
		}
		if keys[f.Key] {
			errs = append(errs, ValidationError{
				Field:   path + ".key",
				Message: fmt.Sprintf("duplicate field key %q", f.Key),
				Code:    ErrDuplicateFieldKey,
			})
		}
		keys[f.Key] = true

		if !ids.ValidFieldIndex(f.Index) {
			errs = append(errs, ValidationError{
				Field:   path + ".index",
				Message: fmt.Sprintf("index %d outside 0..%d", f.Index, uint64(ids.MaxFieldIndex)),
				Code:    ErrInvalidFieldIndex,
			})
		} else if other, ok := indexes[f.Index]; ok {
			errs = append(errs, ValidationError{
				Field:   path + ".index",
				Message: fmt.Sprintf("index %d already used by field %q", f.Index, other),
				Code:    ErrDuplicateFieldIndex,
			})
		} else {
			indexes[f.Index] = f.Key
		}

		if _, err := reg.StrictFieldType(f.Type); err != nil {
			errs = append(errs, ValidationError{
				Field:   path + ".type",
				Message: err.Error(),
				Code:    ErrUnknownFieldType,
			})
		}

		if err := syntax.Check(f.Default); err != nil {
			errs = append(errs, ValidationError{
				Field:   path + ".default",
				Message: err.Error(),
				Code:    ErrMalformedDefault,
			})
		}
	}
	return errs
}
