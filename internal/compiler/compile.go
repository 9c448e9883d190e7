package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
)

// templateIDDomain separates derived template ids from other hashes.
const templateIDDomain = "storyflow/template-id/v1"

// CompileFieldType parses a CUE value into a FieldType.
// The name is the struct label the value is found under, e.g.:
//
//	fieldtype: url: { inline: false, transform: "slug" }
func CompileFieldType(v cue.Value) (ir.FieldType, error) {
	if err := v.Err(); err != nil {
		return ir.FieldType{}, formatCUEError(err)
	}

	ft := ir.FieldType{Name: label(v)}

	inline, ok, err := lookupBool(v, "inline")
	if err != nil {
		return ir.FieldType{}, err
	}
	if ok {
		ft.Inline = inline
	}

	transform, ok, err := lookupString(v, "transform")
	if err != nil {
		return ir.FieldType{}, err
	}
	if ok {
		kind := ir.Kind(transform)
		if !validTransform(kind) {
			return ir.FieldType{}, &CompileError{
				Field:   "transform",
				Message: fmt.Sprintf("unknown transform %q, want one of slug, merge, array", transform),
				Pos:     v.LookupPath(cue.ParsePath("transform")).Pos(),
			}
		}
		ft.Transform = kind
	}

	return ft, nil
}

func validTransform(k ir.Kind) bool {
	switch k {
	case ir.KindGroup, ir.KindSlug, ir.KindMerge, ir.KindArray:
		return true
	}
	return false
}

// CompileTemplate parses a CUE value into a Template.
//
//	template: Article: {
//	    label: "Article"
//	    fields: [{ key: "title", type: "default", default: ["Untitled"] }]
//	}
//
// id is optional; a missing id is derived from the template name so the
// field ids of documents created from it stay stable across loads. A field
// without index takes its list position.
func CompileTemplate(v cue.Value) (ir.Template, error) {
	if err := v.Err(); err != nil {
		return ir.Template{}, formatCUEError(err)
	}

	t := ir.Template{Name: label(v), Fields: []ir.TemplateField{}}

	id, ok, err := lookupString(v, "id")
	if err != nil {
		return ir.Template{}, err
	}
	if ok {
		docID, err := ids.ParseDocumentID(id)
		if err != nil {
			return ir.Template{}, &CompileError{Field: "id", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("id")).Pos()}
		}
		t.ID = string(docID)
	} else {
		t.ID = DeriveTemplateID(t.Name)
	}

	if t.Label, _, err = lookupString(v, "label"); err != nil {
		return ir.Template{}, err
	}
	if t.Label == "" {
		t.Label = t.Name
	}
	if t.Inline, _, err = lookupBool(v, "inline"); err != nil {
		return ir.Template{}, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return ir.Template{}, &CompileError{
			Field:   "fields",
			Message: "fields are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := fieldsVal.List()
	if err != nil {
		return ir.Template{}, formatCUEError(err)
	}
	for pos := 0; iter.Next(); pos++ {
		f, err := compileTemplateField(iter.Value(), pos)
		if err != nil {
			return ir.Template{}, err
		}
		t.Fields = append(t.Fields, f)
	}

	return t, nil
}

func compileTemplateField(v cue.Value, pos int) (ir.TemplateField, error) {
	f := ir.TemplateField{Index: pos, Type: DefaultFieldTypeName, Default: ir.Computation{}}

	key, ok, err := lookupString(v, "key")
	if err != nil {
		return f, err
	}
	if !ok || key == "" {
		return f, &CompileError{Field: "fields.key", Message: fmt.Sprintf("field %d has no key", pos), Pos: v.Pos()}
	}
	f.Key = key

	if typ, ok, err := lookupString(v, "type"); err != nil {
		return f, err
	} else if ok {
		f.Type = typ
	}
	if f.Label, _, err = lookupString(v, "label"); err != nil {
		return f, err
	}

	idxVal := v.LookupPath(cue.ParsePath("index"))
	if idxVal.Exists() {
		idx, err := idxVal.Int64()
		if err != nil {
			return f, formatCUEError(err)
		}
		if idx < 0 || idx > ids.MaxFieldIndex {
			return f, &CompileError{Field: "fields.index", Message: fmt.Sprintf("field %q: index %d out of range", key, idx), Pos: idxVal.Pos()}
		}
		f.Index = int(idx)
	}

	defVal := v.LookupPath(cue.ParsePath("default"))
	if defVal.Exists() {
		// Token shapes are JSON; let the token decoder own them.
		data, err := defVal.MarshalJSON()
		if err != nil {
			return f, formatCUEError(err)
		}
		stream, err := ir.UnmarshalComputation(data)
		if err != nil {
			return f, &CompileError{Field: "fields.default", Message: fmt.Sprintf("field %q: %v", key, err), Pos: defVal.Pos()}
		}
		f.Default = stream
	}

	return f, nil
}

// DeriveTemplateID returns the id used for a template declared without one.
func DeriveTemplateID(name string) string {
	return ir.HashBytes(templateIDDomain, []byte(name))[:ids.DocumentIDLen]
}

func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	last := sels[len(sels)-1]
	if last.LabelType() == cue.StringLabel {
		return last.Unquoted()
	}
	return last.String()
}

func lookupString(v cue.Value, path string) (string, bool, error) {
	field := v.LookupPath(cue.ParsePath(path))
	if !field.Exists() {
		return "", false, nil
	}
	s, err := field.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func lookupBool(v cue.Value, path string) (bool, bool, error) {
	field := v.LookupPath(cue.ParsePath(path))
	if !field.Exists() {
		return false, false, nil
	}
	b, err := field.Bool()
	if err != nil {
		return false, false, formatCUEError(err)
	}
	return b, true, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
