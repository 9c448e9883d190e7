package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
)

// DefaultFieldTypeName names the field type every registry carries. Unknown
// field type names fall back to it.
const DefaultFieldTypeName = "default"

// DefaultFieldType renders inline and applies no transform.
var DefaultFieldType = ir.FieldType{Name: DefaultFieldTypeName, Inline: true}

// UnknownFieldTypeError is returned by StrictFieldType for a name that has no
// configuration.
type UnknownFieldTypeError struct {
	Name string
}

func (e *UnknownFieldTypeError) Error() string {
	return fmt.Sprintf("unknown field type %q", e.Name)
}

// IsUnknownFieldType returns true if err is (or wraps) an UnknownFieldTypeError.
func IsUnknownFieldType(err error) bool {
	var ue *UnknownFieldTypeError
	return errors.As(err, &ue)
}

// Registry holds the compiled field types and templates of a configuration.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	types     map[string]ir.FieldType
	templates map[string]ir.Template
	byID      map[string]string
}

// NewRegistry creates a registry holding only the default field type.
func NewRegistry() *Registry {
	return &Registry{
		types:     map[string]ir.FieldType{DefaultFieldTypeName: DefaultFieldType},
		templates: make(map[string]ir.Template),
		byID:      make(map[string]string),
	}
}

// FieldType returns the named field type. Unknown names log a warning and
// resolve to DefaultFieldType.
func (r *Registry) FieldType(name string) ir.FieldType {
	ft, err := r.StrictFieldType(name)
	if err != nil {
		slog.Warn("falling back to default field type", "type", name)
		return DefaultFieldType
	}
	return ft
}

// StrictFieldType returns the named field type or *UnknownFieldTypeError.
func (r *Registry) StrictFieldType(name string) (ir.FieldType, error) {
	if name == "" {
		return DefaultFieldType, nil
	}
	ft, ok := r.types[name]
	if !ok {
		return ir.FieldType{}, &UnknownFieldTypeError{Name: name}
	}
	return ft, nil
}

// Template looks up a template by name.
func (r *Registry) Template(name string) (ir.Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// TemplateByID looks up a template by id.
func (r *Registry) TemplateByID(id string) (ir.Template, bool) {
	name, ok := r.byID[id]
	if !ok {
		return ir.Template{}, false
	}
	return r.Template(name)
}

// IsInline reports whether documents of the template with the given id
// render inline. Use as a render.InlineFunc.
func (r *Registry) IsInline(typeID string) bool {
	t, ok := r.TemplateByID(typeID)
	return ok && t.Inline
}

// FieldTypes returns the field types sorted by name.
func (r *Registry) FieldTypes() []ir.FieldType {
	out := make([]ir.FieldType, 0, len(r.types))
	for _, name := range sortedKeys(r.types) {
		out = append(out, r.types[name])
	}
	return out
}

// Templates returns the templates sorted by name.
func (r *Registry) Templates() []ir.Template {
	out := make([]ir.Template, 0, len(r.templates))
	for _, name := range sortedKeys(r.templates) {
		out = append(out, r.templates[name])
	}
	return out
}

// AddFieldType registers a field type, replacing any of the same name.
func (r *Registry) AddFieldType(ft ir.FieldType) {
	r.types[ft.Name] = ft
}

// AddTemplate registers a template. Two templates may not share an id.
func (r *Registry) AddTemplate(t ir.Template) error {
	if other, ok := r.byID[t.ID]; ok && other != t.Name {
		return fmt.Errorf("template %q: id %s already used by %q", t.Name, t.ID, other)
	}
	if old, ok := r.templates[t.Name]; ok {
		delete(r.byID, old.ID)
	}
	r.templates[t.Name] = t
	r.byID[t.ID] = t.Name
	return nil
}

// Instantiate derives the blocks of a new document from the named template:
// one block per field, seeded with the field's default stream.
func (r *Registry) Instantiate(template string, doc ids.DocumentID) ([]ir.Block, error) {
	t, ok := r.Template(template)
	if !ok {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	return Instantiate(t, doc), nil
}

// Instantiate derives the field blocks of a document created from t.
func Instantiate(t ir.Template, doc ids.DocumentID) []ir.Block {
	blocks := make([]ir.Block, 0, len(t.Fields))
	for _, f := range t.Fields {
		field := ids.DeriveFieldID(doc, ids.DocumentID(t.ID), f.Index)
		value := slices.Clone(f.Default)
		if value == nil {
			value = ir.Computation{}
		}
		blocks = append(blocks, ir.Block{
			ID:    ids.FieldBlockID(field),
			Type:  f.Type,
			Value: value,
		})
	}
	return blocks
}

// FieldKey returns the id of the field named key of a document created from
// t, or false if the template has no such field.
func FieldKey(t ir.Template, doc ids.DocumentID, key string) (ids.FieldID, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return ids.DeriveFieldID(doc, ids.DocumentID(t.ID), f.Index), true
		}
	}
	return "", false
}

// Compile builds a registry from a CUE value with optional top-level
// "fieldtype" and "template" structs.
func Compile(value cue.Value) (*Registry, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	reg := NewRegistry()

	typesVal := value.LookupPath(cue.ParsePath("fieldtype"))
	if typesVal.Exists() {
		iter, err := typesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ft, err := CompileFieldType(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("fieldtype.%s: %w", iter.Selector(), err)
			}
			reg.AddFieldType(ft)
		}
	}

	templatesVal := value.LookupPath(cue.ParsePath("template"))
	if templatesVal.Exists() {
		iter, err := templatesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			t, err := CompileTemplate(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("template.%s: %w", iter.Selector(), err)
			}
			if err := reg.AddTemplate(t); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

// CompileString builds a registry from CUE source.
func CompileString(src string) (*Registry, error) {
	v := cuecontext.New().CompileString(src)
	return Compile(v)
}

// Load builds a registry from the CUE package in dir.
func Load(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config directory: not a directory: %s", dir)
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}

	value := cuecontext.New().BuildInstance(inst)
	reg, err := Compile(value)
	if err != nil {
		return nil, err
	}
	slog.Debug("configuration loaded", "dir", dir, "files", len(files),
		"field_types", len(reg.types), "templates", len(reg.templates))
	return reg, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
