package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
)

// refs resolves scenario-local names to ids. Only declared names resolve;
// any other string is left as written.
type refs struct {
	reg       *compiler.Registry
	docs      map[string]ids.DocumentID
	templates map[string]ir.Template // by document name
}

func newRefs(reg *compiler.Registry) *refs {
	return &refs{
		reg:       reg,
		docs:      make(map[string]ids.DocumentID),
		templates: make(map[string]ir.Template),
	}
}

func (r *refs) declare(name string, id ids.DocumentID, tmpl ir.Template) {
	r.docs[name] = id
	r.templates[name] = tmpl
}

// field resolves "@doc.key" to a field id.
func (r *refs) field(ref string) (ids.FieldID, error) {
	name, key, ok := strings.Cut(strings.TrimPrefix(ref, "@"), ".")
	if !strings.HasPrefix(ref, "@") || !ok {
		return "", fmt.Errorf("field reference %q: want @doc.key", ref)
	}
	doc, found := r.docs[name]
	if !found {
		return "", fmt.Errorf("field reference %q: unknown document %q", ref, name)
	}
	field, found := compiler.FieldKey(r.templates[name], doc, key)
	if !found {
		return "", fmt.Errorf("field reference %q: template %s has no field %q", ref, r.templates[name].Name, key)
	}
	return field, nil
}

// target resolves a target reference. "@doc.key" names a field target;
// "kind:@doc" substitutes the document id.
func (r *refs) target(ref string) (string, error) {
	if strings.HasPrefix(ref, "@") {
		field, err := r.field(ref)
		if err != nil {
			return "", err
		}
		return ids.FieldTarget(field), nil
	}
	kind, id, ok := strings.Cut(ref, ":")
	if ok && strings.HasPrefix(id, "@") {
		doc, found := r.docs[id[1:]]
		if !found {
			return "", fmt.Errorf("target %q: unknown document %q", ref, id[1:])
		}
		return kind + ":" + string(doc), nil
	}
	return ref, nil
}

// str resolves one string, reporting whether it was a reference.
func (r *refs) str(s string) (string, bool) {
	switch {
	case strings.HasPrefix(s, "@"):
		if field, err := r.field(s); err == nil {
			return string(field), true
		}
		if doc, ok := r.docs[s[1:]]; ok {
			return string(doc), true
		}
	case strings.HasPrefix(s, "%"):
		name, key, hasKey := strings.Cut(s[1:], ".")
		tmpl, ok := r.reg.Template(name)
		if !ok {
			return s, false
		}
		if !hasKey {
			return tmpl.ID, true
		}
		for _, f := range tmpl.Fields {
			if f.Key == key {
				return string(ids.TemplateField(ids.DocumentID(tmpl.ID), f.Index)), true
			}
		}
	}
	return s, false
}

// resolve returns a copy of a YAML-decoded value with references replaced,
// keys included.
func (r *refs) resolve(v any) any {
	switch val := v.(type) {
	case string:
		s, _ := r.str(val)
		return s
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = r.resolve(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			key, _ := r.str(k)
			out[key] = r.resolve(elem)
		}
		return out
	default:
		return v
	}
}
