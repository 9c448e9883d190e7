package ir

// Block is a named, addressable flat computation belonging to a document.
// ID is a composite "documentId/fieldKey[/suffix...]" (see ids.BlockID).
// Type names the field type whose transform wraps the parsed stream.
type Block struct {
	ID    string      `json:"id"`
	Type  string      `json:"type,omitempty"`
	Value Computation `json:"value"`
}

// Document is a stored document header.
type Document struct {
	ID         string `json:"id"`
	FolderID   string `json:"folder_id"`
	TemplateID string `json:"template_id"`
	Label      string `json:"label"`
	Seq        int64  `json:"seq"`
}

// FieldType is the configuration of a field type: whether its values render
// inline, and the transform wrapped around its computation.
type FieldType struct {
	Name      string `json:"name"`
	Inline    bool   `json:"inline"`
	Transform Kind   `json:"transform,omitempty"`
}

// TemplateField is one field of a template. Index is its stable position,
// used to derive field ids in documents created from the template.
type TemplateField struct {
	Key     string      `json:"key"`
	Type    string      `json:"type"`
	Index   int         `json:"index"`
	Label   string      `json:"label,omitempty"`
	Default Computation `json:"default"`
}

// Template describes the fields a document is seeded with.
type Template struct {
	Name   string          `json:"name"`
	ID     string          `json:"id"`
	Label  string          `json:"label"`
	Inline bool            `json:"inline,omitempty"`
	Fields []TemplateField `json:"fields"`
}

// ResolvedFilter is a fetcher filter whose value has been evaluated.
type ResolvedFilter struct {
	Field     string  `json:"field"`
	Operation string  `json:"operation"`
	Values    []Value `json:"values"`
}

// FilterSet is the fully-evaluated query handed to a fetch resolver.
type FilterSet struct {
	Filters []ResolvedFilter `json:"filters"`
	Sort    []string         `json:"sort,omitempty"`
	Limit   int              `json:"limit,omitempty"`
	Offset  int              `json:"offset,omitempty"`
}

// Object converts the filter set to a Value for canonical hashing.
func (fs FilterSet) Object() Object {
	filters := make(Array, len(fs.Filters))
	for i, f := range fs.Filters {
		filters[i] = Object{
			"field":     String(f.Field),
			"operation": String(f.Operation),
			"values":    Array(f.Values),
		}
	}
	sort := make(Array, len(fs.Sort))
	for i, s := range fs.Sort {
		sort[i] = String(s)
	}
	return Object{
		"filters": filters,
		"sort":    sort,
		"limit":   Number(fs.Limit),
		"offset":  Number(fs.Offset),
	}
}
