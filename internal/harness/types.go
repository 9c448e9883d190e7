package harness

// Trace event types.
const (
	EventDocument = "document"
	EventEntry    = "entry"
)

// TraceEvent is one engine interaction recorded while running a scenario.
// Document events carry the created document's seq; entry events carry the
// entry's outcome and, when accepted, its log seq and the target version.
type TraceEvent struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	Client    string `json:"client,omitempty"`
	ClientSeq int64  `json:"client_seq,omitempty"`
	Seq       int64  `json:"seq"`
	Version   int64  `json:"version"`
	Outcome   string `json:"outcome,omitempty"`
}

// FieldOutcome is the evaluated value of one field, or its error.
type FieldOutcome struct {
	Values any    `json:"values,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expected outcome and every
	// assertion matched.
	Pass bool `json:"pass"`

	// Trace holds document creations and entries in submission order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Fields maps "doc.key" to the field's evaluated outcome.
	Fields map[string]FieldOutcome `json:"fields"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Fields: make(map[string]FieldOutcome),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddDocumentTrace records a document creation.
func (r *Result) AddDocumentTrace(doc string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventDocument,
		Target: doc,
		Seq:    seq,
	})
}

// AddEntryTrace records the outcome of one transaction entry.
func (r *Result) AddEntryTrace(event TraceEvent) {
	event.Type = EventEntry
	r.Trace = append(r.Trace, event)
}
