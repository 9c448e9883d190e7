package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: configuration, documents created
// through the engine, transactions submitted against them and assertions on
// the evaluated result.
type Scenario struct {
	// Name uniquely identifies this scenario (and names its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is inline CUE declaring field types and templates.
	Config string `yaml:"config,omitempty"`

	// ConfigDir is a CUE package directory, relative to the scenario file.
	// Exactly one of Config and ConfigDir is set.
	ConfigDir string `yaml:"config_dir,omitempty"`

	// MaxDepth bounds import nesting during evaluation (0 = default).
	MaxDepth int `yaml:"max_depth,omitempty"`

	// MaxEntries bounds the entries of one submission (0 = default).
	MaxEntries int `yaml:"max_entries,omitempty"`

	// Documents are created in order before any transaction.
	Documents []DocumentStep `yaml:"documents"`

	// Transactions are submitted in order.
	Transactions []TransactionStep `yaml:"transactions,omitempty"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// DocumentStep creates one document from a template.
//
// Streams anywhere in a scenario may reference documents by name:
// "@doc" is the document's id, "@doc.key" the id of its field key, and
// "%Template.key" the template-relative id used by fetch filters.
type DocumentStep struct {
	// Name is the scenario-local handle of the document.
	Name string `yaml:"name"`

	// ID pins the document id; by default ids are allocated sequentially.
	ID string `yaml:"id,omitempty"`

	Template string `yaml:"template"`
	Label    string `yaml:"label,omitempty"`
	Folder   string `yaml:"folder,omitempty"`

	// Fields replaces template defaults, by field key. Values are token
	// streams in their JSON shapes.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// TransactionStep is one client submission.
type TransactionStep struct {
	Client  string      `yaml:"client"`
	Seq     int64       `yaml:"seq"`
	Entries []EntryStep `yaml:"entries"`

	// Error is the expected submission-level error (e.g. "quota").
	Error string `yaml:"error,omitempty"`
}

// EntryStep is one entry of a submission.
type EntryStep struct {
	// Target is "@doc.key" for a field, or "kind:id" where id may be "@doc".
	Target string `yaml:"target"`
	Base   int64  `yaml:"base"`

	// Ops are wire tuples: [index], [index, remove], [index, remove, insert]
	// or [name, value].
	Ops []any `yaml:"ops"`

	// Expect is the expected outcome; empty means "ok".
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates one aspect of the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Field is a "@doc.key" reference (values, tree, render, stream, error).
	Field string `yaml:"field,omitempty"`

	// Target is a target reference (version).
	Target string `yaml:"target,omitempty"`

	// Expect is the expected JSON-shaped value.
	Expect any `yaml:"expect,omitempty"`

	// Version is the expected target version (version).
	Version int64 `yaml:"version,omitempty"`

	// Error is the expected evaluation error kind (error).
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertValues  = "values"  // evaluated value array
	AssertTree    = "tree"    // parsed syntax tree JSON
	AssertRender  = "render"  // render projection JSON
	AssertStream  = "stream"  // stored token stream
	AssertError   = "error"   // evaluation fails with a kind of error
	AssertVersion = "version" // target version
	AssertReplay  = "replay"  // log replays to the stored state
)

// Entry outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeReplayed      = "replayed"
	OutcomeOutOfOrder    = "out_of_order"
	OutcomeRange         = "range"
	OutcomeMalformed     = "malformed"
	OutcomeDuplicate     = "duplicate"
	OutcomeInvalidTarget = "invalid_target"
	OutcomeError         = "error"
)

// Evaluation error kinds.
const (
	ErrorCyclicImport  = "cyclic_import"
	ErrorDepthExceeded = "depth_exceeded"
	ErrorMalformed     = "malformed"
)

// LoadScenario reads and parses a scenario YAML file. A relative ConfigDir
// is resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.ConfigDir != "" && !filepath.IsAbs(scenario.ConfigDir) {
		scenario.ConfigDir = filepath.Join(filepath.Dir(path), scenario.ConfigDir)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // "assertion:" vs "assertions:" is an error
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Config == "") == (s.ConfigDir == "") {
		return fmt.Errorf("exactly one of config and config_dir is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool)
	for i, doc := range s.Documents {
		if doc.Name == "" {
			return fmt.Errorf("documents[%d]: name is required", i)
		}
		if names[doc.Name] {
			return fmt.Errorf("documents[%d]: duplicate name %q", i, doc.Name)
		}
		names[doc.Name] = true
		if doc.Template == "" {
			return fmt.Errorf("documents[%d]: template is required", i)
		}
	}

	for i, tx := range s.Transactions {
		if tx.Client == "" {
			return fmt.Errorf("transactions[%d]: client is required", i)
		}
		if len(tx.Entries) == 0 && tx.Error == "" {
			return fmt.Errorf("transactions[%d]: entries are required", i)
		}
		for j, e := range tx.Entries {
			if e.Target == "" {
				return fmt.Errorf("transactions[%d].entries[%d]: target is required", i, j)
			}
			if !validOutcome(e.Expect) {
				return fmt.Errorf("transactions[%d].entries[%d]: unknown expect %q", i, j, e.Expect)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validOutcome(o string) bool {
	switch o {
	case "", OutcomeOK, OutcomeReplayed, OutcomeOutOfOrder, OutcomeRange,
		OutcomeMalformed, OutcomeDuplicate, OutcomeInvalidTarget, OutcomeError:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertValues, AssertTree, AssertRender, AssertStream:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for %s", index, a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertError:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for error", index)
		}
		switch a.Error {
		case ErrorCyclicImport, ErrorDepthExceeded, ErrorMalformed:
		default:
			return fmt.Errorf("assertions[%d]: unknown error kind %q", index, a.Error)
		}
	case AssertVersion:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for version", index)
		}
	case AssertReplay:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
