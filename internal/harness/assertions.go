package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/render"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Field or target the assertion is about
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// canonicalJSON renders anything JSON-encodable as canonical JSON so that
// YAML-decoded expectations and engine output compare byte for byte.
func canonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	val, err := ir.UnmarshalValue(data)
	if err != nil {
		return "", err
	}
	out, err := ir.MarshalCanonical(val)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// compareJSON checks that actual encodes to the same canonical JSON as the
// reference-resolved expectation.
func (h *Harness) compareJSON(a Assertion, actual any) error {
	want, err := canonicalJSON(h.refs.resolve(a.Expect))
	if err != nil {
		return fmt.Errorf("%s %s: expect: %w", a.Type, a.Field, err)
	}
	got, err := canonicalJSON(actual)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.Field, err)
	}
	if want != got {
		return &AssertionError{Type: a.Type, Subject: a.Field, Expected: want, Actual: got}
	}
	return nil
}

// evaluated returns the evaluated values of a field, failing on an
// evaluation error.
func (h *Harness) evaluated(a Assertion) ([]ir.Value, error) {
	v, ok := h.values[strings.TrimPrefix(a.Field, "@")]
	if !ok {
		return nil, fmt.Errorf("%s: unknown field %q", a.Type, a.Field)
	}
	if v.err != nil {
		return nil, &AssertionError{Type: a.Type, Subject: a.Field, Expected: "values", Actual: v.err.Error()}
	}
	return v.values, nil
}

func (h *Harness) assertValues(a Assertion) error {
	values, err := h.evaluated(a)
	if err != nil {
		return err
	}
	return h.compareJSON(a, ir.Array(values))
}

func (h *Harness) assertRender(a Assertion) error {
	values, err := h.evaluated(a)
	if err != nil {
		return err
	}
	return h.compareJSON(a, render.Project(values, h.reg.IsInline))
}

func (h *Harness) assertTree(ctx context.Context, a Assertion) error {
	field, err := h.refs.field(a.Field)
	if err != nil {
		return err
	}
	tree, err := h.graph.Tree(ctx, field)
	if err != nil {
		return &AssertionError{Type: a.Type, Subject: a.Field, Expected: "tree", Actual: err.Error()}
	}
	return h.compareJSON(a, tree)
}

func (h *Harness) assertStream(ctx context.Context, a Assertion) error {
	field, err := h.refs.field(a.Field)
	if err != nil {
		return err
	}
	block, ok, err := h.store.Block(ctx, ids.FieldBlockID(field))
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{Type: a.Type, Subject: a.Field, Expected: "stored block", Actual: "missing"}
	}
	return h.compareJSON(a, block.Value)
}

func (h *Harness) assertError(a Assertion) error {
	v, ok := h.values[strings.TrimPrefix(a.Field, "@")]
	if !ok {
		return fmt.Errorf("%s: unknown field %q", a.Type, a.Field)
	}
	if v.err == nil {
		got, _ := canonicalJSON(ir.Array(v.values))
		return &AssertionError{Type: a.Type, Subject: a.Field, Expected: a.Error, Actual: "values " + got}
	}
	if kind := ErrorKind(v.err); kind != a.Error {
		return &AssertionError{Type: a.Type, Subject: a.Field, Expected: a.Error, Actual: kind + ": " + v.err.Error()}
	}
	return nil
}

func (h *Harness) assertVersion(ctx context.Context, a Assertion) error {
	target, err := h.refs.target(a.Target)
	if err != nil {
		return err
	}
	rec, err := h.store.ReadTarget(ctx, target)
	if err != nil {
		return err
	}
	if rec.Version != a.Version {
		return &AssertionError{
			Type:     a.Type,
			Subject:  a.Target,
			Expected: fmt.Sprintf("version %d", a.Version),
			Actual:   fmt.Sprintf("version %d", rec.Version),
		}
	}
	return nil
}

func (h *Harness) assertReplay(ctx context.Context, a Assertion) error {
	res, err := engine.Replay(ctx, h.store)
	if err != nil {
		return err
	}
	if !res.Deterministic() {
		reasons := make([]string, len(res.Mismatches))
		for i, m := range res.Mismatches {
			reasons[i] = m.Target + ": " + m.Reason
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: "log replays to the stored state",
			Actual:   strings.Join(reasons, "; "),
		}
	}
	return nil
}

// evaluateAssertions runs all assertions and returns error messages for the
// ones that failed. Assertions are independent: one failure does not stop
// the rest.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertValues:
			err = h.assertValues(a)
		case AssertRender:
			err = h.assertRender(a)
		case AssertTree:
			err = h.assertTree(ctx, a)
		case AssertStream:
			err = h.assertStream(ctx, a)
		case AssertError:
			err = h.assertError(a)
		case AssertVersion:
			err = h.assertVersion(ctx, a)
		case AssertReplay:
			err = h.assertReplay(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
