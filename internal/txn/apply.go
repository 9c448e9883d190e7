package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// State is the generic state of a target: an ordered item list edited by
// splices and a flag map set by toggles.
type State struct {
	Items []ir.Value          `json:"items"`
	Flags map[string]ir.Value `json:"flags"`
}

// Clone returns a copy that shares no slices or maps with s.
func (s State) Clone() State {
	return State{
		Items: slices.Clone(s.Items),
		Flags: maps.Clone(s.Flags),
	}
}

// RangeError reports a splice outside the current item list.
type RangeError struct {
	Op     int
	Index  int
	Remove int
	Len    int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("op %d: splice(%d, %d) out of range for length %d", e.Op, e.Index, e.Remove, e.Len)
}

// IsRangeError returns true if err is (or wraps) a RangeError.
func IsRangeError(err error) bool {
	var re *RangeError
	return errors.As(err, &re)
}

// Apply returns the state after ops. The receiver is never modified, so a
// failed apply leaves nothing behind.
func (s State) Apply(ops []Operation) (State, error) {
	next := s.Clone()
	for i, op := range ops {
		switch o := op.(type) {
		case Splice:
			if o.Index < 0 || o.Remove < 0 || o.Index > len(next.Items) || o.Index+o.Remove > len(next.Items) {
				return s, &RangeError{Op: i, Index: o.Index, Remove: o.Remove, Len: len(next.Items)}
			}
			next.Items = slices.Delete(next.Items, o.Index, o.Index+o.Remove)
			next.Items = slices.Insert(next.Items, o.Index, o.Insert...)
		case Toggle:
			if next.Flags == nil {
				next.Flags = make(map[string]ir.Value)
			}
			val := o.Value
			if val == nil {
				val = ir.Null{}
			}
			next.Flags[o.Name] = val
		default:
			return s, fmt.Errorf("op %d: unknown operation type: %T", i, op)
		}
	}
	if next.Items == nil {
		next.Items = []ir.Value{}
	}
	return next, nil
}

// ApplyEntry applies an entry and checks target-specific invariants: field
// targets must still hold a well-formed stream.
func ApplyEntry(s State, e Entry) (State, error) {
	next, err := s.Apply(e.Operations)
	if err != nil {
		return s, fmt.Errorf("apply %s: %w", e.Target, err)
	}
	if err := ValidateTarget(e.Target, next); err != nil {
		return s, err
	}
	return next, nil
}

// ValidateTarget checks the state of a named target.
func ValidateTarget(target string, s State) error {
	kind, _, err := ids.ParseTarget(target)
	if err != nil || kind != ids.TargetField {
		return nil
	}
	c, err := ToComputation(s.Items)
	if err != nil {
		return fmt.Errorf("target %s: %w", target, err)
	}
	if err := syntax.Check(c); err != nil {
		return fmt.Errorf("target %s: %w", target, err)
	}
	return nil
}

// ToComputation reads field-target items as stream tokens.
func ToComputation(items []ir.Value) (ir.Computation, error) {
	out := make(ir.Computation, len(items))
	for i, item := range items {
		data, err := ir.MarshalValue(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		tok, err := ir.DecodeToken(json.RawMessage(data))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = tok
	}
	return out, nil
}

// FromComputation converts stream tokens into field-target items.
func FromComputation(c ir.Computation) ([]ir.Value, error) {
	out := make([]ir.Value, len(c))
	for i, tok := range c {
		data, err := ir.MarshalToken(tok)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		val, err := ir.UnmarshalValue(data)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		out[i] = val
	}
	return out, nil
}
