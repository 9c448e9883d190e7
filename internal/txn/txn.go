package txn

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// Operation is Splice or Toggle.
type Operation interface {
	txnOperation() // Sealed
}

// Splice removes Remove items at Index, then inserts Insert at Index.
type Splice struct {
	Index  int
	Remove int
	Insert []ir.Value
}

// Toggle sets the flag Name to Value.
type Toggle struct {
	Name  string
	Value ir.Value
}

func (Splice) txnOperation() {}
func (Toggle) txnOperation() {}

// Entry is the ordered operations for one target.
type Entry struct {
	Target     string
	Operations []Operation
}

// Transaction is an ordered list of entries, one per target.
type Transaction []Entry

// Targets lists the entry targets in order.
func (t Transaction) Targets() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Target
	}
	return out
}

// MarshalJSON encodes a splice as [index], [index, remove] or
// [index, remove, insert], dropping trailing zero members.
func (s Splice) MarshalJSON() ([]byte, error) {
	tuple := []any{s.Index}
	if s.Remove != 0 || len(s.Insert) > 0 {
		tuple = append(tuple, s.Remove)
	}
	if len(s.Insert) > 0 {
		tuple = append(tuple, ir.Array(s.Insert))
	}
	return json.Marshal(tuple)
}

// MarshalJSON encodes [name, value].
func (t Toggle) MarshalJSON() ([]byte, error) {
	val := t.Value
	if val == nil {
		val = ir.Null{}
	}
	data, err := ir.MarshalValue(val)
	if err != nil {
		return nil, err
	}
	name, err := json.Marshal(t.Name)
	if err != nil {
		return nil, err
	}
	return []byte("[" + string(name) + "," + string(data) + "]"), nil
}

// MarshalJSON encodes [target, [ops...]].
func (e Entry) MarshalJSON() ([]byte, error) {
	ops := make([]json.RawMessage, len(e.Operations))
	for i, op := range e.Operations {
		data, err := MarshalOperation(op)
		if err != nil {
			return nil, fmt.Errorf("entry %q op %d: %w", e.Target, i, err)
		}
		ops[i] = data
	}
	return json.Marshal([]any{e.Target, ops})
}

// UnmarshalJSON decodes [target, [ops...]].
func (e *Entry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("entry: want [target, ops], got %d members", len(tuple))
	}
	var target string
	if err := json.Unmarshal(tuple[0], &target); err != nil {
		return fmt.Errorf("entry target: %w", err)
	}
	var rawOps []json.RawMessage
	if err := json.Unmarshal(tuple[1], &rawOps); err != nil {
		return fmt.Errorf("entry %q ops: %w", target, err)
	}
	ops := make([]Operation, len(rawOps))
	for i, raw := range rawOps {
		op, err := DecodeOperation(raw)
		if err != nil {
			return fmt.Errorf("entry %q op %d: %w", target, i, err)
		}
		ops[i] = op
	}
	e.Target = target
	e.Operations = ops
	return nil
}

// MarshalOperation encodes a single operation tuple.
func MarshalOperation(op Operation) ([]byte, error) {
	switch o := op.(type) {
	case Splice:
		return o.MarshalJSON()
	case Toggle:
		return o.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown operation type: %T", op)
	}
}

// DecodeOperation decodes a splice or toggle tuple. A tuple whose first
// member is a string is a toggle; a number starts a splice.
func DecodeOperation(data []byte) (Operation, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return nil, fmt.Errorf("operation: %w", err)
	}
	if len(tuple) == 0 {
		return nil, fmt.Errorf("operation: empty tuple")
	}

	head := bytes.TrimSpace(tuple[0])
	if len(head) > 0 && head[0] == '"' {
		if len(tuple) != 2 {
			return nil, fmt.Errorf("toggle: want [name, value], got %d members", len(tuple))
		}
		var name string
		if err := json.Unmarshal(tuple[0], &name); err != nil {
			return nil, fmt.Errorf("toggle name: %w", err)
		}
		val, err := ir.UnmarshalValue(tuple[1])
		if err != nil {
			return nil, fmt.Errorf("toggle %q value: %w", name, err)
		}
		return Toggle{Name: name, Value: val}, nil
	}

	if len(tuple) > 3 {
		return nil, fmt.Errorf("splice: want at most 3 members, got %d", len(tuple))
	}
	var s Splice
	if err := json.Unmarshal(tuple[0], &s.Index); err != nil {
		return nil, fmt.Errorf("splice index: %w", err)
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &s.Remove); err != nil {
			return nil, fmt.Errorf("splice remove: %w", err)
		}
	}
	if len(tuple) > 2 {
		var insert ir.Array
		if err := json.Unmarshal(tuple[2], &insert); err != nil {
			return nil, fmt.Errorf("splice insert: %w", err)
		}
		s.Insert = insert
	}
	return s, nil
}

// Marshal encodes a transaction as a JSON array of entries.
func Marshal(t Transaction) ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Entry(t))
}

// Unmarshal decodes a transaction.
func Unmarshal(data []byte) (Transaction, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return Transaction(entries), nil
}

// EntryHash identifies an entry's content.
func EntryHash(e Entry) (string, error) {
	data, err := e.MarshalJSON()
	if err != nil {
		return "", err
	}
	return ir.HashBytes(ir.DomainEntry, data), nil
}
