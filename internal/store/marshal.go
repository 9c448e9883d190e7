package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/txn"
)

// marshalItems stores a target's item list as canonical JSON.
func marshalItems(items []ir.Value) (string, error) {
	if items == nil {
		items = []ir.Value{}
	}
	data, err := ir.MarshalCanonical(ir.Array(items))
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	return string(data), nil
}

// marshalFlags stores a target's toggle flags as canonical JSON.
func marshalFlags(flags map[string]ir.Value) (string, error) {
	obj := ir.Object{}
	for k, v := range flags {
		obj[k] = v
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal flags: %w", err)
	}
	return string(data), nil
}

func unmarshalItems(data string) ([]ir.Value, error) {
	val, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	arr, ok := val.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("unmarshal items: expected array, got %T", val)
	}
	return []ir.Value(arr), nil
}

func unmarshalFlags(data string) (map[string]ir.Value, error) {
	val, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flags: %w", err)
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal flags: expected object, got %T", val)
	}
	flags := make(map[string]ir.Value, len(obj))
	for k, v := range obj {
		flags[k] = v
	}
	return flags, nil
}

func unmarshalState(items, flags string) (txn.State, error) {
	it, err := unmarshalItems(items)
	if err != nil {
		return txn.State{}, err
	}
	fl, err := unmarshalFlags(flags)
	if err != nil {
		return txn.State{}, err
	}
	return txn.State{Items: it, Flags: fl}, nil
}

// marshalOperations stores an entry's operations as a JSON array of wire
// tuples.
func marshalOperations(ops []txn.Operation) (string, error) {
	raw := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		data, err := txn.MarshalOperation(op)
		if err != nil {
			return "", fmt.Errorf("marshal operation %d: %w", i, err)
		}
		raw[i] = data
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal operations: %w", err)
	}
	return string(data), nil
}

func unmarshalOperations(data string) ([]txn.Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal operations: %w", err)
	}
	ops := make([]txn.Operation, len(raw))
	for i, r := range raw {
		op, err := txn.DecodeOperation(r)
		if err != nil {
			return nil, fmt.Errorf("unmarshal operation %d: %w", i, err)
		}
		ops[i] = op
	}
	return ops, nil
}
