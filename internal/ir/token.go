package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Token is one element of a flat computation. The set of implementations is
// closed: Literal, Bracket, Operator, Import, Fetcher and Parameter.
// Parser and evaluator switch exhaustively over it.
type Token interface {
	irToken() // Sealed
}

// Mark identifies a structural bracket token.
type Mark string

// Structural marks.
const (
	MarkOpen       Mark = "("
	MarkClose      Mark = ")"
	MarkArrayOpen  Mark = "["
	MarkArrayClose Mark = "]"
	MarkComma      Mark = ","
)

// Literal is a string, number or boolean token.
type Literal struct {
	Value Value
}

func (Literal) irToken()   {}
func (Literal) irElement() {}

// Bracket is a structural marker. A closing paren may name the function the
// group becomes (Func), for example "slug" or "*". ID is carried by closers
// whose node needs an address (loop iteration key, select field key).
type Bracket struct {
	Mark Mark
	Func string
	ID   string
}

func (Bracket) irToken() {}

// Operator is an infix operator marker, e.g. {"_": "*"}.
type Operator struct {
	Op Kind
}

func (Operator) irToken() {}

// Import references another field's computed value. Args are positional
// argument streams, evaluated in the importing scope and bound as
// parameters inside the imported field.
type Import struct {
	ID     string        `json:"id"`
	Field  string        `json:"field"`
	Inline bool          `json:"inline,omitempty"`
	Args   []Computation `json:"args,omitempty"`
}

func (Import) irToken()   {}
func (Import) irElement() {}

// Filter is one predicate of a fetcher. Value is a computation evaluated in
// the fetching scope; an empty result leaves the filter unset.
type Filter struct {
	Field     string      `json:"field"`
	Operation string      `json:"operation"`
	Value     Computation `json:"value"`
}

// Fetcher describes a query against the document store.
// Sort keys are property names, "-" prefixed for descending order.
type Fetcher struct {
	ID      string   `json:"id"`
	Filters []Filter `json:"filters"`
	Sort    []string `json:"sort,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (Fetcher) irToken()   {}
func (Fetcher) irElement() {}

// Parameter reads the Index-th argument bound by the importing field.
type Parameter struct {
	Index int
}

func (Parameter) irToken()   {}
func (Parameter) irElement() {}

// Token constructors, mostly for tests and template defaults.

// Str returns a string literal token.
func Str(s string) Literal { return Literal{Value: String(s)} }

// Num returns a number literal token.
func Num(f float64) Literal { return Literal{Value: Number(f)} }

// Boolean returns a boolean literal token.
func Boolean(b bool) Literal { return Literal{Value: Bool(b)} }

// Open returns an opening paren.
func Open() Bracket { return Bracket{Mark: MarkOpen} }

// Close returns a plain closing paren (bracket group).
func Close() Bracket { return Bracket{Mark: MarkClose} }

// CloseAs returns a closing paren that turns the group into fn.
func CloseAs(fn Kind) Bracket { return Bracket{Mark: MarkClose, Func: string(fn)} }

// CloseWithID returns a closing paren for an addressed node (loop, select).
func CloseWithID(fn Kind, id string) Bracket {
	return Bracket{Mark: MarkClose, Func: string(fn), ID: id}
}

// ArrayOpen returns "[".
func ArrayOpen() Bracket { return Bracket{Mark: MarkArrayOpen} }

// ArrayClose returns "]".
func ArrayClose() Bracket { return Bracket{Mark: MarkArrayClose} }

// Comma returns the explicit separator.
func Comma() Bracket { return Bracket{Mark: MarkComma} }

// Op returns an infix operator marker.
func Op(k Kind) Operator { return Operator{Op: k} }

// Computation is a flat token stream, the storage form of a field.
type Computation []Token

// MarshalJSON encodes the stream as a JSON array of token shapes.
func (c Computation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, tok := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := MarshalToken(tok)
		if err != nil {
			return nil, fmt.Errorf("token[%d]: %w", i, err)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON array of token shapes.
func (c *Computation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Computation, len(raw))
	for i, r := range raw {
		tok, err := DecodeToken(r)
		if err != nil {
			return fmt.Errorf("token[%d]: %w", i, err)
		}
		out[i] = tok
	}
	*c = out
	return nil
}

// MarshalComputation encodes a stream for storage.
func MarshalComputation(c Computation) ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return c.MarshalJSON()
}

// UnmarshalComputation decodes a stored stream.
func UnmarshalComputation(data []byte) (Computation, error) {
	var c Computation
	if len(bytes.TrimSpace(data)) == 0 {
		return Computation{}, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal computation: %w", err)
	}
	return c, nil
}

// MarshalToken encodes a single token in its wire shape.
func MarshalToken(tok Token) ([]byte, error) {
	switch t := tok.(type) {
	case Literal:
		switch t.Value.(type) {
		case String, Number, Bool:
			return MarshalValue(t.Value)
		default:
			return nil, fmt.Errorf("literal must be string, number or bool, got %T", t.Value)
		}
	case Bracket:
		return marshalBracket(t)
	case Operator:
		return json.Marshal(map[string]string{"_": string(t.Op)})
	case Import:
		type wire Import
		return json.Marshal(wire(t))
	case Fetcher:
		type wire Fetcher
		w := wire(t)
		if w.Filters == nil {
			w.Filters = []Filter{}
		}
		return json.Marshal(w)
	case Parameter:
		return []byte(`{"p":` + strconv.Itoa(t.Index) + `}`), nil
	default:
		return nil, fmt.Errorf("unknown token type: %T", tok)
	}
}

func marshalBracket(b Bracket) ([]byte, error) {
	var val any = true
	if b.Mark == MarkClose && b.Func != "" {
		val = b.Func
	}
	m := map[string]any{string(b.Mark): val}
	if b.ID != "" {
		m["id"] = b.ID
	}
	return json.Marshal(m)
}

// UnknownTokenError is returned when a JSON shape matches no token kind.
type UnknownTokenError struct {
	Raw string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token shape: %s", e.Raw)
}

// DecodeToken decodes one token from its wire shape. This is the only place
// that inspects JSON keys to discover a token's kind.
func DecodeToken(data json.RawMessage) (Token, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &UnknownTokenError{Raw: ""}
	}

	if trimmed[0] != '{' {
		val, err := UnmarshalValue(trimmed)
		if err != nil {
			return nil, err
		}
		switch val.(type) {
		case String, Number, Bool:
			return Literal{Value: val}, nil
		default:
			return nil, &UnknownTokenError{Raw: string(trimmed)}
		}
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, err
	}

	for _, mark := range []Mark{MarkOpen, MarkClose, MarkArrayOpen, MarkArrayClose, MarkComma} {
		raw, ok := keys[string(mark)]
		if !ok {
			continue
		}
		b := Bracket{Mark: mark}
		if mark == MarkClose {
			var fn string
			if err := json.Unmarshal(raw, &fn); err == nil {
				b.Func = fn
			}
		}
		if idRaw, ok := keys["id"]; ok {
			if err := json.Unmarshal(idRaw, &b.ID); err != nil {
				return nil, fmt.Errorf("bracket id: %w", err)
			}
		}
		return b, nil
	}

	if raw, ok := keys["_"]; ok {
		var op string
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("operator: %w", err)
		}
		return Operator{Op: Kind(op)}, nil
	}

	if raw, ok := keys["p"]; ok {
		var idx int
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, fmt.Errorf("parameter: %w", err)
		}
		return Parameter{Index: idx}, nil
	}

	if _, ok := keys["field"]; ok {
		type wire Import
		var imp wire
		if err := json.Unmarshal(trimmed, &imp); err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		return Import(imp), nil
	}

	if _, ok := keys["filters"]; ok {
		type wire Fetcher
		var f wire
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("fetcher: %w", err)
		}
		return Fetcher(f), nil
	}

	return nil, &UnknownTokenError{Raw: string(trimmed)}
}
