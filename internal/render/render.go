// Package render projects value arrays into render arrays: text runs,
// headings, nested children and standalone blocks.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// Element is one entry of a render array.
type Element interface {
	renderElement() // Sealed
}

// Text is a run of inline values rendered together.
type Text struct {
	Values []ir.Value
}

// Heading is a "# title" style string. Level is the number of leading '#'.
type Heading struct {
	Level int
	Text  string
}

// Children is a nested render array produced from an array value.
type Children struct {
	Elements []Element
}

// Block is a value rendered on its own.
type Block struct {
	Value ir.Value
}

func (Text) renderElement()     {}
func (Heading) renderElement()  {}
func (Children) renderElement() {}
func (Block) renderElement()    {}

// InlineFunc reports whether objects of a type id render inline.
type InlineFunc func(typeID string) bool

// Project folds values left to right into a render array. Nested arrays at
// the top level become Children; deeper arrays are spread into their parent.
// Adjacent inline values share one Text run, except that two raw strings are
// never placed next to each other in the same run.
func Project(values []ir.Value, isInline InlineFunc) []Element {
	return project(values, isInline, false)
}

func project(values []ir.Value, isInline InlineFunc, nested bool) []Element {
	out := []Element{}
	for _, v := range values {
		out = fold(out, v, isInline, nested)
	}
	return out
}

func fold(out []Element, v ir.Value, isInline InlineFunc, nested bool) []Element {
	if arr, ok := v.(ir.Array); ok {
		if nested {
			for _, elem := range arr {
				out = fold(out, elem, isInline, true)
			}
			return out
		}
		return append(out, Children{Elements: project(arr, isInline, true)})
	}

	if s, ok := v.(ir.String); ok {
		if level, text, ok := heading(string(s)); ok {
			return append(out, Heading{Level: level, Text: text})
		}
	}

	if !inline(v, isInline) {
		return append(out, Block{Value: v})
	}

	if n := len(out); n > 0 {
		if run, ok := out[n-1].(Text); ok {
			_, prevRaw := run.Values[len(run.Values)-1].(ir.String)
			_, curRaw := v.(ir.String)
			if !(prevRaw && curRaw) {
				run.Values = append(run.Values, v)
				out[n-1] = run
				return out
			}
		}
	}
	return append(out, Text{Values: []ir.Value{v}})
}

// heading recognizes strings of one or more '#' followed by a space.
func heading(s string) (int, string, bool) {
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	if level == 0 || level >= len(s) || s[level] != ' ' {
		return 0, "", false
	}
	return level, s[level+1:], true
}

func inline(v ir.Value, isInline InlineFunc) bool {
	switch val := v.(type) {
	case ir.String, ir.Number:
		return true
	case ir.Object:
		typeID, ok := val.TypeID()
		return ok && isInline != nil && isInline(typeID)
	default:
		return false
	}
}

// MarshalJSON encodes {"$text": [...]}.
func (t Text) MarshalJSON() ([]byte, error) {
	vals := ir.Array(t.Values)
	if vals == nil {
		vals = ir.Array{}
	}
	return json.Marshal(map[string]ir.Array{"$text": vals})
}

// MarshalJSON encodes {"$heading": [level, "text"]}.
func (h Heading) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]any{"$heading": {h.Level, h.Text}})
}

// MarshalJSON encodes {"$children": [...]}.
func (c Children) MarshalJSON() ([]byte, error) {
	elems := c.Elements
	if elems == nil {
		elems = []Element{}
	}
	return json.Marshal(map[string][]Element{"$children": elems})
}

// MarshalJSON encodes the value itself.
func (b Block) MarshalJSON() ([]byte, error) {
	return ir.MarshalValue(b.Value)
}

// PlainText concatenates the readable text of a render array, one line per
// top-level element. Used by the CLI text output.
func PlainText(elems []Element) string {
	var lines []string
	for _, el := range elems {
		lines = append(lines, plain(el))
	}
	return strings.Join(lines, "\n")
}

func plain(el Element) string {
	switch e := el.(type) {
	case Text:
		var b strings.Builder
		for _, v := range e.Values {
			b.WriteString(ir.Stringify(v))
		}
		return b.String()
	case Heading:
		return strings.Repeat("#", e.Level) + " " + e.Text
	case Children:
		parts := make([]string, len(e.Elements))
		for i, child := range e.Elements {
			parts[i] = "  " + plain(child)
		}
		return strings.Join(parts, "\n")
	case Block:
		return ir.Stringify(e.Value)
	default:
		return fmt.Sprintf("%v", el)
	}
}
