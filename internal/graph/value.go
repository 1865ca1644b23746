// Package graph defines the attributed-graph data model: typed attribute
// values, nodes, edges, and the graph itself, plus the text-format parser
// that produces them.
package graph

import (
	"fmt"
	"strconv"
)

// Kind identifies which of the five attribute value shapes a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over the five attribute-value shapes the parser
// recognizes. The typing is determined at parse time from literal syntax;
// Text always holds the original textual form so re-serialization is
// lossless.
type Value struct {
	Kind       Kind
	Text       string // original textual form
	Int        int64
	Float      float64
	Bool       bool
	DurationMS int64
}

func NewString(s string) Value { return Value{Kind: KindString, Text: s} }

func NewInt(i int64) Value {
	return Value{Kind: KindInt, Text: strconv.FormatInt(i, 10), Int: i}
}

func NewFloat(f float64, text string) Value {
	if text == "" {
		text = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return Value{Kind: KindFloat, Text: text, Float: f}
}

func NewBool(b bool) Value {
	text := "false"
	if b {
		text = "true"
	}
	return Value{Kind: KindBool, Text: text, Bool: b}
}

// NewDuration builds a duration value from a normalized millisecond count
// and the original textual form (e.g. "900s").
func NewDuration(ms int64, text string) Value {
	return Value{Kind: KindDuration, Text: text, DurationMS: ms}
}

// String returns the canonical textual form of the value, suitable for
// variable expansion, condition evaluation, and context mirroring.
func (v Value) String() string {
	return v.Text
}

// AsInt returns the integer interpretation of the value, if any.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindDuration:
		return v.DurationMS, true
	default:
		return 0, false
	}
}

// AsBool returns the boolean interpretation of the value, if any.
func (v Value) AsBool() (bool, bool) {
	if v.Kind == KindBool {
		return v.Bool, true
	}
	return false, false
}

func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s:%q}", v.Kind, v.Text)
}
