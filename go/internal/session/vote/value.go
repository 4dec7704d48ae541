package vote

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags a card value as a numeric estimate or one of the sentinel cards.
type Kind uint8

const (
	KindPoints Kind = iota
	KindUnknown
	KindBreak
)

// Wire tokens for the values that are not plain decimals.
const (
	UnknownToken = "?"
	BreakToken   = "coffee"
	HalfToken    = "1/2"
)

// ErrInvalidValue is returned when a wire token cannot be decoded.
var ErrInvalidValue = errors.New("invalid card value")

// Value is a single card. The zero value is a numeric 0 estimate.
type Value struct {
	kind   Kind
	points float64
}

var (
	// Unknown is the "?" card.
	Unknown = Value{kind: KindUnknown}
	// Break is the coffee card.
	Break = Value{kind: KindBreak}
)

// Points returns a numeric card. Negative estimates are not representable.
func Points(p float64) Value {
	if p < 0 {
		p = 0
	}
	return Value{kind: KindPoints, points: p}
}

// Kind reports which kind of card v is.
func (v Value) Kind() Kind { return v.kind }

// IsSentinel reports whether v is excluded from averaging.
func (v Value) IsSentinel() bool { return v.kind != KindPoints }

// Numeric returns the estimate and true for numeric cards.
func (v Value) Numeric() (float64, bool) {
	if v.kind != KindPoints {
		return 0, false
	}
	return v.points, true
}

// String returns the wire encoding of v.
func (v Value) String() string {
	switch v.kind {
	case KindUnknown:
		return UnknownToken
	case KindBreak:
		return BreakToken
	}
	if v.points == 0.5 {
		return HalfToken
	}
	return strconv.FormatFloat(v.points, 'f', -1, 64)
}

// Label is the face shown on the card.
func (v Value) Label() string {
	switch v.kind {
	case KindUnknown:
		return "?"
	case KindBreak:
		return "☕"
	}
	if v.points == 0.5 {
		return "½"
	}
	return strconv.FormatFloat(v.points, 'f', -1, 64)
}

// Parse decodes a wire token produced by Value.String. Plain decimals such as
// "0.5" are accepted as well.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return Value{}, fmt.Errorf("%w: empty", ErrInvalidValue)
	case UnknownToken:
		return Unknown, nil
	case BreakToken:
		return Break, nil
	case HalfToken:
		return Points(0.5), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite estimate %q", ErrInvalidValue, s)
	}
	if f < 0 {
		return Value{}, fmt.Errorf("%w: negative estimate %q", ErrInvalidValue, s)
	}
	return Points(f), nil
}

// MarshalText implements encoding.TextMarshaler.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Value) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
