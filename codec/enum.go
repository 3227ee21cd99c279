package codec

import (
	"fmt"
	"slices"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// UnknownEnumError is returned when a closed enum meets a value outside its
// member set.
type UnknownEnumError struct {
	Enum  string
	Value string
}

// Error implements the error interface.
func (e *UnknownEnumError) Error() string {
	return fmt.Sprintf("%q is not a member of %s", e.Value, e.Enum)
}

// EnumSet is the declared member set of a string enumeration.
type EnumSet[E ~string] struct {
	name    string
	members []E
}

// NewEnumSet declares an enumeration.
func NewEnumSet[E ~string](name string, members ...E) *EnumSet[E] {
	return &EnumSet[E]{name: name, members: slices.Clone(members)}
}

// Name returns the enumeration name.
func (s *EnumSet[E]) Name() string {
	return s.name
}

// Members returns the declared members in order.
func (s *EnumSet[E]) Members() []E {
	return slices.Clone(s.members)
}

// Contains reports whether v is a declared member.
func (s *EnumSet[E]) Contains(v E) bool {
	return slices.Contains(s.members, v)
}

// Parse resolves raw as a closed enum value.
func (s *EnumSet[E]) Parse(raw string) (E, error) {
	if v := E(raw); s.Contains(v) {
		return v, nil
	}
	return "", &UnknownEnumError{Enum: s.name, Value: raw}
}

// Of resolves raw as an extensible enum value. It never fails.
func (s *EnumSet[E]) Of(raw string) Extensible[E] {
	if v := E(raw); s.Contains(v) {
		return Known(v)
	}
	return Unknown[E](raw)
}

// Extensible holds either a declared member or an unrecognised raw value.
// The zero value is an unknown empty string.
type Extensible[E ~string] struct {
	raw   string
	known bool
}

// Known wraps a declared member.
func Known[E ~string](v E) Extensible[E] {
	return Extensible[E]{raw: string(v), known: true}
}

// Unknown wraps a value the client does not recognise.
func Unknown[E ~string](raw string) Extensible[E] {
	return Extensible[E]{raw: raw}
}

// Value returns the member and true, or "" and false for unknown values.
func (x Extensible[E]) Value() (E, bool) {
	if !x.known {
		return "", false
	}
	return E(x.raw), true
}

// IsKnown reports whether the value is a declared member.
func (x Extensible[E]) IsKnown() bool {
	return x.known
}

// String returns the raw wire value.
func (x Extensible[E]) String() string {
	return x.raw
}

// Equal compares wire value and knownness.
func (x Extensible[E]) Equal(y Extensible[E]) bool {
	return x == y
}

// ClosedEnum returns the kind of a closed enumeration. Unknown values fail
// decoding.
func ClosedEnum[E ~string](set *EnumSet[E]) Kind[E] {
	return closedKind[E]{set: set}
}

type closedKind[E ~string] struct {
	set *EnumSet[E]
}

func (k closedKind[E]) Name() string                 { return k.set.name }
func (k closedKind[E]) Write(w *jwriter.Writer, v E) { w.String(string(v)) }

func (k closedKind[E]) Read(l *jlexer.Lexer) E {
	raw := l.String()
	if !l.Ok() {
		return ""
	}
	v, err := k.set.Parse(raw)
	if err != nil {
		l.AddError(err)
	}
	return v
}

// ExtensibleEnum returns the kind of an extensible enumeration. Any string
// decodes.
func ExtensibleEnum[E ~string](set *EnumSet[E]) Kind[Extensible[E]] {
	return extensibleKind[E]{set: set}
}

type extensibleKind[E ~string] struct {
	set *EnumSet[E]
}

func (k extensibleKind[E]) Name() string { return k.set.name }

func (k extensibleKind[E]) Write(w *jwriter.Writer, v Extensible[E]) {
	w.String(v.raw)
}

func (k extensibleKind[E]) Read(l *jlexer.Lexer) Extensible[E] {
	raw := l.String()
	if !l.Ok() {
		return Extensible[E]{}
	}
	return k.set.Of(raw)
}
