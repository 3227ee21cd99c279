// Package codec converts between Go values and their JSON wire form using
// declarative record descriptions. Records are written field by field in
// declaration order and read token by token in arrival order, skipping
// fields they do not know.
package codec

import (
	"errors"
	"fmt"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// ErrMissingField is wrapped by decode errors for absent required fields.
var ErrMissingField = errors.New("required field missing")

// DecodeError reports a body that could not be decoded into Type.
type DecodeError struct {
	Type  string
	Field string
	Err   error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("codec: decoding %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("codec: decoding %s field %q: %v", e.Type, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Kind describes how values of type V are written to and read from JSON.
// Read reports malformed input through the lexer's error state.
type Kind[V any] interface {
	Name() string
	Write(w *jwriter.Writer, v V)
	Read(l *jlexer.Lexer) V
}

// Decoder turns a response body into a value.
type Decoder[T any] func(data []byte) (T, error)

// Encoder turns a value into a request body.
type Encoder[T any] func(v T) ([]byte, error)

// Marshal encodes v as a top-level JSON value.
func Marshal[V any](k Kind[V], v V) ([]byte, error) {
	var w jwriter.Writer
	k.Write(&w, v)
	return w.BuildBytes()
}

// Unmarshal decodes a top-level JSON value. Trailing data is an error.
func Unmarshal[V any](k Kind[V], data []byte) (V, error) {
	l := jlexer.Lexer{Data: data}
	v := k.Read(&l)
	l.Consumed()
	if err := l.Error(); err != nil {
		var zero V
		var de *DecodeError
		if errors.As(err, &de) && de.Type == k.Name() {
			return zero, de
		}
		return zero, &DecodeError{Type: k.Name(), Err: err}
	}
	return v, nil
}

// DecoderFor returns a Decoder backed by k.
func DecoderFor[V any](k Kind[V]) Decoder[V] {
	return func(data []byte) (V, error) {
		return Unmarshal(k, data)
	}
}

// EncoderFor returns an Encoder backed by k.
func EncoderFor[V any](k Kind[V]) Encoder[V] {
	return func(v V) ([]byte, error) {
		return Marshal(k, v)
	}
}

// Field is one declared member of a Record.
type Field[T any] struct {
	name     string
	required bool
	present  func(v *T) bool
	write    func(w *jwriter.Writer, v *T)
	read     func(l *jlexer.Lexer, v *T)
}

// Name returns the wire name of the field.
func (f Field[T]) Name() string {
	return f.name
}

// Required declares a field that is always written and must be present
// (and not null) when decoding.
func Required[T, V any](name string, kind Kind[V], ref func(*T) *V) Field[T] {
	return Field[T]{
		name:     name,
		required: true,
		present:  func(*T) bool { return true },
		write:    func(w *jwriter.Writer, v *T) { kind.Write(w, *ref(v)) },
		read:     func(l *jlexer.Lexer, v *T) { *ref(v) = kind.Read(l) },
	}
}

// Optional declares a field held behind a pointer. A nil pointer is absent
// and is not written; JSON null decodes to nil.
func Optional[T, V any](name string, kind Kind[V], ref func(*T) **V) Field[T] {
	return Field[T]{
		name:    name,
		present: func(v *T) bool { return *ref(v) != nil },
		write:   func(w *jwriter.Writer, v *T) { kind.Write(w, **ref(v)) },
		read: func(l *jlexer.Lexer, v *T) {
			x := kind.Read(l)
			*ref(v) = &x
		},
	}
}

// OptionalList declares a slice field. A nil slice is absent; an empty
// non-nil slice is written as [].
func OptionalList[T, V any](name string, elem Kind[V], ref func(*T) *[]V) Field[T] {
	list := List(elem)
	return Field[T]{
		name:    name,
		present: func(v *T) bool { return *ref(v) != nil },
		write:   func(w *jwriter.Writer, v *T) { list.Write(w, *ref(v)) },
		read:    func(l *jlexer.Lexer, v *T) { *ref(v) = list.Read(l) },
	}
}

// Record describes the JSON object form of T. A Record is itself a Kind, so
// records nest.
type Record[T any] struct {
	name   string
	fields []Field[T]
	index  map[string]int
}

// NewRecord declares a record. Field order is the encoding order. It panics
// on duplicate field names, which indicates a wiring mistake.
func NewRecord[T any](name string, fields ...Field[T]) *Record[T] {
	r := &Record[T]{
		name:   name,
		fields: fields,
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := r.index[f.name]; dup {
			panic(fmt.Sprintf("codec: record %s declares field %q twice", name, f.name))
		}
		r.index[f.name] = i
	}
	return r
}

// Name implements Kind.
func (r *Record[T]) Name() string {
	return r.name
}

// Fields returns the wire names in declaration order.
func (r *Record[T]) Fields() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.name
	}
	return names
}

// Write implements Kind.
func (r *Record[T]) Write(w *jwriter.Writer, v T) {
	r.write(w, &v)
}

// Read implements Kind.
func (r *Record[T]) Read(l *jlexer.Lexer) T {
	var v T
	r.read(l, &v)
	return v
}

// Marshal encodes v.
func (r *Record[T]) Marshal(v *T) ([]byte, error) {
	var w jwriter.Writer
	r.write(&w, v)
	return w.BuildBytes()
}

// Unmarshal decodes data. Errors are *DecodeError naming the field that
// failed.
func (r *Record[T]) Unmarshal(data []byte) (T, error) {
	var v T
	l := jlexer.Lexer{Data: data}
	field := r.read(&l, &v)
	l.Consumed()
	if err := l.Error(); err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.Type == r.name {
			return v, de
		}
		return v, &DecodeError{Type: r.name, Field: field, Err: err}
	}
	return v, nil
}

// Decoder returns r.Unmarshal as a Decoder.
func (r *Record[T]) Decoder() Decoder[T] {
	return r.Unmarshal
}

// Encoder returns a by-value Encoder for r.
func (r *Record[T]) Encoder() Encoder[T] {
	return func(v T) ([]byte, error) {
		return r.Marshal(&v)
	}
}

func (r *Record[T]) write(w *jwriter.Writer, v *T) {
	w.RawByte('{')
	first := true
	for _, f := range r.fields {
		if !f.present(v) {
			continue
		}
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(f.name)
		w.RawByte(':')
		f.write(w, v)
	}
	w.RawByte('}')
}

// read decodes an object into v and returns the name of the field being
// read when the lexer entered its error state.
func (r *Record[T]) read(l *jlexer.Lexer, v *T) string {
	seen := make([]bool, len(r.fields))
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		idx, known := r.index[key]
		switch {
		case !known:
			l.SkipRecursive()
		case l.IsNull():
			l.Skip()
		default:
			r.fields[idx].read(l, v)
			if !l.Ok() {
				return r.fields[idx].name
			}
			seen[idx] = true
		}
		l.WantComma()
	}
	l.Delim('}')
	if !l.Ok() {
		return ""
	}
	for i, f := range r.fields {
		if f.required && !seen[i] {
			l.AddError(&DecodeError{Type: r.name, Field: f.name, Err: ErrMissingField})
			return f.name
		}
	}
	return ""
}
