package codec

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Scalar kinds.
var (
	Int     Kind[int]     = intKind{}
	Int64   Kind[int64]   = int64Kind{}
	Float64 Kind[float64] = float64Kind{}
	Bool    Kind[bool]    = boolKind{}
	String  Kind[string]  = stringKind{}
	// RawJSON passes any JSON value through undecoded.
	RawJSON Kind[[]byte] = rawKind{}
)

type intKind struct{}

func (intKind) Name() string                   { return "integer" }
func (intKind) Write(w *jwriter.Writer, v int) { w.Int(v) }
func (intKind) Read(l *jlexer.Lexer) int       { return l.Int() }

type int64Kind struct{}

func (int64Kind) Name() string                     { return "int64" }
func (int64Kind) Write(w *jwriter.Writer, v int64) { w.Int64(v) }
func (int64Kind) Read(l *jlexer.Lexer) int64       { return l.Int64() }

type float64Kind struct{}

func (float64Kind) Name() string                       { return "number" }
func (float64Kind) Write(w *jwriter.Writer, v float64) { w.Float64(v) }
func (float64Kind) Read(l *jlexer.Lexer) float64       { return l.Float64() }

type boolKind struct{}

func (boolKind) Name() string                    { return "boolean" }
func (boolKind) Write(w *jwriter.Writer, v bool) { w.Bool(v) }
func (boolKind) Read(l *jlexer.Lexer) bool       { return l.Bool() }

type stringKind struct{}

func (stringKind) Name() string                      { return "string" }
func (stringKind) Write(w *jwriter.Writer, v string) { w.String(v) }
func (stringKind) Read(l *jlexer.Lexer) string       { return l.String() }

type rawKind struct{}

func (rawKind) Name() string { return "raw JSON" }

func (rawKind) Write(w *jwriter.Writer, v []byte) {
	if len(v) == 0 {
		w.RawString("null")
		return
	}
	w.Raw(v, nil)
}

func (rawKind) Read(l *jlexer.Lexer) []byte {
	return slices.Clone(l.Raw())
}

// List returns the kind of a JSON array whose elements are of kind elem.
// A nil slice is written as []; decoding always yields a non-nil slice.
func List[V any](elem Kind[V]) Kind[[]V] {
	return listKind[V]{elem: elem}
}

type listKind[V any] struct {
	elem Kind[V]
}

func (k listKind[V]) Name() string {
	return "array of " + k.elem.Name()
}

func (k listKind[V]) Write(w *jwriter.Writer, v []V) {
	w.RawByte('[')
	for i, e := range v {
		if i > 0 {
			w.RawByte(',')
		}
		k.elem.Write(w, e)
	}
	w.RawByte(']')
}

func (k listKind[V]) Read(l *jlexer.Lexer) []V {
	out := make([]V, 0)
	l.Delim('[')
	for !l.IsDelim(']') {
		out = append(out, k.elem.Read(l))
		if !l.Ok() {
			return out
		}
		l.WantComma()
	}
	l.Delim(']')
	return out
}

// TimeEncoding selects the wire form of a timestamp.
type TimeEncoding int

// Supported timestamp encodings.
const (
	RFC3339 TimeEncoding = iota
	RFC7231
	UnixSeconds
)

// String implements fmt.Stringer.
func (e TimeEncoding) String() string {
	switch e {
	case RFC3339:
		return "rfc3339"
	case RFC7231:
		return "rfc7231"
	case UnixSeconds:
		return "unix-timestamp"
	default:
		return "TimeEncoding(" + strconv.Itoa(int(e)) + ")"
	}
}

// FormatTime renders t in the given encoding, for use in parameters and
// headers.
func FormatTime(t time.Time, enc TimeEncoding) string {
	switch enc {
	case RFC7231:
		return t.UTC().Format(http.TimeFormat)
	case UnixSeconds:
		return strconv.FormatInt(t.Unix(), 10)
	default:
		return t.UTC().Format(time.RFC3339Nano)
	}
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string, enc TimeEncoding) (time.Time, error) {
	switch enc {
	case RFC7231:
		return time.Parse(http.TimeFormat, s)
	case UnixSeconds:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("codec: invalid unix timestamp %q: %w", s, err)
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Parse(time.RFC3339Nano, s)
	}
}

// Time returns the kind of a timestamp carried in the given encoding. Unix
// timestamps are JSON numbers; the other encodings are strings.
func Time(enc TimeEncoding) Kind[time.Time] {
	return timeKind{enc: enc}
}

type timeKind struct {
	enc TimeEncoding
}

func (k timeKind) Name() string {
	return "datetime (" + k.enc.String() + ")"
}

func (k timeKind) Write(w *jwriter.Writer, v time.Time) {
	if k.enc == UnixSeconds {
		w.Int64(v.Unix())
		return
	}
	w.String(FormatTime(v, k.enc))
}

func (k timeKind) Read(l *jlexer.Lexer) time.Time {
	if k.enc == UnixSeconds {
		return time.Unix(l.Int64(), 0).UTC()
	}
	s := l.String()
	if !l.Ok() {
		return time.Time{}
	}
	t, err := ParseTime(s, k.enc)
	if err != nil {
		l.AddError(err)
		return time.Time{}
	}
	return t
}
