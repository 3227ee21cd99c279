package codec

import (
	"github.com/mailru/easyjson/jlexer"

	"github.com/pitabwire/restkit/model"
)

// PageOf returns a decoder for one page body shaped by paging: an items
// array of item and an optional continuation field. A null or absent
// continuation ends the sequence.
func PageOf[T any](item Kind[T], paging *model.Paging) Decoder[model.Page[T]] {
	list := List(item)
	itemsField := paging.Items()
	nextField := paging.ContinuationField()
	name := "page of " + item.Name()

	return func(data []byte) (model.Page[T], error) {
		var page model.Page[T]
		var failed string
		sawItems := false

		l := jlexer.Lexer{Data: data}
		l.Delim('{')
		for !l.IsDelim('}') {
			key := l.UnsafeFieldName(false)
			l.WantColon()
			switch {
			case l.IsNull():
				l.Skip()
			case key == itemsField:
				page.Items = list.Read(&l)
				sawItems = true
				if !l.Ok() {
					failed = itemsField
				}
			case key == nextField:
				page.ContinuationToken = l.String()
				if !l.Ok() {
					failed = nextField
				}
			default:
				l.SkipRecursive()
			}
			if failed != "" {
				break
			}
			l.WantComma()
		}
		if failed == "" {
			l.Delim('}')
			l.Consumed()
		}
		if err := l.Error(); err != nil {
			return model.Page[T]{}, &DecodeError{Type: name, Field: failed, Err: err}
		}
		if !sawItems {
			return model.Page[T]{}, &DecodeError{Type: name, Field: itemsField, Err: ErrMissingField}
		}
		return page, nil
	}
}
