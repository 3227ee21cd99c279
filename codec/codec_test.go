package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/restkit/model"
)

type shade string

const (
	shadeLight shade = "light"
	shadeDark  shade = "dark"
)

var shades = NewEnumSet("Shade", shadeLight, shadeDark)

type part struct {
	Name     string
	Quantity *int
}

var partRecord = NewRecord("Part",
	Required("name", String, func(p *part) *string { return &p.Name }),
	Optional("quantity", Int, func(p *part) **int { return &p.Quantity }),
)

type gadget struct {
	ID      string
	Name    string
	Weight  *float64
	Shade   *Extensible[shade]
	Mode    *shade
	Sizes   []int
	Parts   []part
	Built   *time.Time
	Enabled *bool
}

var gadgetRecord = NewRecord("Gadget",
	Required("id", String, func(g *gadget) *string { return &g.ID }),
	Required("name", String, func(g *gadget) *string { return &g.Name }),
	Optional("weight", Float64, func(g *gadget) **float64 { return &g.Weight }),
	Optional("shade", ExtensibleEnum(shades), func(g *gadget) **Extensible[shade] { return &g.Shade }),
	Optional("mode", ClosedEnum(shades), func(g *gadget) **shade { return &g.Mode }),
	OptionalList("sizes", Int, func(g *gadget) *[]int { return &g.Sizes }),
	OptionalList[gadget, part]("parts", partRecord, func(g *gadget) *[]part { return &g.Parts }),
	Optional("built", Time(RFC3339), func(g *gadget) **time.Time { return &g.Built }),
	Optional("enabled", Bool, func(g *gadget) **bool { return &g.Enabled }),
)

func ptr[T any](v T) *T { return &v }

func TestRecord_RoundTrip(t *testing.T) {
	built := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   gadget
	}{
		{"required only", gadget{ID: "g1", Name: "first"}},
		{"all fields", gadget{
			ID:      "g2",
			Name:    "second",
			Weight:  ptr(2.5),
			Shade:   ptr(Known(shadeDark)),
			Mode:    ptr(shadeLight),
			Sizes:   []int{1, 2, 3},
			Parts:   []part{{Name: "bolt", Quantity: ptr(4)}, {Name: "nut"}},
			Built:   &built,
			Enabled: ptr(false),
		}},
		{"unknown extensible value", gadget{ID: "g3", Name: "third", Shade: ptr(Unknown[shade]("ultraviolet"))}},
		{"empty list", gadget{ID: "g4", Name: "fourth", Sizes: []int{}}},
		{"escaped strings", gadget{ID: "g\"5", Name: "line\nbreak é"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := gadgetRecord.Marshal(&tt.in)
			require.NoError(t, err)

			out, err := gadgetRecord.Unmarshal(data)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.in, out); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecord_MarshalOmitsAbsentFields(t *testing.T) {
	data, err := gadgetRecord.Marshal(&gadget{ID: "a", Name: "b", Sizes: []int{7}})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a","name":"b","sizes":[7]}`, string(data))
}

func TestRecord_UnknownFieldsSkipped(t *testing.T) {
	data := []byte(`{"extra":{"nested":[1,{"deep":null},"x"]},"id":"a","flag":true,"name":"b","n":1.5e3}`)
	out, err := gadgetRecord.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, gadget{ID: "a", Name: "b"}, out)
}

func TestRecord_FieldOrderIndependent(t *testing.T) {
	out, err := gadgetRecord.Unmarshal([]byte(`{"sizes":[3,2],"name":"b","id":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, gadget{ID: "a", Name: "b", Sizes: []int{3, 2}}, out)
}

func TestRecord_RequiredMissing(t *testing.T) {
	for _, body := range []string{`{"id":"a"}`, `{"id":"a","name":null}`} {
		_, err := gadgetRecord.Unmarshal([]byte(body))
		var de *DecodeError
		require.ErrorAs(t, err, &de, body)
		assert.Equal(t, "Gadget", de.Type)
		assert.Equal(t, "name", de.Field)
		assert.ErrorIs(t, err, ErrMissingField)
	}
}

func TestRecord_NullOptionalIsAbsent(t *testing.T) {
	out, err := gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b","weight":null,"parts":null}`))
	require.NoError(t, err)
	assert.Nil(t, out.Weight)
	assert.Nil(t, out.Parts)
}

func TestRecord_TypeMismatch(t *testing.T) {
	_, err := gadgetRecord.Unmarshal([]byte(`{"id":5,"name":"b"}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "id", de.Field)

	_, err = gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b","sizes":[1,"two"]}`))
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "sizes", de.Field)
}

func TestRecord_NestedMissingField(t *testing.T) {
	_, err := gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b","parts":[{"quantity":1}]}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "parts", de.Field)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRecord_TrailingData(t *testing.T) {
	_, err := gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b"} {}`))
	require.Error(t, err)
}

func TestRecord_NotAnObject(t *testing.T) {
	_, err := gadgetRecord.Unmarshal([]byte(`["id"]`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestNewRecord_DuplicateFieldPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewRecord("Dup",
			Required("a", String, func(p *part) *string { return &p.Name }),
			Required("a", String, func(p *part) *string { return &p.Name }),
		)
	})
}

func TestRecord_Fields(t *testing.T) {
	assert.Equal(t, []string{"name", "quantity"}, partRecord.Fields())
}

func TestClosedEnum_UnknownValueFails(t *testing.T) {
	_, err := gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b","mode":"purple"}`))
	var ue *UnknownEnumError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "purple", ue.Value)
	assert.Equal(t, "Shade", ue.Enum)
}

func TestExtensibleEnum_UnknownValuePreserved(t *testing.T) {
	out, err := gadgetRecord.Unmarshal([]byte(`{"id":"a","name":"b","shade":"ultraviolet"}`))
	require.NoError(t, err)
	require.NotNil(t, out.Shade)
	assert.False(t, out.Shade.IsKnown())
	assert.Equal(t, "ultraviolet", out.Shade.String())
	_, ok := out.Shade.Value()
	assert.False(t, ok)

	data, err := gadgetRecord.Marshal(&out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"shade":"ultraviolet"`)
}

func TestEnumSet(t *testing.T) {
	v, err := shades.Parse("dark")
	require.NoError(t, err)
	assert.Equal(t, shadeDark, v)

	_, err = shades.Parse("grey")
	require.Error(t, err)

	x := shades.Of("light")
	got, ok := x.Value()
	assert.True(t, ok)
	assert.Equal(t, shadeLight, got)
	assert.Equal(t, []shade{shadeLight, shadeDark}, shades.Members())
}

func TestTopLevelKinds(t *testing.T) {
	data, err := Marshal(ExtensibleEnum(shades), Known(shadeLight))
	require.NoError(t, err)
	assert.Equal(t, `"light"`, string(data))

	x, err := Unmarshal(ExtensibleEnum(shades), []byte(`"infrared"`))
	require.NoError(t, err)
	assert.False(t, x.IsKnown())

	nums, err := DecoderFor(List(Int))([]byte(` [ 1, -2 ,3 ] `))
	require.NoError(t, err)
	assert.Equal(t, []int{1, -2, 3}, nums)

	_, err = Unmarshal(List(Int), []byte(`[1.5]`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "array of integer", de.Type)
}

func TestRawJSON(t *testing.T) {
	items, err := Unmarshal(List(RawJSON), []byte(`[{"a":[1,{"b":null}]}, "x" ,3]`))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.JSONEq(t, `{"a":[1,{"b":null}]}`, string(items[0]))
	assert.JSONEq(t, `"x"`, string(items[1]))

	data, err := Marshal(List(RawJSON), [][]byte{[]byte(`{"k":1}`), nil})
	require.NoError(t, err)
	assert.Equal(t, `[{"k":1},null]`, string(data))
}

func TestTimeEncodings(t *testing.T) {
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	tests := []struct {
		enc  TimeEncoding
		wire string
	}{
		{RFC3339, `"2023-11-14T22:13:20Z"`},
		{RFC7231, `"Tue, 14 Nov 2023 22:13:20 GMT"`},
		{UnixSeconds, `1700000000`},
	}
	for _, tt := range tests {
		t.Run(tt.enc.String(), func(t *testing.T) {
			data, err := Marshal(Time(tt.enc), ts)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(data))

			got, err := Unmarshal(Time(tt.enc), data)
			require.NoError(t, err)
			assert.True(t, ts.Equal(got), "got %v, want %v", got, ts)
		})
	}

	_, err := Unmarshal(Time(RFC3339), []byte(`"yesterday"`))
	require.Error(t, err)
}

func TestPageOf(t *testing.T) {
	tokenPaging := &model.Paging{TokenField: "continuationToken", TokenParam: "continuationToken"}
	page, err := PageOf(Int, tokenPaging)([]byte(`{"value":[1,2],"continuationToken":"t1","odata.count":9}`))
	require.NoError(t, err)
	assert.Equal(t, model.Page[int]{Items: []int{1, 2}, ContinuationToken: "t1"}, page)
	assert.True(t, page.HasMore())

	linkPaging := &model.Paging{ItemsField: "items", NextLinkField: "nextLink"}
	linkPage, err := PageOf[part](partRecord, linkPaging)([]byte(`{"nextLink":null,"items":[{"name":"a"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []part{{Name: "a"}}, linkPage.Items)
	assert.False(t, linkPage.HasMore())

	_, err = PageOf(Int, tokenPaging)([]byte(`{"continuationToken":"t1"}`))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = PageOf(Int, tokenPaging)([]byte(`{"value":["x"]}`))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "value", de.Field)
}
