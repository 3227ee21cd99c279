package widgets

import (
	"time"

	"github.com/pitabwire/restkit/codec"
)

// Color is the color of a widget. The service may return colors this
// client does not know; they surface as unknown Extensible values.
type Color string

// Known colors.
const (
	Red   Color = "red"
	Green Color = "green"
	Blue  Color = "blue"
)

// Colors is the declared color set.
var Colors = codec.NewEnumSet("Color", Red, Green, Blue)

// ColorOf wraps c as a known color when declared, otherwise as unknown.
func ColorOf(c string) codec.Extensible[Color] {
	return Colors.Of(c)
}

// Shape is the outline of a widget. The set is closed.
type Shape string

// Shapes.
const (
	Round  Shape = "round"
	Square Shape = "square"
)

// Shapes is the declared shape set.
var Shapes = codec.NewEnumSet("Shape", Round, Square)

// Part is a component of a widget.
type Part struct {
	Name     string
	Quantity int
}

// Widget is the service's main resource. Description is only returned by
// v2 and later.
type Widget struct {
	Name        string
	Color       codec.Extensible[Color]
	Shape       *Shape
	Weight      *float64
	Parts       []Part
	Description *string
	CreatedAt   *time.Time
	InspectedAt *time.Time
}

// Embedding is the feature vector of a widget.
type Embedding struct {
	Vector []int
}

// AnalyzeResult is the outcome of analyzing a widget.
type AnalyzeResult struct {
	Summary    string
	Score      float64
	AnalyzedAt time.Time
}

var (
	colorKind = codec.ExtensibleEnum(Colors)

	// PartRecord is the wire form of Part.
	PartRecord = codec.NewRecord("Part",
		codec.Required("name", codec.String, func(p *Part) *string { return &p.Name }),
		codec.Required("quantity", codec.Int, func(p *Part) *int { return &p.Quantity }),
	)

	// WidgetRecord is the wire form of Widget.
	WidgetRecord = codec.NewRecord("Widget",
		codec.Required("name", codec.String, func(w *Widget) *string { return &w.Name }),
		codec.Required("color", colorKind, func(w *Widget) *codec.Extensible[Color] { return &w.Color }),
		codec.Optional("shape", codec.ClosedEnum(Shapes), func(w *Widget) **Shape { return &w.Shape }),
		codec.Optional("weight", codec.Float64, func(w *Widget) **float64 { return &w.Weight }),
		codec.OptionalList("parts", PartRecord, func(w *Widget) *[]Part { return &w.Parts }),
		codec.Optional("description", codec.String, func(w *Widget) **string { return &w.Description }),
		codec.Optional("createdAt", codec.Time(codec.RFC3339), func(w *Widget) **time.Time { return &w.CreatedAt }),
		codec.Optional("inspectedAt", codec.Time(codec.UnixSeconds), func(w *Widget) **time.Time { return &w.InspectedAt }),
	)

	// EmbeddingRecord is the wire form of Embedding.
	EmbeddingRecord = codec.NewRecord("Embedding",
		codec.Required("vector", codec.List(codec.Int), func(e *Embedding) *[]int { return &e.Vector }),
	)

	// AnalyzeResultRecord is the wire form of AnalyzeResult.
	AnalyzeResultRecord = codec.NewRecord("AnalyzeResult",
		codec.Required("summary", codec.String, func(a *AnalyzeResult) *string { return &a.Summary }),
		codec.Required("score", codec.Float64, func(a *AnalyzeResult) *float64 { return &a.Score }),
		codec.Required("analyzedAt", codec.Time(codec.RFC7231), func(a *AnalyzeResult) *time.Time { return &a.AnalyzedAt }),
	)
)
