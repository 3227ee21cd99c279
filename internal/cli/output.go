package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/services/widgets"
)

func printJSON[V any](w io.Writer, kind codec.Kind[V], v V) error {
	data, err := codec.Marshal(kind, v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", kind.Name(), err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func printWidget(w io.Writer, format string, x widgets.Widget) error {
	if format == jsonFormat {
		return printJSON(w, widgets.WidgetRecord, x)
	}
	return printWidgets(w, format, []widgets.Widget{x})
}

func printWidgets(w io.Writer, format string, items []widgets.Widget) error {
	if format == jsonFormat {
		return printJSON(w, codec.List[widgets.Widget](widgets.WidgetRecord), items)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "NAME\tCOLOR\tSHAPE\tWEIGHT\tPARTS\tCREATED")
	for _, x := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			x.Name,
			describeColor(x.Color),
			valueOr(x.Shape, func(s widgets.Shape) string { return string(s) }),
			valueOr(x.Weight, func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }),
			len(x.Parts),
			valueOr(x.CreatedAt, func(t time.Time) string { return t.Format(time.RFC3339) }),
		)
	}
	return tw.Flush()
}

func printAnalysis(w io.Writer, res widgets.AnalyzeResult) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintf(tw, "Summary:\t%s\n", res.Summary)
	fmt.Fprintf(tw, "Score:\t%.2f\n", res.Score)
	fmt.Fprintf(tw, "Analyzed:\t%s\n", res.AnalyzedAt.Format(time.RFC3339))
	return tw.Flush()
}

// describeColor marks colors this client does not know.
func describeColor(c codec.Extensible[widgets.Color]) string {
	if c.IsKnown() {
		return c.String()
	}
	return c.String() + " (unknown)"
}

func valueOr[V any](p *V, format func(V) string) string {
	if p == nil {
		return "<none>"
	}
	return format(*p)
}
