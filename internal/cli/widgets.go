package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pitabwire/restkit/client"
	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/services/widgets"
)

// WidgetsOptions are the options of the widgets subcommands.
type WidgetsOptions struct {
	GlobalOptions

	// list
	Filter   string
	PageSize int
	ByLink   bool
	Limit    int

	// create
	Color       string
	Shape       string
	Weight      float64
	Description string
	Parts       []string
}

// DefaultWidgetsOptions returns the default widgets options.
func DefaultWidgetsOptions() *WidgetsOptions {
	return &WidgetsOptions{GlobalOptions: DefaultGlobalOptions()}
}

// NewCmdWidgets returns the widgets command group.
func NewCmdWidgets() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "widgets",
		Short: "Manage widgets through the typed widgets client.",
	}
	cmd.AddCommand(
		newWidgetsCommand("get NAME", "Show one widget.", 1, nil, (*WidgetsOptions).runGet),
		newWidgetsCommand("list", "List widgets, fetching pages as needed.", 0, (*WidgetsOptions).bindList, (*WidgetsOptions).runList),
		newWidgetsCommand("create NAME", "Create a widget.", 1, (*WidgetsOptions).bindCreate, (*WidgetsOptions).runCreate),
		newWidgetsCommand("delete NAME", "Delete a widget.", 1, nil, (*WidgetsOptions).runDelete),
		newWidgetsCommand("color NAME [COLOR]", "Show a widget's color, or set it.", -1, nil, (*WidgetsOptions).runColor),
		newWidgetsCommand("embedding NAME", "Show a widget's feature vector.", 1, nil, (*WidgetsOptions).runEmbedding),
		newWidgetsCommand("label NAME", "Print a widget's label.", 1, nil, (*WidgetsOptions).runLabel),
		newWidgetsCommand("analyze NAME", "Analyze a widget. Requires api-version v2.", 1, nil, (*WidgetsOptions).runAnalyze),
	)
	return cmd
}

type widgetsRun func(o *WidgetsOptions, ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error

func newWidgetsCommand(use, short string, nargs int, bind func(*WidgetsOptions, *pflag.FlagSet), run widgetsRun) *cobra.Command {
	o := DefaultWidgetsOptions()
	args := cobra.ExactArgs(nargs)
	if nargs < 0 {
		args = cobra.RangeArgs(1, 2)
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			ctx, cancel := o.WithTimeout(cmd.Context())
			defer cancel()
			c, err := o.client()
			if err != nil {
				return err
			}
			return run(o, ctx, cmd, c, args)
		},
		SilenceUsage: true,
	}
	o.GlobalOptions.Bind(cmd.Flags())
	if bind != nil {
		bind(o, cmd.Flags())
	}
	return cmd
}

func (o *WidgetsOptions) bindList(fs *pflag.FlagSet) {
	fs.StringVar(&o.Filter, "filter", o.Filter, "Only list widgets of this color. Requires api-version v2.")
	fs.IntVar(&o.PageSize, "page-size", o.PageSize, "Maximum number of widgets per page.")
	fs.BoolVar(&o.ByLink, "by-link", o.ByLink, "Page with next links instead of continuation tokens.")
	fs.IntVar(&o.Limit, "limit", o.Limit, "Stop after this many widgets (0 - no limit).")
}

func (o *WidgetsOptions) bindCreate(fs *pflag.FlagSet) {
	fs.StringVar(&o.Color, "color", o.Color, "Widget color.")
	fs.StringVar(&o.Shape, "shape", o.Shape, "Widget shape (round, square).")
	fs.Float64Var(&o.Weight, "weight", o.Weight, "Widget weight.")
	fs.StringVar(&o.Description, "description", o.Description, "Widget description.")
	fs.StringArrayVar(&o.Parts, "part", o.Parts, "A part as NAME=QUANTITY. May be repeated.")
}

func (o *WidgetsOptions) client() (*widgets.Client, error) {
	c, err := widgets.New(o.cfg.Client.Endpoint,
		client.WithConfig(o.cfg),
		client.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return c, nil
}

func (o *WidgetsOptions) runGet(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	w, err := c.GetWidget(ctx, args[0])
	if err != nil {
		return err
	}
	return printWidget(cmd.OutOrStdout(), o.Output, w)
}

func (o *WidgetsOptions) runList(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	if o.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	opts := &widgets.ListOptions{MaxPageSize: o.PageSize, Filter: o.Filter}
	p := c.ListWidgets(opts, nil)
	if o.ByLink {
		p = c.ListWidgetsByLink(opts, nil)
	}

	var items []widgets.Widget
	for w, err := range p.All(ctx) {
		if err != nil {
			return err
		}
		items = append(items, w)
		if o.Limit > 0 && len(items) == o.Limit {
			break
		}
	}
	return printWidgets(cmd.OutOrStdout(), o.Output, items)
}

func (o *WidgetsOptions) runCreate(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	w := widgets.Widget{Name: args[0], Color: widgets.ColorOf(o.Color)}
	if o.Shape != "" {
		shape, err := widgets.Shapes.Parse(o.Shape)
		if err != nil {
			return err
		}
		w.Shape = &shape
	}
	if cmd.Flags().Changed("weight") {
		w.Weight = &o.Weight
	}
	if o.Description != "" {
		w.Description = &o.Description
	}
	for _, raw := range o.Parts {
		name, qty, ok := strings.Cut(raw, "=")
		n, err := strconv.Atoi(qty)
		if !ok || name == "" || err != nil {
			return fmt.Errorf("part %q must be NAME=QUANTITY", raw)
		}
		w.Parts = append(w.Parts, widgets.Part{Name: name, Quantity: n})
	}

	created, err := c.CreateWidget(ctx, w)
	if err != nil {
		return err
	}
	return printWidget(cmd.OutOrStdout(), o.Output, created)
}

func (o *WidgetsOptions) runDelete(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	if err := c.DeleteWidget(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deletion request for widget %q completed\n", args[0])
	return nil
}

func (o *WidgetsOptions) runColor(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	if len(args) == 2 {
		return c.PutColor(ctx, args[0], widgets.ColorOf(args[1]))
	}
	color, err := c.GetColor(ctx, args[0])
	if err != nil {
		return err
	}
	if o.Output == jsonFormat {
		return printJSON(cmd.OutOrStdout(), codec.ExtensibleEnum(widgets.Colors), color)
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeColor(color))
	return nil
}

func (o *WidgetsOptions) runEmbedding(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	emb, err := c.GetEmbedding(ctx, args[0])
	if err != nil {
		return err
	}
	if o.Output == jsonFormat {
		return printJSON(cmd.OutOrStdout(), widgets.EmbeddingRecord, emb)
	}
	parts := make([]string, len(emb.Vector))
	for i, v := range emb.Vector {
		parts[i] = strconv.Itoa(v)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
	return nil
}

func (o *WidgetsOptions) runLabel(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	label, err := c.GetWidgetLabel(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(label)
	return err
}

func (o *WidgetsOptions) runAnalyze(ctx context.Context, cmd *cobra.Command, c *widgets.Client, args []string) error {
	res, err := c.AnalyzeWidget(ctx, args[0])
	if err != nil {
		return err
	}
	if o.Output == jsonFormat {
		return printJSON(cmd.OutOrStdout(), widgets.AnalyzeResultRecord, res)
	}
	return printAnalysis(cmd.OutOrStdout(), res)
}
