package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/client"
	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/openapi"
	"github.com/pitabwire/restkit/model"
)

// apiVersionParam is filled with the pinned version when an operation
// declares it and the caller did not.
const apiVersionParam = "api-version"

// InvokeOptions are the options of the invoke command.
type InvokeOptions struct {
	GlobalOptions

	Specs     []string
	Service   string
	Operation string
	Params    []string
	BodyFile  string
	All       bool
	List      bool
}

// DefaultInvokeOptions returns the default invoke options.
func DefaultInvokeOptions() *InvokeOptions {
	return &InvokeOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Service:       "api",
	}
}

// NewCmdInvoke returns the invoke command, which calls any operation of
// an OpenAPI described service.
func NewCmdInvoke() *cobra.Command {
	o := DefaultInvokeOptions()
	cmd := &cobra.Command{
		Use:   "invoke --spec FILE --op ID [--param NAME=VALUE]...",
		Short: "Invoke an operation described by OpenAPI documents.",
		Long: `Invoke an operation described by OpenAPI documents.

Each --spec document is one version of the service, oldest first; its
info.version is the version token. Without --spec the sources configured
under specs are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			ctx, cancel := o.WithTimeout(cmd.Context())
			defer cancel()
			return o.Run(ctx, cmd)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

// Bind registers the invoke flags.
func (o *InvokeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	fs.StringArrayVar(&o.Specs, "spec", o.Specs, "OpenAPI document of one service version. Repeat oldest first.")
	fs.StringVar(&o.Service, "service", o.Service, "Service ID the documents are indexed under.")
	fs.StringVar(&o.Operation, "op", o.Operation, "Operation ID to invoke.")
	fs.StringArrayVarP(&o.Params, "param", "p", o.Params, "Parameter as NAME=VALUE. May be repeated.")
	fs.StringVar(&o.BodyFile, "body", o.BodyFile, "File holding the JSON request body, or - for stdin.")
	fs.BoolVar(&o.All, "all", o.All, "For list operations, fetch every page and print one item per line.")
	fs.BoolVar(&o.List, "list-operations", o.List, "Print the operations callable at the pinned version and exit.")
}

// Validate checks the invoke flags.
func (o *InvokeOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if len(o.Specs) == 0 && len(o.cfg.Specs.Sources) == 0 {
		return fmt.Errorf("at least one --spec is required")
	}
	if o.Operation == "" && !o.List {
		return fmt.Errorf("--op is required")
	}
	for _, p := range o.Params {
		if name, _, ok := strings.Cut(p, "="); !ok || name == "" {
			return fmt.Errorf("parameter %q must be NAME=VALUE", p)
		}
	}
	return nil
}

func (o *InvokeOptions) sources() []openapi.SpecSource {
	if len(o.Specs) == 0 {
		return openapi.SourcesFromConfig(o.cfg.Specs)
	}
	sources := make([]openapi.SpecSource, len(o.Specs))
	for i, path := range o.Specs {
		sources[i] = openapi.SpecSource{ServiceID: o.Service, SpecPath: path}
	}
	return sources
}

// Run loads the documents and performs the call.
func (o *InvokeOptions) Run(ctx context.Context, cmd *cobra.Command) error {
	idx := openapi.NewIndex()
	if err := idx.Load(ctx, o.sources()); err != nil {
		return err
	}
	table, err := idx.Table(o.Service)
	if err != nil {
		return err
	}

	c, err := client.New(o.cfg.Client.Endpoint, table.Versions(), table,
		client.WithConfig(o.cfg),
		client.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	out := cmd.OutOrStdout()

	if o.List {
		for _, id := range c.Operations() {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	op, err := c.Resolve(o.Operation)
	if err != nil {
		return err
	}
	in, err := o.input(cmd.InOrStdin(), op, c.Version())
	if err != nil {
		return err
	}
	if err := o.validateBody(idx, in.Body); err != nil {
		return err
	}
	o.logger.Debug("invoking operation",
		zap.String("operation", op.ID),
		zap.String("version", c.Version().String()),
	)

	if o.All && op.Paging != nil {
		for item, err := range client.List(c, op.ID, in, nil, codec.RawJSON).All(ctx) {
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", item)
		}
		return nil
	}

	resp, err := client.DoRaw(ctx, c, op.ID, in, nil)
	if err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		fmt.Fprintf(out, "%s\n", strings.TrimRight(string(resp.Body), "\n"))
	}
	return nil
}

func (o *InvokeOptions) input(stdin io.Reader, op *model.OperationDescriptor, version model.ServiceVersion) (client.Input, error) {
	params := make(model.Params)
	for _, p := range o.Params {
		name, value, _ := strings.Cut(p, "=")
		params.Add(name, value)
	}
	if _, declared := op.Binding(apiVersionParam); declared && !params.Has(apiVersionParam) {
		params.Set(apiVersionParam, version.String())
	}

	in := client.Input{Params: params}
	switch o.BodyFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return client.Input{}, fmt.Errorf("reading body: %w", err)
		}
		in.Body = data
	default:
		data, err := os.ReadFile(o.BodyFile)
		if err != nil {
			return client.Input{}, fmt.Errorf("reading body: %w", err)
		}
		in.Body = data
	}
	return in, nil
}

// validateBody checks a JSON object body against the operation's schema
// before anything is sent.
func (o *InvokeOptions) validateBody(idx *openapi.Index, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	// Bodies that are not JSON objects are sent unchecked.
	var fields map[string]any
	if json.Unmarshal(body, &fields) != nil {
		return nil
	}
	if details := idx.ValidateRequest(o.Service, o.Operation, fields); len(details) > 0 {
		return model.NewValidationError(o.Operation, details)
	}
	return nil
}
