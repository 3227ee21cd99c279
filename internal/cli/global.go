// Package cli implements the restctl command tree.
package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/observability"
)

const (
	appName = "restctl"

	tableFormat = "table"
	jsonFormat  = "json"
)

var legalOutputTypes = []string{tableFormat, jsonFormat}

// GlobalOptions are the flags shared by every command that talks to a
// service.
type GlobalOptions struct {
	ConfigFile     string
	Endpoint       string
	APIVersion     string
	RequestTimeout int
	Output         string

	cfg    *config.Config
	logger *zap.Logger
}

// DefaultGlobalOptions returns options with no config file, so only
// defaults and RESTKIT_* environment variables apply.
func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{Output: tableFormat}
}

// Bind registers the global flags.
func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a YAML configuration file.")
	fs.StringVarP(&o.Endpoint, "endpoint", "e", o.Endpoint, "Service endpoint. Overrides client.endpoint.")
	fs.StringVar(&o.APIVersion, "api-version", o.APIVersion, "Service version to pin. Defaults to the latest.")
	fs.IntVar(&o.RequestTimeout, "request-timeout", o.RequestTimeout, "Request timeout in seconds (0 - use the configured timeout).")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

// Complete loads configuration and builds the logger.
func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if o.Endpoint != "" {
		cfg.Client.Endpoint = o.Endpoint
	}
	if o.APIVersion != "" {
		cfg.Client.APIVersion = o.APIVersion
	}
	if o.RequestTimeout > 0 {
		cfg.Client.Timeout = time.Duration(o.RequestTimeout) * time.Second
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	o.cfg = cfg
	o.logger = logger.Named(appName)
	return nil
}

// Validate checks flag values.
func (o *GlobalOptions) Validate(args []string) error {
	if o.RequestTimeout < 0 {
		return fmt.Errorf("request-timeout must not be negative")
	}
	if !slices.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	if o.cfg != nil && o.cfg.Client.Endpoint == "" {
		return fmt.Errorf("an endpoint is required: pass --endpoint or set client.endpoint")
	}
	return nil
}

// WithTimeout bounds ctx by the request timeout flag, if set.
func (o *GlobalOptions) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.RequestTimeout != 0 {
		return context.WithTimeout(ctx, time.Duration(o.RequestTimeout)*time.Second)
	}
	return ctx, func() {}
}

// NewRestctlCommand returns the root command.
func NewRestctlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          appName,
		Short:        "restctl calls versioned REST services through the restkit client core",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdWidgets())
	cmd.AddCommand(NewCmdInvoke())
	cmd.AddCommand(NewCmdMockServer())
	cmd.AddCommand(NewCmdVersion())
	return cmd
}

// NewCmdVersion prints build information.
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print restctl version information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commit %s)\n", appName, observability.Version, observability.Commit)
		},
	}
}
