package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finanzgw/internal/finanzgw"
	"finanzgw/internal/logging"
)

type options struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

type configKey struct{}

func withConfig(ctx context.Context, cfg finanzgw.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) finanzgw.Config {
	cfg, _ := ctx.Value(configKey{}).(finanzgw.Config)
	return cfg
}

// NewRootCmd builds the finanzgw command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "finanzgw",
		Short:        "Offline cache gateway for FinanzApp",
		Long:         "Serves the FinanzApp shell from a versioned cache bucket and the /api/ routes network-first with an offline fallback.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := finanzgw.LoadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if opts.jsonLogs {
				cfg.Logging.JSON = true
			}

			l := logging.NewLogger(cmd.ErrOrStderr())
			logging.Configure(l, logging.Flags{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = logging.WithLogger(ctx, l)
			cmd.SetContext(withConfig(ctx, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to finanzgw.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	root.PersistentFlags().BoolVar(&opts.jsonLogs, "json", false, "write logs as JSON")

	root.AddCommand(newServeCmd())
	root.AddCommand(newInstallCmd())
	root.AddCommand(newBucketsCmd())
	return root
}

// ExecuteContext runs the command tree with ctx; commands reach it through
// cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func defaultConfigPath() string {
	if v := os.Getenv(finanzgw.EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return "/finanzgw.yaml"
}

func openStorage(ctx context.Context, cfg finanzgw.Config) (finanzgw.Storage, error) {
	st, err := finanzgw.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	return st, nil
}
