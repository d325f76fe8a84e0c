package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anupcshan/daytrace/internal/config"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when geocoding was stopped by a fatal API error so scripts
// can tell a bad API key apart from other failures.
func exitCode(err error) int {
	if geocode.IsFatal(err) {
		return 2
	}
	return 1
}

// options are the global flags plus the configuration they select.
type options struct {
	configPath string
	user       string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "daytrace",
		Short:         "Filter, geocode and summarize location history exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/daytrace/config.yaml)")
	root.PersistentFlags().StringVar(&opts.user, "user", "default", "user whose geocoding cache is used")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace|debug|info|warn|error|disabled")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json|console")

	root.AddCommand(newProcessCmd(opts))
	root.AddCommand(newGeocodeCmd(opts))
	root.AddCommand(newRouteCmd(opts))
	root.AddCommand(newSummaryCmd(opts))
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCacheCmd(opts))
	return root
}

// load reads the configuration and initializes logging. Flags override
// the configured log settings.
func (o *options) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	o.cfg = cfg

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Debug().
		Str("user", o.user).
		Str("cache_backend", cfg.Cache.Backend).
		Str("provider", cfg.Geocoding.Provider).
		Bool("geocoding_enabled", cfg.Geocoding.Enabled()).
		Msg("Configuration loaded")
	return nil
}
