package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"cliproxy/internal/app"
)

type rootOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		configPath: app.DefaultConfigFile,
	}

	root := &cobra.Command{
		Use:           "cliproxy",
		Short:         "Local HTTP gateway for generation CLIs and the Gemini Code Assist API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file (optional)")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newConfigCmd(logger, &opts),
		newToolsCmd(logger, &opts),
		newVersionCmd(),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			return application.Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
				Explicit:   configExplicit(cmd),
			})
		},
	}

	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			return application.ValidateConfig(cmd.Context(), validateConfig(cmd, opts))
		},
	}

	return cmd
}

func configExplicit(cmd *cobra.Command) bool {
	return flagChanged(cmd.Flags(), "config")
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	flag := flags.Lookup(name)
	return flag != nil && flag.Changed
}

func validateConfig(cmd *cobra.Command, opts *rootOptions) app.ValidateConfig {
	return app.ValidateConfig{
		ConfigPath: opts.configPath,
		Explicit:   configExplicit(cmd),
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
