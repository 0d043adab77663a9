package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stutterguard/server/internal/app"
	"stutterguard/server/internal/config"
)

type serveOptions struct {
	configPath string
	addr       string
	profile    string
	clientDir  string
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Args:  cobra.NoArgs,
		Example: `  server serve
  server serve --config server.yaml --profile none`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := opts.settings()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, app.Config{Settings: settings, ClientDir: resolveClientDir(opts.clientDir)})
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "",
		"YAML config file, applied before the environment")
	cmd.Flags().StringVar(&opts.addr, "addr", "",
		"Listen address (overrides ADDR)")
	cmd.Flags().StringVar(&opts.profile, "profile", "",
		"Redaction profile attached to new players (overrides DEFAULT_PROFILE)")
	cmd.Flags().StringVar(&opts.clientDir, "client-dir", "",
		"Serve static client files from this directory")

	return cmd
}

// settings loads the config file and environment, then applies the flags.
func (o serveOptions) settings() (config.Config, error) {
	settings, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.addr != "" {
		settings.Addr = o.addr
	}
	if o.profile != "" {
		settings.DefaultProfile = o.profile
	}
	if err := settings.Validate(); err != nil {
		return config.Config{}, err
	}
	if _, err := settings.Profiles(); err != nil {
		return config.Config{}, err
	}
	return settings, nil
}
