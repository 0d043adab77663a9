package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Game server with self-echo suppression for client-predicted state",
		Example: `  server serve --addr :8080
  server profile show default
  server schema`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newProfileCommand(),
		newSchemaCommand(),
	)

	return cmd
}

func main() {
	cmd := NewServerCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
