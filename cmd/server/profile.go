package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stutterguard/server/internal/config"
	"stutterguard/server/internal/redact"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and validate redaction profiles",
	}

	var configPath string
	showCmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Print a redaction profile as YAML",
		Args:  cobra.MaximumNArgs(1),
		Example: `  server profile show
  server profile show strict --config server.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			profiles, err := settings.Profiles()
			if err != nil {
				return err
			}
			name := settings.DefaultProfile
			if len(args) > 0 {
				name = args[0]
			}
			policy, err := profiles.Lookup(name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if policy == nil {
				fmt.Fprintf(out, "# %s: filtering disabled\n", name)
				return nil
			}
			data, err := redact.MarshalSpec(policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# %s\n%s", name, data)
			return nil
		},
	}
	showCmd.Flags().StringVar(&configPath, "config", "",
		"YAML config file naming the profile file and default profile")

	validateCmd := &cobra.Command{
		Use:     "validate <file>",
		Short:   "Check a profile file",
		Args:    cobra.ExactArgs(1),
		Example: `  server profile validate profiles.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := redact.LoadProfileFile(args[0])
			if err != nil {
				return err
			}
			names := profiles.Names()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d profiles (%s)\n", len(names), strings.Join(names, ", "))
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of profile files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := redact.MarshalProfileSchema()
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(data)
			return nil
		},
	}
}
