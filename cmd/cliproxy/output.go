package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cliproxy/internal/app"
	"cliproxy/internal/domain"
)

func writeJSON(out io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func writeYAML(out io.Writer, value any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return err
	}
	return enc.Close()
}

func printTools(out io.Writer, descriptors []domain.ToolDescriptor) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tDEFAULT MODEL\tCOMMAND")
	for _, d := range descriptors {
		command := d.Command
		if command == "" {
			command = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Mode, d.DefaultModel, command)
	}
	return w.Flush()
}

func newConfigCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			cfg, err := application.EffectiveConfig(cmd.Context(), validateConfig(cmd, opts))
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), cfg.Settings())
		},
	}

	return cmd
}

func newToolsCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the gateway registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			descriptors, err := application.ToolDescriptors(cmd.Context(), validateConfig(cmd, opts))
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), descriptors)
			}
			return printTools(cmd.OutOrStdout(), descriptors)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cliproxy %s (%s)\n", app.Version, app.Build)
		},
	}
}
