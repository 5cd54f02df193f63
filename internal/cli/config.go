package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/remotelaunch/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with launch files",
	}
	cmd.AddCommand(newConfigValidateCmd(ctx))
	cmd.AddCommand(newConfigShowCmd(ctx))
	return cmd
}

func newConfigValidateCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		Aliases: []string{"lint"},
		Short:   "Validate a launch file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(ctx.configFile)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d entries)\n", ctx.configFile, len(file.Entries))
			return nil
		},
	}
}

func newConfigShowCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved launch file with assigned ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(ctx.configFile)
			if err != nil {
				return err
			}
			type shown struct {
				ID      uint   `yaml:"id"`
				Name    string `yaml:"name"`
				Command string `yaml:"command"`
				Workdir string `yaml:"workdir"`
			}
			doc := struct {
				Entries []shown `yaml:"entries"`
			}{}
			for i, spec := range file.Specs() {
				doc.Entries = append(doc.Entries, shown{ID: uint(i), Name: spec.Name, Command: spec.Command, Workdir: spec.Workdir})
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
