package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNucleiCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nuclei",
		Short: "Inspect and maintain the nuclei installation",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version of the nuclei binary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scanner := e.scanner()
			if err := scanner.Verify(); err != nil {
				return err
			}
			v, err := scanner.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update-templates",
		Short: "Download the latest nuclei community templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scanner := e.scanner()
			if err := scanner.Verify(); err != nil {
				return err
			}
			return scanner.UpdateTemplates(cmd.Context())
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the easm version",
		// Skips the config loading of the root command.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "easm %s\n", Version)
		},
	}
}
