package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the application version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of oidcflow",
		Long: `Print the version of this oidcflow build. The same output is available
through the --version flag of the root command.`,
		Run: func(cmd *cobra.Command, args []string) {
			// rootCmd.Version is set from main at build time.
			fmt.Fprintf(cmd.OutOrStdout(), "oidcflow version %s\n", rootCmd.Version)
		},
	}
}
