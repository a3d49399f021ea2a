// Command ipclick runs the task service and talks to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ipclick/internal/app"
)

func main() {
	root := &cobra.Command{
		Use:           "ipclick",
		Short:         "HTTP task dispatch service with fingerprinted clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an extra ini file merged over the defaults")

	root.AddCommand(serveSubcommand(&configPath))
	root.AddCommand(getSubcommand(&configPath))
	root.AddCommand(proxySubcommand(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
