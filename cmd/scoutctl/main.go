// Command scoutctl is the operator CLI for scout-agent: a one-shot tool
// for inspecting build information and validating rule files offline,
// without talking to a running agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appversion "github.com/k9dev/scout-agent/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scoutctl",
		Short: "Operator CLI for scout-agent",
		Long:  "scoutctl inspects scout-agent build information and validates rule files offline.",
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(rulesCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print scoutctl build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("scoutctl"))
		},
	}
}
