package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "param-panel",
		Short: "Serve auto-generated panels for attribute classes",
		Long: `param-panel serves browser panels generated from attribute
class declarations.

Declare classes in a YAML file (or use the built-in demo), and every
connected browser gets a session with typed, bounded, documented
attributes, live controls, and query-string sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
