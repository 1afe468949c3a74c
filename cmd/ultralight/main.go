// Ultralight is a multi-tenant sandboxed function execution runtime.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ultralight",
	Short: "Multi-tenant sandboxed JavaScript function runtime",
	Long: `Ultralight hosts bundled JavaScript functions and executes them on demand
in isolated engines with capability-based permissions, resource governance,
and per-app data stores. Functions are registered, invoked, and scheduled
through an HTTP API.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
