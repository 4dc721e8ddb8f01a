// Package main is the entry point for the LLM key proxy engine: the
// Policy Engine, Model Router, Key Manager, and Request Pipeline wired
// together behind a single HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "proxyserver",
	Short: "Run the LLM key proxy engine",
	Long: `proxyserver starts the reverse-proxy request-servicing engine:
layered config load, Key Manager, Model Router, Policy Engine, Request
Pipeline, and the admin/observability HTTP surface, serving until
SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (env vars override, defaults apply if omitted)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
