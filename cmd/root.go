// Package cmd wires the CLI entrypoints.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bookbridge",
	Short: "Sync reservations from the booking site to the scheduling platform",
	Long: `bookbridge drives a browser against the booking site (which has no
API), scrapes the reservation schedule, and pushes it to the downstream
scheduling platform. Browser launches rotate through configured proxy
accounts.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}
