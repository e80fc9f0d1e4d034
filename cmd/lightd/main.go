package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lightd",
	Short:   "lightd - a single-host container lifecycle and telemetry daemon",
	Long:    `lightd installs, runs, and tears down Docker-backed application containers on a single host, fanning out their console and stats over WebSocket subscriptions.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lightd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(serversCmd)

	serveCmd.Flags().String("config", "/etc/lightd/config.json", "path to config.json")
	serveCmd.Flags().Bool("dev", false, "enable development-mode console logging")
}
