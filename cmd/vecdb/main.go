// Package main provides the vecdb CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vecdb",
		Short: "vecdb - embeddable vector database for agent memory",
		Long: `vecdb is a vector database written in Go: an HNSW approximate
nearest-neighbor index per collection, a compact durable archive format,
and a consistent-hash router for multi-shard deployments.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vecdb v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCreateCollectionCmd())
	rootCmd.AddCommand(newInsertCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newOptimizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vecdb server (not yet implemented)",
		Long: `serve is a placeholder for a future long-running server process
exposing the router over a network transport. The CLI's other subcommands
operate directly on a local archive and cover single-process use today.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("vecdb: serve is not implemented; use create-collection/insert/search against a local data-dir")
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	cmd.Flags().Int("port", 8080, "listen port")
	return cmd
}
