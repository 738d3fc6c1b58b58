package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecdb-io/vecdb/pkg/archive"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy the data directory's archive pair into an immutable, timestamped snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			snapshotRoot, _ := cmd.Flags().GetString("snapshot-root")
			if snapshotRoot == "" {
				snapshotRoot = dataDir
			}

			desc, err := archive.Snapshot(basePathFor(dataDir), snapshotRoot, time.Now())
			if err != nil {
				return fmt.Errorf("vecdb: snapshot: %w", err)
			}

			fmt.Printf("snapshot taken at %s -> %s\n", desc.Timestamp, desc.Dir)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	cmd.Flags().String("snapshot-root", "", "directory to write snapshots under (default: data-dir)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <snapshot-dir>",
		Short: "Restore the data directory's archive from a previously taken snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshotDir := args[0]
			dataDir, _ := cmd.Flags().GetString("data-dir")

			if err := archive.Restore(snapshotDir, basePathFor(dataDir)); err != nil {
				return fmt.Errorf("vecdb: restore: %w", err)
			}

			fmt.Printf("restored %s from %s\n", basePathFor(dataDir), snapshotDir)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	return cmd
}
