package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecdb-io/vecdb/pkg/config"
)

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize <collection>",
		Short: "Compact a collection's index, permanently dropping tombstoned vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionName := args[0]
			dataDir, _ := cmd.Flags().GetString("data-dir")

			cfg := config.DefaultConfig()
			c, ok, err := openExistingCollection(dataDir, collectionName, cfg.HNSW)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("vecdb: no collection %q; run create-collection first", collectionName)
			}

			if err := c.Optimize(); err != nil {
				return fmt.Errorf("vecdb: optimize %q: %w", collectionName, err)
			}
			if err := saveCollection(dataDir, cfg.Storage, c); err != nil {
				return err
			}

			fmt.Printf("optimized %q (count=%d)\n", collectionName, c.Count())
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	return cmd
}
