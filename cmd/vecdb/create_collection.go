package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecdb-io/vecdb/pkg/collection"
	"github.com/vecdb-io/vecdb/pkg/config"
	"github.com/vecdb-io/vecdb/pkg/hnsw"
)

func newCreateCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-collection <name>",
		Short: "Create a new empty collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dataDir, _ := cmd.Flags().GetString("data-dir")
			dimension, _ := cmd.Flags().GetInt("dimension")
			metricName, _ := cmd.Flags().GetString("metric")

			metric, err := parseMetric(metricName)
			if err != nil {
				return err
			}
			if dimension < 1 {
				return fmt.Errorf("vecdb: --dimension must be >= 1")
			}

			cfg := config.DefaultConfig()
			exists, err := collectionExists(dataDir, name)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("vecdb: collection %q already exists", name)
			}

			idx := hnsw.New(dimension, metric, hnswConfigFrom(cfg.HNSW))
			c := collection.New(name, dimension, metric, collection.NewHNSWBackend(idx))
			if err := saveCollection(dataDir, cfg.Storage, c); err != nil {
				return err
			}

			fmt.Printf("created collection %q (dimension=%d, metric=%s)\n", name, dimension, metric)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	cmd.Flags().Int("dimension", 128, "vector dimension")
	cmd.Flags().String("metric", "cosine", "distance metric: cosine, l2, or dot")
	return cmd
}
