package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecdb-io/vecdb/pkg/collection"
	"github.com/vecdb-io/vecdb/pkg/config"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <collection> <vector>",
		Short: "Search a collection for its k nearest neighbors to a query vector",
		Long:  `Example: vecdb search docs "0.1,0.2,0.3" --k 5`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionName, vectorArg := args[0], args[1]
			dataDir, _ := cmd.Flags().GetString("data-dir")
			k, _ := cmd.Flags().GetInt("k")
			efSearch, _ := cmd.Flags().GetInt("ef-search")

			vec, err := parseVector(vectorArg)
			if err != nil {
				return err
			}

			cfg := config.DefaultConfig()
			c, ok, err := openExistingCollection(dataDir, collectionName, cfg.HNSW)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("vecdb: no collection %q; run create-collection first", collectionName)
			}

			hits, err := c.Search(vec, k, collection.SearchOptions{EfSearch: efSearch})
			if err != nil {
				return fmt.Errorf("vecdb: search: %w", err)
			}

			for i, h := range hits {
				var payloadStr string
				if h.Payload != nil {
					b, _ := json.Marshal(h.Payload)
					payloadStr = string(b)
				}
				fmt.Printf("%d. id=%s distance=%.6f payload=%s\n", i+1, h.ID, h.Distance, payloadStr)
			}
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	cmd.Flags().Int("k", 10, "number of nearest neighbors to return")
	cmd.Flags().Int("ef-search", 0, "candidate list size during search (0 = collection default)")
	return cmd
}
