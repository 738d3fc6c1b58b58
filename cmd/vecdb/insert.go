package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecdb-io/vecdb/pkg/config"
)

func newInsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert <collection> <id> <vector>",
		Short: "Insert a vector, with an optional JSON payload, into a collection",
		Long:  `Example: vecdb insert docs doc-1 "0.1,0.2,0.3" --payload '{"title":"hello"}'`,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionName, id, vectorArg := args[0], args[1], args[2]
			dataDir, _ := cmd.Flags().GetString("data-dir")
			payloadArg, _ := cmd.Flags().GetString("payload")

			vec, err := parseVector(vectorArg)
			if err != nil {
				return err
			}

			var payload map[string]interface{}
			if payloadArg != "" {
				if err := json.Unmarshal([]byte(payloadArg), &payload); err != nil {
					return fmt.Errorf("vecdb: invalid --payload JSON: %w", err)
				}
			}

			cfg := config.DefaultConfig()
			c, ok, err := openExistingCollection(dataDir, collectionName, cfg.HNSW)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("vecdb: no collection %q; run create-collection first", collectionName)
			}

			if err := c.Insert(id, vec, payload); err != nil {
				return fmt.Errorf("vecdb: insert %q: %w", id, err)
			}
			if err := saveCollection(dataDir, cfg.Storage, c); err != nil {
				return err
			}

			fmt.Printf("inserted %q into %q (count=%d)\n", id, collectionName, c.Count())
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "data directory")
	cmd.Flags().String("payload", "", "optional JSON payload object")
	return cmd
}
