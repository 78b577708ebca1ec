package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/lookthrough/internal/taxonomy"
)

var taxonomyType string

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Print the active taxonomy version and its nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := loadTree()
		if err != nil {
			return err
		}

		nodes := tree.Nodes()
		if taxonomyType != "" {
			filtered := nodes[:0]
			for _, n := range nodes {
				if n.Kind == taxonomyType {
					filtered = append(filtered, n)
				}
			}
			nodes = filtered
		}

		out := struct {
			Version taxonomy.Version `json:"version"`
			Nodes   []taxonomy.Node  `json:"nodes"`
		}{Version: tree.Version, Nodes: nodes}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	taxonomyCmd.Flags().StringVar(&taxonomyType, "type", "", "Filter nodes by type (sector, geography)")
	rootCmd.AddCommand(taxonomyCmd)
}
