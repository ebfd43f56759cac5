package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scripe/leadgen/internal/quality"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured connectors and tier policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Quality.PolicyFile != "" {
			if err := quality.LoadPolicies(cfg.Quality.PolicyFile); err != nil {
				return err
			}
		}
		reg := initRegistry()

		names := reg.Names()
		if len(names) == 0 {
			fmt.Println("No connectors configured; set provider API keys in config.yaml or LEADGEN_* env.")
		}
		for _, name := range names {
			conn, err := reg.Get(name)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s kind=%-10s priority=%d confidence=%.2f\n",
				name, conn.Kind(), conn.Priority(), conn.Confidence())
		}

		fmt.Println()
		for _, p := range quality.Tiers() {
			fmt.Printf("%-9s min_score=%.0f max_sources=%d cost/lead=%.2f sources=%v\n",
				p.Tier, p.MinScore, p.MaxSources, p.CostPerLead, p.Sources)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
