package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scripe/leadgen/internal/export"
)

var exportFlags struct {
	user         string
	output       string
	format       string
	minScore     float64
	includeBelow bool
	maxRows      int
}

var exportCmd = &cobra.Command{
	Use:   "export <search-id>",
	Short: "Export a search's leads to CSV, XLSX, or JSONL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := export.ParseFormat(exportFlags.format)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		searchID := args[0]
		search, err := env.Store.GetSearch(ctx, searchID)
		if err != nil {
			return err
		}
		if search.UserID != exportFlags.user {
			return fmt.Errorf("search %s not found for user %s", searchID, exportFlags.user)
		}

		output := exportFlags.output
		if output == "" {
			output = fmt.Sprintf("leads_%s.%s", searchID, format)
		}
		if !strings.HasSuffix(output, "."+string(format)) {
			output += "." + string(format)
		}

		n, err := export.New(env.Store).Export(ctx, searchID, output, export.Options{
			Format:                format,
			MinScore:              exportFlags.minScore,
			IncludeBelowThreshold: exportFlags.includeBelow,
			MaxRows:               exportFlags.maxRows,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d leads to %s\n", n, output)
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.user, "user", "default", "acting user ID")
	f.StringVar(&exportFlags.output, "output", "", "output path (default leads_<search-id>.<format>)")
	f.StringVar(&exportFlags.format, "format", "csv", "export format: csv, xlsx, jsonl")
	f.Float64Var(&exportFlags.minScore, "min-score", 0, "only leads at or above this quality score")
	f.BoolVar(&exportFlags.includeBelow, "include-below-threshold", false, "include leads flagged below the tier threshold")
	f.IntVar(&exportFlags.maxRows, "max-rows", 0, "cap the number of exported rows (0 = no cap)")
	rootCmd.AddCommand(exportCmd)
}
