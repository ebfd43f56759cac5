package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runsFlags struct {
	user string
}

var runsCmd = &cobra.Command{
	Use:   "runs <search-id>",
	Short: "List a search's runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		search, err := env.Store.GetSearch(ctx, args[0])
		if err != nil {
			return err
		}
		if search.UserID != runsFlags.user {
			return fmt.Errorf("search %s not found for user %s", args[0], runsFlags.user)
		}

		runs, err := env.Store.ListRuns(ctx, search.ID)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %-9s %3d%%  found=%d discarded=%d",
				r.ID, r.Status, r.Progress, r.FoundCount, r.DiscardedCount)
			if r.Reason != "" {
				line += "  " + r.Reason
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsFlags.user, "user", "default", "acting user ID")
	rootCmd.AddCommand(runsCmd)
}
