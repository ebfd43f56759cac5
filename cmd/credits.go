package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scripe/leadgen/internal/model"
)

var creditsFlags struct {
	user   string
	amount float64
	note   string
	limit  int
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and manage credit accounts",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Ledger.EnsureAccount(ctx, creditsFlags.user); err != nil {
			return err
		}
		balance, err := env.Ledger.Balance(ctx, creditsFlags.user)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %.2f credits\n", creditsFlags.user, balance)
		return nil
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add purchased credits to a user's account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Ledger.EnsureAccount(ctx, creditsFlags.user); err != nil {
			return err
		}
		tx, err := env.Ledger.Grant(ctx, creditsFlags.user, creditsFlags.amount, model.CreditPurchase, creditsFlags.note)
		if err != nil {
			return err
		}
		fmt.Printf("Granted %.2f credits to %s, balance %.2f\n",
			tx.Amount, creditsFlags.user, tx.BalanceAfter)
		return nil
	},
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		history, err := env.Ledger.History(ctx, creditsFlags.user, creditsFlags.limit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("No transactions.")
			return nil
		}
		for _, tx := range history {
			line := fmt.Sprintf("%s  %-8s %+8.2f  balance %.2f",
				tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Operation, tx.Amount, tx.BalanceAfter)
			if tx.Description != "" {
				line += "  " + tx.Description
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	creditsCmd.PersistentFlags().StringVar(&creditsFlags.user, "user", "default", "acting user ID")
	creditsGrantCmd.Flags().Float64Var(&creditsFlags.amount, "amount", 0, "credits to add")
	creditsGrantCmd.Flags().StringVar(&creditsFlags.note, "note", "manual grant", "ledger entry description")
	creditsHistoryCmd.Flags().IntVar(&creditsFlags.limit, "limit", 20, "max entries to show")
	creditsCmd.AddCommand(creditsBalanceCmd, creditsGrantCmd, creditsHistoryCmd)
	rootCmd.AddCommand(creditsCmd)
}
