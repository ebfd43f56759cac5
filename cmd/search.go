package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/estimate"
	"github.com/scripe/leadgen/internal/model"
)

var searchFlags struct {
	user            string
	name            string
	query           string
	categories      []string
	cities          []string
	regions         []string
	countries       []string
	keywordsInclude []string
	keywordsExclude []string
	employeeMin     int
	employeeMax     int
	target          int
	tier            string
	estimateOnly    bool
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Create a search, run it, and stream progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := buildSearchRequest()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		est := estimate.ForRequest(req)
		fmt.Printf("Estimated: %d leads (market ~%d), %.2f credits, about %s\n",
			est.ExpectedLeads, est.AvailableLeads, est.ExpectedCostCredit,
			estimate.FormatDuration(est.ExpectedSeconds))
		if searchFlags.estimateOnly {
			return nil
		}

		if err := env.Ledger.EnsureAccount(ctx, searchFlags.user); err != nil {
			return err
		}

		name := searchFlags.name
		if name == "" {
			name = req.Query
		}
		now := time.Now().UTC()
		search := &model.Search{
			ID:        uuid.NewString(),
			UserID:    searchFlags.user,
			Name:      name,
			Request:   req,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := env.Store.CreateSearch(ctx, search); err != nil {
			return err
		}

		r, err := env.Controller.Start(ctx, search.ID, searchFlags.user)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s started\n", r.ID)

		// Ctrl-C cancels the run cooperatively; already-delivered leads
		// stay billed and persisted.
		go func() {
			<-ctx.Done()
			if _, err := env.Controller.Cancel(context.Background(), r.ID, searchFlags.user); err != nil {
				zap.L().Debug("cancel on interrupt", zap.Error(err))
			}
		}()

		streamProgress(env, r.ID)

		final, err := env.Store.GetRun(context.Background(), r.ID)
		if err != nil {
			return err
		}
		printRunSummary(final)

		balance, err := env.Ledger.Balance(context.Background(), searchFlags.user)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %.2f credits\n", balance)
		return nil
	},
}

func buildSearchRequest() (model.SearchRequest, error) {
	tier, err := model.ParseTier(searchFlags.tier)
	if err != nil {
		return model.SearchRequest{}, err
	}
	req := model.SearchRequest{
		Query:            searchFlags.query,
		Categories:       searchFlags.categories,
		Cities:           searchFlags.cities,
		Regions:          searchFlags.regions,
		Countries:        searchFlags.countries,
		KeywordsInclude:  searchFlags.keywordsInclude,
		KeywordsExclude:  searchFlags.keywordsExclude,
		EmployeeCountMin: searchFlags.employeeMin,
		EmployeeCountMax: searchFlags.employeeMax,
		TargetCount:      searchFlags.target,
		Tier:             tier,
	}
	return req, req.Validate()
}

// streamProgress prints the run's event log until the run terminates.
func streamProgress(env *pipelineEnv, runID string) {
	live, cancel := env.Controller.Events().Subscribe(runID)
	defer cancel()

	var lastSeq int64
	past, err := env.Controller.Events().Replay(context.Background(), runID, 0)
	if err != nil {
		zap.L().Warn("event replay failed", zap.Error(err))
	}
	for i := range past {
		printEvent(&past[i])
		lastSeq = past[i].Seq
		if past[i].Status.Terminal() {
			return
		}
	}

	for ev := range live {
		if ev.Seq <= lastSeq {
			continue
		}
		printEvent(&ev)
		if ev.Status.Terminal() {
			return
		}
	}
}

func printEvent(ev *model.ProgressEvent) {
	line := fmt.Sprintf("[%3d%%] %-9s found=%d", ev.Progress, ev.Status, ev.FoundCount)
	if ev.CurrentSource != "" {
		line += " source=" + ev.CurrentSource
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	fmt.Println(line)
}

func printRunSummary(r *model.Run) {
	fmt.Printf("Run %s: %s, %d leads delivered, %d below threshold\n",
		r.ID, r.Status, r.FoundCount, r.DiscardedCount)
	if rec := r.Reconciliation; rec != nil {
		fmt.Printf("Credits: reserved %.2f, charged %.2f, refunded %.2f\n",
			rec.ReservedCredits, rec.DebitedCredits, rec.RefundedCredits)
	}
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchFlags.user, "user", "default", "acting user ID")
	f.StringVar(&searchFlags.name, "name", "", "search name (defaults to the query)")
	f.StringVar(&searchFlags.query, "query", "", "free-text query")
	f.StringSliceVar(&searchFlags.categories, "category", nil, "business category (repeatable)")
	f.StringSliceVar(&searchFlags.cities, "city", nil, "city (repeatable; default sweeps the country's major cities)")
	f.StringSliceVar(&searchFlags.regions, "region", nil, "region (repeatable)")
	f.StringSliceVar(&searchFlags.countries, "country", nil, "ISO country code (repeatable; default IT)")
	f.StringSliceVar(&searchFlags.keywordsInclude, "include", nil, "keyword the lead must match (repeatable)")
	f.StringSliceVar(&searchFlags.keywordsExclude, "exclude", nil, "keyword that disqualifies a lead (repeatable)")
	f.IntVar(&searchFlags.employeeMin, "employees-min", 0, "minimum employee count")
	f.IntVar(&searchFlags.employeeMax, "employees-max", 0, "maximum employee count")
	f.IntVar(&searchFlags.target, "target", 100, "number of leads wanted")
	f.StringVar(&searchFlags.tier, "tier", "standard", "quality tier: basic, standard, premium")
	f.BoolVar(&searchFlags.estimateOnly, "estimate-only", false, "print the estimate and exit")
	rootCmd.AddCommand(searchCmd)
}
