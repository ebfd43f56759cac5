package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/cascade"
	"github.com/scripe/leadgen/internal/credit"
	"github.com/scripe/leadgen/internal/quality"
	"github.com/scripe/leadgen/internal/run"
	"github.com/scripe/leadgen/internal/source"
	"github.com/scripe/leadgen/internal/store"
	"github.com/scripe/leadgen/pkg/directory"
	"github.com/scripe/leadgen/pkg/places"
	"github.com/scripe/leadgen/pkg/serp"
	"github.com/scripe/leadgen/pkg/webscan"
)

// directoryCountries are the markets the directory provider covers.
var directoryCountries = []string{"IT", "DE", "AT", "CH", "FR", "ES"}

// pipelineEnv holds the initialized store, ledger, registry, and controller
// shared by the serve/search/export/credits commands.
type pipelineEnv struct {
	Store      store.Store
	Ledger     credit.Ledger
	Registry   *source.Registry
	Controller *run.Controller
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	pe.Controller.Wait()
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initLedger(st store.Store) (credit.Ledger, error) {
	switch s := st.(type) {
	case *store.SQLiteStore:
		return credit.NewSQLite(s.DB()), nil
	case *store.PostgresStore:
		return credit.NewPostgres(s.Pool()), nil
	default:
		return nil, eris.New("ledger requires the sqlite or postgres store")
	}
}

// initRegistry builds the connector registry from the configured providers.
// Providers without an API key are skipped.
func initRegistry() *source.Registry {
	reg := source.NewRegistry()

	if cfg.Places.Key != "" {
		opts := []places.Option{places.WithRateLimit(cfg.Places.RateLimit)}
		if cfg.Places.BaseURL != "" {
			opts = append(opts, places.WithBaseURL(cfg.Places.BaseURL))
		}
		reg.Register(source.NewPlaces(places.NewClient(cfg.Places.Key, opts...)))
	} else {
		zap.L().Warn("LEADGEN_PLACES_KEY not set, places connector disabled")
	}

	if cfg.Directory.Key != "" {
		opts := []directory.Option{directory.WithRateLimit(cfg.Directory.RateLimit)}
		if cfg.Directory.BaseURL != "" {
			opts = append(opts, directory.WithBaseURL(cfg.Directory.BaseURL))
		}
		reg.Register(source.NewDirectory(directory.NewClient(cfg.Directory.Key, opts...), directoryCountries))
	}

	if cfg.Serp.Key != "" {
		opts := []serp.Option{serp.WithRateLimit(cfg.Serp.RateLimit)}
		if cfg.Serp.BaseURL != "" {
			opts = append(opts, serp.WithBaseURL(cfg.Serp.BaseURL))
		}
		reg.Register(source.NewSerp(serp.NewClient(cfg.Serp.Key, opts...)))
	}

	// Website crawl enricher needs no key; rate limit still applies.
	wopts := []webscan.Option{webscan.WithRateLimit(cfg.Webscan.RateLimit)}
	if cfg.Webscan.BaseURL != "" {
		wopts = append(wopts, webscan.WithBaseURL(cfg.Webscan.BaseURL))
	}
	reg.SetEnricher(source.NewWebsiteCrawl(webscan.NewClient(cfg.Webscan.Key, wopts...)))

	return reg
}

// initMailboxProber builds the SMTP prober used by premium email validation.
func initMailboxProber() quality.MailboxProber {
	return quality.NewSMTPProber(cfg.Quality.SMTPHelloDomain, cfg.Quality.SMTPProbeFrom)
}

// initPipeline sets up the store, ledger, connector registry, and run
// controller. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	if cfg.Quality.PolicyFile != "" {
		if err := quality.LoadPolicies(cfg.Quality.PolicyFile); err != nil {
			return nil, err
		}
		zap.L().Info("tier policies loaded", zap.String("path", cfg.Quality.PolicyFile))
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ledger, err := initLedger(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := initRegistry()
	orch := cascade.New(reg, cascade.Config{
		ConnectorConcurrency: cfg.Cascade.ConnectorConcurrency,
		PerCallTimeout:       time.Duration(cfg.Cascade.PerCallTimeoutSecs) * time.Second,
		CorroborationPasses:  cfg.Cascade.CorroborationPasses,
		EnrichTimeout:        time.Duration(cfg.Cascade.EnrichTimeoutSecs) * time.Second,
	})

	ctrl := run.NewController(st, ledger, orch, run.NewEvents(st), initMailboxProber(), run.Config{
		BatchSize: cfg.Run.BatchSize,
		ScorerWeights: quality.Weights{
			Completeness:          cfg.Scoring.Completeness,
			Validation:            cfg.Scoring.Validation,
			Corroboration:         cfg.Scoring.Corroboration,
			QueryMatch:            cfg.Scoring.QueryMatch,
			CorroborationHalfStep: cfg.Scoring.CorroborationHalfStep,
		},
	})

	return &pipelineEnv{
		Store:      st,
		Ledger:     ledger,
		Registry:   reg,
		Controller: ctrl,
	}, nil
}
