// Package api exposes the lead pipeline over HTTP: search creation, run
// control, SSE progress streaming, lead listing, exports and the credit
// ledger.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/credit"
	"github.com/scripe/leadgen/internal/export"
	"github.com/scripe/leadgen/internal/run"
	"github.com/scripe/leadgen/internal/store"
)

// Config holds the server's runtime settings.
type Config struct {
	// APIKeys maps an API key to the user it acts as.
	APIKeys map[string]string

	// AllowedOrigins for CORS; empty means allow all.
	AllowedOrigins []string
}

// Server wires the pipeline components behind the HTTP surface.
type Server struct {
	store    store.Store
	ledger   credit.Ledger
	ctrl     *run.Controller
	exporter *export.Exporter
	cfg      Config
}

// New builds a Server. The controller owns run execution; the server only
// translates HTTP to controller and store calls.
func New(st store.Store, ledger credit.Ledger, ctrl *run.Controller, cfg Config) *Server {
	return &Server{
		store:    st,
		ledger:   ledger,
		ctrl:     ctrl,
		exporter: export.New(st),
		cfg:      cfg,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.apiKeyAuth)

		r.Route("/searches", func(r chi.Router) {
			r.Post("/", s.handleCreateSearch)
			r.Get("/", s.handleListSearches)
			r.Get("/{id}", s.handleGetSearch)
			r.Post("/{id}/runs", s.handleStartRun)
			r.Get("/{id}/leads", s.handleListLeads)
			r.Post("/{id}/export", s.handleExport)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/events", s.handleRunEvents)
			r.Post("/{id}/cancel", s.handleCancelRun)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", s.handleCredits)
			r.Get("/history", s.handleCreditHistory)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey int

const userIDKey ctxKey = iota

// apiKeyAuth resolves the acting user from the X-API-Key header.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		userID, ok := s.cfg.APIKeys[key]
		if key == "" || !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or unknown API key")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// requestLogger logs one line per request with the zap global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
