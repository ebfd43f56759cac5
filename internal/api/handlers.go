package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/credit"
	"github.com/scripe/leadgen/internal/estimate"
	"github.com/scripe/leadgen/internal/export"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/store"
)

type createSearchRequest struct {
	Name    string              `json:"name"`
	Request model.SearchRequest `json:"request"`
}

type createSearchResponse struct {
	Search   *model.Search  `json:"search"`
	Estimate model.Estimate `json:"estimate"`
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req createSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := req.Request.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	uid := userID(r)
	if err := s.ledger.EnsureAccount(r.Context(), uid); err != nil {
		s.respondError(w, err)
		return
	}

	name := req.Name
	if name == "" {
		name = req.Request.Query
	}
	now := time.Now().UTC()
	search := &model.Search{
		ID:        uuid.NewString(),
		UserID:    uid,
		Name:      name,
		Request:   req.Request,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSearch(r.Context(), search); err != nil {
		s.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSearchResponse{
		Search:   search,
		Estimate: estimate.ForRequest(req.Request),
	})
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	searches, err := s.store.ListSearches(r.Context(), userID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": searches})
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	search, err := s.ownedSearch(r, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createSearchResponse{
		Search:   search,
		Estimate: estimate.ForRequest(search.Request),
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.Start(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ownedRun(r, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.Cancel(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type leadPage struct {
	Leads   []model.LeadRecord `json:"leads"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	search, err := s.ownedSearch(r, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	q := r.URL.Query()
	filter := store.LeadFilter{
		MinScore:              queryFloat(q.Get("min_score"), 0),
		IncludeBelowThreshold: q.Get("include_below_threshold") == "true",
		Page:                  queryInt(q.Get("page"), 1),
		PerPage:               queryInt(q.Get("per_page"), 50),
	}

	total, err := s.store.CountLeads(r.Context(), search.ID, filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	leads, err := s.store.ListLeads(r.Context(), search.ID, filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if leads == nil {
		leads = []model.LeadRecord{}
	}

	writeJSON(w, http.StatusOK, leadPage{
		Leads:   leads,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	})
}

type exportRequest struct {
	Format                string  `json:"format"`
	MinScore              float64 `json:"min_score"`
	IncludeBelowThreshold bool    `json:"include_below_threshold"`
	MaxRows               int     `json:"max_rows"`
}

var exportContentTypes = map[export.Format]string{
	export.FormatCSV:   "text/csv",
	export.FormatXLSX:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	export.FormatJSONL: "application/x-ndjson",
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	search, err := s.ownedSearch(r, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Format == "" {
		req.Format = string(export.FormatCSV)
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	dir, err := os.MkdirTemp("", "leadgen-export-")
	if err != nil {
		s.respondError(w, eris.Wrap(err, "api: create export dir"))
		return
	}
	defer os.RemoveAll(dir)

	filename := fmt.Sprintf("leads_%s.%s", search.ID, format)
	path := filepath.Join(dir, filename)
	if _, err := s.exporter.Export(r.Context(), search.ID, path, export.Options{
		Format:                format,
		MinScore:              req.MinScore,
		IncludeBelowThreshold: req.IncludeBelowThreshold,
		MaxRows:               req.MaxRows,
	}); err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", exportContentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

type balanceResponse struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if err := s.ledger.EnsureAccount(r.Context(), uid); err != nil {
		s.respondError(w, err)
		return
	}
	balance, err := s.ledger.Balance(r.Context(), uid)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: uid, Balance: balance})
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	history, err := s.ledger.History(r.Context(), userID(r), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if history == nil {
		history = []model.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": history})
}

// ownedSearch loads a search and hides it from other users as not found.
func (s *Server) ownedSearch(r *http.Request, id string) (*model.Search, error) {
	search, err := s.store.GetSearch(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if search.UserID != userID(r) {
		return nil, store.ErrNotFound
	}
	return search, nil
}

func (s *Server) ownedRun(r *http.Request, id string) (*model.Run, error) {
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID(r) {
		return nil, store.ErrNotFound
	}
	return run, nil
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// respondError maps pipeline sentinel errors to the HTTP taxonomy.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case eris.Is(err, store.ErrRunActive):
		writeError(w, http.StatusConflict, "run_active", "a run is already active for this search")
	case eris.Is(err, credit.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this run")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func queryFloat(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}
