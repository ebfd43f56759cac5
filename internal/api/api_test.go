package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripe/leadgen/internal/cascade"
	"github.com/scripe/leadgen/internal/credit"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/run"
	"github.com/scripe/leadgen/internal/source"
	"github.com/scripe/leadgen/internal/store"
)

type stubSource struct {
	name string
	fn   func(ctx context.Context, q source.Query) ([]model.CandidateRecord, error)
}

func (s *stubSource) Name() string                { return s.name }
func (s *stubSource) Kind() source.Kind           { return source.KindAPI }
func (s *stubSource) Priority() int               { return 10 }
func (s *stubSource) Confidence() float64         { return 0.9 }
func (s *stubSource) SupportsCountry(string) bool { return true }
func (s *stubSource) Search(ctx context.Context, q source.Query) ([]model.CandidateRecord, error) {
	return s.fn(ctx, q)
}

// emailLeads fabricates candidates with distinct emails and no website, so
// runs in tests never touch the network.
func emailLeads(n int) func(ctx context.Context, q source.Query) ([]model.CandidateRecord, error) {
	return func(ctx context.Context, q source.Query) ([]model.CandidateRecord, error) {
		out := make([]model.CandidateRecord, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, model.CandidateRecord{
				Name:       fmt.Sprintf("Studio Dentistico %s %d", q.City, i),
				Email:      fmt.Sprintf("info@studio%s%d.it", strings.ToLower(q.City), i),
				City:       q.City,
				Country:    q.Country,
				Category:   "dentist",
				SourceName: "places",
			})
		}
		return out, nil
	}
}

func blockingSource(name string) *stubSource {
	return &stubSource{name: name, fn: func(ctx context.Context, q source.Query) ([]model.CandidateRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type testServer struct {
	srv    *httptest.Server
	ctrl   *run.Controller
	ledger credit.Ledger
	store  store.Store
}

func newTestServer(t *testing.T, conn source.Connector) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	ledger := credit.NewSQLite(st.DB())

	reg := source.NewRegistry()
	reg.Register(conn)
	orch := cascade.New(reg, cascade.Config{PerCallTimeout: 5 * time.Second})

	ctrl := run.NewController(st, ledger, orch, run.NewEvents(st), nil, run.Config{})
	t.Cleanup(ctrl.Wait)

	server := New(st, ledger, ctrl, Config{APIKeys: map[string]string{
		"key-1": "user-1",
		"key-2": "user-2",
	}})
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	// Seed user-1 with the welcome bonus so runs can reserve credits.
	require.NoError(t, ledger.EnsureAccount(context.Background(), "user-1"))

	return &testServer{srv: srv, ctrl: ctrl, ledger: ledger, store: st}
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) createSearch(t *testing.T, target int) *model.Search {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/searches", "key-1", createSearchRequest{
		Name: "dentists in bologna",
		Request: model.SearchRequest{
			Query:       "dentista",
			Categories:  []string{"dentist"},
			Cities:      []string{"Bologna"},
			Countries:   []string{"IT"},
			TargetCount: target,
			Tier:        model.TierBasic,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[createSearchResponse](t, resp)
	require.NotEmpty(t, created.Search.ID)
	return created.Search
}

func (ts *testServer) startRun(t *testing.T, searchID string) *model.Run {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/searches/"+searchID+"/runs", "key-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[model.Run](t, resp)
	require.NotEmpty(t, started.ID)
	return &started
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})

	resp := ts.do(t, http.MethodGet, "/v1/credits", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/credits", "bogus", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateSearchReturnsEstimate(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})

	resp := ts.do(t, http.MethodPost, "/v1/searches", "key-1", createSearchRequest{
		Request: model.SearchRequest{
			Query:       "dentista",
			Categories:  []string{"dentist"},
			Cities:      []string{"Bologna"},
			Countries:   []string{"IT"},
			TargetCount: 20,
			Tier:        model.TierBasic,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[createSearchResponse](t, resp)
	assert.Equal(t, "user-1", created.Search.UserID)
	assert.Equal(t, "dentista", created.Search.Name, "name falls back to the query")
	assert.Equal(t, 20, created.Estimate.ExpectedLeads)
	assert.InDelta(t, 1.0, created.Estimate.ExpectedCostCredit, 1e-9)
}

func TestCreateSearchRejectsInvalidRequest(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})

	resp := ts.do(t, http.MethodPost, "/v1/searches", "key-1", createSearchRequest{
		Request: model.SearchRequest{TargetCount: 10, Tier: model.TierBasic},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(5)})
	search := ts.createSearch(t, 5)

	started := ts.startRun(t, search.ID)
	ts.ctrl.Wait()

	resp := ts.do(t, http.MethodGet, "/v1/runs/"+started.ID, "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	finished := decode[model.Run](t, resp)
	assert.Equal(t, model.RunCompleted, finished.Status)
	assert.Equal(t, 5, finished.FoundCount)

	resp = ts.do(t, http.MethodGet, "/v1/searches/"+search.ID+"/leads", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[leadPage](t, resp)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Leads, 5)

	resp = ts.do(t, http.MethodGet, "/v1/credits", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[balanceResponse](t, resp)
	assert.InDelta(t, 9.75, balance.Balance, 1e-9, "welcome bonus minus 5 leads at basic rate")
}

func TestLeadPagination(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(5)})
	search := ts.createSearch(t, 5)
	ts.startRun(t, search.ID)
	ts.ctrl.Wait()

	resp := ts.do(t, http.MethodGet, "/v1/searches/"+search.ID+"/leads?per_page=2&page=1", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[leadPage](t, resp)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Leads, 2)
	assert.Equal(t, 2, page.PerPage)
}

func TestStartRunErrorTaxonomy(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})
	search := ts.createSearch(t, 3)

	resp := ts.do(t, http.MethodPost, "/v1/searches/does-not-exist/runs", "key-1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// user-2 never received credits, so the reservation fails.
	resp = ts.do(t, http.MethodPost, "/v1/searches", "key-2", createSearchRequest{
		Request: search.Request,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	other := decode[createSearchResponse](t, resp)
	balance, err := ts.ledger.Balance(context.Background(), "user-2")
	require.NoError(t, err)
	require.NoError(t, drain(ts.ledger, "user-2", balance))
	resp = ts.do(t, http.MethodPost, "/v1/searches/"+other.Search.ID+"/runs", "key-2", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// another user's search reads as not found
	resp = ts.do(t, http.MethodGet, "/v1/searches/"+search.ID, "key-2", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// drain reserves the user's full balance so the next reservation fails.
func drain(ledger credit.Ledger, userID string, balance float64) error {
	if balance <= 0 {
		return nil
	}
	_, err := ledger.Reserve(context.Background(), userID, balance, "drain")
	return err
}

func TestActiveRunConflict(t *testing.T) {
	ts := newTestServer(t, blockingSource("places"))
	search := ts.createSearch(t, 3)

	started := ts.startRun(t, search.ID)

	resp := ts.do(t, http.MethodPost, "/v1/searches/"+search.ID+"/runs", "key-1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/runs/"+started.ID+"/cancel", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	ts.ctrl.Wait()

	resp = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID, "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[model.Run](t, resp)
	assert.Equal(t, model.RunCancelled, cancelled.Status)

	resp = ts.do(t, http.MethodGet, "/v1/credits", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[balanceResponse](t, resp)
	assert.InDelta(t, 10.0, balance.Balance, 1e-9, "nothing delivered, full hold returned")
}

func TestSSEReplaysCompletedRun(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(4)})
	search := ts.createSearch(t, 4)
	started := ts.startRun(t, search.ID)
	ts.ctrl.Wait()

	resp := ts.do(t, http.MethodGet, "/v1/runs/"+started.ID+"/events", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "event: progress")
	assert.Contains(t, text, `"status":"running"`)
	assert.Contains(t, text, `"status":"completed"`)
}

func TestSSEUnknownRun(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})

	resp := ts.do(t, http.MethodGet, "/v1/runs/nope/events", "key-1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportOverHTTP(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(4)})
	search := ts.createSearch(t, 4)
	ts.startRun(t, search.ID)
	ts.ctrl.Wait()

	resp := ts.do(t, http.MethodPost, "/v1/searches/"+search.ID+"/export", "key-1", exportRequest{Format: "csv"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 5, "header plus four leads")
	assert.True(t, strings.HasPrefix(lines[0], "company_name,"))

	resp = ts.do(t, http.MethodPost, "/v1/searches/"+search.ID+"/export", "key-1", exportRequest{Format: "pdf"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreditHistoryOverHTTP(t *testing.T) {
	ts := newTestServer(t, &stubSource{name: "places", fn: emailLeads(3)})
	search := ts.createSearch(t, 3)
	ts.startRun(t, search.ID)
	ts.ctrl.Wait()

	resp := ts.do(t, http.MethodGet, "/v1/credits/history", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decode[struct {
		Transactions []model.CreditTransaction `json:"transactions"`
	}](t, resp)

	// welcome bonus plus the run debit; delivery matched the hold exactly
	require.Len(t, payload.Transactions, 2)
	ops := map[model.CreditOp]bool{}
	for _, tx := range payload.Transactions {
		ops[tx.Operation] = true
	}
	assert.True(t, ops[model.CreditBonus])
	assert.True(t, ops[model.CreditSearch])
}
