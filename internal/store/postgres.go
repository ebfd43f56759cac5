package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/db"
	"github.com/scripe/leadgen/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations: the per-batch lead path and the event log.
var preparedStatements = map[string]string{
	"get_run":     `SELECT id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reconciliation, reservation_id, started_at, ended_at FROM runs WHERE id = $1`,
	"update_run":  `UPDATE runs SET status = $1, progress = $2, current_source = $3, found_count = $4, discarded_count = $5, reason = $6, reconciliation = $7, ended_at = $8 WHERE id = $9`,
	"append_event": `INSERT INTO run_events (run_id, status, progress, current_source, found_count, message, at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
	"list_events": `SELECT seq, run_id, status, progress, current_source, found_count, message, at FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the credit ledger shares the database).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS searches (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	request    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	search_id       TEXT NOT NULL REFERENCES searches(id),
	user_id         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	progress        INTEGER NOT NULL DEFAULT 0,
	current_source  TEXT NOT NULL DEFAULT '',
	found_count     INTEGER NOT NULL DEFAULT 0,
	discarded_count INTEGER NOT NULL DEFAULT 0,
	reason          TEXT NOT NULL DEFAULT '',
	reconciliation  JSONB,
	reservation_id  TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	search_id          TEXT NOT NULL REFERENCES searches(id),
	name               TEXT NOT NULL,
	phone              TEXT NOT NULL DEFAULT '',
	alt_phones         JSONB,
	email              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	postal_code        TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	region             TEXT NOT NULL DEFAULT '',
	country            TEXT NOT NULL DEFAULT '',
	category           TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	employee_min       INTEGER NOT NULL DEFAULT 0,
	employee_max       INTEGER NOT NULL DEFAULT 0,
	sources            JSONB,
	sources_count      INTEGER NOT NULL DEFAULT 1,
	phone_validation   TEXT NOT NULL DEFAULT 'unchecked',
	email_validation   TEXT NOT NULL DEFAULT 'unchecked',
	website_validation TEXT NOT NULL DEFAULT 'unchecked',
	match_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	below_threshold    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_events (
	seq            BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	current_source TEXT NOT NULL DEFAULT '',
	found_count    INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id        TEXT PRIMARY KEY,
	balance_millis BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	amount_millis        BIGINT NOT NULL,
	balance_after_millis BIGINT NOT NULL,
	operation            TEXT NOT NULL,
	search_id            TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_reservations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	search_id     TEXT NOT NULL DEFAULT '',
	amount_millis BIGINT NOT NULL,
	settled       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_searches_user ON searches(user_id);
CREATE INDEX IF NOT EXISTS idx_runs_search ON runs(search_id);
CREATE INDEX IF NOT EXISTS idx_runs_search_status ON runs(search_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_search ON leads(search_id);
CREATE INDEX IF NOT EXISTS idx_leads_search_score ON leads(search_id, quality_score DESC);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_credit_tx_user ON credit_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reservations_user ON credit_reservations(user_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSearch(ctx context.Context, search *model.Search) error {
	reqJSON, err := json.Marshal(search.Request)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal search request")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO searches (id, user_id, name, request, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		search.ID, search.UserID, search.Name, reqJSON, search.CreatedAt, search.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert search")
}

func (s *PostgresStore) GetSearch(ctx context.Context, id string) (*model.Search, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, request, created_at, updated_at FROM searches WHERE id = $1`, id)

	var search model.Search
	var reqJSON []byte
	err := row.Scan(&search.ID, &search.UserID, &search.Name, &reqJSON, &search.CreatedAt, &search.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get search")
	}
	if err := json.Unmarshal(reqJSON, &search.Request); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal search request")
	}
	return &search, nil
}

func (s *PostgresStore) ListSearches(ctx context.Context, userID string) ([]model.Search, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, request, created_at, updated_at FROM searches WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list searches")
	}
	defer rows.Close()

	var out []model.Search
	for rows.Next() {
		var search model.Search
		var reqJSON []byte
		if err := rows.Scan(&search.ID, &search.UserID, &search.Name, &reqJSON, &search.CreatedAt, &search.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search")
		}
		if err := json.Unmarshal(reqJSON, &search.Request); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal search request")
		}
		out = append(out, search)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list searches rows")
}

// CreateRun inserts the run only when the search has no other non-terminal
// run. The conditional insert makes two concurrent starts race safely: one
// insert sees the other's row and affects zero rows.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reservation_id, started_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		 WHERE NOT EXISTS (
		   SELECT 1 FROM runs WHERE search_id = $2 AND status IN ('pending', 'running')
		 )`,
		run.ID, run.SearchID, run.UserID, string(run.Status), run.Progress, run.CurrentSource,
		run.FoundCount, run.DiscardedCount, run.Reason, run.ReservationID, run.StartedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert run")
	}
	if tag.RowsAffected() == 0 {
		return ErrRunActive
	}
	return nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	var reconJSON []byte
	if run.Reconciliation != nil {
		var err error
		reconJSON, err = json.Marshal(run.Reconciliation)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal reconciliation")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, progress = $2, current_source = $3, found_count = $4, discarded_count = $5, reason = $6, reconciliation = $7, ended_at = $8 WHERE id = $9`,
		string(run.Status), run.Progress, run.CurrentSource, run.FoundCount, run.DiscardedCount,
		run.Reason, reconJSON, run.EndedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update run")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reconciliation, reservation_id, started_at, ended_at FROM runs WHERE id = $1`,
		id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, searchID string) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reconciliation, reservation_id, started_at, ended_at FROM runs WHERE search_id = $1 ORDER BY started_at DESC`,
		searchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	var reconJSON []byte
	err := row.Scan(&run.ID, &run.SearchID, &run.UserID, &status, &run.Progress,
		&run.CurrentSource, &run.FoundCount, &run.DiscardedCount, &run.Reason,
		&reconJSON, &run.ReservationID, &run.StartedAt, &run.EndedAt)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if len(reconJSON) > 0 {
		run.Reconciliation = &model.Reconciliation{}
		if err := json.Unmarshal(reconJSON, run.Reconciliation); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal reconciliation")
		}
	}
	return &run, nil
}

var leadColumns = []string{
	"id", "search_id", "name", "phone", "alt_phones", "email", "website",
	"address", "postal_code", "city", "region", "country", "category",
	"description", "employee_min", "employee_max", "sources", "sources_count",
	"phone_validation", "email_validation", "website_validation",
	"match_score", "confidence_score", "quality_score", "below_threshold",
	"created_at", "updated_at",
}

// UpsertLeads writes a batch through a temp-table COPY upsert, the cheapest
// way to persist the incremental batches a run produces.
func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []*model.LeadRecord) error {
	if len(leads) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		altJSON, err := json.Marshal(l.AltPhones)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal alt phones")
		}
		srcJSON, err := json.Marshal(l.Sources)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal sources")
		}
		rows = append(rows, []any{
			l.ID, l.SearchID, l.Name, l.Phone, altJSON, l.Email, l.Website,
			l.Address, l.PostalCode, l.City, l.Region, l.Country, l.Category,
			l.Description, l.EmployeeMin, l.EmployeeMax, srcJSON, l.SourcesCount,
			string(l.PhoneValidation), string(l.EmailValidation), string(l.WebsiteValidation),
			l.MatchScore, l.ConfidenceScore, l.QualityScore, l.BelowThreshold,
			l.CreatedAt, l.UpdatedAt,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      leadColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert leads")
}

func (s *PostgresStore) ListLeads(ctx context.Context, searchID string, f LeadFilter) ([]model.LeadRecord, error) {
	query := `SELECT ` + joinColumns(leadColumns) + ` FROM leads WHERE search_id = $1 AND quality_score >= $2`
	if !f.IncludeBelowThreshold {
		query += ` AND below_threshold = FALSE`
	}
	query += ` ORDER BY quality_score DESC, id`

	args := []any{searchID, f.MinScore}
	if f.PerPage > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, f.PerPage, (page-1)*f.PerPage)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var out []model.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		out = append(out, *lead)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list leads rows")
}

func (s *PostgresStore) CountLeads(ctx context.Context, searchID string, f LeadFilter) (int, error) {
	query := `SELECT count(*) FROM leads WHERE search_id = $1 AND quality_score >= $2`
	if !f.IncludeBelowThreshold {
		query += ` AND below_threshold = FALSE`
	}
	var n int
	err := s.pool.QueryRow(ctx, query, searchID, f.MinScore).Scan(&n)
	return n, eris.Wrap(err, "postgres: count leads")
}

func scanLead(row rowScanner) (*model.LeadRecord, error) {
	var l model.LeadRecord
	var altJSON, srcJSON []byte
	var phoneV, emailV, siteV string
	err := row.Scan(&l.ID, &l.SearchID, &l.Name, &l.Phone, &altJSON, &l.Email, &l.Website,
		&l.Address, &l.PostalCode, &l.City, &l.Region, &l.Country, &l.Category,
		&l.Description, &l.EmployeeMin, &l.EmployeeMax, &srcJSON, &l.SourcesCount,
		&phoneV, &emailV, &siteV,
		&l.MatchScore, &l.ConfidenceScore, &l.QualityScore, &l.BelowThreshold,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.PhoneValidation = model.ValidationState(phoneV)
	l.EmailValidation = model.ValidationState(emailV)
	l.WebsiteValidation = model.ValidationState(siteV)
	if len(altJSON) > 0 {
		if err := json.Unmarshal(altJSON, &l.AltPhones); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alt phones")
		}
	}
	if len(srcJSON) > 0 {
		if err := json.Unmarshal(srcJSON, &l.Sources); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
	}
	return &l, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.ProgressEvent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_events (run_id, status, progress, current_source, found_count, message, at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		ev.RunID, string(ev.Status), ev.Progress, ev.CurrentSource, ev.FoundCount, ev.Message, ev.At,
	).Scan(&ev.Seq)
	return eris.Wrap(err, "postgres: append event")
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]model.ProgressEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, run_id, status, progress, current_source, found_count, message, at FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq`,
		runID, afterSeq)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.ProgressEvent
	for rows.Next() {
		var ev model.ProgressEvent
		var status string
		if err := rows.Scan(&ev.Seq, &ev.RunID, &status, &ev.Progress, &ev.CurrentSource, &ev.FoundCount, &ev.Message, &ev.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Status = model.RunStatus(status)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events rows")
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
