package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scripe/leadgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: database}, nil
}

// DB exposes the handle so the credit ledger can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS searches (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	request    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
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
	reconciliation  TEXT,
	reservation_id  TEXT NOT NULL DEFAULT '',
	started_at      DATETIME NOT NULL,
	ended_at        DATETIME
);

CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	search_id          TEXT NOT NULL REFERENCES searches(id),
	name               TEXT NOT NULL,
	phone              TEXT NOT NULL DEFAULT '',
	alt_phones         TEXT,
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
	sources            TEXT,
	sources_count      INTEGER NOT NULL DEFAULT 1,
	phone_validation   TEXT NOT NULL DEFAULT 'unchecked',
	email_validation   TEXT NOT NULL DEFAULT 'unchecked',
	website_validation TEXT NOT NULL DEFAULT 'unchecked',
	match_score        REAL NOT NULL DEFAULT 0,
	confidence_score   REAL NOT NULL DEFAULT 0,
	quality_score      REAL NOT NULL DEFAULT 0,
	below_threshold    INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	current_source TEXT NOT NULL DEFAULT '',
	found_count    INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id        TEXT PRIMARY KEY,
	balance_millis INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	amount_millis        INTEGER NOT NULL,
	balance_after_millis INTEGER NOT NULL,
	operation            TEXT NOT NULL,
	search_id            TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_reservations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	search_id     TEXT NOT NULL DEFAULT '',
	amount_millis INTEGER NOT NULL,
	settled       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_user ON searches(user_id);
CREATE INDEX IF NOT EXISTS idx_runs_search_status ON runs(search_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_search_score ON leads(search_id, quality_score DESC);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_credit_tx_user ON credit_transactions(user_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSearch(ctx context.Context, search *model.Search) error {
	reqJSON, err := json.Marshal(search.Request)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal search request")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO searches (id, user_id, name, request, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		search.ID, search.UserID, search.Name, string(reqJSON), search.CreatedAt, search.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert search")
}

func (s *SQLiteStore) GetSearch(ctx context.Context, id string) (*model.Search, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, request, created_at, updated_at FROM searches WHERE id = ?`, id)

	var search model.Search
	var reqJSON string
	err := row.Scan(&search.ID, &search.UserID, &search.Name, &reqJSON, &search.CreatedAt, &search.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get search")
	}
	if err := json.Unmarshal([]byte(reqJSON), &search.Request); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal search request")
	}
	return &search, nil
}

func (s *SQLiteStore) ListSearches(ctx context.Context, userID string) ([]model.Search, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, request, created_at, updated_at FROM searches WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list searches")
	}
	defer rows.Close()

	var out []model.Search
	for rows.Next() {
		var search model.Search
		var reqJSON string
		if err := rows.Scan(&search.ID, &search.UserID, &search.Name, &reqJSON, &search.CreatedAt, &search.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search")
		}
		if err := json.Unmarshal([]byte(reqJSON), &search.Request); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal search request")
		}
		out = append(out, search)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list searches rows")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reservation_id, started_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM runs WHERE search_id = ?2 AND status IN ('pending', 'running')
		 )`,
		run.ID, run.SearchID, run.UserID, string(run.Status), run.Progress, run.CurrentSource,
		run.FoundCount, run.DiscardedCount, run.Reason, run.ReservationID, run.StartedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert run rows affected")
	}
	if n == 0 {
		return ErrRunActive
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	var reconJSON any
	if run.Reconciliation != nil {
		b, err := json.Marshal(run.Reconciliation)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal reconciliation")
		}
		reconJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress = ?, current_source = ?, found_count = ?, discarded_count = ?, reason = ?, reconciliation = ?, ended_at = ? WHERE id = ?`,
		string(run.Status), run.Progress, run.CurrentSource, run.FoundCount, run.DiscardedCount,
		run.Reason, reconJSON, run.EndedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update run rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reconciliation, reservation_id, started_at, ended_at FROM runs WHERE id = ?`,
		id)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, searchID string) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, search_id, user_id, status, progress, current_source, found_count, discarded_count, reason, reconciliation, reservation_id, started_at, ended_at FROM runs WHERE search_id = ? ORDER BY started_at DESC`,
		searchID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

func scanSQLiteRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	var reconJSON sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(&run.ID, &run.SearchID, &run.UserID, &status, &run.Progress,
		&run.CurrentSource, &run.FoundCount, &run.DiscardedCount, &run.Reason,
		&reconJSON, &run.ReservationID, &run.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if reconJSON.Valid && reconJSON.String != "" {
		run.Reconciliation = &model.Reconciliation{}
		if err := json.Unmarshal([]byte(reconJSON.String), run.Reconciliation); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reconciliation")
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}

// UpsertLeads writes the batch in a single transaction with per-row upserts.
func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []*model.LeadRecord) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (`+joinColumns(leadColumns)+`) VALUES (`+placeholders(len(leadColumns))+`)
		 ON CONFLICT (id) DO UPDATE SET `+sqliteLeadUpdateSet)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare lead upsert")
	}
	defer stmt.Close()

	for _, l := range leads {
		altJSON, err := json.Marshal(l.AltPhones)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal alt phones")
		}
		srcJSON, err := json.Marshal(l.Sources)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal sources")
		}
		_, err = stmt.ExecContext(ctx,
			l.ID, l.SearchID, l.Name, l.Phone, string(altJSON), l.Email, l.Website,
			l.Address, l.PostalCode, l.City, l.Region, l.Country, l.Category,
			l.Description, l.EmployeeMin, l.EmployeeMax, string(srcJSON), l.SourcesCount,
			string(l.PhoneValidation), string(l.EmailValidation), string(l.WebsiteValidation),
			l.MatchScore, l.ConfidenceScore, l.QualityScore, l.BelowThreshold,
			l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit lead upsert")
}

// sqliteLeadUpdateSet updates every column except the primary key and
// search_id on conflict.
var sqliteLeadUpdateSet = func() string {
	var parts []string
	for _, c := range leadColumns {
		if c == "id" || c == "search_id" || c == "created_at" {
			continue
		}
		parts = append(parts, c+" = excluded."+c)
	}
	return strings.Join(parts, ", ")
}()

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) ListLeads(ctx context.Context, searchID string, f LeadFilter) ([]model.LeadRecord, error) {
	query := `SELECT ` + joinColumns(leadColumns) + ` FROM leads WHERE search_id = ? AND quality_score >= ?`
	if !f.IncludeBelowThreshold {
		query += ` AND below_threshold = 0`
	}
	query += ` ORDER BY quality_score DESC, id`

	args := []any{searchID, f.MinScore}
	if f.PerPage > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.PerPage, (page-1)*f.PerPage)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var out []model.LeadRecord
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		out = append(out, *lead)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list leads rows")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, searchID string, f LeadFilter) (int, error) {
	query := `SELECT count(*) FROM leads WHERE search_id = ? AND quality_score >= ?`
	if !f.IncludeBelowThreshold {
		query += ` AND below_threshold = 0`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, searchID, f.MinScore).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count leads")
}

func scanSQLiteLead(row rowScanner) (*model.LeadRecord, error) {
	var l model.LeadRecord
	var altJSON, srcJSON sql.NullString
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
	if altJSON.Valid && altJSON.String != "" {
		if err := json.Unmarshal([]byte(altJSON.String), &l.AltPhones); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal alt phones")
		}
	}
	if srcJSON.Valid && srcJSON.String != "" {
		if err := json.Unmarshal([]byte(srcJSON.String), &l.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
	}
	return &l, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.ProgressEvent) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, status, progress, current_source, found_count, message, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, string(ev.Status), ev.Progress, ev.CurrentSource, ev.FoundCount, ev.Message, ev.At,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: append event")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: event seq")
	}
	ev.Seq = seq
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]model.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, run_id, status, progress, current_source, found_count, message, at FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq`,
		runID, afterSeq)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.ProgressEvent
	for rows.Next() {
		var ev model.ProgressEvent
		var status string
		if err := rows.Scan(&ev.Seq, &ev.RunID, &status, &ev.Progress, &ev.CurrentSource, &ev.FoundCount, &ev.Message, &ev.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Status = model.RunStatus(status)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events rows")
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
