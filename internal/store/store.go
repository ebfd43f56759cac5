// Package store persists searches, runs, leads, and progress events. Two
// implementations exist: Postgres for the service deployment and SQLite for
// single-machine CLI use.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrRunActive is returned by CreateRun when the search already has a
// pending or running run.
var ErrRunActive = eris.New("store: search already has an active run")

// LeadFilter narrows lead listings.
type LeadFilter struct {
	MinScore              float64
	IncludeBelowThreshold bool
	Page                  int // 1-based; 0 means first page
	PerPage               int // 0 means no paging
}

// Store is the persistence interface for the lead pipeline.
type Store interface {
	// Searches
	CreateSearch(ctx context.Context, s *model.Search) error
	GetSearch(ctx context.Context, id string) (*model.Search, error)
	ListSearches(ctx context.Context, userID string) ([]model.Search, error)

	// Runs. CreateRun enforces at most one non-terminal run per search and
	// returns ErrRunActive when one exists.
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, searchID string) ([]model.Run, error)

	// Leads
	UpsertLeads(ctx context.Context, leads []*model.LeadRecord) error
	ListLeads(ctx context.Context, searchID string, f LeadFilter) ([]model.LeadRecord, error)
	CountLeads(ctx context.Context, searchID string, f LeadFilter) (int, error)

	// Progress events. AppendEvent assigns Seq; ListEvents returns entries
	// with Seq greater than afterSeq in order.
	AppendEvent(ctx context.Context, ev *model.ProgressEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]model.ProgressEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
