package model

import "time"

// RunStatus is the state of a run in its lifecycle. pending -> running is the
// only entry edge; completed, failed, and cancelled are terminal.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Reconciliation records exactly how a run's credit reservation was settled,
// so a user can audit why their balance changed.
type Reconciliation struct {
	ReservedCredits float64 `json:"reserved_credits"`
	DebitedCredits  float64 `json:"debited_credits"`
	RefundedCredits float64 `json:"refunded_credits"`
}

// Run is one execution attempt of a search. A search may have many runs, but
// at most one may be running at a time.
type Run struct {
	ID             string          `json:"id"`
	SearchID       string          `json:"search_id"`
	UserID         string          `json:"user_id"`
	Status         RunStatus       `json:"status"`
	Progress       int             `json:"progress_percent"`
	CurrentSource  string          `json:"current_source,omitempty"`
	FoundCount     int             `json:"found_count"`
	DiscardedCount int             `json:"discarded_count"`
	Reason         string          `json:"reason,omitempty"`
	Reconciliation *Reconciliation `json:"reconciliation,omitempty"`
	ReservationID  string          `json:"reservation_id,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// ProgressEvent is one entry in a run's append-only progress log. The SSE
// stream replays and tails this log; the run row mirrors the latest entry
// so polling readers see the same numbers.
type ProgressEvent struct {
	Seq           int64     `json:"seq"`
	RunID         string    `json:"run_id"`
	Status        RunStatus `json:"status"`
	Progress      int       `json:"progress_percent"`
	CurrentSource string    `json:"current_source,omitempty"`
	FoundCount    int       `json:"found_count"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}
