// Package run drives a search run through its lifecycle: credit reservation,
// the cascade, incremental persistence, progress events, and terminal credit
// reconciliation.
package run

import (
	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/model"
)

// ErrInvalidTransition is returned when a status change is not an edge of
// the run state machine.
var ErrInvalidTransition = eris.New("run: invalid status transition")

// CanTransition reports whether from -> to is a legal edge. Terminal states
// have no outgoing edges; a run cannot re-enter pending.
func CanTransition(from, to model.RunStatus) bool {
	switch from {
	case model.RunPending:
		switch to {
		case model.RunRunning, model.RunFailed, model.RunCancelled:
			return true
		}
		return false
	case model.RunRunning:
		switch to {
		case model.RunCompleted, model.RunFailed, model.RunCancelled:
			return true
		}
		return false
	case model.RunCompleted, model.RunFailed, model.RunCancelled:
		return false
	}
	return false
}

// Transition applies a status change or fails with ErrInvalidTransition.
func Transition(run *model.Run, to model.RunStatus) error {
	if !CanTransition(run.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", run.Status, to)
	}
	run.Status = to
	return nil
}
