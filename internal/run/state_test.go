package run

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scripe/leadgen/internal/model"
)

func TestCanTransition(t *testing.T) {
	all := []model.RunStatus{
		model.RunPending, model.RunRunning,
		model.RunCompleted, model.RunFailed, model.RunCancelled,
	}

	legal := map[model.RunStatus][]model.RunStatus{
		model.RunPending: {model.RunRunning, model.RunFailed, model.RunCancelled},
		model.RunRunning: {model.RunCompleted, model.RunFailed, model.RunCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if to == ok {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []model.RunStatus{model.RunCompleted, model.RunFailed, model.RunCancelled} {
		for _, to := range []model.RunStatus{model.RunPending, model.RunRunning, model.RunCompleted, model.RunFailed, model.RunCancelled} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition(t *testing.T) {
	run := &model.Run{Status: model.RunPending}
	assert.NoError(t, Transition(run, model.RunRunning))
	assert.Equal(t, model.RunRunning, run.Status)

	err := Transition(run, model.RunPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.RunRunning, run.Status)
}
