package run

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/store"
)

// Events is the per-run progress log plus a live broadcaster. Every event is
// appended to the store first, so SSE subscribers and the poll endpoint read
// the same history; subscribers additionally get new events pushed.
type Events struct {
	store store.Store

	mu   sync.Mutex
	subs map[string]map[chan model.ProgressEvent]struct{}
	last map[string]int // highest progress seen per run
}

// NewEvents creates the event hub on top of the store's event log.
func NewEvents(st store.Store) *Events {
	return &Events{
		store: st,
		subs:  make(map[string]map[chan model.ProgressEvent]struct{}),
		last:  make(map[string]int),
	}
}

// Append persists the event and pushes it to subscribers. Progress is forced
// monotone: an event reporting less progress than an earlier one is raised
// to the high-water mark. Terminal events close all subscriptions.
func (e *Events) Append(ctx context.Context, ev *model.ProgressEvent) error {
	e.mu.Lock()
	if ev.Progress < e.last[ev.RunID] {
		ev.Progress = e.last[ev.RunID]
	} else {
		e.last[ev.RunID] = ev.Progress
	}
	e.mu.Unlock()

	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs[ev.RunID] {
		select {
		case ch <- *ev:
		default:
			// slow subscriber; it will catch up from the log
			zap.L().Debug("run: dropped event for slow subscriber",
				zap.String("run_id", ev.RunID),
				zap.Int64("seq", ev.Seq),
			)
		}
	}
	if ev.Status.Terminal() {
		for ch := range e.subs[ev.RunID] {
			close(ch)
		}
		delete(e.subs, ev.RunID)
		delete(e.last, ev.RunID)
	}
	return nil
}

// Subscribe returns a channel of live events for a run. The channel closes
// on the run's terminal event. Call the returned func to unsubscribe early.
func (e *Events) Subscribe(runID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, 64)

	e.mu.Lock()
	if e.subs[runID] == nil {
		e.subs[runID] = make(map[chan model.ProgressEvent]struct{})
	}
	e.subs[runID][ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if set, ok := e.subs[runID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
		}
	}
	return ch, cancel
}

// Replay returns logged events after the given sequence number.
func (e *Events) Replay(ctx context.Context, runID string, afterSeq int64) ([]model.ProgressEvent, error) {
	return e.store.ListEvents(ctx, runID, afterSeq)
}
