package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/model"
)

// handleRunEvents streams a run's progress log as server-sent events. The
// stream replays persisted events after the client's Last-Event-ID, follows
// live broadcasts, and closes once the run reaches a terminal state.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ownedRun(r, chi.URLParam(r, "id")); err != nil {
		s.respondError(w, err)
		return
	}
	runID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var afterSeq int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		afterSeq, _ = strconv.ParseInt(v, 10, 64)
	}

	// Subscribe before replaying so no event falls between the two.
	live, cancel := s.ctrl.Events().Subscribe(runID)
	defer cancel()

	past, err := s.ctrl.Events().Replay(r.Context(), runID, afterSeq)
	if err != nil {
		zap.L().Warn("event replay failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	lastSeq := afterSeq
	for i := range past {
		writeSSE(w, &past[i])
		lastSeq = past[i].Seq
		if past[i].Status.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			writeSSE(w, &ev)
			lastSeq = ev.Seq
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev *model.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("event marshal failed", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, data)
}
