package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Tracker counts in-flight actions and the progress of the running segmentation.
// Its Progress method is handed to the session as the segmentation progress callback.
type Tracker struct {
	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64
	finished  atomic.Int64
	errors    atomic.Int64
}

// Status is the snapshot pushed to clients.
type Status struct {
	Segmentation SegmentationStatus `json:"segmentation"`
	Actions      ActionStatus       `json:"actions"`
}

// SegmentationStatus is the progress of the current (or last) segmentation batch.
type SegmentationStatus struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// ActionStatus counts API actions.
type ActionStatus struct {
	Active   int   `json:"active"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Progress records segmentation progress.
func (t *Tracker) Progress(completed, total, failed int) {
	t.completed.Store(int64(completed))
	t.total.Store(int64(total))
	t.failed.Store(int64(failed))
}

func (t *Tracker) begin() {
	t.active.Add(1)
}

func (t *Tracker) end(err error) {
	t.active.Add(-1)
	t.finished.Add(1)
	if err != nil {
		t.errors.Add(1)
	}
}

// Status returns the current counters.
func (t *Tracker) Status() Status {
	return Status{
		Segmentation: SegmentationStatus{
			Completed: t.completed.Load(),
			Failed:    t.failed.Load(),
			Total:     t.total.Load(),
		},
		Actions: ActionStatus{
			Active:   int(t.active.Load()),
			Finished: t.finished.Load(),
			Failed:   t.errors.Load(),
		},
	}
}

// handleStatus serves the tracker snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, s.tracker.Status())
}

// handleStatusStream pushes the tracker snapshot as Server-Sent Events so a UI
// can follow a long segmentation without polling.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	s.sendStatusEvent(w, flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			s.sendStatusEvent(w, flusher)
		}
	}
}

func (s *Server) sendStatusEvent(w http.ResponseWriter, flusher http.Flusher) {
	data, err := json.Marshal(s.tracker.Status())
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
