// Package pipeline sequences the stereo processing stages. Execution is
// strictly sequential and synchronous: one stage at a time, abort on the
// first failure, no retries and no timeouts. Subscribers receive stage events
// for the serve surface; the run itself never forks.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"stereopipe/internal/logging"
	"stereopipe/internal/storage"
)

// Stage is one step of a run. Run returns optional detail for the stage
// record; any error aborts the remaining stages.
type Stage struct {
	Name string
	Run  func() (detail map[string]any, err error)
}

// RunInfo identifies a pipeline run.
type RunInfo struct {
	ID       string
	InputDir string
	SRID     string
}

// Event reports stage progress to subscribers.
type Event struct {
	RunID  string    `json:"run_id"`
	Stage  string    `json:"stage"`
	Status string    `json:"status"` // "started", "completed", "failed"
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Runner executes stage sequences and records their outcomes.
type Runner struct {
	log   *slog.Logger
	store *storage.Store

	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// NewRunner creates a Runner persisting into store (which may be nil).
func NewRunner(logger *slog.Logger, store *storage.Store) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		log:   logger,
		store: store,
		subs:  make(map[int]chan Event),
	}
}

// Execute runs stages in order, aborting on the first error. The failed stage
// is named in the returned error and the underlying diagnostic is preserved
// for errors.As inspection.
func (r *Runner) Execute(info RunInfo, stages []Stage) error {
	if r.store != nil {
		_ = r.store.RecordRunQueued(storage.RunRecord{
			ID:       info.ID,
			InputDir: info.InputDir,
			Status:   "queued",
			SRID:     info.SRID,
		})
		_ = r.store.RecordRunStart(info.ID)
	}

	for _, stage := range stages {
		start := time.Now()
		logging.LogStageStart(r.log, info.ID, stage.Name)
		r.broadcast(Event{RunID: info.ID, Stage: stage.Name, Status: "started", Time: start})

		detail, err := stage.Run()
		duration := time.Since(start)

		if err != nil {
			logging.LogStageError(r.log, info.ID, stage.Name, duration, err)
			if r.store != nil {
				_ = r.store.RecordStage(storage.StageRecord{
					RunID:      info.ID,
					Stage:      stage.Name,
					Status:     "failed",
					DurationMS: duration.Milliseconds(),
					Detail:     err.Error(),
				})
				_ = r.store.RecordRunResult(info.ID, "failed", err.Error())
			}
			r.broadcast(Event{RunID: info.ID, Stage: stage.Name, Status: "failed", Error: err.Error(), Time: time.Now()})
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		logging.LogStageComplete(r.log, info.ID, stage.Name, duration, detail)
		if r.store != nil {
			_ = r.store.RecordStage(storage.StageRecord{
				RunID:      info.ID,
				Stage:      stage.Name,
				Status:     "completed",
				DurationMS: duration.Milliseconds(),
				Detail:     detailString(detail),
			})
		}
		r.broadcast(Event{RunID: info.ID, Stage: stage.Name, Status: "completed", Time: time.Now()})
	}

	if r.store != nil {
		_ = r.store.RecordRunResult(info.ID, "completed", "")
	}
	return nil
}

// Subscribe returns a channel for receiving stage events and an unsubscribe
// function.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Event, 16)
	r.subs[id] = ch
	unsub := func() {
		r.mu.Lock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
		r.mu.Unlock()
	}
	return ch, unsub
}

func (r *Runner) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Warn("event channel full", "subscriber", id, "run", ev.RunID)
		}
	}
}

func detailString(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	b, _ := json.Marshal(detail)
	return string(b)
}
