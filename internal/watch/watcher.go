// Package watch monitors an inbox directory for arriving stereo scenes. A
// scene is a subdirectory that accumulates at least two TIF images; once it
// stops changing for the configured settle period it is handed to the
// trigger callback, one scene at a time.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"stereopipe/internal/fsutil"
)

// TriggerFunc is invoked for each settled scene directory. Triggers run on
// the watcher goroutine, so a long pipeline run naturally serializes further
// scene dispatch.
type TriggerFunc func(ctx context.Context, sceneDir string) error

// Watcher monitors an inbox for new scene directories.
type Watcher struct {
	inbox     string
	settle    time.Duration
	trigger   TriggerFunc
	log       *slog.Logger
	processed map[string]bool
}

// New creates a Watcher over inbox.
func New(inbox string, settle time.Duration, trigger TriggerFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 30 * time.Second
	}
	return &Watcher{
		inbox:     inbox,
		settle:    settle,
		trigger:   trigger,
		log:       logger,
		processed: make(map[string]bool),
	}
}

// Run blocks, dispatching settled scenes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.inbox); err != nil {
		return err
	}
	w.log.Info("watching inbox", "dir", w.inbox, "settle", w.settle.String())

	// Scenes already sitting in the inbox are picked up on the first tick.
	pending := make(map[string]time.Time)
	if dirs, err := w.sceneDirs(); err == nil {
		now := time.Now()
		for _, d := range dirs {
			pending[d] = now
		}
	}

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			scene := w.sceneFor(ev.Name)
			if scene == "" {
				continue
			}
			pending[scene] = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)

		case <-ticker.C:
			w.dispatchSettled(ctx, pending)
		}
	}
}

// sceneFor maps an event path to the scene directory it belongs to, or empty
// when the event is irrelevant.
func (w *Watcher) sceneFor(path string) string {
	rel, err := filepath.Rel(w.inbox, path)
	if err != nil || rel == "." {
		return ""
	}
	top := filepath.Join(w.inbox, firstComponent(rel))
	if fi, err := os.Stat(top); err != nil || !fi.IsDir() {
		return ""
	}
	return top
}

func (w *Watcher) sceneDirs() ([]string, error) {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(w.inbox, e.Name()))
		}
	}
	return dirs, nil
}

func (w *Watcher) dispatchSettled(ctx context.Context, pending map[string]time.Time) {
	now := time.Now()
	for scene, last := range pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(pending, scene)
		if w.processed[scene] {
			continue
		}
		images, err := fsutil.FindSceneImages(scene)
		if err != nil || len(images) < 2 {
			w.log.Debug("scene not ready", "dir", scene, "images", len(images))
			continue
		}
		w.processed[scene] = true
		w.log.Info("scene settled, triggering run", "dir", scene, "images", len(images))
		if err := w.trigger(ctx, scene); err != nil {
			w.log.Error("scene processing failed", "dir", scene, "error", err)
		}
	}
}

func firstComponent(rel string) string {
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			return rel[:i]
		}
	}
	return rel
}
