package pipeline

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRunnerExecutesStagesInOrder(t *testing.T) {
	r := NewRunner(slog.Default(), nil)

	var order []string
	stages := []Stage{
		{Name: "first", Run: func() (map[string]any, error) {
			order = append(order, "first")
			return nil, nil
		}},
		{Name: "second", Run: func() (map[string]any, error) {
			order = append(order, "second")
			return map[string]any{"n": 2}, nil
		}},
		{Name: "third", Run: func() (map[string]any, error) {
			order = append(order, "third")
			return nil, nil
		}},
	}

	if err := r.Execute(RunInfo{ID: "run-1"}, stages); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if strings.Join(order, ",") != "first,second,third" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestRunnerAbortsOnFirstFailure(t *testing.T) {
	r := NewRunner(slog.Default(), nil)

	boom := errors.New("bundle adjustment diverged")
	ran := map[string]bool{}
	stages := []Stage{
		{Name: "tapioca", Run: func() (map[string]any, error) {
			ran["tapioca"] = true
			return nil, nil
		}},
		{Name: "campari", Run: func() (map[string]any, error) {
			ran["campari"] = true
			return nil, boom
		}},
		{Name: "malt", Run: func() (map[string]any, error) {
			ran["malt"] = true
			return nil, nil
		}},
	}

	err := r.Execute(RunInfo{ID: "run-2"}, stages)
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error preserved, got %v", err)
	}
	if !strings.Contains(err.Error(), "campari") {
		t.Fatalf("expected failed stage named in error, got %q", err.Error())
	}
	if ran["malt"] {
		t.Fatal("stages after a failure must not run")
	}
}

func TestRunnerBroadcastsEvents(t *testing.T) {
	r := NewRunner(slog.Default(), nil)

	evCh, unsub := r.Subscribe()
	defer unsub()

	stages := []Stage{
		{Name: "only", Run: func() (map[string]any, error) { return nil, nil }},
	}
	if err := r.Execute(RunInfo{ID: "run-3"}, stages); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	var statuses []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-evCh:
			if ev.RunID != "run-3" || ev.Stage != "only" {
				t.Fatalf("unexpected event: %+v", ev)
			}
			statuses = append(statuses, ev.Status)
		default:
			t.Fatalf("expected 2 buffered events, got %d", len(statuses))
		}
	}
	if statuses[0] != "started" || statuses[1] != "completed" {
		t.Fatalf("unexpected event sequence: %v", statuses)
	}
}

func TestRunnerFailureEventCarriesDiagnostic(t *testing.T) {
	r := NewRunner(slog.Default(), nil)

	evCh, unsub := r.Subscribe()
	defer unsub()

	stages := []Stage{
		{Name: "georeference", Run: func() (map[string]any, error) {
			return nil, errors.New("ERROR 1: unsupported format")
		}},
	}
	if err := r.Execute(RunInfo{ID: "run-4"}, stages); err == nil {
		t.Fatal("expected error")
	}

	var failed *Event
	for i := 0; i < 2; i++ {
		select {
		case ev := <-evCh:
			if ev.Status == "failed" {
				e := ev
				failed = &e
			}
		default:
		}
	}
	if failed == nil {
		t.Fatal("expected a failed event")
	}
	if !strings.Contains(failed.Error, "unsupported format") {
		t.Fatalf("expected diagnostic surfaced verbatim, got %q", failed.Error)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRunner(slog.Default(), nil)
	evCh, unsub := r.Subscribe()
	unsub()

	if _, ok := <-evCh; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}
