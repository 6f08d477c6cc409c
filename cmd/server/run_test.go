package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	persistlog "gridworld.ai/internal/persistence/log"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/tuning"
	"gridworld.ai/internal/sim/world"
)

func newRunWorld(t *testing.T, maxSteps int) *world.World {
	t.Helper()
	tune := tuning.Defaults()
	tune.StepRateHz = 100
	tune.MaxSteps = maxSteps
	g, err := grid.ParseLayout(tune.Map.Layout)
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	w, err := world.New(worldConfigFromTuning("world_t", tune), g, zerolog.Nop())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return w
}

// closingSink fails the test if a step arrives after it was closed.
type closingSink struct {
	t      *testing.T
	closed atomic.Bool
	mu     sync.Mutex
	steps  []uint64
}

func (s *closingSink) WriteStep(e world.StepLogEntry) error {
	if s.closed.Load() {
		s.t.Errorf("step %d written after close", e.Step)
	}
	s.mu.Lock()
	s.steps = append(s.steps, e.Step)
	s.mu.Unlock()
	return nil
}

func TestRunWorld_StepLogCompleteAfterMaxSteps(t *testing.T) {
	w := newRunWorld(t, 3)
	stepLog := persistlog.NewStepLog(t.TempDir(), "run")
	w.SetStepLogger(stepLog)

	finished := false
	done := runWorld(context.Background(), w, zerolog.Nop(), func() { finished = true })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("world did not stop after max steps")
	}
	if !finished {
		t.Fatalf("finished callback did not run before done closed")
	}
	if err := stepLog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var steps []uint64
	if err := persistlog.ReadSteps(stepLog.Path(), func(e world.StepLogEntry) error {
		steps = append(steps, e.Step)
		return nil
	}); err != nil {
		t.Fatalf("ReadSteps: %v", err)
	}
	if len(steps) != 3 || steps[2] != 2 {
		t.Fatalf("steps = %v", steps)
	}
	if filepath.Base(stepLog.Path()) != "steps-run.jsonl.zst" {
		t.Fatalf("path = %s", stepLog.Path())
	}
}

func TestRunWorld_NoWritesAfterDone(t *testing.T) {
	w := newRunWorld(t, 0)
	sink := &closingSink{t: t}
	w.SetStepLogger(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorld(ctx, w, zerolog.Nop(), nil)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	sink.closed.Store(true)
	time.Sleep(30 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.steps) == 0 {
		t.Fatalf("no steps ran")
	}
	if err := ctx.Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("ctx err = %v", err)
	}
}
