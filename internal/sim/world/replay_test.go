package world

import (
	"context"
	"strings"
	"testing"

	"gridworld.ai/internal/sim/grid"
)

func TestReplayState_ReproducesDigests(t *testing.T) {
	w := testWorld(t, WorldConfig{Spawns: []grid.Pos{{Row: 0, Col: 0}, {Row: 2, Col: 2}}})
	var entries []StepLogEntry
	w.SetStepLogger(stepLoggerFunc(func(e StepLogEntry) error {
		entries = append(entries, e)
		return nil
	}))
	joinAll(t, w, map[string]Peer{
		"a": moverPeer(t, w, grid.Pos{Row: 0, Col: 0}, grid.Pos{Row: 0, Col: 1}),
		"b": moverPeer(t, w, grid.Pos{Row: 2, Col: 2}, grid.Pos{Row: 2, Col: 1}),
	})
	w.StepOnce(context.Background(), nil, nil)
	w.StepOnce(context.Background(), nil, []string{"A2"})

	r := NewReplayState()
	for _, e := range entries {
		if err := r.Apply(e); err != nil {
			t.Fatalf("replay step %d: %v", e.Step, err)
		}
	}
	if r.NextStep() != 3 {
		t.Fatalf("next step = %d", r.NextStep())
	}
	pos := r.Positions()
	if len(pos) != 1 || pos["A1"] != (grid.Pos{Row: 0, Col: 1}) {
		t.Fatalf("replayed positions = %v", pos)
	}

	tampered := entries[1]
	tampered.Digest = "00"
	if err := NewReplayState().Apply(entries[0]); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	r2 := NewReplayState()
	_ = r2.Apply(entries[0])
	if err := r2.Apply(tampered); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	if err := r2.Apply(entries[2]); err == nil || !strings.Contains(err.Error(), "step gap") {
		t.Fatalf("expected step gap, got %v", err)
	}
}
