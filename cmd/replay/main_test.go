package main

import (
	"strings"
	"testing"

	persistlog "gridworld.ai/internal/persistence/log"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/world"
)

func writeRun(t *testing.T, dir, run string, entries []world.StepLogEntry) string {
	t.Helper()
	l := persistlog.NewStepLog(dir, run)
	for _, e := range entries {
		if err := l.WriteStep(e); err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return l.Path()
}

func sampleRun() []world.StepLogEntry {
	p0 := map[string]grid.Pos{}
	p1 := map[string]grid.Pos{"A1": {Row: 0, Col: 0}}
	p2 := map[string]grid.Pos{"A1": {Row: 0, Col: 2}}
	return []world.StepLogEntry{
		{Step: 0, Digest: world.PositionsDigest(0, p0)},
		{Step: 1, Joins: []world.RecordedJoin{{AgentID: "A1", Name: "a", Pos: [2]int{0, 0}}}, Stalled: true, Digest: world.PositionsDigest(1, p1)},
		{Step: 2,
			Resyncs: []world.RecordedResync{{AgentID: "A1", From: [2]int{0, 0}, To: [2]int{0, 1}}},
			Movements: []world.RecordedMovement{
				{AgentID: "A1", From: [2]int{0, 1}, To: [2]int{0, 2}, Status: "ACCEPTED", Kind: "NORMAL", Applied: true},
			}, Digest: world.PositionsDigest(2, p2)},
	}
}

func TestReplay_Summary(t *testing.T) {
	sum, err := replay(writeRun(t, t.TempDir(), "r1", sampleRun()), -1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.run != "r1" || sum.steps != 3 || sum.lastStep != 2 || sum.joins != 1 || sum.applied != 1 || sum.resyncs != 1 || sum.stalled != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.positions["A1"] != [2]int{0, 2} {
		t.Fatalf("A1 at %v", sum.positions["A1"])
	}
}

func TestReplay_StopsAtStep(t *testing.T) {
	sum, err := replay(writeRun(t, t.TempDir(), "r1", sampleRun()), 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.steps != 2 || sum.positions["A1"] != [2]int{0, 0} {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestReplay_DetectsTamperedMovement(t *testing.T) {
	run := sampleRun()
	run[2].Movements[0].To = [2]int{2, 2}
	_, err := replay(writeRun(t, t.TempDir(), "r1", run), -1)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestSelectRuns(t *testing.T) {
	dir := t.TempDir()
	a := writeRun(t, dir, "20260101T000000.000Z", sampleRun())
	b := writeRun(t, dir, "20260102T000000.000Z", sampleRun())
	files := []string{a, b}

	if got, err := selectRuns(files, "", false); err != nil || len(got) != 1 || got[0] != b {
		t.Fatalf("latest = %v, %v", got, err)
	}
	if got, err := selectRuns(files, "20260101T000000.000Z", false); err != nil || len(got) != 1 || got[0] != a {
		t.Fatalf("named = %v, %v", got, err)
	}
	if got, err := selectRuns(files, "", true); err != nil || len(got) != 2 {
		t.Fatalf("all = %v, %v", got, err)
	}
	if _, err := selectRuns(files, "missing", false); err == nil {
		t.Fatalf("expected error for a missing run")
	}
	if _, err := selectRuns(nil, "", false); err == nil {
		t.Fatalf("expected error without step logs")
	}
}
