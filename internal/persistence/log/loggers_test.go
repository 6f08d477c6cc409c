package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridworld.ai/internal/sim/world"
)

func readAll(t *testing.T, path string) []world.StepLogEntry {
	t.Helper()
	var got []world.StepLogEntry
	if err := ReadSteps(path, func(e world.StepLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadSteps: %v", err)
	}
	return got
}

func TestStepLog_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLog(dir, "run1")
	for i := uint64(0); i < 3; i++ {
		e := world.StepLogEntry{Step: i, Digest: "d"}
		if i == 1 {
			e.Movements = []world.RecordedMovement{{AgentID: "A1", From: [2]int{0, 0}, To: [2]int{0, 1}, Status: "ACCEPTED", Kind: "NORMAL", Applied: true}}
			e.Resyncs = []world.RecordedResync{{AgentID: "A2", From: [2]int{2, 2}, To: [2]int{2, 1}}}
		}
		if err := l.WriteStep(e); err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
	}
	if l.Entries() != 3 {
		t.Fatalf("entries = %d", l.Entries())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, StepsPrefix), StepsPrefix)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0] != l.Path() {
		t.Fatalf("files = %v, want [%s]", files, l.Path())
	}
	got := readAll(t, files[0])
	if len(got) != 3 {
		t.Fatalf("read %d entries, want 3", len(got))
	}
	for i, e := range got {
		if e.Step != uint64(i) {
			t.Fatalf("entry %d has step %d", i, e.Step)
		}
	}
	if len(got[1].Movements) != 1 || !got[1].Movements[0].Applied || len(got[1].Resyncs) != 1 {
		t.Fatalf("entry not preserved: %+v", got[1])
	}
}

func TestStepLog_WriteAfterClose(t *testing.T) {
	l := NewStepLog(t.TempDir(), "run1")
	if err := l.WriteStep(world.StepLogEntry{Step: 0}); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.WriteStep(world.StepLogEntry{Step: 1}); !errors.Is(err, ErrStepLogClosed) {
		t.Fatalf("expected ErrStepLogClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := readAll(t, l.Path()); len(got) != 1 {
		t.Fatalf("read %d entries after close, want 1", len(got))
	}
}

func TestStepLog_UnusedCreatesNoFile(t *testing.T) {
	l := NewStepLog(t.TempDir(), "idle")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatalf("unexpected file: %v", err)
	}
	if err := l.WriteStep(world.StepLogEntry{}); !errors.Is(err, ErrStepLogClosed) {
		t.Fatalf("expected ErrStepLogClosed, got %v", err)
	}
}

func TestStepLog_RefusesExistingRun(t *testing.T) {
	dir := t.TempDir()
	a := NewStepLog(dir, "same")
	if err := a.WriteStep(world.StepLogEntry{}); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	_ = a.Close()
	if err := NewStepLog(dir, "same").WriteStep(world.StepLogEntry{}); err == nil {
		t.Fatalf("expected error reusing a run id")
	}
}

func TestListFiles_RunOrder(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, run := range []string{RunID(start.Add(time.Hour)), RunID(start)} {
		l := NewStepLog(dir, run)
		if err := l.WriteStep(world.StepLogEntry{}); err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
		_ = l.Close()
	}
	if err := os.WriteFile(filepath.Join(dir, StepsPrefix, "other-x.jsonl.zst"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, err := ListFiles(filepath.Join(dir, StepsPrefix), StepsPrefix)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "steps-20260301T120000.000Z.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}
}
