package agent

import (
	"errors"
	"testing"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

func TestWorker_OneProposalPerStep(t *testing.T) {
	w := testWorker(t, grid.Pos{Row: 0, Col: 1}, NewRandomWalk(3))
	a, err := w.ProposeNextMovement(1)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	for i := 0; i < 5; i++ {
		b, _ := w.ProposeNextMovement(1)
		if b != a {
			t.Fatalf("second proposal for the same step differs: %s vs %s", a, b)
		}
	}
	if a.From != (grid.Pos{Row: 0, Col: 1}) {
		t.Fatalf("proposal source=%s", a.From)
	}
	if !w.grid.Graph().Adjacent(a.From, a.To) {
		t.Fatalf("random walk chose a non-neighbour: %s", a)
	}
}

func TestWorker_ApplyGuards(t *testing.T) {
	w := testWorker(t, grid.Pos{}, Stay{})
	other := movement.NewProposal("B9", grid.Pos{}, grid.Pos{Col: 1}, movement.Normal).Accept()
	if _, err := w.ApplyMovement(other); !errors.Is(err, ErrWrongAgent) {
		t.Fatalf("err=%v want ErrWrongAgent", err)
	}
	open := movement.NewProposal("A1", grid.Pos{}, grid.Pos{Col: 1}, movement.Normal)
	if _, err := w.ApplyMovement(open); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("err=%v want ErrNotFinalized", err)
	}
}

func TestRandomWalk_NoOptionsStays(t *testing.T) {
	p := NewRandomWalk(1)
	from := grid.Pos{Row: 2, Col: 2}
	if got := p.Choose(from, nil); got != from {
		t.Fatalf("got %s want %s", got, from)
	}
}

func TestNewWorkerFromWelcome(t *testing.T) {
	wm := protocol.WelcomeMsg{
		AgentID: "A7",
		Pos:     [2]int{1, 1},
		Map:     protocol.MapParams{Rows: 2, Cols: 3, Layout: []string{"PPP", "BPB"}},
	}
	w, err := NewWorkerFromWelcome(wm, nil)
	if err != nil {
		t.Fatalf("NewWorkerFromWelcome: %v", err)
	}
	if w.ID() != "A7" || w.Pos() != (grid.Pos{Row: 1, Col: 1}) {
		t.Fatalf("unexpected worker %s at %s", w.ID(), w.Pos())
	}

	wm.Pos = [2]int{1, 0}
	if _, err := NewWorkerFromWelcome(wm, nil); err == nil {
		t.Fatalf("expected error for start on a building")
	}
	wm.Pos = [2]int{0, 0}
	wm.Map.Rows = 4
	if _, err := NewWorkerFromWelcome(wm, nil); err == nil {
		t.Fatalf("expected error for header mismatch")
	}
}
