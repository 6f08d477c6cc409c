package worldtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/agent"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
	world "gridworld.ai/internal/sim/world"
)

var testLayout = []string{
	"PPPPP",
	"PBPBP",
	"PPPPP",
}

func TestRandomWalk_StaysConsistent(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{StepTimeout: 2 * time.Second}, testLayout)
	h.Join("w1", agent.NewRandomWalk(1))
	h.Join("w2", agent.NewRandomWalk(2))
	h.Join("w3", agent.NewRandomWalk(3))
	h.CheckConsistent()

	g := h.W.Grid().Graph()
	moved := 0
	for i := 0; i < 20; i++ {
		res := h.Step()
		if res.Stalled {
			t.Fatalf("step %d stalled: %v", res.Step, res.Err)
		}
		if len(res.Missing) != 0 || len(res.Unconfirmed) != 0 {
			t.Fatalf("step %d: missing=%v unconfirmed=%v", res.Step, res.Missing, res.Unconfirmed)
		}
		if len(res.Movements) != 3 {
			t.Fatalf("step %d: %d movements", res.Step, len(res.Movements))
		}
		for _, r := range res.Applied {
			if !g.Adjacent(r.From, r.To) {
				t.Fatalf("applied non-adjacent move %s", r)
			}
		}
		moved += len(res.Applied)
		h.CheckConsistent()
	}
	if moved == 0 {
		t.Fatalf("no worker ever moved")
	}
}

func TestStayInPlaceIsRejected(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{}, testLayout)
	wk := h.Join("idle", agent.Stay{})
	start := wk.Pos()

	res := h.Step()
	if len(res.Movements) != 1 || res.Movements[0].Status != movement.Rejected {
		t.Fatalf("movements = %v", res.Movements)
	}
	if wk.Pos() != start {
		t.Fatalf("worker moved to %s", wk.Pos())
	}
	h.CheckConsistent()
}

func TestNonAdjacentProposalIsRejected(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{Spawns: []grid.Pos{{Row: 0, Col: 0}}}, testLayout)
	jump := agent.PolicyFunc(func(from grid.Pos, _ []grid.Pos) grid.Pos {
		return grid.Pos{Row: 2, Col: 4}
	})
	wk := h.Join("jumper", jump)

	res := h.Step()
	if len(res.Movements) != 1 || res.Movements[0].Status != movement.Rejected || len(res.Applied) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if wk.Pos() != (grid.Pos{Row: 0, Col: 0}) {
		t.Fatalf("worker moved to %s", wk.Pos())
	}
	h.CheckConsistent()
}

func TestSilentWorkerIsMissing(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{StepTimeout: 80 * time.Millisecond}, testLayout)
	silent := h.JoinSilent("mute")
	wk := h.Join("walker", agent.NewRandomWalk(7))

	res := h.Step()
	if res.Stalled {
		t.Fatalf("one answering worker must be enough: %v", res.Err)
	}
	if len(res.Missing) != 1 || res.Missing[0] != silent {
		t.Fatalf("missing = %v", res.Missing)
	}
	if len(res.Movements) != 1 || res.Movements[0].AgentID != wk.ID() {
		t.Fatalf("movements = %v", res.Movements)
	}
	h.CheckConsistent()
}

func TestLeaveFreesCell(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{Spawns: []grid.Pos{{Row: 0, Col: 0}, {Row: 0, Col: 1}}}, testLayout)
	a := h.Join("a", agent.Stay{})
	b := h.Join("b", agent.PolicyFunc(func(from grid.Pos, _ []grid.Pos) grid.Pos {
		return grid.Pos{Row: 0, Col: 0}
	}))

	res := h.Step()
	if len(res.Applied) != 0 {
		t.Fatalf("b moved into an occupied cell: %v", res.Applied)
	}
	h.Leave(a.ID())
	res = h.Step()
	if len(res.Applied) != 1 || res.Applied[0].AgentID != b.ID() {
		t.Fatalf("applied = %v", res.Applied)
	}
	if b.Pos() != (grid.Pos{Row: 0, Col: 0}) {
		t.Fatalf("b at %s", b.Pos())
	}
	h.CheckConsistent()
}

func TestPollBarrierMode(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{PollBarrier: true, PollInterval: 5 * time.Millisecond}, testLayout)
	h.Join("w1", agent.NewRandomWalk(11))
	for i := 0; i < 3; i++ {
		if res := h.Step(); res.Stalled {
			t.Fatalf("step %d stalled: %v", res.Step, res.Err)
		}
	}
	if h.W.Barrier().Ticks() == 0 {
		t.Fatalf("poll mode never ticked the barrier")
	}
	h.CheckConsistent()
}

func TestRun_StopsAfterMaxSteps(t *testing.T) {
	g, err := grid.ParseLayout(testLayout)
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	w, err := world.New(world.WorldConfig{StepRateHz: 50, MaxSteps: 6}, g, zerolog.Nop())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	out := make(chan []byte, 16)
	wm, err := w.Join(ctx, "runner", world.OutboxPeer{Out: out})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	wk, err := agent.NewWorkerFromWelcome(wm, agent.NewRandomWalk(5))
	if err != nil {
		t.Fatalf("NewWorkerFromWelcome: %v", err)
	}
	sctx, scancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = agent.Serve(sctx, &ChanConn{W: w, AgentID: wk.ID(), In: out}, agent.NewResponder(wk, zerolog.Nop()), zerolog.Nop())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("Run did not stop after max steps")
	}
	scancel()
	wg.Wait()

	if got := w.CurrentStep(); got != 6 {
		t.Fatalf("step = %d, want 6", got)
	}
	if got := w.Positions()[wk.ID()]; got != wk.Pos() {
		t.Fatalf("coordinator %s, worker %s", got, wk.Pos())
	}
}
