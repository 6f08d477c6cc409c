package world

import (
	"testing"

	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

func TestReserveByAgentID(t *testing.T) {
	p := func(r, c int) grid.Pos { return grid.Pos{Row: r, Col: c} }
	occupied := map[grid.Pos]string{
		p(0, 0): "A1",
		p(0, 2): "A2",
		p(2, 0): "A3",
		p(2, 2): "A4",
	}
	in := []movement.Record{
		movement.NewProposal("A1", p(0, 0), p(0, 1), movement.Normal),
		movement.NewProposal("A2", p(0, 2), p(0, 1), movement.Normal), // same target as A1
		movement.NewProposal("A3", p(2, 0), p(2, 1), movement.Normal),
		movement.NewProposal("A4", p(2, 2), p(2, 0), movement.Normal).Reject(),
	}
	out := ReserveByAgentID{}.Resolve(in, occupied)
	want := []movement.Status{movement.Accepted, movement.Rejected, movement.Accepted, movement.Rejected}
	if len(out) != len(want) {
		t.Fatalf("len = %d", len(out))
	}
	for i, r := range out {
		if r.Status != want[i] {
			t.Fatalf("%s: status %s want %s", r.AgentID, r.Status, want[i])
		}
	}
}

func TestReserveByAgentID_OccupiedAtStart(t *testing.T) {
	a := grid.Pos{Row: 0, Col: 0}
	b := grid.Pos{Row: 0, Col: 1}
	occupied := map[grid.Pos]string{a: "A1", b: "A2"}
	in := []movement.Record{
		movement.NewProposal("A1", a, b, movement.Normal),
		movement.NewProposal("A2", b, a, movement.Normal),
	}
	for _, r := range (ReserveByAgentID{}).Resolve(in, occupied) {
		if r.Status != movement.Rejected {
			t.Fatalf("swap must be rejected, got %s", r)
		}
	}
}
