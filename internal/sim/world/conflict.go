package world

import (
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

// ConflictPolicy finalizes validated movements. Records still PROPOSED on
// input passed graph validation; already REJECTED records must stay rejected.
// occupied maps each cell held at step start to the worker holding it.
// Every returned record is ACCEPTED or REJECTED.
type ConflictPolicy interface {
	Resolve(records []movement.Record, occupied map[grid.Pos]string) []movement.Record
}

// ReserveByAgentID accepts a move only into a cell that is free at step start
// and not already claimed by a worker with a lower agent id.
// Records must arrive sorted by agent id.
type ReserveByAgentID struct{}

func (ReserveByAgentID) Resolve(records []movement.Record, occupied map[grid.Pos]string) []movement.Record {
	out := make([]movement.Record, 0, len(records))
	claimed := make(map[grid.Pos]string, len(records))
	for _, r := range records {
		if r.Status != movement.Proposed {
			out = append(out, r.Reject())
			continue
		}
		if holder, ok := occupied[r.To]; ok && holder != r.AgentID {
			out = append(out, r.Reject())
			continue
		}
		if _, ok := claimed[r.To]; ok {
			out = append(out, r.Reject())
			continue
		}
		claimed[r.To] = r.AgentID
		out = append(out, r.Accept())
	}
	return out
}
