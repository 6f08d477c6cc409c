package world

import (
	"fmt"

	"gridworld.ai/internal/sim/grid"
)

// ReplayState rebuilds the coordinator position table from step log entries
// and checks each entry's digest against it.
type ReplayState struct {
	next      uint64
	started   bool
	positions map[string]grid.Pos
}

func NewReplayState() *ReplayState {
	return &ReplayState{positions: map[string]grid.Pos{}}
}

// NextStep is the step the next entry must carry.
func (r *ReplayState) NextStep() uint64 { return r.next }

func (r *ReplayState) Positions() map[string]grid.Pos {
	out := make(map[string]grid.Pos, len(r.positions))
	for id, p := range r.positions {
		out[id] = p
	}
	return out
}

// Apply replays one entry: leaves, joins, resyncs, then applied movements.
func (r *ReplayState) Apply(e StepLogEntry) error {
	if r.started && e.Step != r.next {
		return fmt.Errorf("step gap: want=%d got=%d", r.next, e.Step)
	}
	if !r.started && e.Step != 0 {
		return fmt.Errorf("step log does not start at step 0 (got %d)", e.Step)
	}
	r.started = true

	for _, id := range e.Leaves {
		delete(r.positions, id)
	}
	for _, j := range e.Joins {
		r.positions[j.AgentID] = grid.FromWire(j.Pos)
	}
	for _, rs := range e.Resyncs {
		cur, ok := r.positions[rs.AgentID]
		if !ok {
			return fmt.Errorf("step %d: resync for unknown agent %s", e.Step, rs.AgentID)
		}
		if cur != grid.FromWire(rs.From) {
			return fmt.Errorf("step %d: %s resynced from %v but was at %s", e.Step, rs.AgentID, rs.From, cur)
		}
		r.positions[rs.AgentID] = grid.FromWire(rs.To)
	}
	for _, m := range e.Movements {
		if !m.Applied {
			continue
		}
		cur, ok := r.positions[m.AgentID]
		if !ok {
			return fmt.Errorf("step %d: movement for unknown agent %s", e.Step, m.AgentID)
		}
		if cur != grid.FromWire(m.From) {
			return fmt.Errorf("step %d: %s moved from %v but was at %s", e.Step, m.AgentID, m.From, cur)
		}
		r.positions[m.AgentID] = grid.FromWire(m.To)
	}
	if got := PositionsDigest(e.Step, r.positions); got != e.Digest {
		return fmt.Errorf("digest mismatch at step %d: got=%s want=%s", e.Step, got, e.Digest)
	}
	r.next = e.Step + 1
	return nil
}
