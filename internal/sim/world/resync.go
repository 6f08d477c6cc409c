package world

import (
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

// Resync is a position table correction taken from a worker's own report,
// after an accepted move went unconfirmed.
type Resync struct {
	AgentID string
	From    grid.Pos
	To      grid.Pos
}

func (w *World) markPending(id string, to grid.Pos) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ws := w.workers[id]; ws != nil {
		ws.Pending = &to
	}
}

func (w *World) pending(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ws := w.workers[id]
	return ws != nil && ws.Pending != nil
}

// reconcile checks a position reported by a worker against the table. A report
// equal to the recorded cell or to the pending destination settles the worker;
// any other report leaves the table untouched and returns false.
func (w *World) reconcile(id string, reported grid.Pos) (*Resync, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.workers[id]
	if ws == nil {
		return nil, false
	}
	switch {
	case reported == ws.Pos:
		ws.Pending = nil
		return nil, true
	case ws.Pending != nil && reported == *ws.Pending:
		rs := &Resync{AgentID: id, From: ws.Pos, To: reported}
		ws.Pos = reported
		ws.Pending = nil
		return rs, true
	}
	return nil, false
}

// resyncFromProposals settles pending workers from the source cell of their
// next proposal, before the proposals are validated.
func (w *World) resyncFromProposals(proposals []movement.Record) []Resync {
	var out []Resync
	for _, r := range proposals {
		if !w.pending(r.AgentID) {
			continue
		}
		rs, ok := w.reconcile(r.AgentID, r.From)
		if !ok {
			w.log.Warn().Stringer("movement", r).Msg("pending worker proposed from an unknown cell")
			continue
		}
		if rs != nil {
			w.log.Info().Str("agent_id", rs.AgentID).Stringer("from", rs.From).Stringer("to", rs.To).Msg("position resynced")
			out = append(out, *rs)
		}
	}
	return out
}
