package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/movement"
)

var ErrIdentityMismatch = errors.New("world: payload agent id does not match conversation")

// Aggregate is the set of proposals collected for one step.
// Movements are sorted by agent id; Missing lists workers that did not answer.
type Aggregate struct {
	Step      uint64
	Movements []movement.Record
	Missing   []string
}

func decodeContent(m protocol.ConvMsg, v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("empty %s content", m.Performative)
	}
	return json.Unmarshal(m.Content, v)
}

// collectProposals asks every participant for its next movement and returns
// once each conversation has ended or ctx expired.
func (w *World) collectProposals(ctx context.Context, step uint64, participants []*workerState) Aggregate {
	type result struct {
		id  string
		rec movement.Record
		err error
	}
	out := make(chan result, len(participants))
	for _, ws := range participants {
		go func(ws *workerState) {
			rec, err := w.requestProposal(ctx, ws, step)
			out <- result{id: ws.ID, rec: rec, err: err}
		}(ws)
	}

	agg := Aggregate{Step: step}
	for range participants {
		r := <-out
		if r.err != nil {
			w.log.Warn().Err(r.err).Str("agent_id", r.id).Uint64("step", step).Msg("no proposal")
			agg.Missing = append(agg.Missing, r.id)
			continue
		}
		agg.Movements = append(agg.Movements, r.rec)
	}
	sort.Slice(agg.Movements, func(i, j int) bool { return agg.Movements[i].AgentID < agg.Movements[j].AgentID })
	sort.Strings(agg.Missing)
	return agg
}

func (w *World) requestProposal(ctx context.Context, ws *workerState, step uint64) (movement.Record, error) {
	m, err := w.converse(ctx, ws, step, protocol.NewStep())
	if err != nil {
		return movement.Record{}, err
	}
	var pr protocol.ProposalResult
	if err := decodeContent(m, &pr); err != nil {
		return movement.Record{}, fmt.Errorf("proposal from %s: %w", ws.ID, err)
	}
	rec, err := movement.FromMsg(pr.Movement)
	if err != nil {
		return movement.Record{}, fmt.Errorf("proposal from %s: %w", ws.ID, err)
	}
	if rec.AgentID != ws.ID {
		return movement.Record{}, fmt.Errorf("%w: got %q from %s", ErrIdentityMismatch, rec.AgentID, ws.ID)
	}
	return rec, nil
}
