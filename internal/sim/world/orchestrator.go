package world

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

// StepResult describes one completed step.
type StepResult struct {
	Step    uint64
	Workers []string
	Joins   []RecordedJoin
	Leaves  []string

	// Movements holds every finalized record, accepted and rejected.
	Movements []movement.Record
	// Applied holds the accepted records the workers confirmed.
	Applied     []movement.Record
	Missing     []string
	Unconfirmed []string
	// Resyncs are corrections taken from worker reports; replay applies them
	// before Applied.
	Resyncs []Resync

	Stalled  bool
	Err      error
	Duration time.Duration
	Digest   string
}

// StepOnce runs one full step synchronously: leaves, then negotiation among
// the workers registered before this call, then joins. Joined workers take
// part from the next step.
func (w *World) StepOnce(ctx context.Context, joins []JoinRequest, leaves []string) StepResult {
	start := time.Now()
	n := w.step.Load()

	removed := w.applyLeaves(leaves)
	participants := w.participants()
	recJoins := w.applyJoins(n+1, joins)

	res := w.negotiate(ctx, n, participants)
	res.Joins = recJoins
	res.Leaves = removed
	res.Duration = time.Since(start)
	res.Digest = PositionsDigest(n, w.Positions())

	w.step.Add(1)
	w.finishStep(res)
	return res
}

func (w *World) negotiate(ctx context.Context, step uint64, participants []*workerState) StepResult {
	res := StepResult{Step: step, Workers: workerIDs(participants)}
	if len(participants) == 0 {
		return res
	}

	w.barrier.Reset(step)
	pctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	go func() {
		defer cancel()
		w.barrier.Deliver(w.collectProposals(pctx, step, participants))
	}()
	if err := w.awaitBarrier(ctx); err != nil {
		res.Stalled = true
		res.Err = err
		res.Missing = res.Workers
		w.log.Warn().Err(err).Uint64("step", step).Int("workers", len(participants)).Msg("step stalled")
		return res
	}
	res.Missing = w.barrier.Missing()

	proposals := w.barrier.Movements()
	res.Resyncs = w.resyncFromProposals(proposals)
	res.Movements = w.finalize(proposals)
	var resyncs []Resync
	res.Applied, res.Unconfirmed, resyncs = w.applyMovements(ctx, step, res.Movements)
	res.Resyncs = append(res.Resyncs, resyncs...)
	return res
}

func (w *World) awaitBarrier(ctx context.Context) error {
	wait := w.cfg.StepTimeout + w.cfg.BarrierGrace
	if w.cfg.PollBarrier {
		bctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return w.barrier.Poll(bctx)
	}
	return w.barrier.Wait(ctx, wait)
}

// finalize validates proposals against the recorded positions and the path
// graph, then lets the conflict policy decide among the valid ones. A pending
// destination counts as occupied by its worker.
func (w *World) finalize(proposals []movement.Record) []movement.Record {
	occupied := map[grid.Pos]string{}
	recorded := map[string]grid.Pos{}
	w.mu.RLock()
	for id, ws := range w.workers {
		occupied[ws.Pos] = id
		recorded[id] = ws.Pos
		if ws.Pending != nil {
			occupied[*ws.Pending] = id
		}
	}
	w.mu.RUnlock()

	g := w.grid.Graph()
	checked := make([]movement.Record, 0, len(proposals))
	for _, r := range proposals {
		pos, ok := recorded[r.AgentID]
		if !ok {
			checked = append(checked, r.Reject())
			continue
		}
		if err := movement.Validate(r, pos, g); err != nil {
			w.log.Debug().Err(err).Stringer("movement", r).Msg("proposal rejected")
			checked = append(checked, r.Reject())
			continue
		}
		checked = append(checked, r)
	}
	out := w.policy.Resolve(checked, occupied)
	for i := range out {
		if out[i].Status == movement.Proposed {
			out[i] = out[i].Reject()
		}
	}
	return out
}

// applyMovements sends every finalized record to its worker and updates the
// position table for accepted moves the worker confirmed at the destination.
// Every other reply is reconciled against the table; an accepted move whose
// reply never arrives leaves the worker pending on its destination.
func (w *World) applyMovements(ctx context.Context, step uint64, finalized []movement.Record) (applied []movement.Record, unconfirmed []string, resyncs []Resync) {
	if len(finalized) == 0 {
		return nil, nil, nil
	}
	actx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()

	type result struct {
		rec movement.Record
		ar  protocol.ApplyResult
		err error
	}
	out := make(chan result, len(finalized))
	for _, r := range finalized {
		ws := w.worker(r.AgentID)
		if ws == nil {
			out <- result{rec: r, err: fmt.Errorf("%w: %s", ErrWorkerGone, r.AgentID)}
			continue
		}
		go func(ws *workerState, r movement.Record) {
			ar, err := w.requestApply(actx, ws, step, r)
			out <- result{rec: r, ar: ar, err: err}
		}(ws, r)
	}

	for range finalized {
		res := <-out
		id := res.rec.AgentID
		if res.err != nil {
			w.log.Warn().Err(res.err).Stringer("movement", res.rec).Uint64("step", step).Msg("apply unconfirmed")
			if res.rec.Status == movement.Accepted {
				w.markPending(id, res.rec.To)
			}
			unconfirmed = append(unconfirmed, id)
			continue
		}
		reported := grid.FromWire(res.ar.Pos)
		if res.rec.Status == movement.Accepted && res.ar.Accepted && reported == res.rec.To {
			w.setPos(id, res.rec.To)
			applied = append(applied, res.rec)
			continue
		}
		rs, ok := w.reconcile(id, reported)
		if rs != nil {
			w.log.Info().Str("agent_id", id).Stringer("from", rs.From).Stringer("to", rs.To).Msg("position resynced")
			resyncs = append(resyncs, *rs)
		}
		if !ok || res.rec.Status == movement.Accepted {
			w.log.Warn().Stringer("movement", res.rec).Interface("result", res.ar).Msg("apply confirmation disagrees")
			unconfirmed = append(unconfirmed, id)
		}
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].AgentID < applied[j].AgentID })
	sort.Strings(unconfirmed)
	sort.Slice(resyncs, func(i, j int) bool { return resyncs[i].AgentID < resyncs[j].AgentID })
	return applied, unconfirmed, resyncs
}

func (w *World) requestApply(ctx context.Context, ws *workerState, step uint64, r movement.Record) (protocol.ApplyResult, error) {
	m, err := w.converse(ctx, ws, step, protocol.ApplyMovement(r.ToMsg()))
	if err != nil {
		return protocol.ApplyResult{}, err
	}
	var ar protocol.ApplyResult
	if err := decodeContent(m, &ar); err != nil {
		return protocol.ApplyResult{}, fmt.Errorf("apply result from %s: %w", ws.ID, err)
	}
	if ar.AgentID != ws.ID {
		return protocol.ApplyResult{}, fmt.Errorf("%w: got %q from %s", ErrIdentityMismatch, ar.AgentID, ws.ID)
	}
	return ar, nil
}

func (w *World) finishStep(res StepResult) {
	w.recordMetrics(res)
	ev := w.log.Info()
	if res.Stalled {
		ev = w.log.Warn()
	}
	ev.Uint64("step", res.Step).
		Int("workers", len(res.Workers)).
		Int("applied", len(res.Applied)).
		Int("missing", len(res.Missing)).
		Bool("stalled", res.Stalled).
		Dur("took", res.Duration).
		Msg("step done")
	if w.stepLogger == nil {
		return
	}
	if err := w.stepLogger.WriteStep(NewStepLogEntry(res)); err != nil {
		w.log.Error().Err(err).Uint64("step", res.Step).Msg("write step log")
	}
}

func workerIDs(ws []*workerState) []string {
	out := make([]string, 0, len(ws))
	for _, s := range ws {
		out = append(out, s.ID)
	}
	return out
}
