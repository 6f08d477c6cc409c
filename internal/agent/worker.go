package agent

import (
	"errors"
	"fmt"
	"sync"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

var (
	ErrWrongAgent   = errors.New("agent: movement addressed to another agent")
	ErrStaleSource  = errors.New("agent: movement source differs from current position")
	ErrNotFinalized = errors.New("agent: movement is still a proposal")
)

// Worker owns one agent's recorded position and its read-only copy of the map.
type Worker struct {
	id     string
	grid   *grid.Grid
	policy Policy

	mu       sync.Mutex
	pos      grid.Pos
	proposal *movement.Record
	propStep uint64
}

func NewWorker(id string, g *grid.Grid, start grid.Pos, p Policy) *Worker {
	if p == nil {
		p = Stay{}
	}
	return &Worker{id: id, grid: g, policy: p, pos: start}
}

// NewWorkerFromWelcome builds a worker on its own copy of the map carried by WELCOME.
func NewWorkerFromWelcome(wm protocol.WelcomeMsg, p Policy) (*Worker, error) {
	g, err := grid.ParseLayout(wm.Map.Layout)
	if err != nil {
		return nil, fmt.Errorf("welcome map: %w", err)
	}
	if g.Rows() != wm.Map.Rows || g.Cols() != wm.Map.Cols {
		return nil, fmt.Errorf("welcome map: layout is %dx%d, header says %dx%d", g.Rows(), g.Cols(), wm.Map.Rows, wm.Map.Cols)
	}
	start := grid.FromWire(wm.Pos)
	if c, ok := g.At(start); !ok || !c.IsPath() {
		return nil, fmt.Errorf("welcome: start %s is not a path cell", start)
	}
	return NewWorker(wm.AgentID, g, start, p), nil
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Pos() grid.Pos {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// ProposeNextMovement returns at most one proposal per step; asking again for
// the same step returns the outstanding proposal.
func (w *Worker) ProposeNextMovement(step uint64) (movement.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.proposal != nil && w.propStep == step {
		return *w.proposal, nil
	}
	cells := w.grid.PathNeighborsOf(w.pos)
	options := make([]grid.Pos, 0, len(cells))
	for _, c := range cells {
		options = append(options, c.Pos)
	}
	to := w.policy.Choose(w.pos, options)
	rec := movement.NewProposal(w.id, w.pos, to, movement.Normal)
	w.proposal = &rec
	w.propStep = step
	return rec, nil
}

// ApplyMovement applies a finalized record from the coordinator.
func (w *Worker) ApplyMovement(rec movement.Record) (protocol.ApplyResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.AgentID != w.id {
		return protocol.ApplyResult{}, fmt.Errorf("%w: %s", ErrWrongAgent, rec.AgentID)
	}
	if rec.From != w.pos {
		return protocol.ApplyResult{}, fmt.Errorf("%w: from=%s pos=%s", ErrStaleSource, rec.From, w.pos)
	}
	w.proposal = nil
	switch rec.Status {
	case movement.Accepted:
		w.pos = rec.To
		return protocol.ApplyResult{AgentID: w.id, Pos: w.pos.Wire(), Accepted: true}, nil
	case movement.Rejected:
		return protocol.ApplyResult{AgentID: w.id, Pos: w.pos.Wire(), Accepted: false}, nil
	default:
		return protocol.ApplyResult{}, fmt.Errorf("%w: %s", ErrNotFinalized, rec.Status)
	}
}
