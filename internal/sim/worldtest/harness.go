package worldtest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/agent"
	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
	world "gridworld.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() issues JoinRequest via StepOnce() and starts a real agent.Worker session
// - Step() runs one negotiated step
// - Each session talks to the world over an OutboxPeer channel, like the ws transport
//
// It avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workers map[string]*agent.Worker
	results []world.StepResult
}

func NewHarness(t *testing.T, cfg world.WorldConfig, layout []string) *Harness {
	t.Helper()

	g, err := grid.ParseLayout(layout)
	if err != nil {
		t.Fatalf("grid.ParseLayout: %v", err)
	}
	w, err := world.New(cfg, g, zerolog.Nop())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		T:       t,
		W:       w,
		ctx:     ctx,
		cancel:  cancel,
		workers: map[string]*agent.Worker{},
	}
	t.Cleanup(func() {
		h.cancel()
		h.wg.Wait()
	})
	return h
}

// ChanConn is the worker end of an OutboxPeer: it reads what the world sent
// and hands replies straight back to World.Deliver.
type ChanConn struct {
	W       *world.World
	AgentID string
	In      <-chan []byte
}

func (c *ChanConn) ReadConv(ctx context.Context) (protocol.ConvMsg, error) {
	select {
	case <-ctx.Done():
		return protocol.ConvMsg{}, ctx.Err()
	case b := <-c.In:
		var m protocol.ConvMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return protocol.ConvMsg{}, err
		}
		return m, nil
	}
}

func (c *ChanConn) WriteConv(msg protocol.ConvMsg) error {
	// A late reply to a closed conversation is dropped and counted by the world.
	c.W.Deliver(c.AgentID, msg)
	return nil
}

// Join registers a worker driven by policy p and starts its session.
func (h *Harness) Join(name string, p agent.Policy) *agent.Worker {
	h.T.Helper()
	out := make(chan []byte, 16)
	wm := h.join(name, world.OutboxPeer{Out: out})
	wk, err := agent.NewWorkerFromWelcome(wm, p)
	if err != nil {
		h.T.Fatalf("NewWorkerFromWelcome: %v", err)
	}
	h.workers[wk.ID()] = wk
	conn := &ChanConn{W: h.W, AgentID: wk.ID(), In: out}
	r := agent.NewResponder(wk, zerolog.Nop())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = agent.Serve(h.ctx, conn, r, zerolog.Nop())
	}()
	return wk
}

// JoinSilent registers a worker that never answers.
func (h *Harness) JoinSilent(name string) string {
	h.T.Helper()
	return h.join(name, world.OutboxPeer{Out: make(chan []byte, 64)}).AgentID
}

func (h *Harness) join(name string, peer world.Peer) protocol.WelcomeMsg {
	h.T.Helper()
	resp := make(chan world.JoinResponse, 1)
	h.results = append(h.results, h.W.StepOnce(h.ctx, []world.JoinRequest{{Name: name, Peer: peer, Resp: resp}}, nil))
	jr := <-resp
	if jr.Err != nil {
		h.T.Fatalf("join %q: %v", name, jr.Err)
	}
	if jr.Welcome.AgentID == "" {
		h.T.Fatalf("join returned empty agent id")
	}
	return jr.Welcome
}

func (h *Harness) Step() world.StepResult {
	res := h.W.StepOnce(h.ctx, nil, nil)
	h.results = append(h.results, res)
	return res
}

func (h *Harness) Leave(agentID string) world.StepResult {
	res := h.W.StepOnce(h.ctx, nil, []string{agentID})
	h.results = append(h.results, res)
	delete(h.workers, agentID)
	return res
}

func (h *Harness) Worker(agentID string) *agent.Worker { return h.workers[agentID] }

func (h *Harness) Results() []world.StepResult { return h.results }

// CheckConsistent fails the test unless every live worker agrees with the
// coordinator about its position and no two workers share a cell.
func (h *Harness) CheckConsistent() {
	h.T.Helper()
	pos := h.W.Positions()
	seen := map[grid.Pos]string{}
	for id, p := range pos {
		if other, ok := seen[p]; ok {
			h.T.Fatalf("%s and %s share cell %s", id, other, p)
		}
		seen[p] = id
		if wk := h.workers[id]; wk != nil && wk.Pos() != p {
			h.T.Fatalf("%s: worker at %s, coordinator at %s", id, wk.Pos(), p)
		}
	}
}
