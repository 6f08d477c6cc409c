package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
)

var (
	ErrWorldFull        = errors.New("world: worker limit reached")
	ErrNoFreeCell       = errors.New("world: no free path cell to spawn on")
	ErrWorldStopped     = errors.New("world: stopped")
	ErrPeerBackpressure = errors.New("world: peer outbox full")
)

// Peer is the coordinator's handle on a connected worker.
type Peer interface {
	Send(msg protocol.ConvMsg) error
}

// OutboxPeer encodes messages onto a channel drained by a transport writer.
// A full outbox is an error rather than a dropped message: losing one reply
// would stall its conversation.
type OutboxPeer struct {
	Out chan []byte
}

func (p OutboxPeer) Send(msg protocol.ConvMsg) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case p.Out <- b:
		return nil
	default:
		return ErrPeerBackpressure
	}
}

// JoinRequest registers a worker at the next step boundary. Resp must be buffered.
type JoinRequest struct {
	Name string
	Peer Peer
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     error
}

type RecordedJoin struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Pos     [2]int `json:"pos"`
}

type workerState struct {
	ID   string
	Name string
	Pos  grid.Pos
	Peer Peer

	// Pending is the destination of an accepted move whose confirmation was
	// lost. The worker holds both cells until it reports which one it is on.
	Pending *grid.Pos

	gone atomic.Bool
}

// World is the coordinator. Registration, positions and step negotiation are
// driven from a single loop goroutine; transports only enqueue joins and
// leaves and hand inbound CONV messages to Deliver.
type World struct {
	cfg    WorldConfig
	grid   *grid.Grid
	log    zerolog.Logger
	policy ConflictPolicy

	step atomic.Uint64

	mu      sync.RWMutex
	workers map[string]*workerState

	convs   *conversations
	barrier *StepBarrier

	join     chan JoinRequest
	leave    chan string
	stop     chan struct{}
	stopOnce sync.Once

	nextAgentNum atomic.Uint64

	stepLogger StepLogger
	metrics    atomic.Value // WorldMetrics
}

func New(cfg WorldConfig, g *grid.Grid, logger zerolog.Logger) (*World, error) {
	if g == nil {
		return nil, fmt.Errorf("world: nil grid")
	}
	cfg = cfg.withDefaults()
	for _, p := range cfg.Spawns {
		c, ok := g.At(p)
		if !ok || !c.IsPath() {
			return nil, fmt.Errorf("world: spawn %s is not a path cell", p)
		}
	}
	if len(g.CellsOfType(grid.CellPath)) == 0 {
		return nil, fmt.Errorf("world: map has no path cells")
	}
	w := &World{
		cfg:     cfg,
		grid:    g,
		log:     logger.With().Str("world_id", cfg.ID).Logger(),
		policy:  ReserveByAgentID{},
		workers: map[string]*workerState{},
		convs:   newConversations(),
		barrier: NewStepBarrier(0, cfg.PollInterval),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 1024),
		stop:    make(chan struct{}),
	}
	w.metrics.Store(WorldMetrics{})
	return w, nil
}

func (w *World) ID() string            { return w.cfg.ID }
func (w *World) Grid() *grid.Grid      { return w.grid }
func (w *World) CurrentStep() uint64   { return w.step.Load() }
func (w *World) StepRateHz() int       { return w.cfg.StepRateHz }
func (w *World) Barrier() *StepBarrier { return w.barrier }

func (w *World) SetStepLogger(l StepLogger) { w.stepLogger = l }

// SetConflictPolicy must be called before Run.
func (w *World) SetConflictPolicy(p ConflictPolicy) {
	if p == nil {
		p = ReserveByAgentID{}
	}
	w.policy = p
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.StepRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	steps := 0

	for {
		select {
		case <-ctx.Done():
			rejectJoins(pendingJoins, ctx.Err())
			return ctx.Err()
		case <-w.stop:
			rejectJoins(pendingJoins, ErrWorldStopped)
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case <-ticker.C:
			w.StepOnce(ctx, pendingJoins, pendingLeaves)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			steps++
			if w.cfg.MaxSteps > 0 && steps >= w.cfg.MaxSteps {
				w.log.Info().Int("steps", steps).Msg("max steps reached")
				w.Stop()
				return nil
			}
		}
	}
}

func rejectJoins(joins []JoinRequest, err error) {
	for _, req := range joins {
		respond(req, JoinResponse{Err: err})
	}
}

func respond(req JoinRequest, resp JoinResponse) {
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- resp:
	default:
	}
}

// Join queues a registration and waits for the WELCOME handed out at the next step boundary.
func (w *World) Join(ctx context.Context, name string, peer Peer) (protocol.WelcomeMsg, error) {
	resp := make(chan JoinResponse, 1)
	select {
	case w.join <- JoinRequest{Name: name, Peer: peer, Resp: resp}:
	case <-ctx.Done():
		return protocol.WelcomeMsg{}, ctx.Err()
	case <-w.stop:
		return protocol.WelcomeMsg{}, ErrWorldStopped
	}
	select {
	case jr := <-resp:
		return jr.Welcome, jr.Err
	case <-ctx.Done():
		return protocol.WelcomeMsg{}, ctx.Err()
	case <-w.stop:
		return protocol.WelcomeMsg{}, ErrWorldStopped
	}
}

// Deliver routes an inbound CONV message from agentID to its open conversation.
// It reports false when the message was dropped.
func (w *World) Deliver(agentID string, msg protocol.ConvMsg) bool {
	return w.convs.deliver(agentID, msg)
}

// Disconnect ends every open conversation with the worker and removes it at
// the next step boundary.
func (w *World) Disconnect(agentID string) {
	w.mu.RLock()
	ws := w.workers[agentID]
	w.mu.RUnlock()
	if ws != nil {
		ws.gone.Store(true)
	}
	w.convs.abortAgent(agentID)
	select {
	case w.leave <- agentID:
	case <-w.stop:
	}
}

// Positions returns the coordinator's recorded position of every worker.
func (w *World) Positions() map[string]grid.Pos {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]grid.Pos, len(w.workers))
	for id, ws := range w.workers {
		out[id] = ws.Pos
	}
	return out
}

func (w *World) workerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.workers)
}

func (w *World) worker(id string) *workerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.workers[id]
}

func (w *World) setPos(id string, p grid.Pos) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ws := w.workers[id]; ws != nil {
		ws.Pos = p
		ws.Pending = nil
	}
}

// participants returns the registered workers sorted by agent id.
func (w *World) participants() []*workerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*workerState, 0, len(w.workers))
	for _, ws := range w.workers {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) applyLeaves(leaves []string) []string {
	var removed []string
	w.mu.Lock()
	for _, id := range leaves {
		if _, ok := w.workers[id]; !ok {
			continue
		}
		delete(w.workers, id)
		removed = append(removed, id)
	}
	w.mu.Unlock()
	for _, id := range removed {
		w.convs.abortAgent(id)
		w.log.Info().Str("agent_id", id).Msg("worker left")
	}
	return removed
}

// applyJoins registers new workers. They take part from step firstStep on.
func (w *World) applyJoins(firstStep uint64, joins []JoinRequest) []RecordedJoin {
	var recorded []RecordedJoin
	for _, req := range joins {
		ws, err := w.register(req)
		if err != nil {
			w.log.Warn().Err(err).Str("name", req.Name).Msg("join rejected")
			respond(req, JoinResponse{Err: err})
			continue
		}
		recorded = append(recorded, RecordedJoin{AgentID: ws.ID, Name: ws.Name, Pos: ws.Pos.Wire()})
		respond(req, JoinResponse{Welcome: w.welcome(ws, firstStep)})
		w.log.Info().Str("agent_id", ws.ID).Str("name", ws.Name).Stringer("pos", ws.Pos).Msg("worker joined")
	}
	return recorded
}

func (w *World) register(req JoinRequest) (*workerState, error) {
	if req.Peer == nil {
		return nil, fmt.Errorf("world: join %q without peer", req.Name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.workers) >= w.cfg.MaxWorkers {
		return nil, ErrWorldFull
	}
	pos, err := w.spawnLocked()
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("A%d", w.nextAgentNum.Add(1))
	ws := &workerState{ID: id, Name: req.Name, Pos: pos, Peer: req.Peer}
	w.workers[id] = ws
	return ws, nil
}

// spawnLocked hands out configured spawns first, then the first free path cell in row-major order.
func (w *World) spawnLocked() (grid.Pos, error) {
	occupied := make(map[grid.Pos]bool, len(w.workers))
	for _, ws := range w.workers {
		occupied[ws.Pos] = true
	}
	for _, p := range w.cfg.Spawns {
		if !occupied[p] {
			return p, nil
		}
	}
	for _, c := range w.grid.CellsOfType(grid.CellPath) {
		if !occupied[c.Pos] {
			return c.Pos, nil
		}
	}
	return grid.Pos{}, ErrNoFreeCell
}

func (w *World) welcome(ws *workerState, step uint64) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         ws.ID,
		Pos:             ws.Pos.Wire(),
		Step:            step,
		Map: protocol.MapParams{
			Rows:   w.grid.Rows(),
			Cols:   w.grid.Cols(),
			Layout: w.grid.Layout(),
		},
		StepParams: protocol.StepParams{
			StepRateHz:    w.cfg.StepRateHz,
			StepTimeoutMS: int(w.cfg.StepTimeout / time.Millisecond),
		},
	}
}
