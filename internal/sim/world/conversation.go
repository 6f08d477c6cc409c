package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"gridworld.ai/internal/protocol"
)

var (
	ErrConversationTimeout = errors.New("world: conversation timed out")
	ErrWorkerGone          = errors.New("world: worker disconnected")
	ErrProtocolOrder       = errors.New("world: conversation out of order")
)

// RefusedError is a FAILURE received from a worker.
type RefusedError struct {
	Code    string
	Message string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("worker refused: %s %s", e.Code, e.Message)
}

type conversation struct {
	id      string
	agentID string
	ch      chan protocol.ConvMsg
	gone    chan struct{}
	once    sync.Once
}

func (c *conversation) abort() { c.once.Do(func() { close(c.gone) }) }

// conversations routes inbound CONV messages to the open conversation with
// the same id. Messages for unknown ids or from the wrong worker are dropped.
type conversations struct {
	mu      sync.Mutex
	byID    map[string]*conversation
	dropped atomic.Uint64
}

func newConversations() *conversations {
	return &conversations{byID: map[string]*conversation{}}
}

func (t *conversations) open(agentID string) *conversation {
	c := &conversation{
		id:      uuid.NewString(),
		agentID: agentID,
		// Request -> Agree -> Inform is at most two replies; the slack absorbs a misbehaving peer.
		ch:   make(chan protocol.ConvMsg, 4),
		gone: make(chan struct{}),
	}
	t.mu.Lock()
	t.byID[c.id] = c
	t.mu.Unlock()
	return c
}

func (t *conversations) close(c *conversation) {
	t.mu.Lock()
	delete(t.byID, c.id)
	t.mu.Unlock()
}

func (t *conversations) deliver(agentID string, msg protocol.ConvMsg) bool {
	t.mu.Lock()
	c := t.byID[msg.ConversationID]
	t.mu.Unlock()
	if c == nil || c.agentID != agentID {
		t.dropped.Add(1)
		return false
	}
	select {
	case c.ch <- msg:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

func (t *conversations) abortAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byID {
		if c.agentID == agentID {
			c.abort()
		}
	}
}

func (t *conversations) droppedTotal() uint64 { return t.dropped.Load() }

// converse runs one request/response conversation with a worker and returns
// its terminal INFORM. AGREE must precede INFORM; FAILURE ends the conversation.
func (w *World) converse(ctx context.Context, ws *workerState, step uint64, sr protocol.StepRequest) (protocol.ConvMsg, error) {
	c := w.convs.open(ws.ID)
	defer w.convs.close(c)
	if ws.gone.Load() {
		return protocol.ConvMsg{}, fmt.Errorf("%w: %s", ErrWorkerGone, ws.ID)
	}

	req, err := protocol.NewRequest(c.id, step, ws.ID, sr)
	if err != nil {
		return protocol.ConvMsg{}, err
	}
	if err := ws.Peer.Send(req); err != nil {
		return protocol.ConvMsg{}, fmt.Errorf("send %s to %s: %w", sr.Kind, ws.ID, err)
	}

	agreed := false
	for {
		select {
		case <-ctx.Done():
			return protocol.ConvMsg{}, fmt.Errorf("%w: %s agreed=%v: %v", ErrConversationTimeout, ws.ID, agreed, ctx.Err())
		case <-c.gone:
			return protocol.ConvMsg{}, fmt.Errorf("%w: %s", ErrWorkerGone, ws.ID)
		case m := <-c.ch:
			switch m.Performative {
			case protocol.Agree:
				if agreed {
					return protocol.ConvMsg{}, fmt.Errorf("%w: duplicate AGREE from %s", ErrProtocolOrder, ws.ID)
				}
				agreed = true
			case protocol.Failure:
				var fc protocol.FailureContent
				_ = decodeContent(m, &fc)
				return m, &RefusedError{Code: fc.Code, Message: fc.Message}
			case protocol.Inform:
				if !agreed {
					return protocol.ConvMsg{}, fmt.Errorf("%w: INFORM before AGREE from %s", ErrProtocolOrder, ws.ID)
				}
				return m, nil
			default:
				return protocol.ConvMsg{}, fmt.Errorf("%w: unexpected %s from %s", ErrProtocolOrder, m.Performative, ws.ID)
			}
		}
	}
}
