// Package agent is the worker side of the step negotiation: it answers the
// coordinator's NEW_STEP and APPLY_MOVEMENT requests on behalf of one agent.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/movement"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingDecision
	StateAgreed
	StateRefused
	StateNotificationSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingDecision:
		return "AWAITING_DECISION"
	case StateAgreed:
		return "AGREED"
	case StateRefused:
		return "REFUSED"
	case StateNotificationSent:
		return "NOTIFICATION_SENT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Planner is the owning agent's hook pair, implemented by Worker.
type Planner interface {
	ProposeNextMovement(step uint64) (movement.Record, error)
	ApplyMovement(rec movement.Record) (protocol.ApplyResult, error)
}

// Responder handles one conversation at a time: Respond is the request phase,
// Notify the result phase. It is safe to call from one goroutine per worker;
// the mutex only guards State readers.
type Responder struct {
	planner Planner
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	pending protocol.StepRequest
	convID  string
}

func NewResponder(p Planner, logger zerolog.Logger) *Responder {
	return &Responder{planner: p, log: logger}
}

func (r *Responder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Responder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Respond decides AGREE or FAILURE from the request content alone.
func (r *Responder) Respond(req protocol.ConvMsg) (resp protocol.ConvMsg) {
	r.setState(StateAwaitingDecision)
	r.convID = req.ConversationID
	r.pending = protocol.StepRequest{}

	defer func() {
		if p := recover(); p != nil {
			r.setState(StateRefused)
			r.log.Error().Str("conv", req.ConversationID).Interface("panic", p).Msg("request phase panicked")
			resp = req.FailureReply(protocol.ErrInternal, "request handling failed")
		}
	}()

	r.log.Info().Str("conv", req.ConversationID).Uint64("step", req.Step).Msg("request received")
	if req.Performative != protocol.Request {
		r.setState(StateRefused)
		return req.FailureReply(protocol.ErrProtocolOrder, "expected REQUEST, got "+req.Performative)
	}

	sr, err := protocol.DecodeStepRequest(req.Content)
	if err != nil {
		r.setState(StateRefused)
		r.log.Warn().Str("conv", req.ConversationID).Err(err).Msg("request refused")
		return req.FailureReply(protocol.CodeOf(err), err.Error())
	}
	switch sr.Kind {
	case protocol.KindNewStep:
		r.log.Info().Str("conv", req.ConversationID).Msg("NEW_STEP request agreed")
	case protocol.KindApplyMovement:
		r.log.Info().Str("conv", req.ConversationID).Msg("APPLY_MOVEMENT request agreed")
	}
	r.pending = sr
	r.setState(StateAgreed)
	agree, _ := req.Reply(protocol.Agree, nil)
	return agree
}

// Notify produces the result notification. It returns false when the request
// was refused: nothing may follow a FAILURE. Any error while preparing the
// result becomes a terminal FAILURE instead of silence.
func (r *Responder) Notify(req protocol.ConvMsg) (protocol.ConvMsg, bool) {
	if r.State() != StateAgreed || r.convID != req.ConversationID {
		return protocol.ConvMsg{}, false
	}
	defer r.setState(StateNotificationSent)

	out, err := r.result(req)
	if err != nil {
		r.log.Error().Str("conv", req.ConversationID).Err(err).Msg("result notification failed")
		return req.FailureReply(protocol.ErrApplyFailed, err.Error()), true
	}
	r.log.Info().Str("conv", req.ConversationID).Msg("INFORM prepared")
	return out, true
}

func (r *Responder) result(req protocol.ConvMsg) (out protocol.ConvMsg, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("result phase panicked: %v", p)
		}
	}()

	switch r.pending.Kind {
	case protocol.KindNewStep:
		rec, err := r.planner.ProposeNextMovement(req.Step)
		if err != nil {
			return protocol.ConvMsg{}, fmt.Errorf("propose: %w", err)
		}
		rec.Status = movement.Proposed
		return req.Reply(protocol.Inform, protocol.ProposalResult{Movement: rec.ToMsg()})
	case protocol.KindApplyMovement:
		rec, err := movement.FromMsg(*r.pending.Movement)
		if err != nil {
			return protocol.ConvMsg{}, fmt.Errorf("apply: %w", err)
		}
		res, err := r.planner.ApplyMovement(rec)
		if err != nil {
			return protocol.ConvMsg{}, fmt.Errorf("apply: %w", err)
		}
		return req.Reply(protocol.Inform, res)
	default:
		return protocol.ConvMsg{}, fmt.Errorf("no pending request")
	}
}

// Handle runs both phases of one conversation, sending each message in order.
func (r *Responder) Handle(ctx context.Context, req protocol.ConvMsg, send func(protocol.ConvMsg) error) error {
	defer r.setState(StateIdle)

	if err := send(r.Respond(req)); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, ok := r.Notify(req)
	if !ok {
		return nil
	}
	if err := send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
