// Package movement defines the per-step movement record exchanged between
// the coordinator and its workers.
package movement

import (
	"errors"
	"fmt"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/grid"
)

type Status string

const (
	Proposed Status = protocol.StatusProposed
	Accepted Status = protocol.StatusAccepted
	Rejected Status = protocol.StatusRejected
)

type Kind string

const (
	Normal  Kind = protocol.MoveNormal
	Dig     Kind = protocol.MoveDig
	DropOff Kind = protocol.MoveDropOff
)

var (
	ErrSourceMismatch = errors.New("movement: source is not the recorded position")
	ErrNotAdjacent    = errors.New("movement: destination is not adjacent to source")
	ErrBadStatus      = errors.New("movement: record is not a proposal")
)

// Record is one agent's movement for one step. It is a value: create it
// fresh every step and drop it once the step is over.
type Record struct {
	AgentID string
	From    grid.Pos
	To      grid.Pos
	Status  Status
	Kind    Kind
}

func NewProposal(agentID string, from, to grid.Pos, kind Kind) Record {
	if kind == "" {
		kind = Normal
	}
	return Record{AgentID: agentID, From: from, To: to, Status: Proposed, Kind: kind}
}

func (r Record) Accept() Record {
	r.Status = Accepted
	return r
}

func (r Record) Reject() Record {
	r.Status = Rejected
	return r
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s->%s %s/%s", r.AgentID, r.From, r.To, r.Kind, r.Status)
}

// Validate checks a proposal against the agent's recorded position and the path graph.
func Validate(r Record, recorded grid.Pos, g *grid.Graph) error {
	if r.Status != Proposed {
		return fmt.Errorf("%w: %s", ErrBadStatus, r.Status)
	}
	if r.From != recorded {
		return fmt.Errorf("%w: from=%s recorded=%s", ErrSourceMismatch, r.From, recorded)
	}
	if !g.Adjacent(r.From, r.To) {
		return fmt.Errorf("%w: %s->%s", ErrNotAdjacent, r.From, r.To)
	}
	return nil
}

func (r Record) ToMsg() protocol.MovementMsg {
	return protocol.MovementMsg{
		AgentID: r.AgentID,
		From:    r.From.Wire(),
		To:      r.To.Wire(),
		Status:  string(r.Status),
		Kind:    string(r.Kind),
	}
}

func FromMsg(m protocol.MovementMsg) (Record, error) {
	if err := protocol.CheckMovement(m); err != nil {
		return Record{}, err
	}
	return Record{
		AgentID: m.AgentID,
		From:    grid.FromWire(m.From),
		To:      grid.FromWire(m.To),
		Status:  Status(m.Status),
		Kind:    Kind(m.Kind),
	}, nil
}
