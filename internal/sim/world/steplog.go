package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"

	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/movement"
)

type StepLogger interface {
	WriteStep(entry StepLogEntry) error
}

// StepLoggers fans one entry out to several sinks.
type StepLoggers []StepLogger

func (ls StepLoggers) WriteStep(entry StepLogEntry) error {
	var errs []error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.WriteStep(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StepLogEntry is one line of the step log. Replaying leaves, joins, resyncs
// and the applied movements in that order reproduces the positions behind Digest.
type StepLogEntry struct {
	Step        uint64             `json:"step"`
	Joins       []RecordedJoin     `json:"joins,omitempty"`
	Leaves      []string           `json:"leaves,omitempty"`
	Resyncs     []RecordedResync   `json:"resyncs,omitempty"`
	Movements   []RecordedMovement `json:"movements,omitempty"`
	Missing     []string           `json:"missing,omitempty"`
	Unconfirmed []string           `json:"unconfirmed,omitempty"`
	Stalled     bool               `json:"stalled,omitempty"`
	DurationMS  float64            `json:"duration_ms"`
	Digest      string             `json:"digest"`
}

type RecordedMovement struct {
	AgentID string `json:"agent_id"`
	From    [2]int `json:"from"`
	To      [2]int `json:"to"`
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Applied bool   `json:"applied,omitempty"`
}

type RecordedResync struct {
	AgentID string `json:"agent_id"`
	From    [2]int `json:"from"`
	To      [2]int `json:"to"`
}

func NewStepLogEntry(res StepResult) StepLogEntry {
	applied := make(map[string]bool, len(res.Applied))
	for _, r := range res.Applied {
		applied[r.AgentID] = true
	}
	e := StepLogEntry{
		Step:        res.Step,
		Joins:       res.Joins,
		Leaves:      res.Leaves,
		Missing:     res.Missing,
		Unconfirmed: res.Unconfirmed,
		Stalled:     res.Stalled,
		DurationMS:  float64(res.Duration.Microseconds()) / 1000.0,
		Digest:      res.Digest,
	}
	for _, rs := range res.Resyncs {
		e.Resyncs = append(e.Resyncs, RecordedResync{AgentID: rs.AgentID, From: rs.From.Wire(), To: rs.To.Wire()})
	}
	for _, r := range res.Movements {
		e.Movements = append(e.Movements, RecordedMovement{
			AgentID: r.AgentID,
			From:    r.From.Wire(),
			To:      r.To.Wire(),
			Status:  string(r.Status),
			Kind:    string(r.Kind),
			Applied: r.Status == movement.Accepted && applied[r.AgentID],
		})
	}
	return e
}

// PositionsDigest hashes the step number and every worker position in agent id order.
func PositionsDigest(step uint64, positions map[string]grid.Pos) string {
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], step)
	h.Write(tmp[:])

	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(id)))
		h.Write(tmp[:])
		h.Write([]byte(id))
		p := positions[id]
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(p.Row)))
		h.Write(tmp[:])
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(p.Col)))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
