package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NewStepMarker is the literal content of a NEW_STEP request.
const NewStepMarker = "NEW_STEP"

type StepRequestKind string

const (
	KindNewStep       StepRequestKind = "NEW_STEP"
	KindApplyMovement StepRequestKind = "APPLY_MOVEMENT"
)

// StepRequest is the tagged content of a REQUEST: either the NEW_STEP marker
// or an APPLY_MOVEMENT carrying a finalized movement.
type StepRequest struct {
	Kind     StepRequestKind
	Movement *MovementMsg
}

func NewStep() StepRequest { return StepRequest{Kind: KindNewStep} }

func ApplyMovement(m MovementMsg) StepRequest {
	return StepRequest{Kind: KindApplyMovement, Movement: &m}
}

type stepRequestWire struct {
	Kind     string       `json:"kind"`
	Movement *MovementMsg `json:"movement,omitempty"`
}

// ContentError reports why request content could not be dispatched.
type ContentError struct {
	Code    string
	Message string
}

func (e *ContentError) Error() string { return e.Code + ": " + e.Message }

func malformed(format string, args ...any) error {
	return &ContentError{Code: ErrMalformedContent, Message: fmt.Sprintf(format, args...)}
}

func unreadable(format string, args ...any) error {
	return &ContentError{Code: ErrUnreadableContent, Message: fmt.Sprintf(format, args...)}
}

func EncodeStepRequest(r StepRequest) (json.RawMessage, error) {
	switch r.Kind {
	case KindNewStep:
		return json.Marshal(NewStepMarker)
	case KindApplyMovement:
		if r.Movement == nil {
			return nil, fmt.Errorf("apply request without movement")
		}
		return json.Marshal(stepRequestWire{Kind: string(KindApplyMovement), Movement: r.Movement})
	default:
		return nil, fmt.Errorf("unknown step request kind %q", r.Kind)
	}
}

// DecodeStepRequest dispatches on content: the literal marker is checked first,
// then the structured payload. Errors are always *ContentError.
func DecodeStepRequest(content json.RawMessage) (StepRequest, error) {
	raw := bytes.TrimSpace(content)
	if len(raw) == 0 {
		return StepRequest{}, malformed("empty content")
	}
	if !json.Valid(raw) {
		return StepRequest{}, unreadable("content is not valid json")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return StepRequest{}, unreadable("content string: %v", err)
		}
		if s == NewStepMarker {
			return NewStep(), nil
		}
		return StepRequest{}, malformed("unexpected marker %q", s)
	}
	if raw[0] != '{' {
		return StepRequest{}, malformed("content is neither marker nor object")
	}

	var w stepRequestWire
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return StepRequest{}, unreadable("structured content: %v", err)
	}
	switch StepRequestKind(w.Kind) {
	case KindNewStep:
		// The marker has exactly one encoding, the JSON string.
		return StepRequest{}, malformed("%s is only valid as the literal marker", w.Kind)
	case KindApplyMovement:
		if w.Movement == nil {
			return StepRequest{}, unreadable("apply request without movement")
		}
		if err := CheckMovement(*w.Movement); err != nil {
			return StepRequest{}, unreadable("%v", err)
		}
		return ApplyMovement(*w.Movement), nil
	default:
		return StepRequest{}, malformed("unknown request kind %q", w.Kind)
	}
}

// CheckMovement validates the wire shape of a movement.
func CheckMovement(m MovementMsg) error {
	if strings.TrimSpace(m.AgentID) == "" {
		return fmt.Errorf("movement missing agent_id")
	}
	switch m.Status {
	case StatusProposed, StatusAccepted, StatusRejected:
	default:
		return fmt.Errorf("movement has unknown status %q", m.Status)
	}
	switch m.Kind {
	case MoveNormal, MoveDig, MoveDropOff:
	default:
		return fmt.Errorf("movement has unknown kind %q", m.Kind)
	}
	return nil
}

// CodeOf returns the protocol code for err, or E_INTERNAL.
func CodeOf(err error) string {
	var ce *ContentError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
