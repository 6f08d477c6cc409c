package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeStepRequest_Marker(t *testing.T) {
	content, err := EncodeStepRequest(NewStep())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(content) != `"NEW_STEP"` {
		t.Fatalf("marker encoding = %s", content)
	}
	req, err := DecodeStepRequest(content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Kind != KindNewStep || req.Movement != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeStepRequest_ApplyMovement(t *testing.T) {
	m := MovementMsg{AgentID: "A1", From: [2]int{0, 0}, To: [2]int{0, 1}, Status: StatusAccepted, Kind: MoveNormal}
	content, err := EncodeStepRequest(ApplyMovement(m))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := DecodeStepRequest(content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Kind != KindApplyMovement || req.Movement == nil || *req.Movement != m {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeStepRequest_Failures(t *testing.T) {
	cases := []struct {
		content string
		code    string
	}{
		{``, ErrMalformedContent},
		{`"APPLY_STEP"`, ErrMalformedContent},
		{`42`, ErrMalformedContent},
		{`[1,2]`, ErrMalformedContent},
		{`null`, ErrMalformedContent},
		{`{"kind":"DANCE"}`, ErrMalformedContent},
		{`{"kind":"NEW_STEP"}`, ErrMalformedContent},
		{`{"kind":"NEW_STEP","movement":{"agent_id":"A1","status":"PROPOSED","kind":"NORMAL"}}`, ErrMalformedContent},
		{`{"kind":`, ErrUnreadableContent},
		{`{"kind":"APPLY_MOVEMENT"}`, ErrUnreadableContent},
		{`{"kind":"APPLY_MOVEMENT","movement":{"agent_id":"","status":"ACCEPTED","kind":"NORMAL"}}`, ErrUnreadableContent},
		{`{"kind":"APPLY_MOVEMENT","movement":{"agent_id":"A1","status":"MAYBE","kind":"NORMAL"}}`, ErrUnreadableContent},
		{`{"kind":"APPLY_MOVEMENT","movement":{"agent_id":"A1","status":"ACCEPTED","kind":"NORMAL"},"extra":1}`, ErrUnreadableContent},
		{`{"greeting":"hi"}`, ErrUnreadableContent},
	}
	for _, c := range cases {
		_, err := DecodeStepRequest(json.RawMessage(c.content))
		if err == nil {
			t.Fatalf("content %q: expected error", c.content)
		}
		var ce *ContentError
		if !errors.As(err, &ce) {
			t.Fatalf("content %q: expected *ContentError, got %T", c.content, err)
		}
		if ce.Code != c.code {
			t.Fatalf("content %q: code=%s want %s", c.content, ce.Code, c.code)
		}
		if CodeOf(err) != c.code {
			t.Fatalf("CodeOf mismatch for %q", c.content)
		}
	}
}

func TestReplyKeepsConversation(t *testing.T) {
	req, err := NewRequest("conv-9", 12, "A7", NewStep())
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	f := req.FailureReply(ErrMalformedContent, "nope")
	if f.ConversationID != "conv-9" || f.Step != 12 || f.AgentID != "A7" || f.Performative != Failure {
		t.Fatalf("unexpected failure reply: %+v", f)
	}
	var fc FailureContent
	if err := json.Unmarshal(f.Content, &fc); err != nil {
		t.Fatalf("unmarshal failure content: %v", err)
	}
	if fc.Code != ErrMalformedContent {
		t.Fatalf("code=%s", fc.Code)
	}
}
