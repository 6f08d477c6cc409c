package protocol_test

import (
	"encoding/json"
	"testing"

	"gridworld.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	req, err := protocol.NewRequest("c1", 3, "A1", protocol.NewStep())
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, _ := json.Marshal(req)
	if err := protocol.ValidateConv(b); err != nil {
		t.Fatalf("validate request: %v", err)
	}

	agree, err := req.Reply(protocol.Agree, nil)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	b, _ = json.Marshal(agree)
	if err := protocol.ValidateConv(b); err != nil {
		t.Fatalf("validate agree: %v", err)
	}

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "bot"}
	b, _ = json.Marshal(hello)
	if err := protocol.ValidateHello(b); err != nil {
		t.Fatalf("validate hello: %v", err)
	}
}

func TestSchemas_RejectBrokenEnvelope(t *testing.T) {
	bad := []string{
		`{"type":"CONV","protocol_version":"1.0","conversation_id":"","performative":"REQUEST","step":0,"agent_id":"A1"}`,
		`{"type":"CONV","protocol_version":"1.0","conversation_id":"c1","performative":"PROPOSE","step":0,"agent_id":"A1"}`,
		`{"type":"CONV","protocol_version":"1.0","conversation_id":"c1","performative":"REQUEST","step":-1,"agent_id":"A1"}`,
		`{"type":"CONV","protocol_version":"1.0","performative":"REQUEST","step":0,"agent_id":"A1"}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := protocol.ValidateConv([]byte(raw)); err == nil {
			t.Fatalf("expected schema failure for %s", raw)
		}
	}
}
