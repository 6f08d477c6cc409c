package protocol

import "encoding/json"

// HELLO (worker -> coordinator)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentName       string `json:"agent_name"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (coordinator -> worker)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentID         string     `json:"agent_id"`
	Pos             [2]int     `json:"pos"`
	Step            uint64     `json:"step"`
	Map             MapParams  `json:"map"`
	StepParams      StepParams `json:"step_params"`
}

type MapParams struct {
	Rows   int      `json:"rows"`
	Cols   int      `json:"cols"`
	Layout []string `json:"layout"`
}

type StepParams struct {
	StepRateHz    int `json:"step_rate_hz"`
	StepTimeoutMS int `json:"step_timeout_ms"`
}

// CONV carries one message of a request/response conversation.
// Replies keep the conversation id, step and agent id of the request.
type ConvMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ConversationID  string          `json:"conversation_id"`
	Performative    string          `json:"performative"`
	Step            uint64          `json:"step"`
	AgentID         string          `json:"agent_id"`
	Content         json.RawMessage `json:"content,omitempty"`
}

func NewRequest(convID string, step uint64, agentID string, req StepRequest) (ConvMsg, error) {
	content, err := EncodeStepRequest(req)
	if err != nil {
		return ConvMsg{}, err
	}
	return ConvMsg{
		Type:            TypeConv,
		ProtocolVersion: Version,
		ConversationID:  convID,
		Performative:    Request,
		Step:            step,
		AgentID:         agentID,
		Content:         content,
	}, nil
}

// Reply builds a message in the same conversation. A nil content leaves the body empty.
func (m ConvMsg) Reply(performative string, content any) (ConvMsg, error) {
	r := ConvMsg{
		Type:            TypeConv,
		ProtocolVersion: Version,
		ConversationID:  m.ConversationID,
		Performative:    performative,
		Step:            m.Step,
		AgentID:         m.AgentID,
	}
	if content == nil {
		return r, nil
	}
	b, err := json.Marshal(content)
	if err != nil {
		return ConvMsg{}, err
	}
	r.Content = b
	return r, nil
}

// FailureReply always succeeds: the payload is a fixed shape of two strings.
func (m ConvMsg) FailureReply(code, message string) ConvMsg {
	r, err := m.Reply(Failure, FailureContent{Code: code, Message: message})
	if err != nil {
		r, _ = m.Reply(Failure, nil)
	}
	return r
}

type FailureContent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Movement statuses and kinds on the wire.
const (
	StatusProposed = "PROPOSED"
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"

	MoveNormal  = "NORMAL"
	MoveDig     = "DIG"
	MoveDropOff = "DROP_OFF"
)

type MovementMsg struct {
	AgentID string `json:"agent_id"`
	From    [2]int `json:"from"`
	To      [2]int `json:"to"`
	Status  string `json:"status"`
	Kind    string `json:"kind"`
}

// INFORM payload answering NEW_STEP.
type ProposalResult struct {
	Movement MovementMsg `json:"movement"`
}

// INFORM payload answering APPLY_MOVEMENT.
type ApplyResult struct {
	AgentID  string `json:"agent_id"`
	Pos      [2]int `json:"pos"`
	Accepted bool   `json:"accepted"`
}
