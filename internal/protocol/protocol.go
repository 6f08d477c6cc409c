package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeConv    = "CONV"
)

// Performatives carried by CONV messages.
const (
	Request = "REQUEST"
	Agree   = "AGREE"
	Failure = "FAILURE"
	Inform  = "INFORM"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsPerformative(p string) bool {
	switch p {
	case Request, Agree, Failure, Inform:
		return true
	default:
		return false
	}
}
