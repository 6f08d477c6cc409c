package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtocolOrder   = "E_PROTOCOL_ORDER"

	// Request content.
	ErrMalformedContent  = "E_MALFORMED_CONTENT"
	ErrUnreadableContent = "E_UNREADABLE_CONTENT"

	// Result phase.
	ErrApplyFailed = "E_APPLY_FAILED"
	ErrTimeout     = "E_TIMEOUT"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrProtocolOrder:     {},
	ErrMalformedContent:  {},
	ErrUnreadableContent: {},
	ErrApplyFailed:       {},
	ErrTimeout:           {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
