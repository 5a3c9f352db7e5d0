package protocol

// MessageKind identifies what an envelope carries.
type MessageKind uint8

const (
	KindUnknown MessageKind = iota
	KindLogon
	KindLogoff
	KindHeartbeat
	KindSessionRefresh
	KindRequest
	KindResponse
	KindReject
	KindFill
	KindSystemEvent
)

// String returns the lowercase wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case KindLogon:
		return "logon"
	case KindLogoff:
		return "logoff"
	case KindHeartbeat:
		return "heartbeat"
	case KindSessionRefresh:
		return "session_refresh"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindReject:
		return "reject"
	case KindFill:
		return "fill"
	case KindSystemEvent:
		return "system_event"
	default:
		return "unknown"
	}
}

// Correlated reports whether envelopes of this kind answer a pending request.
func (k MessageKind) Correlated() bool {
	return k == KindResponse || k == KindReject
}

// Unsolicited reports whether envelopes of this kind arrive without a
// matching outstanding request. Unknown kinds are treated as unsolicited so
// a newer counterparty cannot kill the session by pushing a kind this
// client predates.
func (k MessageKind) Unsolicited() bool {
	switch k {
	case KindFill, KindSystemEvent:
		return true
	case KindLogon, KindLogoff, KindHeartbeat, KindSessionRefresh,
		KindRequest, KindResponse, KindReject:
		return false
	}
	return true
}

// Envelope is the transport-level wrapper around a business message.
type Envelope struct {
	CorrelationID uint64
	Kind          MessageKind
	SessionID     string
	Payload       []byte
}
