package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec converts envelopes to and from wire frames. The transport delivers
// whole frames, so a codec never has to deal with partial reads.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(frame []byte) (Envelope, error)
}

// ErrDecode marks a malformed inbound frame. Protocol desync is not locally
// recoverable, so callers treat it as fatal to the current connection.
var ErrDecode = errors.New("protocol: decode error")

const (
	wireVersion = 1

	// version(1) + kind(1) + correlation(8) + session len(2) + payload len(4)
	headerLen = 16

	maxSessionIDLen = 1 << 10
	maxPayloadLen   = 1 << 24
)

// WireCodec is the binary envelope codec:
//
//	[0]     version
//	[1]     kind
//	[2:10]  correlation id, big endian
//	[10:12] session id length
//	[12:16] payload length
//	[16:]   session id bytes, then payload bytes
type WireCodec struct{}

func (WireCodec) Encode(env Envelope) ([]byte, error) {
	if len(env.SessionID) > maxSessionIDLen {
		return nil, fmt.Errorf("protocol: session id too long (%d bytes)", len(env.SessionID))
	}
	if len(env.Payload) > maxPayloadLen {
		return nil, fmt.Errorf("protocol: payload too long (%d bytes)", len(env.Payload))
	}

	frame := make([]byte, headerLen+len(env.SessionID)+len(env.Payload))
	frame[0] = wireVersion
	frame[1] = byte(env.Kind)
	binary.BigEndian.PutUint64(frame[2:10], env.CorrelationID)
	binary.BigEndian.PutUint16(frame[10:12], uint16(len(env.SessionID)))
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(env.Payload)))
	copy(frame[headerLen:], env.SessionID)
	copy(frame[headerLen+len(env.SessionID):], env.Payload)
	return frame, nil
}

func (WireCodec) Decode(frame []byte) (Envelope, error) {
	if len(frame) < headerLen {
		return Envelope{}, fmt.Errorf("%w: frame too short (%d bytes)", ErrDecode, len(frame))
	}
	if v := frame[0]; v != wireVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported wire version %d", ErrDecode, v)
	}

	sessLen := int(binary.BigEndian.Uint16(frame[10:12]))
	payloadLen := int(binary.BigEndian.Uint32(frame[12:16]))
	if payloadLen > maxPayloadLen {
		return Envelope{}, fmt.Errorf("%w: payload length %d exceeds limit", ErrDecode, payloadLen)
	}
	if len(frame) != headerLen+sessLen+payloadLen {
		return Envelope{}, fmt.Errorf("%w: frame length %d does not match header (session %d, payload %d)",
			ErrDecode, len(frame), sessLen, payloadLen)
	}

	env := Envelope{
		CorrelationID: binary.BigEndian.Uint64(frame[2:10]),
		Kind:          MessageKind(frame[1]),
		SessionID:     string(frame[headerLen : headerLen+sessLen]),
	}
	if payloadLen > 0 {
		env.Payload = make([]byte, payloadLen)
		copy(env.Payload, frame[headerLen+sessLen:])
	}
	return env, nil
}
