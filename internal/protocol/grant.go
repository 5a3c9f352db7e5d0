package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Grant is the payload of a Logon or SessionRefresh acknowledgement: the
// session token and the time the counterparty will let it live until.
type Grant struct {
	SessionID string
	ExpiresAt time.Time
}

// EncodeGrant packs a grant as expiry millis followed by the session id.
func EncodeGrant(g Grant) []byte {
	buf := make([]byte, 8+len(g.SessionID))
	binary.BigEndian.PutUint64(buf[:8], uint64(g.ExpiresAt.UnixMilli()))
	copy(buf[8:], g.SessionID)
	return buf
}

// DecodeGrant unpacks a grant payload.
func DecodeGrant(payload []byte) (Grant, error) {
	if len(payload) < 8 {
		return Grant{}, fmt.Errorf("%w: grant payload too short (%d bytes)", ErrDecode, len(payload))
	}
	millis := int64(binary.BigEndian.Uint64(payload[:8]))
	return Grant{
		SessionID: string(payload[8:]),
		ExpiresAt: time.UnixMilli(millis).UTC(),
	}, nil
}
