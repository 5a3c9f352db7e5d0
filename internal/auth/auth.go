// Package auth builds and verifies Omega logon credentials using
// HMAC-SHA256 signatures over a client id, a one-time nonce, and a
// millisecond timestamp.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBadSignature rejects a logon payload whose signature or timestamp does
// not check out.
var ErrBadSignature = errors.New("auth: bad logon signature")

const payloadVersion = "v1"

// Credentials identify a client to the Omega counterparty.
type Credentials struct {
	ClientID string // client id assigned by the counterparty
	Secret   string // shared secret used for HMAC signing
}

// LoadCredentials reads the shared secret from a file, trimming whitespace.
func LoadCredentials(clientID, secretPath string) (Credentials, error) {
	if clientID == "" {
		return Credentials{}, fmt.Errorf("auth: client id is required")
	}
	if secretPath == "" {
		return Credentials{}, fmt.Errorf("auth: secret path is required")
	}

	data, err := os.ReadFile(secretPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return Credentials{}, fmt.Errorf("auth: secret file %s is empty", secretPath)
	}

	return Credentials{ClientID: clientID, Secret: secret}, nil
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("auth: client id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("auth: secret is required")
	}
	return nil
}

// BuildLogonPayload produces the Logon envelope payload:
//
//	v1:<client_id>:<nonce>:<unix_millis>:<hex hmac>
func BuildLogonPayload(creds Credentials, now time.Time) []byte {
	nonce := uuid.NewString()
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	sig := sign(creds.Secret, creds.ClientID, nonce, millis)
	return []byte(strings.Join([]string{payloadVersion, creds.ClientID, nonce, millis, sig}, ":"))
}

// VerifyLogonPayload checks a logon payload against the secret for its
// client id and returns the client id on success. secretFor reports whether
// the client is known. Timestamps further than skew from now are rejected;
// skew 0 disables the check.
func VerifyLogonPayload(
	payload []byte,
	secretFor func(clientID string) (string, bool),
	skew time.Duration,
	now time.Time,
) (string, error) {
	parts := strings.Split(string(payload), ":")
	if len(parts) != 5 || parts[0] != payloadVersion {
		return "", fmt.Errorf("%w: malformed payload", ErrBadSignature)
	}
	clientID, nonce, millis, sig := parts[1], parts[2], parts[3], parts[4]

	secret, ok := secretFor(clientID)
	if !ok {
		return "", fmt.Errorf("%w: unknown client %q", ErrBadSignature, clientID)
	}

	ts, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if skew > 0 {
		drift := now.Sub(time.UnixMilli(ts))
		if drift < -skew || drift > skew {
			return "", fmt.Errorf("%w: timestamp outside allowed skew", ErrBadSignature)
		}
	}

	want := sign(secret, clientID, nonce, millis)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrBadSignature)
	}
	return clientID, nil
}

func sign(secret, clientID, nonce, millis string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clientID))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(millis))
	return hex.EncodeToString(mac.Sum(nil))
}
