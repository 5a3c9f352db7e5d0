package connection

import "errors"

var (
	// ErrNotConnected rejects operations attempted outside an active session.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrAlreadyActive rejects Start on a manager that is not disconnected.
	ErrAlreadyActive = errors.New("connection: already active")

	// ErrConnectionLost resolves pending requests when the transport fails or
	// the heartbeat miss threshold is exceeded.
	ErrConnectionLost = errors.New("connection: connection lost")

	// ErrSessionClosed resolves pending requests during a graceful logoff.
	ErrSessionClosed = errors.New("connection: session closed")

	// ErrSessionRejected means the counterparty explicitly denied a Logon or
	// SessionRefresh. Fatal to the session.
	ErrSessionRejected = errors.New("connection: session rejected")

	// ErrRejected is returned alongside the reject envelope when the
	// counterparty answers a request with a Reject.
	ErrRejected = errors.New("connection: request rejected")
)
