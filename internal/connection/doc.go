// Package connection owns the Omega session lifecycle: the state machine
// from Disconnected through Active to LoggingOff, the socket read loop,
// heartbeat liveness, session renewal, and reconnection with backoff.
//
// Concurrency model:
//   - one read loop per live connection (sole reader of the socket)
//   - one heartbeat loop and one session refresher per live connection
//   - one deadline sweeper per manager lifetime
//   - any number of caller goroutines submitting through Sender
//
// All writes funnel through a single mutex-guarded path, and every pending
// request is resolved exactly once: by its response, its deadline, or the
// loss of the connection.
package connection
