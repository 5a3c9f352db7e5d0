// Command omegasim is a standalone Omega gateway simulator. It accepts
// websocket connections, verifies logons, grants short-lived sessions,
// echoes heartbeats, renews sessions, acknowledges requests, and pushes
// synthetic fills. Useful for exercising clients without a real gateway.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fund3/omega-go/internal/auth"
	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
	"github.com/fund3/omega-go/internal/version"
)

func main() {
	listenAddr := flag.String("listen", ":8474", "address to listen on")
	clientID := flag.String("client-id", "client-1", "client id to accept")
	secretPath := flag.String("secret", "", "path to the shared secret file (required)")
	sessionTTL := flag.Duration("session-ttl", 2*time.Minute, "lifetime of granted sessions")
	fillInterval := flag.Duration("fill-interval", 0, "push a synthetic fill at this interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting omegasim",
		"version", version.Version,
		"commit", version.Commit,
		"listen", *listenAddr,
	)

	if *secretPath == "" {
		logger.Error("missing required -secret flag")
		os.Exit(1)
	}
	creds, err := auth.LoadCredentials(*clientID, *secretPath)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	gw := &gateway{
		logger:       logger,
		sessionTTL:   *sessionTTL,
		fillInterval: *fillInterval,
		secrets:      map[string]string{creds.ClientID: creds.Secret},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1", gw.handleUpgrade)

	logger.Info("omegasim listening", "address", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		logger.Error("listener failed", "error", err)
		os.Exit(1)
	}
}

// gateway holds simulator-wide state shared across connections.
type gateway struct {
	logger       *slog.Logger
	sessionTTL   time.Duration
	fillInterval time.Duration

	secrets map[string]string

	sessionSeq atomic.Int64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (g *gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := transport.WrapWebsocket(ws, 10*time.Second)
	sess := &simSession{
		gw:     g,
		conn:   conn,
		codec:  protocol.WireCodec{},
		logger: g.logger.With("remote", r.RemoteAddr),
	}
	go sess.run()
}

// simSession serves one client connection from logon to disconnect.
type simSession struct {
	gw     *gateway
	conn   transport.Conn
	codec  protocol.WireCodec
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	expiresAt time.Time

	fillStop chan struct{}
}

func (s *simSession) run() {
	defer s.conn.Close()
	defer s.stopFills()

	for {
		frame, err := s.conn.Receive()
		if err != nil {
			s.logger.Info("connection closed", "error", err)
			return
		}
		env, err := s.codec.Decode(frame)
		if err != nil {
			s.logger.Warn("undecodable frame, dropping connection", "error", err)
			return
		}
		s.handle(env)
	}
}

func (s *simSession) handle(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindLogon:
		s.handleLogon(env)

	case protocol.KindHeartbeat:
		s.send(protocol.Envelope{Kind: protocol.KindHeartbeat, SessionID: env.SessionID})

	case protocol.KindSessionRefresh:
		s.handleRefresh(env)

	case protocol.KindRequest:
		if env.CorrelationID == 0 {
			s.logger.Debug("fire-and-forget request", "bytes", len(env.Payload))
			return
		}
		s.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     env.SessionID,
			Payload:       append([]byte("ack:"), env.Payload...),
		})

	case protocol.KindLogoff:
		s.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     env.SessionID,
		})
		s.logger.Info("client logged off", "session_id", env.SessionID)

	default:
		s.logger.Warn("unexpected kind from client", "kind", env.Kind.String())
	}
}

func (s *simSession) handleLogon(env protocol.Envelope) {
	clientID, err := auth.VerifyLogonPayload(env.Payload, func(id string) (string, bool) {
		secret, ok := s.gw.secrets[id]
		return secret, ok
	}, time.Minute, time.Now())
	if err != nil {
		s.logger.Warn("logon rejected", "error", err)
		s.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindReject,
			Payload:       []byte(err.Error()),
		})
		return
	}

	sessionID := "sim-" + strconv.FormatInt(s.gw.sessionSeq.Add(1), 10)
	expiresAt := time.Now().Add(s.gw.sessionTTL)

	s.mu.Lock()
	s.sessionID = sessionID
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.send(protocol.Envelope{
		CorrelationID: env.CorrelationID,
		Kind:          protocol.KindResponse,
		SessionID:     sessionID,
		Payload:       protocol.EncodeGrant(protocol.Grant{SessionID: sessionID, ExpiresAt: expiresAt}),
	})
	s.logger.Info("session granted",
		"client_id", clientID,
		"session_id", sessionID,
		"expires_at", expiresAt,
	)

	s.startFills(sessionID)
}

func (s *simSession) handleRefresh(env protocol.Envelope) {
	s.mu.Lock()
	known := s.sessionID != "" && s.sessionID == env.SessionID
	if known {
		s.expiresAt = time.Now().Add(s.gw.sessionTTL)
	}
	sessionID, expiresAt := s.sessionID, s.expiresAt
	s.mu.Unlock()

	if !known {
		s.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindReject,
			SessionID:     env.SessionID,
			Payload:       []byte(fmt.Sprintf("unknown session %q", env.SessionID)),
		})
		return
	}

	s.send(protocol.Envelope{
		CorrelationID: env.CorrelationID,
		Kind:          protocol.KindResponse,
		SessionID:     sessionID,
		Payload:       protocol.EncodeGrant(protocol.Grant{SessionID: sessionID, ExpiresAt: expiresAt}),
	})
	s.logger.Debug("session refreshed", "session_id", sessionID, "expires_at", expiresAt)
}

// startFills pushes synthetic fills on the configured interval.
func (s *simSession) startFills(sessionID string) {
	if s.gw.fillInterval <= 0 {
		return
	}
	s.stopFills()

	stop := make(chan struct{})
	s.mu.Lock()
	s.fillStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.gw.fillInterval)
		defer ticker.Stop()
		seq := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				seq++
				s.send(protocol.Envelope{
					Kind:      protocol.KindFill,
					SessionID: sessionID,
					Payload:   []byte(fmt.Sprintf("fill %d 10@%d", seq, 40+seq%10)),
				})
			}
		}
	}()
}

func (s *simSession) stopFills() {
	s.mu.Lock()
	stop := s.fillStop
	s.fillStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (s *simSession) send(env protocol.Envelope) {
	frame, err := s.codec.Encode(env)
	if err != nil {
		s.logger.Error("encode failed", "kind", env.Kind.String(), "error", err)
		return
	}
	if err := s.conn.Send(frame); err != nil {
		s.logger.Debug("send failed", "kind", env.Kind.String(), "error", err)
	}
}
