// Package listener owns the accept loop shared by every honeypot. Admission
// (ban check, connection cap) happens before a single protocol byte is
// written, so a scanner cannot amplify resource cost via banner waits.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

// Dialog drives one accepted connection. Implementations absorb expected
// peer misbehavior (malformed frames, short reads, timeouts) and return an
// error only for local logic failures; the supervisor turns such an error
// into an "error" event and closes the session either way.
type Dialog interface {
	Serve(ctx context.Context, conn net.Conn, sess *session.Context) error
}

// Supervisor accepts connections for one listener and hands each to a fresh
// dialog goroutine. All fields must be set before ListenAndServe.
type Supervisor struct {
	// Name labels the listener in logs and metrics ("ssh", "http", ...).
	Name string
	// Host and Port form the bind address.
	Host string
	Port int
	// MaxConns caps concurrent sessions. Zero means uncapped.
	MaxConns int
	// Dialog handles each admitted connection.
	Dialog Dialog
	// Bans is consulted on every accept when non-nil. Banned peers are
	// closed with no bytes sent.
	Bans *session.BanTable
	// Sink receives lifecycle and session events.
	Sink *event.Sink
	// Counters is this listener's metric block.
	Counters *metrics.Counters
	// AcceptRate gates new connections per second. Zero means unlimited.
	AcceptRate rate.Limit
	// Log is the operational logger.
	Log zerolog.Logger

	limiter *rate.Limiter

	mu    sync.Mutex
	bound net.Addr
}

// BoundAddr returns the listening address once ListenAndServe has bound it,
// which is how tests bind port 0 and learn the port the OS picked.
func (s *Supervisor) BoundAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// ListenAndServe binds the listening socket and runs the accept loop until
// ctx is cancelled. A bind failure is fatal and returned to the caller;
// transient accept errors are absorbed.
func (s *Supervisor) ListenAndServe(ctx context.Context) error {
	rl := s.AcceptRate
	if rl == 0 {
		rl = rate.Inf
	}
	burst := 1
	if rl != rate.Inf {
		burst = int(rl) + 1
	}
	s.limiter = rate.NewLimiter(rl, burst)

	addr := net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listener %s: bind %s: %w", s.Name, addr, err)
	}
	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()
	s.Log.Info().Str("listener", s.Name).Str("addr", addr).Int("max_connections", s.MaxConns).Msg("listening")

	now := time.Now().UTC()
	s.Sink.Emit(&event.Notice{
		Meta: event.NewMeta(event.TypeServerStarted, s.Host, s.Port, session.DeriveID(s.Host, s.Port, now)),
		Detail: map[string]any{
			"listener":        s.Name,
			"max_connections": s.MaxConns,
		},
	})

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.Debug().Err(err).Str("listener", s.Name).Msg("accept error")
			continue
		}
		s.admit(ctx, conn)
	}
}

// admit applies the admission policy and dispatches the connection. Order is
// significant: rate gate, ban check, connection cap, then protocol I/O.
func (s *Supervisor) admit(ctx context.Context, conn net.Conn) {
	if !s.limiter.Allow() {
		_ = conn.Close()
		return
	}

	sess := session.New(conn)

	if s.Bans != nil && s.Bans.Banned(sess.SourceIP) {
		_ = conn.Close()
		return
	}

	if s.MaxConns > 0 && s.Counters.ActiveConnections.Load() >= int64(s.MaxConns) {
		_ = conn.Close()
		return
	}

	s.Counters.ActiveConnections.Add(1)
	s.Counters.TotalConnections.Add(1)

	s.Sink.Emit(&event.Notice{
		Meta:   event.NewMeta(event.TypeConnOpened, sess.SourceIP, sess.SourcePort, sess.ID),
		Detail: map[string]any{"listener": s.Name},
	})

	go s.serve(ctx, conn, sess)
}

// serve runs one dialog to completion. Every exit path decrements the active
// counter and emits exactly one connection_closed.
func (s *Supervisor) serve(ctx context.Context, conn net.Conn, sess *session.Context) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	defer func() {
		if r := recover(); r != nil {
			s.Sink.Emit(&event.Notice{
				Meta:   event.NewMeta(event.TypeError, sess.SourceIP, sess.SourcePort, sess.ID),
				Detail: map[string]any{"listener": s.Name, "error": fmt.Sprint(r)},
			})
			s.Log.Error().Str("listener", s.Name).Str("session_id", sess.ID).Interface("panic", r).Msg("dialog panic")
		}
		stop()
		_ = conn.Close()
		s.Counters.ActiveConnections.Add(-1)
		s.Sink.Emit(&event.Notice{
			Meta:   event.NewMeta(event.TypeConnClosed, sess.SourceIP, sess.SourcePort, sess.ID),
			Detail: map[string]any{"listener": s.Name},
		})
	}()

	if err := s.Dialog.Serve(ctx, conn, sess); err != nil {
		s.Sink.Emit(&event.Notice{
			Meta:   event.NewMeta(event.TypeError, sess.SourceIP, sess.SourcePort, sess.ID),
			Detail: map[string]any{"listener": s.Name, "error": err.Error()},
		})
		s.Log.Debug().Err(err).Str("listener", s.Name).Str("session_id", sess.ID).Msg("dialog error")
	}
}
