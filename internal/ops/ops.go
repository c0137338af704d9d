// Package ops exposes the in-process metrics accessor to operators: counter
// snapshots, the recent-event ring, and a live websocket feed. It binds to
// loopback by default and is never reachable through a honeypot port.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

// subscriberBuffer is the per-client queue depth for the live feed. A slow
// consumer loses records; it never slows a session down.
const subscriberBuffer = 64

// Server is the ops endpoint.
type Server struct {
	Registry *metrics.Registry
	Bans     *session.BanTable
	Buffer   *event.Buffer
	Log      zerolog.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan event.Record]struct{}
}

// NewServer wires the ops surface over the fleet's shared state.
func NewServer(reg *metrics.Registry, bans *session.BanTable, buf *event.Buffer, log zerolog.Logger) *Server {
	return &Server{
		Registry: reg,
		Bans:     bans,
		Buffer:   buf,
		Log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		subs: make(map[chan event.Record]struct{}),
	}
}

// Tap returns the sink tap fanning records out to live subscribers.
func (s *Server) Tap() event.Tap {
	return func(r event.Record) {
		s.mu.Lock()
		for ch := range s.subs {
			select {
			case ch <- r:
			default:
			}
		}
		s.mu.Unlock()
	}
}

// Router assembles the ops routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/metrics", s.metrics)
	r.Get("/events", s.recentEvents)
	r.Get("/ws/events", s.liveEvents)
	return r
}

// ListenAndServe runs the ops server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.Log.Info().Str("addr", addr).Msg("ops server listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{
		"listeners":  s.Registry.Snapshot(),
		"banned_ips": s.Bans.Len(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Buffer.Snapshot())
}

func (s *Server) liveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan event.Record, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	// Drain client frames so pings and close handshakes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case rec := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
