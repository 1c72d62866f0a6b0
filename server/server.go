// Package server exposes the broker over HTTP: a JSON/WebSocket edge for
// clients, a CBOR/WebSocket edge for dialed-in containers, and a small
// service API for listing and terminating sessions.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/sessionworks/broker/auth"
	"github.com/sessionworks/broker/container"
	"github.com/sessionworks/broker/core/protocol"
	"github.com/sessionworks/broker/observability"
	"github.com/sessionworks/broker/session"
)

// Server is the HTTP/WebSocket edge in front of the session registry.
type Server struct {
	cfg      Config
	gate     *auth.Gate
	sessions *session.Registry
	dialIn   *container.DialInProvisioner
	logger   *slog.Logger
	dispatch *observability.Dispatcher

	upgrader websocket.Upgrader
	http     *http.Server
}

// New assembles the server. dialIn may be nil when containers are provisioned
// out-of-band rather than dialing in.
func New(cfg Config, gate *auth.Gate, sessions *session.Registry, dialIn *container.DialInProvisioner, logger *slog.Logger, dispatch *observability.Dispatcher) *Server {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      defaults,
		gate:     gate,
		sessions: sessions,
		dialIn:   dialIn,
		logger:   logger,
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth is the access check; the edge terminates
			// anywhere, so origin enforcement stays off.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{Addr: defaults.Addr, Handler: s.Handler()}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/sessions", func(r chi.Router) {
			r.With(s.requireService).Get("/", s.handleListSessions)
			r.With(s.requireService).Delete("/{sessionID}", s.handleTerminateSession)
			r.Get("/{sessionID}/ws", s.handleClientWS)
		})
		r.With(s.requireService).Get("/containers/{sessionID}/ws", s.handleContainerWS)
	})
	return r
}

// ListenAndServe blocks serving traffic until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests, up
// to the configured grace.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	c := s.sessions.Get(id)
	if c == nil {
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, "no such session")
		return
	}
	c.Terminate("terminated by operator")
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "state": session.StateTerminating})
}

// handleClientWS upgrades a client connection and binds it to its session.
// The after_seq query parameter carries the last sequence number the client
// saw; buffered frames past it replay before live traffic.
func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	afterSeq, _ := strconv.ParseUint(r.URL.Query().Get("after_seq"), 10, 64)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	coordinator, created := s.sessions.GetOrCreate(id)
	link := newWSClient(conn, s.cfg)
	if err := coordinator.AttachClient(link, afterSeq); err != nil {
		frame := protocol.NewError(id, protocol.CodeSessionClosed, "session is closed", true)
		link.Deliver(frame)
		link.Close()
		return
	}
	s.logger.Info("client attached",
		slog.String("session_id", id), slog.Bool("created", created),
		slog.Uint64("after_seq", afterSeq))

	s.clientReadLoop(coordinator, link)
}

// clientReadLoop owns the client socket's read side until it drops.
func (s *Server) clientReadLoop(coordinator *session.Coordinator, link *wsClient) {
	defer coordinator.DetachClient(link)
	defer link.Close()

	pongWait := s.cfg.PingInterval * 2
	link.conn.SetReadLimit(s.cfg.ReadLimit)
	link.conn.SetReadDeadline(time.Now().Add(pongWait))
	link.conn.SetPongHandler(func(string) error {
		return link.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := link.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		frame, err := protocol.DecodeJSON(data)
		if err != nil {
			s.logger.Debug("undecodable client frame",
				slog.String("session_id", coordinator.ID()), slog.String("error", err.Error()))
			continue
		}
		if err := coordinator.SubmitClientFrame(frame); err != nil {
			return
		}
	}
}

// handleContainerWS accepts a container dialing in for a session and offers
// its handle to the waiting coordinator.
func (s *Server) handleContainerWS(w http.ResponseWriter, r *http.Request) {
	if s.dialIn == nil {
		writeError(w, http.StatusNotImplemented, protocol.CodeContainerUnavailable, "dial-in is not enabled")
		return
	}
	id := chi.URLParam(r, "sessionID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := newWSContainerHandle(conn, s.cfg)
	if !s.dialIn.Offer(id, handle) {
		s.logger.Warn("container offer rejected", slog.String("session_id", id))
		handle.Close()
		return
	}
	s.logger.Info("container dialed in", slog.String("session_id", id))

	// Blocks until the socket drops; closing the in channel is what tells
	// the session its container died.
	handle.readPump(s.cfg.ReadLimit, s.cfg.PingInterval*2)
	s.dialIn.Withdraw(id)
}
