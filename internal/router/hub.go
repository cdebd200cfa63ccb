package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/audiocache"
	"github.com/verbatim-live/verbatim/internal/auth"
	"github.com/verbatim-live/verbatim/internal/config"
	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/identity"
	"github.com/verbatim-live/verbatim/internal/observability"
	"github.com/verbatim-live/verbatim/internal/protocol"
	"github.com/verbatim-live/verbatim/internal/security"
	"github.com/verbatim-live/verbatim/internal/session"
	"github.com/verbatim-live/verbatim/internal/tts"
)

// Hub routes frames between operator and listener connections. One Hub
// serves the whole process.
type Hub struct {
	cfg      config.Config
	verifier auth.Verifier
	idents   *identity.Store
	sessions *session.Registry
	engine   *tts.Engine
	cache    *audiocache.Cache
	limiter  *security.Limiter
	audit    *security.AuditLog
	metrics  *observability.Metrics
	log      zerolog.Logger

	mu       sync.RWMutex
	conns    map[string]*Conn
	draining bool
}

func NewHub(
	cfg config.Config,
	verifier auth.Verifier,
	idents *identity.Store,
	sessions *session.Registry,
	engine *tts.Engine,
	cache *audiocache.Cache,
	limiter *security.Limiter,
	audit *security.AuditLog,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		cfg:      cfg,
		verifier: verifier,
		idents:   idents,
		sessions: sessions,
		engine:   engine,
		cache:    cache,
		limiter:  limiter,
		audit:    audit,
		metrics:  metrics,
		log:      logger.With().Str("component", "router").Logger(),
		conns:    map[string]*Conn{},
	}
}

// RunConnection processes one connection's inbound frames until the
// channel closes or the auth grace window expires without a committed
// role. The transport layer closes inbound on socket teardown.
func (h *Hub) RunConnection(ctx context.Context, c *Conn, inbound <-chan any) error {
	h.register(c)
	defer h.Disconnect(c)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	grace := time.AfterFunc(h.cfg.AuthGraceWindow, func() {
		if !c.established() {
			h.log.Debug().Str("socketId", c.ID).Msg("auth grace window expired")
			cancel()
		}
	})
	defer grace.Stop()

	for {
		select {
		case <-connCtx.Done():
			return connCtx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			h.dispatch(connCtx, c, msg)
		}
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// Disconnect tears down a connection's bindings. Operator disconnects
// preserve ownership and only clear the advisory socket; listener
// disconnects are silent removals.
func (h *Hub) Disconnect(c *Conn) {
	c.stopWarning()
	role, adminID, _, _ := c.snapshot()

	switch role {
	case roleOperator:
		h.idents.RemoveActiveSocket(adminID, c.ID)
		cleared := h.sessions.ClearAdminSocket(c.ID)
		if len(cleared) > 0 {
			h.log.Info().Str("adminId", adminID).Strs("sessions", cleared).
				Msg("operator disconnected, advisory socket cleared")
		}
	case roleListener:
		if sessionID := h.sessions.RemoveListenerEverywhere(c.ID); sessionID != "" {
			h.notifyOwnerMetadata(sessionID)
			h.metrics.ActiveListeners.Dec()
		}
	}

	h.mu.Lock()
	delete(h.conns, c.ID)
	h.mu.Unlock()
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, msg any) {
	if h.isDraining() {
		h.sendFault(c, hubfault.New(hubfault.CodeMaintenance, "server is shutting down"))
		return
	}

	switch m := msg.(type) {
	case protocol.AdminAuth:
		h.handleAdminAuth(ctx, c, m)
	case protocol.TokenRefresh:
		h.operatorOp(c, "token-refresh", func(_, _ string) {
			h.handleTokenRefresh(ctx, c, m)
		})
	case protocol.StartSession:
		h.operatorOp(c, "start-session", func(adminID, username string) {
			h.handleStartSession(c, adminID, username, m)
		})
	case protocol.EndSession:
		h.operatorOp(c, "end-session", func(adminID, _ string) {
			h.handleEndSession(c, adminID, m)
		})
	case protocol.UpdateSessionConfig:
		h.operatorOp(c, "update-session-config", func(adminID, _ string) {
			h.handleUpdateSessionConfig(c, adminID, m.SessionID, m.Config)
		})
	case protocol.ListSessions:
		h.operatorOp(c, "list-sessions", func(adminID, _ string) {
			h.handleListSessions(c, adminID, m)
		})
	case protocol.AdminSessionAccess:
		h.operatorOp(c, "admin-session-access", func(adminID, _ string) {
			h.handleAdminSessionAccess(c, adminID, m)
		})
	case protocol.BroadcastTranslation:
		h.operatorOp(c, "broadcast-translation", func(adminID, _ string) {
			h.handleBroadcast(ctx, c, adminID, m)
		})
	case protocol.GenerateTTS:
		h.operatorOp(c, "generate-tts", func(adminID, _ string) {
			h.handleGenerateTTS(ctx, c, adminID, m)
		})
	case protocol.TTSConfigUpdateRequest:
		h.operatorOp(c, "tts-config-update", func(adminID, _ string) {
			h.handleTTSConfigUpdate(c, adminID, m)
		})
	case protocol.LanguageUpdate:
		h.operatorOp(c, "language-update", func(adminID, _ string) {
			h.handleLanguageUpdate(c, adminID, m)
		})
	case protocol.JoinSession:
		h.handleJoinSession(c, m)
	case protocol.LeaveSession:
		h.handleLeaveSession(c, m)
	case protocol.ChangeLanguage:
		h.handleChangeLanguage(c, m)
	default:
		h.sendFault(c, hubfault.New(hubfault.CodeInvalidInput, "unsupported frame"))
	}
}

// operatorOp runs fn for an authenticated operator after the per-admin
// rate limit check. Everything else gets an admin-error.
func (h *Hub) operatorOp(c *Conn, op string, fn func(adminID, username string)) {
	role, adminID, username, _ := c.snapshot()
	if role != roleOperator || adminID == "" {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeAccessDenied, "operation requires authentication").WithOperation(op),
			time.Now()))
		return
	}
	if err := h.limiter.CheckOp(adminID); err != nil {
		h.metrics.RateLimitRejects.Inc()
		h.audit.Record(security.AuditEvent{
			Kind: security.EventRateLimited, AdminID: adminID, IP: c.IP, Detail: op,
		})
		h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation(op), time.Now()))
		return
	}
	fn(adminID, username)
}

func (h *Hub) send(c *Conn, frame any) {
	if !c.enqueue(frame) {
		h.log.Warn().Str("socketId", c.ID).Msg("outbound queue full, frame dropped")
	}
}

// sendFault renders err in the form matching the connection's role.
func (h *Hub) sendFault(c *Conn, err error) {
	role, _, _, _ := c.snapshot()
	if role == roleListener {
		h.send(c, protocol.ListenerErrorFrom(err, time.Now()))
		return
	}
	h.send(c, protocol.AdminErrorFrom(err, time.Now()))
}

// RejectFrame reports a frame that failed parse-time validation back
// to the client, in the error form matching the connection's role.
func (h *Hub) RejectFrame(c *Conn, reason string) {
	h.sendFault(c, hubfault.New(hubfault.CodeInvalidInput, reason))
}

func (h *Hub) sendTo(socketID string, frame any) {
	h.mu.RLock()
	c, ok := h.conns[socketID]
	h.mu.RUnlock()
	if ok {
		h.send(c, frame)
	}
}

func (h *Hub) isDraining() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.draining
}

// Shutdown notifies every connection and stops accepting frames. The
// transport layer closes the sockets after the drain timeout.
func (h *Hub) Shutdown(message string) {
	h.mu.Lock()
	h.draining = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	frame := protocol.ServerShutdown{
		Type:      protocol.TypeServerShutdown,
		Message:   message,
		Timestamp: protocol.Timestamp(time.Now()),
	}
	for _, c := range conns {
		h.send(c, frame)
	}
	h.log.Info().Int("connections", len(conns)).Msg("shutdown notified")
}

// NotifySessionEnded pushes session-ended to every listener that was in
// the session's roster; used for operator-initiated ends and for the
// maintenance loop's idle/orphan ends.
func (h *Hub) NotifySessionEnded(s *session.Session, reason string) {
	frame := protocol.SessionEnded{
		Type:      protocol.TypeSessionEnded,
		SessionID: s.SessionID,
		Reason:    reason,
		Timestamp: protocol.Timestamp(time.Now()),
	}
	for socketID := range s.Listeners {
		h.sendTo(socketID, frame)
	}
	h.metrics.SessionEvents.WithLabelValues("ended").Inc()
	h.metrics.ActiveSessions.Set(float64(h.activeSessionCount()))
}

func (h *Hub) activeSessionCount() int {
	n := 0
	for _, s := range h.sessions.List() {
		if s.Status == session.StatusActive {
			n++
		}
	}
	return n
}

// notifyOwnerMetadata pushes a roster-size update to the session's
// advisory operator socket, if one is bound.
func (h *Hub) notifyOwnerMetadata(sessionID string) {
	s, err := h.sessions.Get(sessionID)
	if err != nil || s.CurrentAdminSocketID == "" {
		return
	}
	h.sendTo(s.CurrentAdminSocketID, protocol.SessionMetadataUpdate{
		Type:          protocol.TypeSessionMetadataUpdate,
		SessionID:     sessionID,
		Config:        s.Config,
		ListenerCount: len(s.Listeners),
		Timestamp:     protocol.Timestamp(time.Now()),
	})
}

// ttsAvailableFor reports whether listeners in this session can expect
// audio in some form.
func (h *Hub) ttsAvailableFor(cfg protocol.SessionConfig) bool {
	switch cfg.TTSMode {
	case protocol.TTSModeDisabled:
		return false
	case protocol.TTSModeLocal:
		return true
	default:
		return h.engine != nil && h.engine.Available()
	}
}

func (h *Hub) summaries(adminID string, ownedOnly bool) []protocol.SessionSummary {
	var out []protocol.SessionSummary
	for _, s := range h.sessions.List() {
		if s.Orphaned {
			continue
		}
		if ownedOnly && s.AdminID != adminID {
			continue
		}
		out = append(out, protocol.SessionSummary{
			SessionID:     s.SessionID,
			Status:        string(s.Status),
			Config:        s.Config,
			CreatedBy:     s.CreatedBy,
			CreatedAt:     protocol.Timestamp(s.CreatedAt),
			LastActivity:  protocol.Timestamp(s.LastActivity),
			ListenerCount: len(s.Listeners),
			IsOwner:       s.AdminID == adminID,
		})
	}
	return out
}
