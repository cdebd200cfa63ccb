package router

import (
	"context"
	"time"

	"github.com/verbatim-live/verbatim/internal/auth"
	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/protocol"
	"github.com/verbatim-live/verbatim/internal/security"
	"github.com/verbatim-live/verbatim/internal/session"
)

func (h *Hub) handleAdminAuth(ctx context.Context, c *Conn, msg protocol.AdminAuth) {
	role, _, _, _ := c.snapshot()
	if role == roleListener {
		h.sendFault(c, hubfault.New(hubfault.CodeOperationNotAllowed,
			"listener connection cannot authenticate as operator"))
		return
	}

	// Lockout and the per-IP window run before any credential check so
	// the response is identical whether or not the credentials are good.
	if err := h.limiter.CheckAuth(c.IP); err != nil {
		h.metrics.RateLimitRejects.Inc()
		h.audit.Record(security.AuditEvent{
			Kind: security.EventRateLimited, Username: msg.Username, IP: c.IP, Detail: "admin-auth",
		})
		h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("admin-auth"), time.Now()))
		return
	}

	var (
		info   auth.UserInfo
		tokens *protocol.Tokens
	)
	switch msg.Method {
	case protocol.AuthMethodCredentials:
		res, err := h.verifier.AuthenticateCredentials(ctx, msg.Username, msg.Password)
		if err != nil {
			h.limiter.RecordAuthFailure(c.IP)
			h.audit.Record(security.AuditEvent{
				Kind: security.EventAuthFailure, Username: msg.Username, IP: c.IP,
				Detail: string(hubfault.CodeOf(err)),
			})
			h.metrics.AuthOutcomes.WithLabelValues("failure").Inc()
			h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("admin-auth"), time.Now()))
			return
		}
		info = res.UserInfo
		tokens = &protocol.Tokens{
			AccessToken:  res.AccessToken,
			IDToken:      res.IDToken,
			RefreshToken: res.RefreshToken,
			ExpiresIn:    res.ExpiresIn,
		}
	case protocol.AuthMethodToken:
		var err error
		info, err = h.verifier.ValidateAccessToken(ctx, msg.Token)
		if err != nil {
			h.audit.Record(security.AuditEvent{
				Kind: security.EventTokenRejected, IP: c.IP, Detail: string(hubfault.CodeOf(err)),
			})
			h.metrics.AuthOutcomes.WithLabelValues("token_rejected").Inc()
			h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("admin-auth"), time.Now()))
			return
		}
	}

	h.limiter.RecordAuthSuccess(c.IP)

	rec, err := h.idents.GetOrCreateFromProvider(info)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("admin-auth"), time.Now()))
		return
	}
	if err := h.idents.AddActiveSocket(rec.AdminID, c.ID); err != nil {
		h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("admin-auth"), time.Now()))
		return
	}
	c.setOperator(rec.AdminID, rec.Username)

	h.audit.Record(security.AuditEvent{
		Kind: security.EventAuthSuccess, AdminID: rec.AdminID, Username: rec.Username, IP: c.IP,
	})
	h.metrics.AuthOutcomes.WithLabelValues("success").Inc()

	h.send(c, protocol.AdminAuthResponse{
		Type:          protocol.TypeAdminAuthResponse,
		Success:       true,
		AdminID:       rec.AdminID,
		Username:      rec.Username,
		Email:         rec.Email,
		Tokens:        tokens,
		OwnedSessions: rec.OwnedSessions,
		AllSessions:   h.summaries(rec.AdminID, false),
		Permissions: protocol.Permissions{
			CanCreateSessions: true,
			CanManageOwn:      true,
			CanViewAll:        true,
		},
		Timestamp: protocol.Timestamp(time.Now()),
	})

	h.recoverOwnedSessions(c, rec.AdminID)

	if tokens != nil && tokens.ExpiresIn > 0 {
		h.armTokenWarning(c, time.Duration(tokens.ExpiresIn)*time.Second)
	}
}

// recoverOwnedSessions rebinds the advisory socket of every active
// session the operator still owns and tells the client which ones
// survived its absence.
func (h *Hub) recoverOwnedSessions(c *Conn, adminID string) {
	var recovered []string
	for _, s := range h.sessions.ListOwnedBy(adminID) {
		if s.Status != session.StatusActive {
			continue
		}
		if err := h.sessions.UpdateCurrentAdminSocket(s.SessionID, c.ID); err == nil {
			recovered = append(recovered, s.SessionID)
		}
	}
	if len(recovered) == 0 {
		return
	}
	h.send(c, protocol.AdminReconnection{
		Type:              protocol.TypeAdminReconnection,
		AdminID:           adminID,
		RecoveredSessions: recovered,
		Timestamp:         protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) armTokenWarning(c *Conn, expiresIn time.Duration) {
	lead := h.cfg.TokenWarningLead
	warnIn := expiresIn - lead
	if warnIn <= 0 {
		warnIn = time.Second
	}
	c.scheduleWarning(warnIn, func() {
		h.send(c, protocol.TokenExpiryWarning{
			Type:             protocol.TypeTokenExpiryWarning,
			ExpiresInSeconds: int64(lead.Seconds()),
			Timestamp:        protocol.Timestamp(time.Now()),
		})
	})
}

func (h *Hub) handleTokenRefresh(ctx context.Context, c *Conn, msg protocol.TokenRefresh) {
	res, err := h.verifier.RefreshAccessToken(ctx, msg.Username, msg.RefreshToken)
	if err != nil {
		h.audit.Record(security.AuditEvent{
			Kind: security.EventTokenRejected, Username: msg.Username, IP: c.IP,
			Detail: string(hubfault.CodeOf(err)),
		})
		h.send(c, protocol.AdminErrorFrom(hubfault.From(err).WithOperation("token-refresh"), time.Now()))
		return
	}
	h.audit.Record(security.AuditEvent{
		Kind: security.EventTokenRefreshed, Username: msg.Username, IP: c.IP,
	})
	h.send(c, protocol.TokenRefreshResponse{
		Type:        protocol.TypeTokenRefreshResponse,
		Success:     true,
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		Timestamp:   protocol.Timestamp(time.Now()),
	})
	if res.ExpiresIn > 0 {
		h.armTokenWarning(c, time.Duration(res.ExpiresIn)*time.Second)
	}
}

func (h *Hub) handleStartSession(c *Conn, adminID, username string, msg protocol.StartSession) {
	createdBy := msg.CreatedBy
	if createdBy == "" {
		createdBy = username
	}
	s, err := h.sessions.Create(msg.SessionID, msg.Config, adminID, c.ID, createdBy)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.From(err).WithOperation("start-session").WithAdmin(adminID), time.Now()))
		return
	}
	h.metrics.SessionEvents.WithLabelValues("created").Inc()
	h.metrics.ActiveSessions.Set(float64(h.activeSessionCount()))
	h.send(c, protocol.StartSessionResponse{
		Type:      protocol.TypeStartSessionResponse,
		Success:   true,
		SessionID: s.SessionID,
		Config:    s.Config,
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) handleEndSession(c *Conn, adminID string, msg protocol.EndSession) {
	if !h.requireWrite(c, adminID, msg.SessionID, "end-session") {
		return
	}
	ended, err := h.sessions.End(msg.SessionID)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.From(err).WithOperation("end-session").WithSession(msg.SessionID), time.Now()))
		return
	}
	h.NotifySessionEnded(ended, "ended by operator")
	h.metrics.ActiveListeners.Sub(float64(len(ended.Listeners)))
	h.send(c, protocol.EndSessionResponse{
		Type:      protocol.TypeEndSessionResponse,
		Success:   true,
		SessionID: msg.SessionID,
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) handleUpdateSessionConfig(c *Conn, adminID, sessionID string, cfg protocol.SessionConfig) {
	if !h.requireWrite(c, adminID, sessionID, "update-session-config") {
		return
	}
	removed, err := h.sessions.UpdateConfig(sessionID, cfg)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.From(err).WithOperation("update-session-config").WithSession(sessionID), time.Now()))
		return
	}
	h.notifyConfigChange(sessionID, cfg, removed)
	h.send(c, protocol.UpdateSessionConfigResponse{
		Type:             protocol.TypeUpdateSessionConfigResponse,
		Success:          true,
		SessionID:        sessionID,
		Config:           cfg,
		RemovedLanguages: removed,
		Timestamp:        protocol.Timestamp(time.Now()),
	})
}

// notifyConfigChange tells listeners in a removed language that they
// must pick another one, and everyone else that the config changed.
func (h *Hub) notifyConfigChange(sessionID string, cfg protocol.SessionConfig, removed []string) {
	now := protocol.Timestamp(time.Now())
	removedSet := map[string]bool{}
	for _, l := range removed {
		removedSet[l] = true
		frame := protocol.LanguageRemoved{
			Type:               protocol.TypeLanguageRemoved,
			SessionID:          sessionID,
			Language:           l,
			RemainingLanguages: cfg.EnabledLanguages,
			Timestamp:          now,
		}
		h.sessions.ForEachListenerInLanguage(sessionID, l, func(listener session.Listener) {
			h.sendTo(listener.SocketID, frame)
		})
	}
	frame := protocol.ConfigUpdated{
		Type:      protocol.TypeConfigUpdated,
		SessionID: sessionID,
		Config:    cfg,
		Timestamp: now,
	}
	for _, lang := range h.sessions.ListenerLanguages(sessionID) {
		if removedSet[lang] {
			continue
		}
		h.sessions.ForEachListenerInLanguage(sessionID, lang, func(listener session.Listener) {
			h.sendTo(listener.SocketID, frame)
		})
	}
}

func (h *Hub) handleListSessions(c *Conn, adminID string, msg protocol.ListSessions) {
	h.send(c, protocol.ListSessionsResponse{
		Type:      protocol.TypeListSessionsResponse,
		Sessions:  h.summaries(adminID, msg.Filter == "owned"),
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) handleAdminSessionAccess(c *Conn, adminID string, msg protocol.AdminSessionAccess) {
	mode := session.AccessRead
	if msg.Mode == "write" {
		mode = session.AccessWrite
	}
	ok, err := h.sessions.VerifyAccess(msg.SessionID, adminID, mode)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(msg.SessionID).WithOperation("admin-session-access"), time.Now()))
		return
	}
	if !ok {
		h.recordOwnershipViolation(c, adminID, msg.SessionID, "admin-session-access")
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotOwned, "write access requires ownership").
				WithSession(msg.SessionID).WithAdmin(adminID).WithOperation("admin-session-access"), time.Now()))
		return
	}
	if mode == session.AccessWrite {
		_ = h.sessions.UpdateCurrentAdminSocket(msg.SessionID, c.ID)
	}
	s, err := h.sessions.Get(msg.SessionID)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(msg.SessionID).WithOperation("admin-session-access"), time.Now()))
		return
	}
	h.send(c, protocol.SessionMetadata{
		Type:          protocol.TypeSessionMetadata,
		SessionID:     s.SessionID,
		Config:        s.Config,
		TTSAvailable:  h.ttsAvailableFor(s.Config),
		ListenerCount: len(s.Listeners),
		Timestamp:     protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) handleTTSConfigUpdate(c *Conn, adminID string, msg protocol.TTSConfigUpdateRequest) {
	s, err := h.sessions.Get(msg.SessionID)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(msg.SessionID).WithOperation("tts-config-update"), time.Now()))
		return
	}
	cfg := s.Config
	cfg.TTSMode = msg.TTSMode
	if msg.AudioQuality != "" {
		cfg.AudioQuality = msg.AudioQuality
	}
	h.handleUpdateSessionConfig(c, adminID, msg.SessionID, cfg)
}

func (h *Hub) handleLanguageUpdate(c *Conn, adminID string, msg protocol.LanguageUpdate) {
	s, err := h.sessions.Get(msg.SessionID)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(msg.SessionID).WithOperation("language-update"), time.Now()))
		return
	}
	cfg := s.Config
	cfg.EnabledLanguages = msg.EnabledLanguages
	h.handleUpdateSessionConfig(c, adminID, msg.SessionID, cfg)
}

// requireWrite enforces the ownership rule for mutating operations and
// records violations in the audit trail.
func (h *Hub) requireWrite(c *Conn, adminID, sessionID, op string) bool {
	ok, err := h.sessions.VerifyAccess(sessionID, adminID, session.AccessWrite)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(sessionID).WithOperation(op), time.Now()))
		return false
	}
	if !ok {
		h.recordOwnershipViolation(c, adminID, sessionID, op)
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotOwned, "operation requires session ownership").
				WithSession(sessionID).WithAdmin(adminID).WithOperation(op), time.Now()))
		return false
	}
	return true
}

func (h *Hub) recordOwnershipViolation(c *Conn, adminID, sessionID, op string) {
	h.audit.Record(security.AuditEvent{
		Kind:      security.EventOwnershipViolation,
		AdminID:   adminID,
		IP:        c.IP,
		SessionID: sessionID,
		Detail:    op,
	})
}
