package router

import (
	"time"

	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/protocol"
)

func (h *Hub) handleJoinSession(c *Conn, msg protocol.JoinSession) {
	role, _, _, current := c.snapshot()
	if role == roleOperator {
		h.sendFault(c, hubfault.New(hubfault.CodeOperationNotAllowed,
			"operator connection cannot join as listener"))
		return
	}
	if current != "" && current != msg.SessionID {
		// One session per listener connection; leave first.
		h.sessions.RemoveListener(current, c.ID)
		h.notifyOwnerMetadata(current)
		h.metrics.ActiveListeners.Dec()
		c.clearListenerSession()
	}

	s, err := h.sessions.AddListener(msg.SessionID, c.ID, msg.PreferredLanguage, msg.Capabilities)
	if err != nil {
		h.send(c, protocol.ListenerErrorFrom(err, time.Now()))
		return
	}
	c.setListener(msg.SessionID)
	h.metrics.ActiveListeners.Inc()

	h.send(c, protocol.SessionMetadata{
		Type:          protocol.TypeSessionMetadata,
		SessionID:     s.SessionID,
		Config:        s.Config,
		Language:      msg.PreferredLanguage,
		TTSAvailable:  h.ttsAvailableFor(s.Config),
		ListenerCount: len(s.Listeners),
		Timestamp:     protocol.Timestamp(time.Now()),
	})
	h.notifyOwnerMetadata(msg.SessionID)
}

func (h *Hub) handleChangeLanguage(c *Conn, msg protocol.ChangeLanguage) {
	role, _, _, sessionID := c.snapshot()
	if role != roleListener || sessionID == "" {
		h.send(c, protocol.ListenerErrorFrom(
			hubfault.New(hubfault.CodeOperationNotAllowed, "not joined to a session"), time.Now()))
		return
	}
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}
	if err := h.sessions.ChangeListenerLanguage(sessionID, c.ID, msg.Language); err != nil {
		h.send(c, protocol.ListenerErrorFrom(err, time.Now()))
		return
	}
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		h.send(c, protocol.ListenerErrorFrom(err, time.Now()))
		return
	}
	h.send(c, protocol.SessionMetadata{
		Type:          protocol.TypeSessionMetadata,
		SessionID:     sessionID,
		Config:        s.Config,
		Language:      msg.Language,
		TTSAvailable:  h.ttsAvailableFor(s.Config),
		ListenerCount: len(s.Listeners),
		Timestamp:     protocol.Timestamp(time.Now()),
	})
}

func (h *Hub) handleLeaveSession(c *Conn, msg protocol.LeaveSession) {
	role, _, _, sessionID := c.snapshot()
	if role != roleListener || sessionID == "" {
		return
	}
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}
	h.sessions.RemoveListener(sessionID, c.ID)
	c.clearListenerSession()
	h.metrics.ActiveListeners.Dec()
	h.notifyOwnerMetadata(sessionID)
}
