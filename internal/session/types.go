// Package session owns the directory of broadcast sessions: their
// config, their listener roster per language and their ownership.
// Ownership-relevant mutations are persisted atomically; the roster is
// transient by design.
package session

import (
	"time"

	"github.com/verbatim-live/verbatim/internal/protocol"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// AccessMode selects the asymmetric access rule: read is universally
// allowed to any authenticated admin, write only to the owner.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// Listener is one connected audience member. Keyed by connection handle
// in the roster; never persisted.
type Listener struct {
	SocketID          string
	PreferredLanguage string
	JoinedAt          time.Time
	LastSeen          time.Time
	Capabilities      protocol.Capabilities
}

// Session is the in-memory record. AdminID is fixed at creation for the
// session's entire lifetime. CurrentAdminSocketID is advisory only and
// cleared on restart.
type Session struct {
	SessionID            string
	AdminID              string
	CreatedBy            string
	CurrentAdminSocketID string
	Config               protocol.SessionConfig
	Listeners            map[string]*Listener
	CreatedAt            time.Time
	LastActivity         time.Time
	Status               Status
	EndedAt              time.Time
	Orphaned             bool
}

func (s *Session) clone() *Session {
	c := *s
	c.Config.EnabledLanguages = append([]string(nil), s.Config.EnabledLanguages...)
	c.Listeners = make(map[string]*Listener, len(s.Listeners))
	for id, l := range s.Listeners {
		lc := *l
		c.Listeners[id] = &lc
	}
	return &c
}

// persisted is the on-disk shape. CurrentAdminSocketID and the roster
// are deliberately absent; they do not survive a restart.
type persisted struct {
	SessionID    string                 `json:"sessionId"`
	AdminID      string                 `json:"adminId"`
	CreatedBy    string                 `json:"createdBy"`
	Config       protocol.SessionConfig `json:"config"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastActivity time.Time              `json:"lastActivity"`
	Status       Status                 `json:"status"`
	EndedAt      time.Time              `json:"endedAt,omitempty"`
}

func (s *Session) toPersisted() persisted {
	return persisted{
		SessionID:    s.SessionID,
		AdminID:      s.AdminID,
		CreatedBy:    s.CreatedBy,
		Config:       s.Config,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Status:       s.Status,
		EndedAt:      s.EndedAt,
	}
}

func fromPersisted(p persisted) *Session {
	return &Session{
		SessionID:    p.SessionID,
		AdminID:      p.AdminID,
		CreatedBy:    p.CreatedBy,
		Config:       p.Config,
		CreatedAt:    p.CreatedAt,
		LastActivity: p.LastActivity,
		Status:       p.Status,
		EndedAt:      p.EndedAt,
		Listeners:    map[string]*Listener{},
	}
}

// OwnerIndex is the slice of the identity store the registry needs to
// keep the owner -> session invariant and to detect orphans.
type OwnerIndex interface {
	AddOwnedSession(adminID, sessionID string) error
	RemoveOwnedSession(adminID, sessionID string) error
	Exists(adminID string) bool
}
