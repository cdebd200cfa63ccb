// Package identity persists admin identity records, one JSON file per
// subject, with atomic replace semantics and a username/email index.
// Socket bindings are in-memory only and vanish on restart.
package identity

import (
	"time"

	"github.com/verbatim-live/verbatim/internal/auth"
)

// Record is the durable per-admin state. AdminID is the provider's
// opaque subject and never changes once assigned. ActiveSockets is
// transient and deliberately excluded from serialization.
type Record struct {
	AdminID       string    `json:"adminId"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSeen      time.Time `json:"lastSeen"`
	OwnedSessions []string  `json:"ownedSessions"`
	Groups        []string  `json:"groups,omitempty"`

	ActiveSockets map[string]bool `json:"-"`
}

func newRecord(info auth.UserInfo, now time.Time) *Record {
	return &Record{
		AdminID:       info.Subject,
		Username:      info.Username,
		Email:         info.Email,
		CreatedAt:     now,
		LastSeen:      now,
		OwnedSessions: []string{},
		Groups:        info.Groups,
		ActiveSockets: map[string]bool{},
	}
}

func (r *Record) ownsSession(sessionID string) bool {
	for _, id := range r.OwnedSessions {
		if id == sessionID {
			return true
		}
	}
	return false
}

// clone returns a caller-owned copy; ActiveSockets is copied too so the
// caller can inspect it without racing mutations.
func (r *Record) clone() *Record {
	c := *r
	c.OwnedSessions = append([]string(nil), r.OwnedSessions...)
	c.Groups = append([]string(nil), r.Groups...)
	c.ActiveSockets = make(map[string]bool, len(r.ActiveSockets))
	for k := range r.ActiveSockets {
		c.ActiveSockets[k] = true
	}
	return &c
}

// index is the persisted secondary index. Records remain the source of
// truth: a disagreeing index is rebuilt, never trusted.
type index struct {
	ByUsername  map[string]string `json:"byUsername"`
	ByEmail     map[string]string `json:"byEmail"`
	RecordCount int               `json:"recordCount"`
}

// CleanupEntry is one line of the bounded cleanup log.
type CleanupEntry struct {
	AdminID   string    `json:"adminId"`
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	RemovedAt time.Time `json:"removedAt"`
}
