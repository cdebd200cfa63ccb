package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Audit event kinds.
const (
	EventAuthSuccess        = "authSuccess"
	EventAuthFailure        = "authFailure"
	EventTokenRejected      = "tokenRejected"
	EventTokenRefreshed     = "tokenRefreshed"
	EventOwnershipViolation = "ownershipViolation"
	EventRateLimited        = "rateLimited"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent struct {
	Kind      string    `json:"kind"`
	AdminID   string    `json:"adminId,omitempty"`
	Username  string    `json:"username,omitempty"`
	IP        string    `json:"ip,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

const defaultAuditCap = 1000

// AuditLog is a bounded in-memory ring of security events. Every append
// is also written to the structured log so the trail survives restarts
// in log storage even though the ring does not.
type AuditLog struct {
	mu    sync.Mutex
	ring  []AuditEvent
	next  int
	count int
	log   zerolog.Logger
	now   func() time.Time
}

func NewAuditLog(capacity int, logger zerolog.Logger) *AuditLog {
	if capacity <= 0 {
		capacity = defaultAuditCap
	}
	return &AuditLog{
		ring: make([]AuditEvent, capacity),
		log:  logger.With().Str("component", "audit").Logger(),
		now:  time.Now,
	}
}

// Record appends one event, overwriting the oldest once full.
func (a *AuditLog) Record(ev AuditEvent) {
	if ev.At.IsZero() {
		ev.At = a.now()
	}
	a.mu.Lock()
	a.ring[a.next] = ev
	a.next = (a.next + 1) % len(a.ring)
	if a.count < len(a.ring) {
		a.count++
	}
	a.mu.Unlock()

	a.log.Info().
		Str("event", ev.Kind).
		Str("adminId", ev.AdminID).
		Str("username", ev.Username).
		Str("ip", ev.IP).
		Str("sessionId", ev.SessionID).
		Str("detail", ev.Detail).
		Msg("audit")
}

// Recent returns up to n events, newest first.
func (a *AuditLog) Recent(n int) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > a.count {
		n = a.count
	}
	out := make([]AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.next - i + len(a.ring)) % len(a.ring)
		out = append(out, a.ring[idx])
	}
	return out
}

// Len reports how many events the ring currently holds.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
