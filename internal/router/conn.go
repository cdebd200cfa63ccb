// Package router owns the websocket conversation: connection roles,
// operator authentication, session operations and translation fan-out.
// The transport layer feeds it parsed frames and drains its outbound
// queue; everything in between happens here.
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	roleUnknown  = ""
	roleOperator = "operator"
	roleListener = "listener"
)

const outboundQueueSize = 256

// Conn is the router's view of one websocket connection. Frames queued
// on Outbound are written by a single goroutine in the transport layer,
// which is what guarantees per-socket FIFO delivery.
type Conn struct {
	ID       string
	IP       string
	Outbound chan any

	mu        sync.Mutex
	role      string
	adminID   string
	username  string
	sessionID string // listener role only
	warnTimer *time.Timer
}

func NewConn(ip string) *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		IP:       ip,
		Outbound: make(chan any, outboundQueueSize),
	}
}

// enqueue hands a frame to the writer goroutine. The queue is bounded;
// a saturated client loses frames rather than stalling every other
// connection.
func (c *Conn) enqueue(frame any) bool {
	select {
	case c.Outbound <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) setOperator(adminID, username string) {
	c.mu.Lock()
	c.role = roleOperator
	c.adminID = adminID
	c.username = username
	c.mu.Unlock()
}

func (c *Conn) setListener(sessionID string) {
	c.mu.Lock()
	c.role = roleListener
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Conn) clearListenerSession() {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

func (c *Conn) snapshot() (role, adminID, username, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.adminID, c.username, c.sessionID
}

// established reports whether the connection committed to a role before
// the auth grace window ran out.
func (c *Conn) established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role != roleUnknown
}

// scheduleWarning arms (or re-arms after a refresh) the token expiry
// warning timer.
func (c *Conn) scheduleWarning(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warnTimer != nil {
		c.warnTimer.Stop()
	}
	c.warnTimer = time.AfterFunc(d, fn)
}

func (c *Conn) stopWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warnTimer != nil {
		c.warnTimer.Stop()
		c.warnTimer = nil
	}
}
