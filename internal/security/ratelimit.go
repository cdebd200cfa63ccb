// Package security enforces the abuse controls in front of the hub:
// sliding-window rate limits keyed by IP and admin id, source-IP
// lockout, and a bounded audit trail.
package security

import (
	"sync"
	"time"

	"github.com/verbatim-live/verbatim/internal/hubfault"
)

// window is one sliding-window counter over arbitrary string keys.
type window struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	span   time.Duration
	now    func() time.Time
}

func newWindow(limit int, span time.Duration) *window {
	return &window{
		events: make(map[string][]time.Time),
		limit:  limit,
		span:   span,
		now:    time.Now,
	}
}

// allow records one event for key and reports whether it fits the
// window. When denied, retryAfter is the wait until the oldest counted
// event ages out.
func (w *window) allow(key string) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.span)
	kept := w.events[key][:0]
	for _, t := range w.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= w.limit {
		w.events[key] = kept
		return false, kept[0].Sub(cutoff)
	}
	w.events[key] = append(kept, now)
	return true, 0
}

// prune drops keys whose events have all aged out.
func (w *window) prune() {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.span)
	for key, events := range w.events {
		live := false
		for _, t := range events {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(w.events, key)
		}
	}
}

// LimiterOpts carries the configured limits. Zero values take the
// defaults below.
type LimiterOpts struct {
	AuthPerMinute    int
	AuthPerHour      int
	OpsPerMinute     int
	OpsPerHour       int
	LockoutThreshold int
	LockoutDuration  time.Duration
}

const (
	defaultAuthPerMinute    = 5
	defaultAuthPerHour      = 100
	defaultOpsPerMinute     = 60
	defaultOpsPerHour       = 1000
	defaultLockoutThreshold = 10
	defaultLockoutDuration  = 15 * time.Minute
)

// Limiter combines the per-IP auth windows, the per-admin operation
// windows and the source-IP lockout. All methods are safe for
// concurrent use.
type Limiter struct {
	authMinute *window
	authHour   *window
	opsMinute  *window
	opsHour    *window

	mu        sync.Mutex
	failures  map[string]int
	lockedTil map[string]time.Time
	threshold int
	duration  time.Duration
	now       func() time.Time
}

func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.AuthPerMinute <= 0 {
		opts.AuthPerMinute = defaultAuthPerMinute
	}
	if opts.AuthPerHour <= 0 {
		opts.AuthPerHour = defaultAuthPerHour
	}
	if opts.OpsPerMinute <= 0 {
		opts.OpsPerMinute = defaultOpsPerMinute
	}
	if opts.OpsPerHour <= 0 {
		opts.OpsPerHour = defaultOpsPerHour
	}
	if opts.LockoutThreshold <= 0 {
		opts.LockoutThreshold = defaultLockoutThreshold
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = defaultLockoutDuration
	}
	return &Limiter{
		authMinute: newWindow(opts.AuthPerMinute, time.Minute),
		authHour:   newWindow(opts.AuthPerHour, time.Hour),
		opsMinute:  newWindow(opts.OpsPerMinute, time.Minute),
		opsHour:    newWindow(opts.OpsPerHour, time.Hour),
		failures:   make(map[string]int),
		lockedTil:  make(map[string]time.Time),
		threshold:  opts.LockoutThreshold,
		duration:   opts.LockoutDuration,
		now:        time.Now,
	}
}

// CheckAuth gates one authentication attempt from ip. The lockout
// check runs first and returns the same fault whether or not the
// credentials would have been correct.
func (l *Limiter) CheckAuth(ip string) error {
	if remaining, locked := l.lockRemaining(ip); locked {
		return hubfault.New(hubfault.CodeAccountLocked, "source locked after repeated auth failures").
			WithRetryAfter(remaining)
	}
	if ok, retryAfter := l.authMinute.allow(ip); !ok {
		return hubfault.New(hubfault.CodeRateLimited, "authentication rate limit exceeded").
			WithRetryAfter(retryAfter)
	}
	if ok, retryAfter := l.authHour.allow(ip); !ok {
		return hubfault.New(hubfault.CodeRateLimited, "hourly authentication rate limit exceeded").
			WithRetryAfter(retryAfter)
	}
	return nil
}

// CheckOp gates one admin operation for adminID against both the
// per-minute and per-hour windows.
func (l *Limiter) CheckOp(adminID string) error {
	if ok, retryAfter := l.opsMinute.allow(adminID); !ok {
		return hubfault.New(hubfault.CodeRateLimited, "operation rate limit exceeded").
			WithRetryAfter(retryAfter)
	}
	if ok, retryAfter := l.opsHour.allow(adminID); !ok {
		return hubfault.New(hubfault.CodeRateLimited, "hourly operation rate limit exceeded").
			WithRetryAfter(retryAfter)
	}
	return nil
}

// RecordAuthFailure counts one failed credential check from ip and
// engages the lockout at the threshold. Keying by source IP means a
// spray across many usernames from one address still locks, and a
// remote attacker cannot lock a username out from everywhere.
func (l *Limiter) RecordAuthFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[ip]++
	if l.failures[ip] >= l.threshold {
		l.lockedTil[ip] = l.now().Add(l.duration)
		l.failures[ip] = 0
	}
}

// RecordAuthSuccess clears the failure streak for ip. An active
// lockout is not lifted early.
func (l *Limiter) RecordAuthSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}

func (l *Limiter) lockRemaining(ip string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.lockedTil[ip]
	if !ok {
		return 0, false
	}
	remaining := until.Sub(l.now())
	if remaining <= 0 {
		delete(l.lockedTil, ip)
		return 0, false
	}
	return remaining, true
}

// Prune drops aged-out window keys; run from a low-frequency ticker.
func (l *Limiter) Prune() {
	l.authMinute.prune()
	l.authHour.prune()
	l.opsMinute.prune()
	l.opsHour.prune()

	l.mu.Lock()
	now := l.now()
	for ip, until := range l.lockedTil {
		if !until.After(now) {
			delete(l.lockedTil, ip)
		}
	}
	l.mu.Unlock()
}
