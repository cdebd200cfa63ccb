package httpapi

import (
	"sync"
	"time"
)

// tokenBucket is the per-connection websocket frame budget. One bucket
// per socket, refilled at rate tokens per second up to rate burst.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	rate   float64
	last   time.Time
}

func newTokenBucket(perSecond int) *tokenBucket {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &tokenBucket{
		tokens: float64(perSecond),
		rate:   float64(perSecond),
		last:   time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
