// Package audiocache stores synthesized audio keyed by content hash so
// repeated broadcasts of the same utterance never hit the synthesis
// provider twice. Entries are immutable once inserted.
package audiocache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var validKey = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidKey reports whether s is a well-formed cache key (64 lowercase
// hex characters). Anything else is rejected before touching storage.
func ValidKey(s string) bool { return validKey.MatchString(s) }

// Key derives the content address for one synthesized utterance. Text is
// normalized (trimmed, inner whitespace collapsed) so cosmetic spacing
// differences do not fragment the cache.
func Key(text, language, voiceID, format string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + language + "\x00" + voiceID + "\x00" + format))
	return hex.EncodeToString(sum[:])
}

// Entry is one cached audio object.
type Entry struct {
	Bytes       []byte
	ContentType string
	Format      string
	CreatedAt   time.Time
	lastAccess  time.Time
}

// Recorder receives cache hit/miss counts.
type Recorder interface {
	CacheHit()
	CacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()  {}
func (nopRecorder) CacheMiss() {}

// Opts bounds the cache. Zero values fall back to the defaults below.
type Opts struct {
	MaxBytes   int64
	MaxEntries int
	IdleAge    time.Duration
	DiskDir    string // empty disables disk backing
	Recorder   Recorder
}

const (
	defaultMaxBytes   = 256 << 20
	defaultMaxEntries = 4096
	defaultIdleAge    = 24 * time.Hour
)

// Cache is an in-memory content-addressed store with opportunistic
// eviction and optional flat-file disk backing.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	total   int64

	maxBytes   int64
	maxEntries int
	idleAge    time.Duration
	diskDir    string
	rec        Recorder
	now        func() time.Time
	log        zerolog.Logger
}

func New(opts Opts, logger zerolog.Logger) *Cache {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.IdleAge <= 0 {
		opts.IdleAge = defaultIdleAge
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Cache{
		entries:    make(map[string]*Entry),
		maxBytes:   opts.MaxBytes,
		maxEntries: opts.MaxEntries,
		idleAge:    opts.IdleAge,
		diskDir:    opts.DiskDir,
		rec:        opts.Recorder,
		now:        time.Now,
		log:        logger.With().Str("component", "audiocache").Logger(),
	}
}

// Put stores audio under key. Re-inserting an existing key is a no-op;
// content addressing makes the bytes identical by construction.
func (c *Cache) Put(key string, audio []byte, contentType, format string) error {
	if !ValidKey(key) {
		return fmt.Errorf("malformed cache key %q", key)
	}
	now := c.now()

	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.entries[key].lastAccess = now
		c.mu.Unlock()
		return nil
	}
	c.entries[key] = &Entry{
		Bytes:       audio,
		ContentType: contentType,
		Format:      format,
		CreatedAt:   now,
		lastAccess:  now,
	}
	c.total += int64(len(audio))
	c.evictLocked(now)
	c.mu.Unlock()

	if c.diskDir != "" {
		if err := c.writeDisk(key, format, audio); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("disk backing write failed")
		}
	}
	return nil
}

// Get returns the entry for key, falling back to the disk backing when
// the in-memory copy was evicted.
func (c *Cache) Get(key string) (Entry, bool) {
	if !ValidKey(key) {
		c.rec.CacheMiss()
		return Entry{}, false
	}
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.lastAccess = c.now()
		out := *e
		c.mu.Unlock()
		c.rec.CacheHit()
		return out, true
	}
	c.mu.Unlock()

	if e, ok := c.readDisk(key); ok {
		c.rec.CacheHit()
		return e, true
	}
	c.rec.CacheMiss()
	return Entry{}, false
}

func (c *Cache) Has(key string) bool {
	if !ValidKey(key) {
		return false
	}
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return true
	}
	_, ok = c.readDisk(key)
	return ok
}

// Len reports the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SizeBytes reports the in-memory byte total.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// URLFor builds the public fetch URL for a cached entry.
func URLFor(baseURL, key, format string) string {
	return fmt.Sprintf("%s/audio/%s.%s", strings.TrimRight(baseURL, "/"), key, format)
}

// Sweep evicts idle and over-budget entries; run from a low-frequency
// ticker.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.evictLocked(c.now())
	return before - len(c.entries)
}

// StartSweep launches the periodic sweep; returns a stop func.
func (c *Cache) StartSweep(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.Debug().Int("evicted", n).Msg("cache sweep")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// evictLocked drops idle entries first, then the least recently used
// until both the byte and entry budgets hold.
func (c *Cache) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.lastAccess) > c.idleAge {
			c.dropLocked(key)
		}
	}
	for (c.total > c.maxBytes || len(c.entries) > c.maxEntries) && len(c.entries) > 0 {
		oldestKey := ""
		var oldest time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey, oldest = key, e.lastAccess
			}
		}
		c.dropLocked(oldestKey)
	}
}

func (c *Cache) dropLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.total -= int64(len(e.Bytes))
		delete(c.entries, key)
	}
}

func (c *Cache) writeDisk(key, format string, audio []byte) error {
	if err := os.MkdirAll(c.diskDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.diskDir, key+"."+format), audio, 0o600)
}

func (c *Cache) readDisk(key string) (Entry, bool) {
	if c.diskDir == "" {
		return Entry{}, false
	}
	matches, err := filepath.Glob(filepath.Join(c.diskDir, key+".*"))
	if err != nil || len(matches) == 0 {
		return Entry{}, false
	}
	audio, err := os.ReadFile(matches[0])
	if err != nil {
		return Entry{}, false
	}
	format := strings.TrimPrefix(filepath.Ext(matches[0]), ".")
	return Entry{
		Bytes:       audio,
		ContentType: contentTypeFor(format),
		Format:      format,
		CreatedAt:   c.now(),
		lastAccess:  c.now(),
	}, true
}

func contentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
