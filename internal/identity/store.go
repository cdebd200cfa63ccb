package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/auth"
	"github.com/verbatim-live/verbatim/internal/fsatomic"
	"github.com/verbatim-live/verbatim/internal/hubfault"
)

const (
	indexFile      = "admin-index.json"
	cleanupLogFile = "cleanup-log.json"
	cleanupLogCap  = 500

	lockRetries    = 3
	lockRetryDelay = 100 * time.Millisecond
)

var ErrNotFound = errors.New("admin identity not found")

// Store keeps every admin record in memory and mirrors durable fields to
// one JSON file per subject. Writes to one record are serialized by a
// per-key lock with a bounded retry policy.
type Store struct {
	dir string
	log zerolog.Logger

	mu          sync.RWMutex
	records     map[string]*Record
	socketAdmin map[string]string // socket handle -> adminId

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

// NewStore loads every record from dir, verifies the secondary index and
// rebuilds it from records when they disagree.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	s := &Store{
		dir:         dir,
		log:         logger.With().Str("component", "identity").Logger(),
		records:     make(map[string]*Record),
		socketAdmin: make(map[string]string),
		locks:       make(map[string]chan struct{}),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read identity dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") ||
			name == indexFile || name == cleanupLogFile || strings.HasSuffix(name, ".bak") {
			continue
		}
		var rec Record
		if err := fsatomic.LoadJSON(filepath.Join(s.dir, name), &rec); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable identity record")
			continue
		}
		if rec.AdminID == "" {
			s.log.Warn().Str("file", name).Msg("skipping identity record without adminId")
			continue
		}
		rec.ActiveSockets = map[string]bool{} // sockets never survive a restart
		s.records[rec.AdminID] = &rec
	}

	var idx index
	idxErr := fsatomic.LoadJSON(filepath.Join(s.dir, indexFile), &idx)
	if idxErr != nil || !s.indexMatches(idx) {
		if idxErr != nil {
			s.log.Info().Msg("identity index missing or unreadable, rebuilding from records")
		} else {
			s.log.Warn().Msg("identity index disagrees with records, rebuilding")
		}
		if err := s.persistIndexLocked(); err != nil {
			return err
		}
	}
	s.log.Info().Int("records", len(s.records)).Msg("identity store loaded")
	return nil
}

func (s *Store) indexMatches(idx index) bool {
	if idx.RecordCount != len(s.records) {
		return false
	}
	for _, rec := range s.records {
		if rec.Username != "" && idx.ByUsername[rec.Username] != rec.AdminID {
			return false
		}
		if rec.Email != "" && idx.ByEmail[rec.Email] != rec.AdminID {
			return false
		}
	}
	return true
}

func (s *Store) buildIndex() index {
	idx := index{
		ByUsername:  make(map[string]string, len(s.records)),
		ByEmail:     make(map[string]string, len(s.records)),
		RecordCount: len(s.records),
	}
	for _, rec := range s.records {
		if rec.Username != "" {
			idx.ByUsername[rec.Username] = rec.AdminID
		}
		if rec.Email != "" {
			idx.ByEmail[rec.Email] = rec.AdminID
		}
	}
	return idx
}

// persistIndexLocked writes the index; callers hold at least a read view
// of records consistent with what they are persisting.
func (s *Store) persistIndexLocked() error {
	if err := fsatomic.SaveJSON(filepath.Join(s.dir, indexFile), s.buildIndex()); err != nil {
		return hubfault.New(hubfault.CodeStorage, "persist identity index").WithCause(err)
	}
	return nil
}

// acquire takes the per-key write lock for adminID, retrying a bounded
// number of times. Failure is a retryable storage fault, never a wait.
func (s *Store) acquire(adminID string) (func(), error) {
	s.lockMu.Lock()
	ch, ok := s.locks[adminID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[adminID] = ch
	}
	s.lockMu.Unlock()

	for attempt := 0; attempt <= lockRetries; attempt++ {
		select {
		case ch <- struct{}{}:
			return func() { <-ch }, nil
		default:
			if attempt < lockRetries {
				time.Sleep(lockRetryDelay)
			}
		}
	}
	return nil, hubfault.New(hubfault.CodeStorage,
		"identity record busy").WithAdmin(adminID).WithRetryAfter(time.Second)
}

func (s *Store) recordPath(adminID string) string {
	return filepath.Join(s.dir, adminID+".json")
}

func (s *Store) persist(rec *Record) error {
	if err := fsatomic.SaveJSON(s.recordPath(rec.AdminID), rec); err != nil {
		return hubfault.New(hubfault.CodeStorage, "persist identity record").
			WithAdmin(rec.AdminID).WithCause(err)
	}
	return s.persistIndexLocked()
}

// GetOrCreateFromProvider is idempotent by subject. Display attributes
// are refreshed from the provider on every call; the subject is never
// rewritten.
func (s *Store) GetOrCreateFromProvider(info auth.UserInfo) (*Record, error) {
	if info.Subject == "" {
		return nil, hubfault.New(hubfault.CodeIdentityCreateFailed, "provider user info has no subject")
	}
	release, err := s.acquire(info.Subject)
	if err != nil {
		return nil, err
	}
	defer release()

	now := time.Now().UTC()

	s.mu.Lock()
	rec, ok := s.records[info.Subject]
	if !ok {
		rec = newRecord(info, now)
		s.records[info.Subject] = rec
		s.log.Info().Str("adminId", rec.AdminID).Str("username", rec.Username).Msg("admin identity created")
	} else {
		rec.Username = info.Username
		rec.Email = info.Email
		if info.Groups != nil {
			rec.Groups = info.Groups
		}
	}
	rec.LastSeen = now
	snapshot := rec.clone()
	s.mu.Unlock()

	s.mu.RLock()
	err = s.persist(snapshot)
	s.mu.RUnlock()
	if err != nil {
		if !ok {
			s.mu.Lock()
			delete(s.records, info.Subject)
			s.mu.Unlock()
			return nil, err
		}
		return nil, err
	}
	return snapshot, nil
}

func (s *Store) Get(adminID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[adminID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *Store) Exists(adminID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[adminID]
	return ok
}

// mutateOwned applies fn to the owned-session set under the per-key lock
// and persists the result. On persistence failure the in-memory state is
// rolled back so memory and disk stay consistent.
func (s *Store) mutateOwned(adminID string, fn func(owned []string) []string) error {
	release, err := s.acquire(adminID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	rec, ok := s.records[adminID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	before := append([]string(nil), rec.OwnedSessions...)
	rec.OwnedSessions = fn(rec.OwnedSessions)
	sort.Strings(rec.OwnedSessions)
	rec.LastSeen = time.Now().UTC()
	snapshot := rec.clone()
	s.mu.Unlock()

	s.mu.RLock()
	err = s.persist(snapshot)
	s.mu.RUnlock()
	if err != nil {
		s.mu.Lock()
		if rec, ok := s.records[adminID]; ok {
			rec.OwnedSessions = before
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) AddOwnedSession(adminID, sessionID string) error {
	return s.mutateOwned(adminID, func(owned []string) []string {
		for _, id := range owned {
			if id == sessionID {
				return owned
			}
		}
		return append(owned, sessionID)
	})
}

func (s *Store) RemoveOwnedSession(adminID, sessionID string) error {
	return s.mutateOwned(adminID, func(owned []string) []string {
		out := owned[:0]
		for _, id := range owned {
			if id != sessionID {
				out = append(out, id)
			}
		}
		return out
	})
}

// AddActiveSocket binds a live connection to an admin. In-memory only.
func (s *Store) AddActiveSocket(adminID, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[adminID]
	if !ok {
		return ErrNotFound
	}
	rec.ActiveSockets[socketID] = true
	rec.LastSeen = time.Now().UTC()
	s.socketAdmin[socketID] = adminID
	return nil
}

func (s *Store) RemoveActiveSocket(adminID, socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[adminID]; ok {
		delete(rec.ActiveSockets, socketID)
	}
	delete(s.socketAdmin, socketID)
}

// LookupBySocket resolves a connection handle to its bound admin, or ""
// when the socket is unauthenticated.
func (s *Store) LookupBySocket(socketID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socketAdmin[socketID]
}

// LookupByUsername is for display purposes; authorization always keys on
// the adminId.
func (s *Store) LookupByUsername(username string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Username == username {
			return rec.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) LookupByEmail(email string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Email == email {
			return rec.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) ListAll() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdminID < out[j].AdminID })
	return out
}

// SocketsOf returns the live connection handles bound to adminID.
func (s *Store) SocketsOf(adminID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[adminID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rec.ActiveSockets))
	for id := range rec.ActiveSockets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Delete(adminID string) error {
	release, err := s.acquire(adminID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	rec, ok := s.records[adminID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.records, adminID)
	for sock := range rec.ActiveSockets {
		delete(s.socketAdmin, sock)
	}
	s.mu.Unlock()

	if err := fsatomic.Remove(s.recordPath(adminID)); err != nil {
		return hubfault.New(hubfault.CodeStorage, "delete identity record").
			WithAdmin(adminID).WithCause(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistIndexLocked()
}

// RunCleanup deletes identities that own no sessions and have not been
// seen within the retention window. Identities with owned sessions are
// never deleted, regardless of lastSeen.
func (s *Store) RunCleanup(retention time.Duration) []CleanupEntry {
	cutoff := time.Now().UTC().Add(-retention)

	s.mu.RLock()
	var stale []*Record
	for _, rec := range s.records {
		if len(rec.OwnedSessions) == 0 && rec.LastSeen.Before(cutoff) {
			stale = append(stale, rec.clone())
		}
	}
	s.mu.RUnlock()

	var removed []CleanupEntry
	for _, rec := range stale {
		if err := s.Delete(rec.AdminID); err != nil {
			s.log.Warn().Err(err).Str("adminId", rec.AdminID).Msg("cleanup delete failed")
			continue
		}
		removed = append(removed, CleanupEntry{
			AdminID:   rec.AdminID,
			Username:  rec.Username,
			Reason:    fmt.Sprintf("no owned sessions, last seen %s", rec.LastSeen.Format(time.RFC3339)),
			RemovedAt: time.Now().UTC(),
		})
		s.log.Info().Str("adminId", rec.AdminID).Msg("stale admin identity removed")
	}
	if len(removed) > 0 {
		s.appendCleanupLog(removed)
	}
	return removed
}

func (s *Store) appendCleanupLog(entries []CleanupEntry) {
	path := filepath.Join(s.dir, cleanupLogFile)
	var log []CleanupEntry
	_ = fsatomic.LoadJSON(path, &log)
	log = append(log, entries...)
	if len(log) > cleanupLogCap {
		log = log[len(log)-cleanupLogCap:]
	}
	if err := fsatomic.SaveJSON(path, log); err != nil {
		s.log.Warn().Err(err).Msg("cleanup log write failed")
	}
}

// StartCleanup runs RunCleanup on a ticker until ctx is done.
func (s *Store) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunCleanup(retention)
			}
		}
	}()
}
