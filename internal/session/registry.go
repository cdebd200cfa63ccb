package session

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

	"github.com/verbatim-live/verbatim/internal/fsatomic"
	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/protocol"
)

var ErrNotFound = errors.New("session not found")

const endedRetention = 5 * time.Minute // ended sessions linger briefly for late reads

// Registry is the in-memory and on-disk directory of sessions.
type Registry struct {
	dir          string
	maxListeners int
	owners       OwnerIndex
	log          zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry loads every persisted session from dir. Sessions whose
// owner is unknown to the identity store are quarantined as orphans.
func NewRegistry(dir string, maxListeners int, owners OwnerIndex, logger zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	r := &Registry{
		dir:          dir,
		maxListeners: maxListeners,
		owners:       owners,
		log:          logger.With().Str("component", "sessions").Logger(),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll() error {
	r.sessions = make(map[string]*Session)
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".bak") {
			continue
		}
		var p persisted
		if err := fsatomic.LoadJSON(filepath.Join(r.dir, name), &p); err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable session record")
			continue
		}
		if p.SessionID == "" || p.AdminID == "" {
			r.log.Warn().Str("file", name).Msg("skipping malformed session record")
			continue
		}
		s := fromPersisted(p)
		if !r.owners.Exists(s.AdminID) {
			s.Orphaned = true
			r.log.Warn().Str("sessionId", s.SessionID).Str("adminId", s.AdminID).
				Msg("session quarantined: owner missing from identity store")
		}
		r.sessions[s.SessionID] = s
	}
	r.log.Info().Int("sessions", len(r.sessions)).Msg("session registry loaded")
	return nil
}

func (r *Registry) path(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".json")
}

func (r *Registry) persist(s *Session) error {
	if err := fsatomic.SaveJSON(r.path(s.SessionID), s.toPersisted()); err != nil {
		return hubfault.New(hubfault.CodeStorage, "persist session record").
			WithSession(s.SessionID).WithCause(err)
	}
	return nil
}

// Create installs a new session and records ownership. The disk write
// completes before Create returns; on write failure the in-memory state
// is rolled back and a retryable fault is returned.
func (r *Registry) Create(sessionID string, cfg protocol.SessionConfig, adminID, socketID, createdBy string) (*Session, error) {
	if !protocol.ValidSessionID(sessionID) {
		return nil, hubfault.New(hubfault.CodeInvalidSessionID,
			"session id does not match required pattern").WithSession(sessionID)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, hubfault.New(hubfault.CodeSessionInvalidConfig, "session config rejected").
			WithSession(sessionID).WithValidationErrors(problems...)
	}

	now := time.Now().UTC()
	s := &Session{
		SessionID:            sessionID,
		AdminID:              adminID,
		CreatedBy:            createdBy,
		CurrentAdminSocketID: socketID,
		Config:               cfg,
		Listeners:            map[string]*Listener{},
		CreatedAt:            now,
		LastActivity:         now,
		Status:               StatusActive,
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, hubfault.New(hubfault.CodeSessionAlreadyExists,
			"session id already in use").WithSession(sessionID)
	}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if err := r.persist(s); err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		return nil, err
	}
	if err := r.owners.AddOwnedSession(adminID, sessionID); err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		_ = fsatomic.Remove(r.path(sessionID))
		return nil, hubfault.New(hubfault.CodeSessionCreateFailed,
			"recording session ownership failed").WithSession(sessionID).WithCause(err)
	}

	r.log.Info().Str("sessionId", sessionID).Str("adminId", adminID).Msg("session created")
	return s.clone(), nil
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (r *Registry) ListOwnedBy(adminID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.AdminID == adminID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// UpdateCurrentAdminSocket rebinds the advisory operator socket. Not
// persisted, not authoritative.
func (r *Registry) UpdateCurrentAdminSocket(sessionID, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.CurrentAdminSocketID = socketID
	s.LastActivity = time.Now().UTC()
	return nil
}

// UpdateConfig validates and applies a new config, returning the set of
// languages that were removed so the router can notify their listeners.
func (r *Registry) UpdateConfig(sessionID string, cfg protocol.SessionConfig) ([]string, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, hubfault.New(hubfault.CodeSessionInvalidConfig, "session config rejected").
			WithSession(sessionID).WithValidationErrors(problems...)
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		r.mu.Unlock()
		return nil, hubfault.New(hubfault.CodeSessionUpdateFailed,
			"session has ended").WithSession(sessionID)
	}
	before := s.Config
	var removed []string
	for _, l := range before.EnabledLanguages {
		if !cfg.HasLanguage(l) {
			removed = append(removed, l)
		}
	}
	s.Config = cfg
	s.LastActivity = time.Now().UTC()
	snapshot := s.clone()
	r.mu.Unlock()

	if err := r.persist(snapshot); err != nil {
		r.mu.Lock()
		if s, ok := r.sessions[sessionID]; ok {
			s.Config = before
		}
		r.mu.Unlock()
		return nil, err
	}
	return removed, nil
}

func (r *Registry) AddListener(sessionID, socketID, preferredLanguage string, caps protocol.Capabilities) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Orphaned {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, hubfault.New(hubfault.CodeSessionNotFound,
			"session is not accepting listeners").WithSession(sessionID)
	}
	if !s.Config.HasLanguage(preferredLanguage) {
		return nil, hubfault.New(hubfault.CodeInvalidLanguage,
			"language not enabled for session").WithSession(sessionID)
	}
	if len(s.Listeners) >= r.maxListeners {
		return nil, hubfault.New(hubfault.CodeSessionClientLimit,
			"session listener limit reached").WithSession(sessionID)
	}
	now := time.Now().UTC()
	s.Listeners[socketID] = &Listener{
		SocketID:          socketID,
		PreferredLanguage: preferredLanguage,
		JoinedAt:          now,
		LastSeen:          now,
		Capabilities:      caps,
	}
	s.LastActivity = now
	return s.clone(), nil
}

func (r *Registry) RemoveListener(sessionID, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		delete(s.Listeners, socketID)
		s.LastActivity = time.Now().UTC()
	}
}

// RemoveListenerEverywhere drops a disconnected socket from whichever
// roster holds it and reports the session it was in.
func (r *Registry) RemoveListenerEverywhere(socketID string) (sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if _, ok := s.Listeners[socketID]; ok {
			delete(s.Listeners, socketID)
			s.LastActivity = time.Now().UTC()
			return id
		}
	}
	return ""
}

func (r *Registry) ChangeListenerLanguage(sessionID, socketID, newLanguage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	l, ok := s.Listeners[socketID]
	if !ok {
		return hubfault.New(hubfault.CodeInvalidInput, "listener not in session").WithSession(sessionID)
	}
	if !s.Config.HasLanguage(newLanguage) {
		return hubfault.New(hubfault.CodeInvalidLanguage,
			"language not enabled for session").WithSession(sessionID)
	}
	l.PreferredLanguage = newLanguage
	l.LastSeen = time.Now().UTC()
	return nil
}

// End transitions the session to ended, frees the roster and persists.
// The record itself is deleted later by the cleanup loop; an ended
// session accepts no further frames either way.
func (r *Registry) End(sessionID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		snapshot := s.clone()
		r.mu.Unlock()
		return snapshot, nil
	}
	ended := s.clone() // keeps the roster so the router can notify listeners
	s.Status = StatusEnded
	s.EndedAt = time.Now().UTC()
	s.LastActivity = s.EndedAt
	s.Listeners = map[string]*Listener{}
	s.CurrentAdminSocketID = ""
	snapshot := s.clone()
	r.mu.Unlock()

	if err := r.persist(snapshot); err != nil {
		return nil, err
	}
	if err := r.owners.RemoveOwnedSession(snapshot.AdminID, sessionID); err != nil {
		r.log.Warn().Err(err).Str("sessionId", sessionID).Msg("ownership release failed")
	}
	r.log.Info().Str("sessionId", sessionID).Msg("session ended")
	ended.Status = StatusEnded
	return ended, nil
}

// VerifyAccess implements the deliberate read/write asymmetry: any
// authenticated admin may read any session; only the owner may write.
func (r *Registry) VerifyAccess(sessionID, adminID string, mode AccessMode) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if mode == AccessRead {
		return adminID != "", nil
	}
	return s.AdminID == adminID, nil
}

// IsOwner reports ownership for read responses.
func (r *Registry) IsOwner(sessionID, adminID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return ok && s.AdminID == adminID
}

// ListenersInLanguage snapshots the roster slice for one language, so
// broadcast iteration never blocks roster mutations.
func (r *Registry) ListenersInLanguage(sessionID, language string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	var out []Listener
	for _, l := range s.Listeners {
		if l.PreferredLanguage == language {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// ForEachListenerInLanguage calls fn for each snapshot listener.
func (r *Registry) ForEachListenerInLanguage(sessionID, language string, fn func(Listener)) {
	for _, l := range r.ListenersInLanguage(sessionID, language) {
		fn(l)
	}
}

// ListenerLanguages returns the distinct languages currently preferred
// by at least one listener.
func (r *Registry) ListenerLanguages(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	for _, l := range s.Listeners {
		seen[l.PreferredLanguage] = true
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ListenerCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sessionID]; ok {
		return len(s.Listeners)
	}
	return 0
}

// ClearAdminSockets clears the advisory socket binding on startup or
// when the bound operator connection goes away.
func (r *Registry) ClearAdminSocket(socketID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared []string
	for id, s := range r.sessions {
		if s.CurrentAdminSocketID == socketID {
			s.CurrentAdminSocketID = ""
			cleared = append(cleared, id)
		}
	}
	sort.Strings(cleared)
	return cleared
}

// RunMaintenance deletes ended sessions past their retention, ends
// sessions idle beyond idleTimeout, and resolves orphans: a session
// whose owner reappeared is released from quarantine, one whose owner
// is still missing is ended and removed. Returns the ended sessions so
// the router can notify any listeners.
func (r *Registry) RunMaintenance(idleTimeout time.Duration) []*Session {
	now := time.Now().UTC()
	var ended []*Session

	r.mu.Lock()
	var toDelete []string
	var toEnd []string
	for id, s := range r.sessions {
		switch {
		case s.Status == StatusEnded && now.Sub(s.EndedAt) > endedRetention:
			toDelete = append(toDelete, id)
		case s.Orphaned:
			if r.owners.Exists(s.AdminID) {
				s.Orphaned = false
				r.log.Info().Str("sessionId", id).Msg("orphaned session reclaimed by restored owner")
			} else {
				toEnd = append(toEnd, id)
			}
		case s.Status == StatusActive && idleTimeout > 0 && now.Sub(s.LastActivity) > idleTimeout:
			toEnd = append(toEnd, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toEnd {
		s, err := r.End(id)
		if err != nil {
			continue
		}
		ended = append(ended, s)
	}
	for _, id := range toDelete {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		if err := fsatomic.Remove(r.path(id)); err != nil {
			r.log.Warn().Err(err).Str("sessionId", id).Msg("session file delete failed")
		}
	}
	return ended
}

// StartMaintenance runs RunMaintenance on a ticker until ctx is done.
func (r *Registry) StartMaintenance(ctx context.Context, interval, idleTimeout time.Duration, onEnded func(*Session)) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range r.RunMaintenance(idleTimeout) {
					if onEnded != nil {
						onEnded(s)
					}
				}
			}
		}
	}()
}
