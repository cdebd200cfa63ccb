package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/protocol"
)

// fakeOwners is a minimal OwnerIndex for registry tests.
type fakeOwners struct {
	known map[string]bool
	owned map[string][]string
}

func newFakeOwners(adminIDs ...string) *fakeOwners {
	f := &fakeOwners{known: map[string]bool{}, owned: map[string][]string{}}
	for _, id := range adminIDs {
		f.known[id] = true
	}
	return f
}

func (f *fakeOwners) AddOwnedSession(adminID, sessionID string) error {
	f.owned[adminID] = append(f.owned[adminID], sessionID)
	return nil
}

func (f *fakeOwners) RemoveOwnedSession(adminID, sessionID string) error {
	out := f.owned[adminID][:0]
	for _, id := range f.owned[adminID] {
		if id != sessionID {
			out = append(out, id)
		}
	}
	f.owned[adminID] = out
	return nil
}

func (f *fakeOwners) Exists(adminID string) bool { return f.known[adminID] }

var testConfig = protocol.SessionConfig{
	EnabledLanguages: []string{"en", "es", "fr"},
	TTSMode:          protocol.TTSModeNeural,
	AudioQuality:     protocol.AudioQualityHigh,
}

func newTestRegistry(t *testing.T, owners OwnerIndex) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := NewRegistry(dir, 50, owners, zerolog.Nop())
	require.NoError(t, err)
	return r, dir
}

func TestCreatePersistsAndRecordsOwnership(t *testing.T) {
	owners := newFakeOwners("sub-alice")
	r, dir := newTestRegistry(t, owners)

	s, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)
	require.Equal(t, StatusActive, s.Status)
	require.Equal(t, "sub-alice", s.AdminID)

	_, err = os.Stat(filepath.Join(dir, "CHURCH-2025-001.json"))
	require.NoError(t, err)
	require.Equal(t, []string{"CHURCH-2025-001"}, owners.owned["sub-alice"])
}

func TestCreateRejectsDuplicateAndBadPattern(t *testing.T) {
	r, _ := newTestRegistry(t, newFakeOwners("sub-alice"))
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	_, err = r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.Equal(t, hubfault.CodeSessionAlreadyExists, hubfault.CodeOf(err))

	_, err = r.Create("not a session id", testConfig, "sub-alice", "sock-1", "Alice")
	require.Equal(t, hubfault.CodeInvalidSessionID, hubfault.CodeOf(err))

	bad := testConfig
	bad.TTSMode = "shouting"
	_, err = r.Create("CHURCH-2025-002", bad, "sub-alice", "sock-1", "Alice")
	require.Equal(t, hubfault.CodeSessionInvalidConfig, hubfault.CodeOf(err))
}

func TestOwnershipImmutableAcrossRestart(t *testing.T) {
	owners := newFakeOwners("sub-alice")
	r, dir := newTestRegistry(t, owners)
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)
	require.NoError(t, r.UpdateCurrentAdminSocket("CHURCH-2025-001", "sock-2"))

	reloaded, err := NewRegistry(dir, 50, owners, zerolog.Nop())
	require.NoError(t, err)
	s, err := reloaded.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.Equal(t, "sub-alice", s.AdminID)
	require.Empty(t, s.CurrentAdminSocketID, "advisory socket binding cleared on restart")
	require.Empty(t, s.Listeners, "roster is transient")
}

func TestVerifyAccessReadAllWriteOwn(t *testing.T) {
	r, _ := newTestRegistry(t, newFakeOwners("sub-alice", "sub-bob"))
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	ok, err := r.VerifyAccess("CHURCH-2025-001", "sub-bob", AccessRead)
	require.NoError(t, err)
	require.True(t, ok, "read is universally allowed to authenticated admins")

	ok, err = r.VerifyAccess("CHURCH-2025-001", "sub-bob", AccessWrite)
	require.NoError(t, err)
	require.False(t, ok, "write is owner-only")

	ok, err = r.VerifyAccess("CHURCH-2025-001", "sub-alice", AccessWrite)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, r.IsOwner("CHURCH-2025-001", "sub-alice"))
	require.False(t, r.IsOwner("CHURCH-2025-001", "sub-bob"))
}

func TestListenerRosterRules(t *testing.T) {
	r, _ := newTestRegistry(t, newFakeOwners("sub-alice"))
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	_, err = r.AddListener("CHURCH-2025-001", "l1", "es", protocol.Capabilities{CanPlaySynthesized: true})
	require.NoError(t, err)
	_, err = r.AddListener("CHURCH-2025-001", "l2", "es", protocol.Capabilities{})
	require.NoError(t, err)
	_, err = r.AddListener("CHURCH-2025-001", "l3", "de", protocol.Capabilities{})
	require.Equal(t, hubfault.CodeInvalidLanguage, hubfault.CodeOf(err),
		"preferredLanguage must be in enabledLanguages")

	require.Equal(t, []string{"es"}, r.ListenerLanguages("CHURCH-2025-001"))
	require.Len(t, r.ListenersInLanguage("CHURCH-2025-001", "es"), 2)
	require.Empty(t, r.ListenersInLanguage("CHURCH-2025-001", "en"))
	require.Equal(t, 2, r.ListenerCount("CHURCH-2025-001"))

	require.NoError(t, r.ChangeListenerLanguage("CHURCH-2025-001", "l1", "fr"))
	require.Equal(t, []string{"es", "fr"}, r.ListenerLanguages("CHURCH-2025-001"))
	require.Error(t, r.ChangeListenerLanguage("CHURCH-2025-001", "l1", "de"))

	require.Equal(t, "CHURCH-2025-001", r.RemoveListenerEverywhere("l2"))
	require.Equal(t, 1, r.ListenerCount("CHURCH-2025-001"))
	require.Empty(t, r.RemoveListenerEverywhere("l2"))
}

func TestListenerLimitEnforced(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, 2, newFakeOwners("sub-alice"), zerolog.Nop())
	require.NoError(t, err)
	_, err = r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	_, err = r.AddListener("CHURCH-2025-001", "l1", "en", protocol.Capabilities{})
	require.NoError(t, err)
	_, err = r.AddListener("CHURCH-2025-001", "l2", "en", protocol.Capabilities{})
	require.NoError(t, err)
	_, err = r.AddListener("CHURCH-2025-001", "l3", "en", protocol.Capabilities{})
	require.Equal(t, hubfault.CodeSessionClientLimit, hubfault.CodeOf(err))
}

func TestUpdateConfigReturnsRemovedLanguages(t *testing.T) {
	r, _ := newTestRegistry(t, newFakeOwners("sub-alice"))
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	next := protocol.SessionConfig{
		EnabledLanguages: []string{"en", "de"},
		TTSMode:          protocol.TTSModeStandard,
		AudioQuality:     protocol.AudioQualityMedium,
	}
	removed, err := r.UpdateConfig("CHURCH-2025-001", next)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"es", "fr"}, removed)

	s, err := r.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.Equal(t, next, s.Config)
}

func TestEndFreesRosterAndReleasesOwnership(t *testing.T) {
	owners := newFakeOwners("sub-alice")
	r, _ := newTestRegistry(t, owners)
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)
	_, err = r.AddListener("CHURCH-2025-001", "l1", "es", protocol.Capabilities{})
	require.NoError(t, err)

	ended, err := r.End("CHURCH-2025-001")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, ended.Status)
	require.Len(t, ended.Listeners, 1, "End reports the roster it evicted")

	s, err := r.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.Empty(t, s.Listeners)
	require.Empty(t, owners.owned["sub-alice"])

	// Ended sessions accept no further mutations.
	_, err = r.AddListener("CHURCH-2025-001", "l2", "es", protocol.Capabilities{})
	require.Error(t, err)
	_, err = r.UpdateConfig("CHURCH-2025-001", testConfig)
	require.Error(t, err)

	// Ending twice is idempotent.
	again, err := r.End("CHURCH-2025-001")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, again.Status)
}

func TestOrphanQuarantineAndResolution(t *testing.T) {
	owners := newFakeOwners("sub-alice")
	r, dir := newTestRegistry(t, owners)
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	// Owner disappears before the next start.
	orphanOwners := newFakeOwners()
	reloaded, err := NewRegistry(dir, 50, orphanOwners, zerolog.Nop())
	require.NoError(t, err)
	s, err := reloaded.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.True(t, s.Orphaned)

	// Orphans do not accept listeners.
	_, err = reloaded.AddListener("CHURCH-2025-001", "l1", "es", protocol.Capabilities{})
	require.Error(t, err)

	// Maintenance ends the orphan.
	ended := reloaded.RunMaintenance(0)
	require.Len(t, ended, 1)
	s, err = reloaded.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, s.Status)
}

func TestMaintenanceEndsIdleSessionsAndDeletesEndedOnes(t *testing.T) {
	owners := newFakeOwners("sub-alice")
	r, dir := newTestRegistry(t, owners)
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	r.mu.Lock()
	r.sessions["CHURCH-2025-001"].LastActivity = time.Now().UTC().Add(-10 * time.Hour)
	r.mu.Unlock()

	ended := r.RunMaintenance(8 * time.Hour)
	require.Len(t, ended, 1)

	r.mu.Lock()
	r.sessions["CHURCH-2025-001"].EndedAt = time.Now().UTC().Add(-time.Hour)
	r.mu.Unlock()
	r.RunMaintenance(8 * time.Hour)

	_, err = r.Get("CHURCH-2025-001")
	require.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(filepath.Join(dir, "CHURCH-2025-001.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestClearAdminSocket(t *testing.T) {
	r, _ := newTestRegistry(t, newFakeOwners("sub-alice"))
	_, err := r.Create("CHURCH-2025-001", testConfig, "sub-alice", "sock-1", "Alice")
	require.NoError(t, err)

	cleared := r.ClearAdminSocket("sock-1")
	require.Equal(t, []string{"CHURCH-2025-001"}, cleared)
	s, err := r.Get("CHURCH-2025-001")
	require.NoError(t, err)
	require.Empty(t, s.CurrentAdminSocketID)
	require.Equal(t, StatusActive, s.Status, "operator disconnect never ends a session")
}
