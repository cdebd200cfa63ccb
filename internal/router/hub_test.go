package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/audiocache"
	"github.com/verbatim-live/verbatim/internal/auth"
	"github.com/verbatim-live/verbatim/internal/config"
	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/identity"
	"github.com/verbatim-live/verbatim/internal/observability"
	"github.com/verbatim-live/verbatim/internal/protocol"
	"github.com/verbatim-live/verbatim/internal/security"
	"github.com/verbatim-live/verbatim/internal/session"
	"github.com/verbatim-live/verbatim/internal/tts"
)

// Prometheus collectors register globally, so every test shares one set.
var testMetrics = observability.NewMetrics("routertest")

type fakeVerifier struct{}

func (fakeVerifier) AuthenticateCredentials(_ context.Context, username, password string) (auth.CredentialResult, error) {
	if username == "ghost" {
		return auth.CredentialResult{}, hubfault.New(hubfault.CodeUserNotFound, "user does not exist")
	}
	if password != "correct" {
		return auth.CredentialResult{}, hubfault.New(hubfault.CodeInvalidCredentials, "password rejected")
	}
	return auth.CredentialResult{
		UserInfo: auth.UserInfo{
			Subject:  "sub-" + username,
			Username: username,
			Email:    username + "@example.com",
		},
		AccessToken:  "access-" + username,
		RefreshToken: "refresh-" + username,
		ExpiresIn:    3600,
	}, nil
}

func (fakeVerifier) ValidateAccessToken(_ context.Context, token string) (auth.UserInfo, error) {
	if token != "access-alice" {
		return auth.UserInfo{}, hubfault.New(hubfault.CodeTokenInvalid, "token rejected")
	}
	return auth.UserInfo{Subject: "sub-alice", Username: "alice", Email: "alice@example.com"}, nil
}

func (fakeVerifier) RefreshAccessToken(_ context.Context, username, refreshToken string) (auth.RefreshResult, error) {
	if refreshToken != "refresh-"+username {
		return auth.RefreshResult{}, hubfault.New(hubfault.CodeRefreshTokenExpired, "refresh token rejected")
	}
	return auth.RefreshResult{AccessToken: "access-" + username + "-2", ExpiresIn: 3600}, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(_ context.Context, _ string, _ tts.Voice, _ string) (tts.SpeechResult, error) {
	return tts.SpeechResult{Audio: []byte("mp3bytes"), ContentType: "audio/mpeg"}, nil
}

type downSpeech struct{}

func (downSpeech) Synthesize(_ context.Context, _ string, _ tts.Voice, _ string) (tts.SpeechResult, error) {
	return tts.SpeechResult{}, errors.New("service unavailable")
}

func newTestHub(t *testing.T, provider tts.Provider) *Hub {
	t.Helper()
	logger := zerolog.Nop()
	idents, err := identity.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	reg, err := session.NewRegistry(t.TempDir(), 50, idents, logger)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := tts.NewEngine(tts.EngineOpts{Provider: provider, Timeout: time.Second, MaxAttempts: 1}, logger)
	cache := audiocache.New(audiocache.Opts{}, logger)
	limiter := security.NewLimiter(security.LimiterOpts{
		AuthPerMinute: 100, OpsPerMinute: 1000, OpsPerHour: 10000, LockoutThreshold: 3,
	})
	audit := security.NewAuditLog(100, logger)
	cfg := config.Config{
		PublicBaseURL:    "http://hub.test",
		AuthGraceWindow:  time.Minute,
		TokenWarningLead: 5 * time.Minute,
	}
	return NewHub(cfg, fakeVerifier{}, idents, reg, engine, cache, limiter, audit, testMetrics, logger)
}

func connect(h *Hub) *Conn {
	c := NewConn("10.0.0.1")
	h.register(c)
	return c
}

func recv(t *testing.T, c *Conn) any {
	t.Helper()
	select {
	case frame := <-c.Outbound:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound frame")
		return nil
	}
}

// recvType drains frames until one of the wanted type arrives.
func recvType[T any](t *testing.T, c *Conn) T {
	t.Helper()
	for i := 0; i < 10; i++ {
		if frame, ok := recv(t, c).(T); ok {
			return frame
		}
	}
	var zero T
	t.Fatalf("frame of type %T never arrived", zero)
	return zero
}

func authOperator(t *testing.T, h *Hub, c *Conn, username string) protocol.AdminAuthResponse {
	t.Helper()
	h.dispatch(context.Background(), c, protocol.AdminAuth{
		Type: protocol.TypeAdminAuth, Method: protocol.AuthMethodCredentials,
		Username: username, Password: "correct",
	})
	return recvType[protocol.AdminAuthResponse](t, c)
}

func startSession(t *testing.T, h *Hub, c *Conn, id string, langs ...string) {
	t.Helper()
	h.dispatch(context.Background(), c, protocol.StartSession{
		Type: protocol.TypeStartSession, SessionID: id,
		Config: protocol.SessionConfig{
			EnabledLanguages: langs,
			TTSMode:          protocol.TTSModeNeural,
			AudioQuality:     protocol.AudioQualityMedium,
		},
	})
	resp := recvType[protocol.StartSessionResponse](t, c)
	if !resp.Success {
		t.Fatalf("start-session failed: %+v", resp)
	}
}

func joinListener(t *testing.T, h *Hub, c *Conn, sessionID, lang string, canPlay bool) protocol.SessionMetadata {
	t.Helper()
	h.dispatch(context.Background(), c, protocol.JoinSession{
		Type: protocol.TypeJoinSession, SessionID: sessionID, PreferredLanguage: lang,
		Capabilities: protocol.Capabilities{CanPlaySynthesized: canPlay},
	})
	return recvType[protocol.SessionMetadata](t, c)
}

func TestAdminAuthCredentials(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)

	resp := authOperator(t, h, c, "alice")
	if resp.AdminID != "sub-alice" || resp.Username != "alice" {
		t.Fatalf("unexpected auth response: %+v", resp)
	}
	if resp.Tokens == nil || resp.Tokens.AccessToken != "access-alice" {
		t.Fatalf("tokens not forwarded: %+v", resp.Tokens)
	}
	if !resp.Permissions.CanCreateSessions || !resp.Permissions.CanViewAll {
		t.Fatalf("permissions wrong: %+v", resp.Permissions)
	}
}

func TestAdminAuthFailureIndistinguishable(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)

	h.dispatch(context.Background(), c, protocol.AdminAuth{
		Type: protocol.TypeAdminAuth, Method: protocol.AuthMethodCredentials,
		Username: "alice", Password: "wrong",
	})
	wrongPass := recvType[protocol.AdminError](t, c)

	h.dispatch(context.Background(), c, protocol.AdminAuth{
		Type: protocol.TypeAdminAuth, Method: protocol.AuthMethodCredentials,
		Username: "ghost", Password: "whatever",
	})
	unknownUser := recvType[protocol.AdminError](t, c)

	if wrongPass.UserMessage != unknownUser.UserMessage {
		t.Fatalf("user messages differ: %q vs %q", wrongPass.UserMessage, unknownUser.UserMessage)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)

	// The lockout counts by source address, so a spray across distinct
	// usernames from one connection still trips it.
	for i := 0; i < 3; i++ {
		h.dispatch(context.Background(), c, protocol.AdminAuth{
			Type: protocol.TypeAdminAuth, Method: protocol.AuthMethodCredentials,
			Username: fmt.Sprintf("user-%d", i), Password: "wrong",
		})
		recvType[protocol.AdminError](t, c)
	}

	// Correct credentials for a name never tried now meet the lockout,
	// not the verifier.
	h.dispatch(context.Background(), c, protocol.AdminAuth{
		Type: protocol.TypeAdminAuth, Method: protocol.AuthMethodCredentials,
		Username: "alice", Password: "correct",
	})
	locked := recvType[protocol.AdminError](t, c)
	if locked.ErrorCode != string(hubfault.CodeAccountLocked) {
		t.Fatalf("errorCode = %q, want account_locked", locked.ErrorCode)
	}
	if !locked.Retryable || locked.RetryAfter <= 0 {
		t.Fatalf("lockout must be retryable with retryAfter: %+v", locked)
	}
}

func TestOperationsRequireAuthentication(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)

	h.dispatch(context.Background(), c, protocol.StartSession{
		Type: protocol.TypeStartSession, SessionID: "Church-2025-001",
		Config: protocol.SessionConfig{EnabledLanguages: []string{"en"}, TTSMode: "disabled", AudioQuality: "low"},
	})
	errFrame := recvType[protocol.AdminError](t, c)
	if errFrame.ErrorCode != string(hubfault.CodeAccessDenied) {
		t.Fatalf("errorCode = %q, want access_denied", errFrame.ErrorCode)
	}
}

func TestEndSessionNotifiesListeners(t *testing.T) {
	h := newTestHub(t, nil)
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en", "es")

	listener := connect(h)
	joinListener(t, h, listener, "Church-2025-001", "es", true)

	h.dispatch(context.Background(), op, protocol.EndSession{
		Type: protocol.TypeEndSession, SessionID: "Church-2025-001",
	})
	resp := recvType[protocol.EndSessionResponse](t, op)
	if !resp.Success {
		t.Fatalf("end-session failed: %+v", resp)
	}
	ended := recvType[protocol.SessionEnded](t, listener)
	if ended.SessionID != "Church-2025-001" {
		t.Fatalf("session-ended for wrong session: %+v", ended)
	}
}

func TestWriteRequiresOwnership(t *testing.T) {
	h := newTestHub(t, nil)
	owner := connect(h)
	authOperator(t, h, owner, "alice")
	startSession(t, h, owner, "Church-2025-001", "en")

	intruder := connect(h)
	authOperator(t, h, intruder, "bob")
	h.dispatch(context.Background(), intruder, protocol.EndSession{
		Type: protocol.TypeEndSession, SessionID: "Church-2025-001",
	})
	denied := recvType[protocol.AdminError](t, intruder)
	if denied.ErrorCode != string(hubfault.CodeSessionNotOwned) {
		t.Fatalf("errorCode = %q, want session_not_owned", denied.ErrorCode)
	}
	if denied.Retryable {
		t.Fatalf("ownership violation must not be retryable")
	}

	found := false
	for _, ev := range h.audit.Recent(10) {
		if ev.Kind == security.EventOwnershipViolation && ev.SessionID == "Church-2025-001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ownership violation not audited")
	}
}

func TestReadAccessForNonOwner(t *testing.T) {
	h := newTestHub(t, nil)
	owner := connect(h)
	authOperator(t, h, owner, "alice")
	startSession(t, h, owner, "Church-2025-001", "en")

	reader := connect(h)
	authOperator(t, h, reader, "bob")
	h.dispatch(context.Background(), reader, protocol.ListSessions{Type: protocol.TypeListSessions, Filter: "all"})
	list := recvType[protocol.ListSessionsResponse](t, reader)
	if len(list.Sessions) != 1 || list.Sessions[0].IsOwner {
		t.Fatalf("non-owner read view wrong: %+v", list.Sessions)
	}

	h.dispatch(context.Background(), reader, protocol.AdminSessionAccess{
		Type: protocol.TypeAdminSessionAccess, SessionID: "Church-2025-001", Mode: "read",
	})
	recvType[protocol.SessionMetadata](t, reader)
}

func TestBroadcastRoutesByLanguage(t *testing.T) {
	h := newTestHub(t, stubSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en", "es")

	english := connect(h)
	joinListener(t, h, english, "Church-2025-001", "en", true)
	spanish := connect(h)
	joinListener(t, h, spanish, "Church-2025-001", "es", true)

	h.dispatch(context.Background(), op, protocol.BroadcastTranslation{
		Type:      protocol.TypeBroadcastTranslation,
		SessionID: "Church-2025-001",
		Translations: map[string]string{
			"en": "Welcome everyone",
			"es": "Bienvenidos a todos",
			"fr": "Bienvenue", // not enabled, must not leak anywhere
		},
		GenerateTTS: true,
	})

	en := recvType[protocol.Translation](t, english)
	if en.Language != "en" || en.Text != "Welcome everyone" {
		t.Fatalf("english frame wrong: %+v", en)
	}
	if en.AudioURL == nil || en.Audio == nil || en.Tier != tts.TierNeural {
		t.Fatalf("english frame missing audio: %+v", en)
	}
	es := recvType[protocol.Translation](t, spanish)
	if es.Language != "es" || es.Text != "Bienvenidos a todos" {
		t.Fatalf("spanish frame wrong: %+v", es)
	}

	select {
	case extra := <-english.Outbound:
		t.Fatalf("unexpected extra frame for english listener: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastSecondTimeHitsCache(t *testing.T) {
	h := newTestHub(t, stubSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	listener := connect(h)
	joinListener(t, h, listener, "Church-2025-001", "en", true)

	msg := protocol.BroadcastTranslation{
		Type:         protocol.TypeBroadcastTranslation,
		SessionID:    "Church-2025-001",
		Translations: map[string]string{"en": "Welcome"},
		GenerateTTS:  true,
	}
	h.dispatch(context.Background(), op, msg)
	first := recvType[protocol.Translation](t, listener)
	if first.Audio == nil || first.Audio.CacheHit {
		t.Fatalf("first broadcast should be a cache miss: %+v", first.Audio)
	}

	h.dispatch(context.Background(), op, msg)
	second := recvType[protocol.Translation](t, listener)
	if second.Audio == nil || !second.Audio.CacheHit {
		t.Fatalf("second broadcast should be a cache hit: %+v", second.Audio)
	}
	if *first.AudioURL != *second.AudioURL {
		t.Fatalf("cache must yield a stable URL: %q vs %q", *first.AudioURL, *second.AudioURL)
	}
}

func TestBroadcastCapabilityDowngrade(t *testing.T) {
	h := newTestHub(t, stubSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	textOnly := connect(h)
	joinListener(t, h, textOnly, "Church-2025-001", "en", false)

	h.dispatch(context.Background(), op, protocol.BroadcastTranslation{
		Type:         protocol.TypeBroadcastTranslation,
		SessionID:    "Church-2025-001",
		Translations: map[string]string{"en": "Welcome"},
		GenerateTTS:  true,
	})
	frame := recvType[protocol.Translation](t, textOnly)
	if frame.AudioURL != nil || frame.Audio != nil || frame.Tier != tts.TierTextOnly {
		t.Fatalf("incapable listener must get text only: %+v", frame)
	}
	if frame.Text != "Welcome" {
		t.Fatalf("text missing: %+v", frame)
	}
}

func TestConfigUpdateNotifiesRemovedLanguage(t *testing.T) {
	h := newTestHub(t, nil)
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en", "es")

	spanish := connect(h)
	joinListener(t, h, spanish, "Church-2025-001", "es", true)
	english := connect(h)
	joinListener(t, h, english, "Church-2025-001", "en", true)

	h.dispatch(context.Background(), op, protocol.UpdateSessionConfig{
		Type: protocol.TypeUpdateSessionConfig, SessionID: "Church-2025-001",
		Config: protocol.SessionConfig{
			EnabledLanguages: []string{"en"},
			TTSMode:          protocol.TTSModeNeural,
			AudioQuality:     protocol.AudioQualityMedium,
		},
	})
	resp := recvType[protocol.UpdateSessionConfigResponse](t, op)
	if len(resp.RemovedLanguages) != 1 || resp.RemovedLanguages[0] != "es" {
		t.Fatalf("removedLanguages = %v", resp.RemovedLanguages)
	}

	removed := recvType[protocol.LanguageRemoved](t, spanish)
	if removed.Language != "es" || len(removed.RemainingLanguages) != 1 {
		t.Fatalf("language-removed wrong: %+v", removed)
	}
	updated := recvType[protocol.ConfigUpdated](t, english)
	if len(updated.Config.EnabledLanguages) != 1 {
		t.Fatalf("config-updated wrong: %+v", updated)
	}
}

func TestJoinRejectsDisabledLanguage(t *testing.T) {
	h := newTestHub(t, nil)
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	listener := connect(h)
	h.dispatch(context.Background(), listener, protocol.JoinSession{
		Type: protocol.TypeJoinSession, SessionID: "Church-2025-001", PreferredLanguage: "fr",
	})
	frame := recvType[protocol.ListenerError](t, listener)
	if frame.Code != string(hubfault.CodeInvalidLanguage) {
		t.Fatalf("code = %q, want invalid_language", frame.Code)
	}
}

func TestTokenRefresh(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)
	authOperator(t, h, c, "alice")

	h.dispatch(context.Background(), c, protocol.TokenRefresh{
		Type: protocol.TypeTokenRefresh, Username: "alice", RefreshToken: "refresh-alice",
	})
	resp := recvType[protocol.TokenRefreshResponse](t, c)
	if !resp.Success || resp.AccessToken != "access-alice-2" {
		t.Fatalf("refresh response wrong: %+v", resp)
	}
}

func TestTokenRefreshRequiresAuthentication(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(h)

	// An unauthenticated socket cannot probe the refresh endpoint.
	h.dispatch(context.Background(), c, protocol.TokenRefresh{
		Type: protocol.TypeTokenRefresh, Username: "alice", RefreshToken: "refresh-alice",
	})
	denied := recvType[protocol.AdminError](t, c)
	if denied.ErrorCode != string(hubfault.CodeAccessDenied) {
		t.Fatalf("errorCode = %q, want access_denied", denied.ErrorCode)
	}
}

func TestBroadcastSkipsSessionWithoutListeners(t *testing.T) {
	h := newTestHub(t, stubSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	before := testutil.ToFloat64(testMetrics.Broadcasts)
	h.dispatch(context.Background(), op, protocol.BroadcastTranslation{
		Type:         protocol.TypeBroadcastTranslation,
		SessionID:    "Church-2025-001",
		Translations: map[string]string{"en": "Welcome"},
		GenerateTTS:  true,
	})
	if after := testutil.ToFloat64(testMetrics.Broadcasts); after != before {
		t.Fatalf("broadcast counted with no listeners: %v -> %v", before, after)
	}
	select {
	case frame := <-op.Outbound:
		t.Fatalf("unexpected frame for empty broadcast: %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProviderOutageClearsTTSAvailable(t *testing.T) {
	h := newTestHub(t, downSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	listener := connect(h)
	joinListener(t, h, listener, "Church-2025-001", "en", true)

	msg := protocol.BroadcastTranslation{
		Type:         protocol.TypeBroadcastTranslation,
		SessionID:    "Church-2025-001",
		Translations: map[string]string{"en": "Welcome"},
		GenerateTTS:  true,
	}
	var frames []protocol.Translation
	for i := 0; i < 3; i++ {
		h.dispatch(context.Background(), op, msg)
		frames = append(frames, recvType[protocol.Translation](t, listener))
	}

	// Every frame degrades to text-only; once enough failures accumulate
	// the availability flag goes false instead of promising audio.
	for i, f := range frames {
		if f.Tier != tts.TierTextOnly || f.AudioURL != nil {
			t.Fatalf("frame %d should be text-only: %+v", i, f)
		}
	}
	if !frames[0].TTSAvailable {
		t.Fatalf("first frame flagged unavailable before the gate had samples")
	}
	if frames[2].TTSAvailable {
		t.Fatalf("availability still advertised during provider outage")
	}
}

func TestRejectedFrameMatchesRole(t *testing.T) {
	h := newTestHub(t, nil)

	op := connect(h)
	authOperator(t, h, op, "alice")
	h.RejectFrame(op, "sessionId is required")
	adminErr := recvType[protocol.AdminError](t, op)
	if adminErr.ErrorCode != string(hubfault.CodeInvalidInput) {
		t.Fatalf("errorCode = %q, want invalid_input", adminErr.ErrorCode)
	}

	startSession(t, h, op, "Church-2025-001", "en")
	listener := connect(h)
	joinListener(t, h, listener, "Church-2025-001", "en", true)
	h.RejectFrame(listener, "unsupported message type")
	listenerErr := recvType[protocol.ListenerError](t, listener)
	if listenerErr.Code != string(hubfault.CodeInvalidInput) {
		t.Fatalf("code = %q, want invalid_input", listenerErr.Code)
	}
}

func TestReconnectionRecoversOwnedSessions(t *testing.T) {
	h := newTestHub(t, nil)
	first := connect(h)
	authOperator(t, h, first, "alice")
	startSession(t, h, first, "Church-2025-001", "en")
	h.Disconnect(first)

	// Ownership survives the disconnect; a fresh connection gets the
	// recovery frame.
	second := connect(h)
	resp := authOperator(t, h, second, "alice")
	if len(resp.OwnedSessions) != 1 || resp.OwnedSessions[0] != "Church-2025-001" {
		t.Fatalf("ownedSessions = %v", resp.OwnedSessions)
	}
	rec := recvType[protocol.AdminReconnection](t, second)
	if len(rec.RecoveredSessions) != 1 || rec.RecoveredSessions[0] != "Church-2025-001" {
		t.Fatalf("recovered = %v", rec.RecoveredSessions)
	}
}

func TestListenerDisconnectIsSilent(t *testing.T) {
	h := newTestHub(t, nil)
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	listener := connect(h)
	joinListener(t, h, listener, "Church-2025-001", "en", true)
	if n := h.sessions.ListenerCount("Church-2025-001"); n != 1 {
		t.Fatalf("listener count = %d", n)
	}
	h.Disconnect(listener)
	if n := h.sessions.ListenerCount("Church-2025-001"); n != 0 {
		t.Fatalf("listener not removed on disconnect, count = %d", n)
	}
}

func TestGenerateTTSReturnsCacheURL(t *testing.T) {
	h := newTestHub(t, stubSpeech{})
	op := connect(h)
	authOperator(t, h, op, "alice")
	startSession(t, h, op, "Church-2025-001", "en")

	h.dispatch(context.Background(), op, protocol.GenerateTTS{
		Type: protocol.TypeGenerateTTS, SessionID: "Church-2025-001",
		Text: "Welcome", Language: "en",
	})
	resp := recvType[protocol.GenerateTTSResponse](t, op)
	if !resp.Success || resp.AudioURL == "" || resp.Tier != tts.TierNeural {
		t.Fatalf("generate-tts response wrong: %+v", resp)
	}
}

func TestShutdownNotifiesAndRejectsNewFrames(t *testing.T) {
	h := newTestHub(t, nil)
	op := connect(h)
	authOperator(t, h, op, "alice")

	h.Shutdown("maintenance")
	recvType[protocol.ServerShutdown](t, op)

	h.dispatch(context.Background(), op, protocol.ListSessions{Type: protocol.TypeListSessions, Filter: "all"})
	frame := recvType[protocol.AdminError](t, op)
	if frame.ErrorCode != string(hubfault.CodeMaintenance) {
		t.Fatalf("errorCode = %q, want maintenance_mode", frame.ErrorCode)
	}
}
