package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("COGNITO_REGION", "eu-central-1")
	t.Setenv("COGNITO_USER_POOL_ID", "eu-central-1_abc123")
	t.Setenv("COGNITO_CLIENT_ID", "client123")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if cfg.AdminIdentitiesDir != "./admin-identities" {
		t.Errorf("AdminIdentitiesDir = %q", cfg.AdminIdentitiesDir)
	}
	if cfg.SessionPersistenceDir != "./sessions" {
		t.Errorf("SessionPersistenceDir = %q", cfg.SessionPersistenceDir)
	}
	if cfg.EnableTTS {
		t.Errorf("EnableTTS should default off")
	}
	if cfg.MaxClientsPerSession != 50 {
		t.Errorf("MaxClientsPerSession = %d, want 50", cfg.MaxClientsPerSession)
	}
	if cfg.AdminAuthRateLimitPerMinute != 5 {
		t.Errorf("AdminAuthRateLimitPerMinute = %d, want 5", cfg.AdminAuthRateLimitPerMinute)
	}
	if cfg.AdminLockoutDuration != 15*time.Minute {
		t.Errorf("AdminLockoutDuration = %v, want 15m", cfg.AdminLockoutDuration)
	}
	if cfg.AdminLockoutThreshold != 10 {
		t.Errorf("AdminLockoutThreshold = %d, want 10", cfg.AdminLockoutThreshold)
	}
	if cfg.AdminIdentityRetention != 90*24*time.Hour {
		t.Errorf("AdminIdentityRetention = %v, want 2160h", cfg.AdminIdentityRetention)
	}
	if cfg.AdminIdentityCleanupInterval != 24*time.Hour {
		t.Errorf("AdminIdentityCleanupInterval = %v, want 24h", cfg.AdminIdentityCleanupInterval)
	}
	if cfg.SessionTimeout != 480*time.Minute {
		t.Errorf("SessionTimeout = %v, want 480m", cfg.SessionTimeout)
	}
	if cfg.WebsocketRateLimitPerSecond != 10 {
		t.Errorf("WebsocketRateLimitPerSecond = %d, want 10", cfg.WebsocketRateLimitPerSecond)
	}
}

func TestLoadMissingRequiredNamesEveryVariable(t *testing.T) {
	t.Setenv("COGNITO_REGION", "")
	t.Setenv("COGNITO_USER_POOL_ID", "")
	t.Setenv("COGNITO_CLIENT_ID", "client123")

	_, err := Load()
	var missing *MissingRequiredError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingRequiredError", err)
	}
	if len(missing.Missing) != 2 {
		t.Fatalf("Missing = %v, want two entries", missing.Missing)
	}
	for _, name := range []string{"COGNITO_REGION", "COGNITO_USER_POOL_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err.Error(), name)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "8443")
	t.Setenv("ENABLE_TTS", "true")
	t.Setenv("TTS_REGION", "us-east-1")
	t.Setenv("ADMIN_LOCKOUT_DURATION_MS", "60000")
	t.Setenv("ADMIN_IDENTITY_RETENTION_DAYS", "7")
	t.Setenv("SESSION_TIMEOUT_MINUTES", "60")
	t.Setenv("TOKEN_WARNING_LEAD_SECONDS", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8443 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if !cfg.EnableTTS || cfg.TTSRegion != "us-east-1" {
		t.Errorf("TTS config not applied: %+v", cfg)
	}
	if cfg.AdminLockoutDuration != time.Minute {
		t.Errorf("AdminLockoutDuration = %v", cfg.AdminLockoutDuration)
	}
	if cfg.AdminIdentityRetention != 7*24*time.Hour {
		t.Errorf("AdminIdentityRetention = %v", cfg.AdminIdentityRetention)
	}
	if cfg.SessionTimeout != time.Hour {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.TokenWarningLead != 2*time.Minute {
		t.Errorf("TokenWarningLead = %v", cfg.TokenWarningLead)
	}
}

func TestLoadTTSRegionFallsBackToCognitoRegion(t *testing.T) {
	setRequired(t)
	t.Setenv("ENABLE_TTS", "on")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TTSRegion != "eu-central-1" {
		t.Fatalf("TTSRegion = %q, want cognito region", cfg.TTSRegion)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "notaport")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for PORT")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatalf("expected range error for PORT")
	}
}

func TestWarnUnusedDetectsLegacyNames(t *testing.T) {
	t.Setenv("WEBSOCKET_PORT", "9000")
	found := WarnUnused()
	if len(found) != 1 || found[0] != "WEBSOCKET_PORT" {
		t.Fatalf("WarnUnused() = %v", found)
	}
}
