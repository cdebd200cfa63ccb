// Package config loads the hub's runtime settings from environment
// variables. The three Cognito coordinates are required and validated
// together so a single startup error names every missing variable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the broadcast hub.
type Config struct {
	Port            int
	PublicBaseURL   string
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string

	AdminIdentitiesDir    string
	SessionPersistenceDir string

	EnableTTS     bool
	TTSRegion     string
	TTSTimeout    time.Duration
	TTSMaxRetries int

	AudioCacheDir        string
	AudioCacheMaxBytes   int64
	AudioCacheMaxEntries int
	AudioCacheMaxIdle    time.Duration

	WebsocketRateLimitPerSecond int
	MaxClientsPerSession        int
	SessionTimeout              time.Duration
	AdminAuthRateLimitPerMinute int
	AdminLockoutDuration        time.Duration
	AdminLockoutThreshold       int

	AdminIdentityRetention       time.Duration
	AdminIdentityCleanupInterval time.Duration
	AdminIdentityCleanupEnabled  bool

	SessionCleanupEnabled  bool
	SessionCleanupInterval time.Duration

	TokenWarningLead time.Duration

	AuthGraceWindow time.Duration

	AllowAnyOrigin   bool
	MetricsNamespace string
}

// MissingRequiredError lists every required variable absent at startup.
// It is the only configuration failure that exits the process non-zero.
type MissingRequiredError struct {
	Missing []string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// Load reads environment variables and applies the documented defaults.
func Load() (Config, error) {
	cfg := Config{
		CognitoRegion:         stringsTrimSpace("COGNITO_REGION"),
		CognitoUserPoolID:     stringsTrimSpace("COGNITO_USER_POOL_ID"),
		CognitoClientID:       stringsTrimSpace("COGNITO_CLIENT_ID"),
		PublicBaseURL:         stringsTrimSpace("PUBLIC_BASE_URL"),
		AdminIdentitiesDir:    envOrDefault("ADMIN_IDENTITIES_DIR", "./admin-identities"),
		SessionPersistenceDir: envOrDefault("SESSION_PERSISTENCE_DIR", "./sessions"),
		TTSRegion:             stringsTrimSpace("TTS_REGION"),
		AudioCacheDir:         stringsTrimSpace("AUDIO_CACHE_DIR"),
		MetricsNamespace:      envOrDefault("METRICS_NAMESPACE", "verbatim"),

		Port:                         3001,
		ShutdownTimeout:              15 * time.Second,
		DrainTimeout:                 10 * time.Second,
		EnableTTS:                    false,
		TTSTimeout:                   5 * time.Second,
		TTSMaxRetries:                2,
		AudioCacheMaxBytes:           256 << 20,
		AudioCacheMaxEntries:         2000,
		AudioCacheMaxIdle:            2 * time.Hour,
		WebsocketRateLimitPerSecond:  10,
		MaxClientsPerSession:         50,
		SessionTimeout:               480 * time.Minute,
		AdminAuthRateLimitPerMinute:  5,
		AdminLockoutDuration:         900000 * time.Millisecond,
		AdminLockoutThreshold:        10,
		AdminIdentityRetention:       90 * 24 * time.Hour,
		AdminIdentityCleanupInterval: 86400000 * time.Millisecond,
		AdminIdentityCleanupEnabled:  true,
		SessionCleanupEnabled:        true,
		SessionCleanupInterval:       time.Hour,
		TokenWarningLead:             5 * time.Minute,
		AuthGraceWindow:              30 * time.Second,
		AllowAnyOrigin:               false,
	}

	var missing []string
	if cfg.CognitoRegion == "" {
		missing = append(missing, "COGNITO_REGION")
	}
	if cfg.CognitoUserPoolID == "" {
		missing = append(missing, "COGNITO_USER_POOL_ID")
	}
	if cfg.CognitoClientID == "" {
		missing = append(missing, "COGNITO_CLIENT_ID")
	}
	if len(missing) > 0 {
		return Config{}, &MissingRequiredError{Missing: missing}
	}

	var err error
	cfg.Port, err = intFromEnv("PORT", cfg.Port)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableTTS, err = boolFromEnv("ENABLE_TTS", cfg.EnableTTS)
	if err != nil {
		return Config{}, err
	}
	cfg.WebsocketRateLimitPerSecond, err = intFromEnv("WEBSOCKET_RATE_LIMIT_PER_SECOND", cfg.WebsocketRateLimitPerSecond)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxClientsPerSession, err = intFromEnv("MAX_CLIENTS_PER_SESSION", cfg.MaxClientsPerSession)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = minutesFromEnv("SESSION_TIMEOUT_MINUTES", cfg.SessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminAuthRateLimitPerMinute, err = intFromEnv("ADMIN_AUTH_RATE_LIMIT_PER_MINUTE", cfg.AdminAuthRateLimitPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminLockoutDuration, err = millisFromEnv("ADMIN_LOCKOUT_DURATION_MS", cfg.AdminLockoutDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminLockoutThreshold, err = intFromEnv("ADMIN_LOCKOUT_THRESHOLD", cfg.AdminLockoutThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminIdentityRetention, err = daysFromEnv("ADMIN_IDENTITY_RETENTION_DAYS", cfg.AdminIdentityRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminIdentityCleanupInterval, err = millisFromEnv("ADMIN_IDENTITY_CLEANUP_INTERVAL_MS", cfg.AdminIdentityCleanupInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminIdentityCleanupEnabled, err = boolFromEnv("ADMIN_IDENTITY_CLEANUP_ENABLED", cfg.AdminIdentityCleanupEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCleanupEnabled, err = boolFromEnv("SESSION_CLEANUP_ENABLED", cfg.SessionCleanupEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCleanupInterval, err = millisFromEnv("SESSION_CLEANUP_INTERVAL_MS", cfg.SessionCleanupInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenWarningLead, err = secondsFromEnv("TOKEN_WARNING_LEAD_SECONDS", cfg.TokenWarningLead)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSMaxRetries, err = intFromEnv("TTS_MAX_RETRIES", cfg.TTSMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCacheMaxEntries, err = intFromEnv("AUDIO_CACHE_MAX_ENTRIES", cfg.AudioCacheMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DrainTimeout, err = durationFromEnv("DRAIN_TIMEOUT", cfg.DrainTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.EnableTTS && cfg.TTSRegion == "" {
		cfg.TTSRegion = cfg.CognitoRegion
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT must be in 1..65535")
	}
	if cfg.MaxClientsPerSession <= 0 {
		return Config{}, fmt.Errorf("MAX_CLIENTS_PER_SESSION must be positive")
	}
	if cfg.AdminLockoutThreshold <= 0 {
		return Config{}, fmt.Errorf("ADMIN_LOCKOUT_THRESHOLD must be positive")
	}
	if cfg.WebsocketRateLimitPerSecond <= 0 {
		return Config{}, fmt.Errorf("WEBSOCKET_RATE_LIMIT_PER_SECOND must be positive")
	}
	if cfg.TTSMaxRetries < 0 {
		return Config{}, fmt.Errorf("TTS_MAX_RETRIES must be >= 0")
	}

	return cfg, nil
}

// WarnUnused returns the names of legacy variables that are set but no
// longer read, so startup can log a warning for each.
func WarnUnused() []string {
	legacy := []string{
		"WEBSOCKET_PORT", "ADMIN_TOKEN", "TTS_PROVIDER_API_KEY",
	}
	var present []string
	for _, key := range legacy {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			present = append(present, key)
		}
	}
	return present
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func millisFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func secondsFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func minutesFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * time.Minute, nil
}

func daysFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * 24 * time.Hour, nil
}
