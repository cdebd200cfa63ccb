package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verbatim-live/verbatim/internal/audiocache"
	"github.com/verbatim-live/verbatim/internal/auth"
	"github.com/verbatim-live/verbatim/internal/config"
	"github.com/verbatim-live/verbatim/internal/httpapi"
	"github.com/verbatim-live/verbatim/internal/identity"
	"github.com/verbatim-live/verbatim/internal/observability"
	"github.com/verbatim-live/verbatim/internal/router"
	"github.com/verbatim-live/verbatim/internal/security"
	"github.com/verbatim-live/verbatim/internal/session"
	"github.com/verbatim-live/verbatim/internal/tts"
)

func main() {
	observability.ConfigureLogging(observability.LogConfig{})
	log := observability.Logger()

	cfg, err := config.Load()
	if err != nil {
		var missing *config.MissingRequiredError
		if errors.As(err, &missing) {
			for _, name := range missing.Missing {
				log.Error().Str("variable", name).Msg("required configuration missing")
			}
		}
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	for _, name := range config.WarnUnused() {
		log.Warn().Str("variable", name).Msg("legacy environment variable set but unused")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	ctx := context.Background()

	verifier, err := auth.NewCognitoVerifier(ctx, auth.CognitoConfig{
		Region:     cfg.CognitoRegion,
		UserPoolID: cfg.CognitoUserPoolID,
		ClientID:   cfg.CognitoClientID,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("identity provider init failed")
	}

	idents, err := identity.NewStore(cfg.AdminIdentitiesDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("admin identity store init failed")
	}
	sessions, err := session.NewRegistry(cfg.SessionPersistenceDir, cfg.MaxClientsPerSession, idents, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session registry init failed")
	}

	var provider tts.Provider
	if cfg.EnableTTS {
		region := cfg.TTSRegion
		if region == "" {
			region = cfg.CognitoRegion
		}
		p, err := tts.NewPollyProvider(ctx, region)
		if err != nil {
			log.Fatal().Err(err).Msg("speech provider init failed")
		}
		provider = p
		log.Info().Str("region", region).Msg("speech synthesis enabled")
	} else {
		log.Info().Msg("speech synthesis disabled, broadcasts ship text only")
	}

	engine := tts.NewEngine(tts.EngineOpts{
		Provider:    provider,
		Timeout:     cfg.TTSTimeout,
		MaxAttempts: cfg.TTSMaxRetries,
		Recorder:    metrics,
		OnTierChange: func(c tts.TierChange) {
			log.Warn().Str("language", c.Language).Str("from", c.From).Str("to", c.To).
				Str("reason", c.Reason).Msg("synthesis tier degraded")
		},
	}, log)

	cache := audiocache.New(audiocache.Opts{
		MaxBytes:   cfg.AudioCacheMaxBytes,
		MaxEntries: cfg.AudioCacheMaxEntries,
		IdleAge:    cfg.AudioCacheMaxIdle,
		DiskDir:    cfg.AudioCacheDir,
		Recorder:   metrics,
	}, log)

	limiter := security.NewLimiter(security.LimiterOpts{
		AuthPerMinute:    cfg.AdminAuthRateLimitPerMinute,
		LockoutThreshold: cfg.AdminLockoutThreshold,
		LockoutDuration:  cfg.AdminLockoutDuration,
	})
	audit := security.NewAuditLog(0, log)

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	hub := router.NewHub(cfg, verifier, idents, sessions, engine, cache, limiter, audit, metrics, log)
	api := httpapi.New(cfg, hub, cache, metrics, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if cfg.SessionCleanupEnabled {
		sessions.StartMaintenance(runCtx, cfg.SessionCleanupInterval, cfg.SessionTimeout, func(s *session.Session) {
			hub.NotifySessionEnded(s, "session timed out")
		})
	}
	if cfg.AdminIdentityCleanupEnabled {
		idents.StartCleanup(runCtx, cfg.AdminIdentityCleanupInterval, cfg.AdminIdentityRetention)
	}
	stopSweep := cache.StartSweep(10 * time.Minute)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()

	go func() {
		log.Info().Int("port", cfg.Port).Msg("hub listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	// Tell every connection first, then give in-flight broadcasts the
	// drain window before sockets close.
	hub.Shutdown("server is shutting down")
	time.Sleep(minDuration(cfg.DrainTimeout, 10*time.Second))

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func minDuration(a, b time.Duration) time.Duration {
	if a > 0 && a < b {
		return a
	}
	return b
}
