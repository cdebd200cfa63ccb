package tts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/reliability"
)

const (
	maxTextLength = 3000

	// Adaptive gate defaults: skip the provider when its rolling
	// success rate over the last windowSize requests (within
	// windowHorizon) drops below gateThreshold.
	windowSize     = 10
	windowHorizon  = 5 * time.Minute
	gateThreshold  = 0.2
	minGateSamples = 3

	backoffBase = 200 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// Request asks for one synthesized utterance. Mode is the effective
// voice tier: neural, standard or local.
type Request struct {
	Text     string
	Language string
	Mode     string
	Quality  string
}

// Result carries the synthesized audio or a fallback sentinel. Empty
// Bytes with tier local or text-only instruct the listener to use its
// own speech synthesis or to render text without audio.
type Result struct {
	Bytes            []byte
	Format           string
	VoiceUsed        string
	DurationEstimate time.Duration
	Tier             string
}

// TierChange is emitted on every degradation between tiers; the router
// surfaces it to operators as a non-fatal notification.
type TierChange struct {
	Language string
	From     string
	To       string
	Reason   string
}

// Recorder receives per-attempt metrics.
type Recorder interface {
	SynthesisAttempt(tier, outcome string)
	SynthesisDuration(tier string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SynthesisAttempt(string, string) {}

func (nopRecorder) SynthesisDuration(string, time.Duration) {}

// Engine drives the provider tier with timeout, bounded retry and the
// adaptive gate, then degrades down the chain. Stateless per request;
// the only cross-request state is the provider health window.
type Engine struct {
	provider     Provider
	timeout      time.Duration
	maxAttempts  int
	window       *reliability.SuccessWindow
	rec          Recorder
	onTierChange func(TierChange)
	log          zerolog.Logger
}

type EngineOpts struct {
	Provider     Provider // nil disables the provider tier entirely
	Timeout      time.Duration
	MaxAttempts  int
	Recorder     Recorder
	OnTierChange func(TierChange)
}

func NewEngine(opts EngineOpts, logger zerolog.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Engine{
		provider:     opts.Provider,
		timeout:      opts.Timeout,
		maxAttempts:  opts.MaxAttempts,
		window:       reliability.NewSuccessWindow(windowSize, windowHorizon),
		rec:          opts.Recorder,
		onTierChange: opts.OnTierChange,
		log:          logger.With().Str("component", "tts").Logger(),
	}
}

// Available reports whether the provider tier can currently produce
// audio: a provider must be configured and not gated by its rolling
// failure rate. Sessions announce this flag to joining listeners, so
// it tracks the same gate Synthesize consults.
func (e *Engine) Available() bool {
	if e.provider == nil {
		return false
	}
	rate, n := e.window.Rate()
	return n < minGateSamples || rate >= gateThreshold
}

func (e *Engine) Synthesize(ctx context.Context, req Request) (Result, error) {
	if len(req.Text) == 0 {
		return Result{}, hubfault.New(hubfault.CodeMissingField, "empty synthesis text")
	}
	if len(req.Text) > maxTextLength {
		return Result{}, hubfault.New(hubfault.CodeInvalidInput, "synthesis text exceeds 3000 characters")
	}

	switch req.Mode {
	case TierLocal:
		// The session opted into listener-side synthesis; no provider
		// involvement.
		return Result{Tier: TierLocal}, nil
	case TierNeural, TierStandard:
	default:
		return Result{}, hubfault.New(hubfault.CodeInvalidInput, "invalid voice tier")
	}

	voice, err := VoiceFor(req.Language, req.Mode)
	if err != nil {
		return Result{}, err
	}

	if e.provider == nil {
		return e.degrade(req, "provider not configured"), nil
	}
	if rate, n := e.window.Rate(); n >= minGateSamples && rate < gateThreshold {
		e.rec.SynthesisAttempt(req.Mode, "gated")
		return e.degrade(req, "provider gated by rolling failure rate"), nil
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, backoffBase, backoffCap)
			select {
			case <-ctx.Done():
				e.window.Record(false)
				return e.degrade(req, "cancelled during backoff"), nil
			case <-time.After(wait):
			}
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		speech, err := e.provider.Synthesize(attemptCtx, req.Text, voice, SampleRateFor(req.Quality))
		cancel()
		e.rec.SynthesisDuration(req.Mode, time.Since(start))

		if err == nil {
			e.window.Record(true)
			e.rec.SynthesisAttempt(req.Mode, "ok")
			return Result{
				Bytes:            speech.Audio,
				Format:           "mp3",
				VoiceUsed:        voice.ID,
				DurationEstimate: estimateDuration(req.Text),
				Tier:             req.Mode,
			}, nil
		}
		lastErr = err
		e.window.Record(false)
		e.rec.SynthesisAttempt(req.Mode, "error")
		e.log.Warn().Err(err).Str("language", req.Language).Int("attempt", attempt+1).
			Msg("provider synthesis failed")
	}
	_ = lastErr
	return e.degrade(req, "provider attempts exhausted"), nil
}

// degrade falls past the provider tier. Listener-side ("local")
// synthesis is only used when the session asked for it; a failed
// neural/standard request degrades straight to text-only so listeners
// without their own synthesis capability are never left silent waiting.
func (e *Engine) degrade(req Request, reason string) Result {
	to := TierTextOnly
	e.rec.SynthesisAttempt(to, "fallback")
	if e.onTierChange != nil {
		e.onTierChange(TierChange{Language: req.Language, From: req.Mode, To: to, Reason: reason})
	}
	e.log.Info().Str("language", req.Language).Str("from", req.Mode).Str("to", to).
		Str("reason", reason).Msg("synthesis degraded")
	return Result{Tier: to}
}

// estimateDuration approximates speech length at ~15 characters per
// second, which tracks conversational delivery closely enough for
// progress display.
func estimateDuration(text string) time.Duration {
	return time.Duration(len(text)) * time.Second / 15
}
