package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the hub.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	ActiveListeners   prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	Broadcasts        prometheus.Counter
	SynthesisAttempts *prometheus.CounterVec
	SynthesisSeconds  *prometheus.HistogramVec
	CacheEvents       *prometheus.CounterVec
	AuthOutcomes      *prometheus.CounterVec
	RateLimitRejects  prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active translation sessions.",
		}),
		ActiveListeners: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listeners",
			Help:      "Number of connected listeners across all sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Broadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Translation broadcasts accepted.",
		}),
		SynthesisAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_attempts_total",
			Help:      "Speech synthesis attempts by tier and outcome.",
		}, []string{"tier", "outcome"}),
		SynthesisSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Speech synthesis provider latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"tier"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_events_total",
			Help:      "Audio cache lookups by result.",
		}, []string{"result"}),
		AuthOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		RateLimitRejects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by a rate limit or lockout.",
		}),
	}
}

// SynthesisAttempt implements the synthesis recorder interface.
func (m *Metrics) SynthesisAttempt(tier, outcome string) {
	m.SynthesisAttempts.WithLabelValues(tier, outcome).Inc()
}

// SynthesisDuration implements the synthesis recorder interface.
func (m *Metrics) SynthesisDuration(tier string, d time.Duration) {
	m.SynthesisSeconds.WithLabelValues(tier).Observe(d.Seconds())
}

// CacheHit implements the cache recorder interface.
func (m *Metrics) CacheHit() { m.CacheEvents.WithLabelValues("hit").Inc() }

// CacheMiss implements the cache recorder interface.
func (m *Metrics) CacheMiss() { m.CacheEvents.WithLabelValues("miss").Inc() }

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
