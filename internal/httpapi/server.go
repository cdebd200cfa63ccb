// Package httpapi is the transport edge: it upgrades websocket
// connections, pumps frames between the socket and the router, and
// serves the audio, health and metrics endpoints on the same port.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/audiocache"
	"github.com/verbatim-live/verbatim/internal/config"
	"github.com/verbatim-live/verbatim/internal/observability"
	"github.com/verbatim-live/verbatim/internal/protocol"
	"github.com/verbatim-live/verbatim/internal/router"
)

const (
	readLimit     = 512 << 10
	pongWait      = 120 * time.Second
	writeWait     = 10 * time.Second
	inboundBuffer = 64
)

type Server struct {
	cfg      config.Config
	hub      *router.Hub
	cache    *audiocache.Cache
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func New(cfg config.Config, hub *router.Hub, cache *audiocache.Cache, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     hub,
		cache:   cache,
		metrics: metrics,
		log:     logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/audio/*", s.cache.Handler())
	})

	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"ttsEnabled":  s.cfg.EnableTTS,
		"audioCached": s.cache.Len(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer wsConn.Close()

	conn := router.NewConn(clientIP(r))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, inboundBuffer)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = s.hub.RunConnection(ctx, conn, inbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-conn.Outbound:
				if !ok {
					return
				}
				_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := wsConn.WriteJSON(frame); err != nil {
					cancel()
					return
				}
				if t, ok := frameTypeOf(frame); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	wsConn.SetReadLimit(readLimit)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Per-connection inbound frame budget.
	frameLimiter := newTokenBucket(s.cfg.WebsocketRateLimitPerSecond)

readLoop:
	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !frameLimiter.allow() {
			s.metrics.RateLimitRejects.Inc()
			continue
		}
		parsed, err := protocol.ParseInbound(data)
		if err != nil {
			s.log.Debug().Err(err).Str("socketId", conn.ID).Msg("unparseable frame")
			s.hub.RejectFrame(conn, err.Error())
			continue
		}
		if t, ok := frameTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func frameTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.AdminAuth:
		return m.Type, true
	case protocol.TokenRefresh:
		return m.Type, true
	case protocol.StartSession:
		return m.Type, true
	case protocol.EndSession:
		return m.Type, true
	case protocol.UpdateSessionConfig:
		return m.Type, true
	case protocol.ListSessions:
		return m.Type, true
	case protocol.AdminSessionAccess:
		return m.Type, true
	case protocol.BroadcastTranslation:
		return m.Type, true
	case protocol.GenerateTTS:
		return m.Type, true
	case protocol.TTSConfigUpdateRequest:
		return m.Type, true
	case protocol.LanguageUpdate:
		return m.Type, true
	case protocol.JoinSession:
		return m.Type, true
	case protocol.LeaveSession:
		return m.Type, true
	case protocol.ChangeLanguage:
		return m.Type, true
	case protocol.AdminAuthResponse:
		return m.Type, true
	case protocol.TokenRefreshResponse:
		return m.Type, true
	case protocol.AdminReconnection:
		return m.Type, true
	case protocol.AdminError:
		return m.Type, true
	case protocol.ListenerError:
		return m.Type, true
	case protocol.StartSessionResponse:
		return m.Type, true
	case protocol.EndSessionResponse:
		return m.Type, true
	case protocol.UpdateSessionConfigResponse:
		return m.Type, true
	case protocol.ListSessionsResponse:
		return m.Type, true
	case protocol.GenerateTTSResponse:
		return m.Type, true
	case protocol.SessionMetadata:
		return m.Type, true
	case protocol.SessionMetadataUpdate:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.ConfigUpdated:
		return m.Type, true
	case protocol.Translation:
		return m.Type, true
	case protocol.LanguageRemoved:
		return m.Type, true
	case protocol.TokenExpiryWarning:
		return m.Type, true
	case protocol.ServerShutdown:
		return m.Type, true
	default:
		return "", false
	}
}
