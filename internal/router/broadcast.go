package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verbatim-live/verbatim/internal/audiocache"
	"github.com/verbatim-live/verbatim/internal/hubfault"
	"github.com/verbatim-live/verbatim/internal/protocol"
	"github.com/verbatim-live/verbatim/internal/session"
	"github.com/verbatim-live/verbatim/internal/tts"
)

// synthesisConcurrency bounds parallel per-language synthesis in one
// broadcast.
const synthesisConcurrency = 4

// langAudio is the per-language synthesis outcome for one broadcast.
type langAudio struct {
	url  *string
	meta *protocol.AudioMetadata
	tier string
}

func (h *Hub) handleBroadcast(ctx context.Context, c *Conn, adminID string, msg protocol.BroadcastTranslation) {
	if !h.requireWrite(c, adminID, msg.SessionID, "broadcast-translation") {
		return
	}
	s, err := h.sessions.Get(msg.SessionID)
	if err != nil || s.Status != session.StatusActive {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeOperationNotAllowed, "session is not active").
				WithSession(msg.SessionID).WithOperation("broadcast-translation"), time.Now()))
		return
	}
	_ = h.sessions.UpdateCurrentAdminSocket(msg.SessionID, c.ID)

	listenerLangs := h.sessions.ListenerLanguages(msg.SessionID)
	if len(listenerLangs) == 0 {
		h.log.Debug().Str("sessionId", msg.SessionID).Msg("broadcast to session with no listeners")
		return
	}

	// Only languages that are enabled, were provided a translation and
	// have at least one listener cost any synthesis work.
	var targets []string
	for _, lang := range listenerLangs {
		if _, provided := msg.Translations[lang]; provided && s.Config.HasLanguage(lang) {
			targets = append(targets, lang)
		}
	}

	results := make(map[string]langAudio, len(targets))
	var resultsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(synthesisConcurrency)
	for _, lang := range targets {
		g.Go(func() error {
			la := h.audioForLanguage(gctx, s, lang, msg.Translations[lang], msg.GenerateTTS, msg.VoiceTier)
			resultsMu.Lock()
			results[lang] = la
			resultsMu.Unlock()
			return nil
		})
	}
	// Synthesis failures degrade per language inside audioForLanguage;
	// the group never carries an error.
	_ = g.Wait()

	now := protocol.Timestamp(time.Now())
	ttsAvail := h.ttsAvailableFor(s.Config)
	for _, lang := range targets {
		la := results[lang]
		h.sessions.ForEachListenerInLanguage(msg.SessionID, lang, func(l session.Listener) {
			h.sendTo(l.SocketID, personalize(protocol.Translation{
				Type:         protocol.TypeTranslation,
				SessionID:    msg.SessionID,
				SourceText:   msg.SourceText,
				Language:     lang,
				Text:         msg.Translations[lang],
				AudioURL:     la.url,
				Audio:        la.meta,
				TTSAvailable: ttsAvail,
				Tier:         la.tier,
				Timestamp:    now,
			}, l.Capabilities))
		})
	}

	h.metrics.Broadcasts.Inc()
	h.metrics.SessionEvents.WithLabelValues("broadcast").Inc()
}

// personalize downgrades a translation frame for listeners that cannot
// play synthesized audio: they get the text and a text-only tier.
func personalize(frame protocol.Translation, caps protocol.Capabilities) protocol.Translation {
	if caps.CanPlaySynthesized {
		return frame
	}
	if frame.Tier == tts.TierNeural || frame.Tier == tts.TierStandard {
		frame.AudioURL = nil
		frame.Audio = nil
		frame.Tier = tts.TierTextOnly
	}
	return frame
}

// audioForLanguage resolves the audio for one (language, text) pair:
// cache first, then the synthesis chain. Never fails the broadcast; a
// language that cannot be synthesized ships as text-only.
func (h *Hub) audioForLanguage(ctx context.Context, s *session.Session, lang, text string, wantTTS bool, tierOverride string) langAudio {
	mode := s.Config.TTSMode
	if tierOverride == tts.TierNeural || tierOverride == tts.TierStandard {
		mode = tierOverride
	}
	if !wantTTS || mode == protocol.TTSModeDisabled {
		return langAudio{tier: tts.TierTextOnly}
	}
	if mode == protocol.TTSModeLocal {
		return langAudio{tier: tts.TierLocal}
	}
	if h.engine == nil {
		return langAudio{tier: tts.TierTextOnly}
	}

	voice, err := tts.VoiceFor(lang, mode)
	if err != nil {
		return langAudio{tier: tts.TierTextOnly}
	}
	key := audiocache.Key(text, lang, voice.ID, "mp3")

	if entry, ok := h.cache.Get(key); ok {
		url := audiocache.URLFor(h.cfg.PublicBaseURL, key, entry.Format)
		return langAudio{
			url:  &url,
			tier: mode,
			meta: &protocol.AudioMetadata{
				Format:     entry.Format,
				DurationMS: estimateMS(text),
				VoiceUsed:  voice.ID,
				SizeBytes:  int64(len(entry.Bytes)),
				Tier:       mode,
				CacheHit:   true,
			},
		}
	}

	res, err := h.engine.Synthesize(ctx, tts.Request{
		Text:     text,
		Language: lang,
		Mode:     mode,
		Quality:  s.Config.AudioQuality,
	})
	if err != nil || res.Tier == tts.TierTextOnly || res.Tier == tts.TierLocal {
		tier := tts.TierTextOnly
		if err == nil && res.Tier == tts.TierLocal {
			tier = tts.TierLocal
		}
		return langAudio{tier: tier}
	}

	if err := h.cache.Put(key, res.Bytes, "audio/mpeg", res.Format); err != nil {
		h.log.Warn().Err(err).Str("language", lang).Msg("audio cache insert failed")
	}
	url := audiocache.URLFor(h.cfg.PublicBaseURL, key, res.Format)
	return langAudio{
		url:  &url,
		tier: res.Tier,
		meta: &protocol.AudioMetadata{
			Format:     res.Format,
			DurationMS: res.DurationEstimate.Milliseconds(),
			VoiceUsed:  res.VoiceUsed,
			SizeBytes:  int64(len(res.Bytes)),
			Tier:       res.Tier,
			CacheHit:   false,
		},
	}
}

func estimateMS(text string) int64 {
	return (time.Duration(len(text)) * time.Second / 15).Milliseconds()
}

func (h *Hub) handleGenerateTTS(ctx context.Context, c *Conn, adminID string, msg protocol.GenerateTTS) {
	if !h.requireWrite(c, adminID, msg.SessionID, "generate-tts") {
		return
	}
	s, err := h.sessions.Get(msg.SessionID)
	if err != nil {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeSessionNotFound, "session does not exist").
				WithSession(msg.SessionID).WithOperation("generate-tts"), time.Now()))
		return
	}
	if !s.Config.HasLanguage(msg.Language) {
		h.send(c, protocol.AdminErrorFrom(
			hubfault.New(hubfault.CodeInvalidLanguage, "language not enabled for session").
				WithSession(msg.SessionID).WithOperation("generate-tts"), time.Now()))
		return
	}

	la := h.audioForLanguage(ctx, s, msg.Language, msg.Text, true, msg.VoiceTier)
	resp := protocol.GenerateTTSResponse{
		Type:      protocol.TypeGenerateTTSResponse,
		Success:   true,
		SessionID: msg.SessionID,
		Language:  msg.Language,
		Audio:     la.meta,
		Tier:      la.tier,
		Timestamp: protocol.Timestamp(time.Now()),
	}
	if la.url != nil {
		resp.AudioURL = *la.url
	}
	h.send(c, resp)
}
