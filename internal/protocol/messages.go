// Package protocol defines the websocket wire frames exchanged with
// operator and listener clients. Every frame is a JSON object with a
// "type" discriminator; every outbound frame carries an ISO-8601 UTC
// timestamp.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Inbound from operator.
const (
	TypeAdminAuth            MessageType = "admin-auth"
	TypeTokenRefresh         MessageType = "token-refresh"
	TypeStartSession         MessageType = "start-session"
	TypeEndSession           MessageType = "end-session"
	TypeUpdateSessionConfig  MessageType = "update-session-config"
	TypeListSessions         MessageType = "list-sessions"
	TypeAdminSessionAccess   MessageType = "admin-session-access"
	TypeBroadcastTranslation MessageType = "broadcast-translation"
	TypeGenerateTTS          MessageType = "generate-tts"
	TypeTTSConfigUpdate      MessageType = "tts-config-update"
	TypeLanguageUpdate       MessageType = "language-update"
)

// Inbound from listener.
const (
	TypeJoinSession    MessageType = "join-session"
	TypeLeaveSession   MessageType = "leave-session"
	TypeChangeLanguage MessageType = "change-language"
)

// Outbound.
const (
	TypeAdminAuthResponse           MessageType = "admin-auth-response"
	TypeTokenRefreshResponse        MessageType = "token-refresh-response"
	TypeAdminReconnection           MessageType = "admin-reconnection"
	TypeAdminError                  MessageType = "admin-error"
	TypeStartSessionResponse        MessageType = "start-session-response"
	TypeEndSessionResponse          MessageType = "end-session-response"
	TypeUpdateSessionConfigResponse MessageType = "update-session-config-response"
	TypeListSessionsResponse        MessageType = "list-sessions-response"
	TypeGenerateTTSResponse         MessageType = "generate-tts-response"
	TypeSessionMetadata             MessageType = "session-metadata"
	TypeSessionMetadataUpdate       MessageType = "session-metadata-update"
	TypeSessionEnded                MessageType = "session-ended"
	TypeConfigUpdated               MessageType = "config-updated"
	TypeTranslation                 MessageType = "translation"
	TypeLanguageRemoved             MessageType = "language-removed"
	TypeTokenExpiryWarning          MessageType = "token-expiry-warning"
	TypeServerShutdown              MessageType = "server-shutdown"
	TypeError                       MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// TimestampLayout is the ISO-8601 UTC format stamped on outbound frames.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SupportedLanguages is the closed set of language tags the hub accepts.
var SupportedLanguages = []string{"en", "es", "fr", "de", "it", "pt"}

func IsSupportedLanguage(tag string) bool {
	for _, l := range SupportedLanguages {
		if l == tag {
			return true
		}
	}
	return false
}

// sessionIDPattern: operator-chosen prefix, a 4-digit date stamp and a
// 3-4 digit sequence number, e.g. CHURCH-2025-001.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{1,15}-[0-9]{4}-[0-9]{3,4}$`)

// ValidSessionID reports whether id matches the documented session id
// pattern. The pattern is part of the protocol contract and is enforced
// on every start-session frame.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// TTS modes accepted in a session config.
const (
	TTSModeNeural   = "neural"
	TTSModeStandard = "standard"
	TTSModeLocal    = "local"
	TTSModeDisabled = "disabled"
)

const (
	AudioQualityHigh   = "high"
	AudioQualityMedium = "medium"
	AudioQualityLow    = "low"
)

// SessionConfig is the operator-controlled configuration of a session.
type SessionConfig struct {
	EnabledLanguages []string `json:"enabledLanguages"`
	TTSMode          string   `json:"ttsMode"`
	AudioQuality     string   `json:"audioQuality"`
}

// Validate checks the config against the closed sets. It collects every
// violation so the client sees all of them at once.
func (c SessionConfig) Validate() []string {
	var problems []string
	if len(c.EnabledLanguages) == 0 {
		problems = append(problems, "enabledLanguages must not be empty")
	}
	seen := map[string]bool{}
	for _, l := range c.EnabledLanguages {
		if !IsSupportedLanguage(l) {
			problems = append(problems, fmt.Sprintf("unsupported language %q", l))
		}
		if seen[l] {
			problems = append(problems, fmt.Sprintf("duplicate language %q", l))
		}
		seen[l] = true
	}
	switch c.TTSMode {
	case TTSModeNeural, TTSModeStandard, TTSModeLocal, TTSModeDisabled:
	default:
		problems = append(problems, fmt.Sprintf("invalid ttsMode %q", c.TTSMode))
	}
	switch c.AudioQuality {
	case AudioQualityHigh, AudioQualityMedium, AudioQualityLow:
	default:
		problems = append(problems, fmt.Sprintf("invalid audioQuality %q", c.AudioQuality))
	}
	return problems
}

// HasLanguage reports whether tag is enabled by this config.
func (c SessionConfig) HasLanguage(tag string) bool {
	for _, l := range c.EnabledLanguages {
		if l == tag {
			return true
		}
	}
	return false
}

// Capabilities describes what a listener client can do with hub output.
type Capabilities struct {
	CanPlaySynthesized bool `json:"canPlaySynthesized"`
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// ---- Inbound operator frames ----

const (
	AuthMethodCredentials = "credentials"
	AuthMethodToken       = "token"
)

type AdminAuth struct {
	Type     MessageType `json:"type"`
	Method   string      `json:"method"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Token    string      `json:"token,omitempty"`
}

type TokenRefresh struct {
	Type         MessageType `json:"type"`
	Username     string      `json:"username"`
	RefreshToken string      `json:"refreshToken"`
}

type StartSession struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"sessionId"`
	Config    SessionConfig `json:"config"`
	CreatedBy string        `json:"createdBy,omitempty"`
}

type EndSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type UpdateSessionConfig struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"sessionId"`
	Config    SessionConfig `json:"config"`
}

type ListSessions struct {
	Type   MessageType `json:"type"`
	Filter string      `json:"filter,omitempty"` // "all" (default) or "owned"
}

type AdminSessionAccess struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Mode      string      `json:"mode"` // "read" or "write"
}

type BroadcastTranslation struct {
	Type         MessageType       `json:"type"`
	SessionID    string            `json:"sessionId"`
	SourceText   string            `json:"sourceText"`
	Translations map[string]string `json:"translations"`
	GenerateTTS  bool              `json:"generateTts"`
	VoiceTier    string            `json:"voiceTier,omitempty"`
}

type GenerateTTS struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Text      string      `json:"text"`
	Language  string      `json:"language"`
	VoiceTier string      `json:"voiceTier,omitempty"`
}

type TTSConfigUpdateRequest struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"sessionId"`
	TTSMode      string      `json:"ttsMode"`
	AudioQuality string      `json:"audioQuality,omitempty"`
}

type LanguageUpdate struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"sessionId"`
	EnabledLanguages []string    `json:"enabledLanguages"`
}

// ---- Inbound listener frames ----

type JoinSession struct {
	Type              MessageType  `json:"type"`
	SessionID         string       `json:"sessionId"`
	PreferredLanguage string       `json:"preferredLanguage"`
	Capabilities      Capabilities `json:"capabilities"`
}

type LeaveSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
}

type ChangeLanguage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Language  string      `json:"language"`
}

// ---- Outbound frames ----

// Permissions is the operator permission bitmap included in auth responses.
type Permissions struct {
	CanCreateSessions bool `json:"canCreateSessions"`
	CanManageOwn      bool `json:"canManageOwnSessions"`
	CanViewAll        bool `json:"canViewAllSessions"`
}

// Tokens mirrors the identity provider's token set. The hub forwards it
// verbatim and keeps no copy.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int32  `json:"expiresIn"`
}

// SessionSummary is the read view of a session returned to any admin.
type SessionSummary struct {
	SessionID     string        `json:"sessionId"`
	Status        string        `json:"status"`
	Config        SessionConfig `json:"config"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     string        `json:"createdAt"`
	LastActivity  string        `json:"lastActivity"`
	ListenerCount int           `json:"listenerCount"`
	IsOwner       bool          `json:"isOwner"`
}

type AdminAuthResponse struct {
	Type          MessageType      `json:"type"`
	Success       bool             `json:"success"`
	AdminID       string           `json:"adminId"`
	Username      string           `json:"username"`
	Email         string           `json:"email,omitempty"`
	Tokens        *Tokens          `json:"tokens,omitempty"`
	OwnedSessions []string         `json:"ownedSessions"`
	AllSessions   []SessionSummary `json:"allSessions"`
	Permissions   Permissions      `json:"permissions"`
	Timestamp     string           `json:"timestamp"`
}

type TokenRefreshResponse struct {
	Type        MessageType `json:"type"`
	Success     bool        `json:"success"`
	AccessToken string      `json:"accessToken"`
	ExpiresIn   int32       `json:"expiresIn"`
	Timestamp   string      `json:"timestamp"`
}

type AdminReconnection struct {
	Type              MessageType `json:"type"`
	AdminID           string      `json:"adminId"`
	RecoveredSessions []string    `json:"recoveredSessions"`
	Timestamp         string      `json:"timestamp"`
}

type ErrorDetails struct {
	SessionID        string   `json:"sessionId,omitempty"`
	AdminID          string   `json:"adminId,omitempty"`
	Operation        string   `json:"operation,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

type AdminError struct {
	Type        MessageType  `json:"type"`
	ErrorCode   string       `json:"errorCode"`
	Message     string       `json:"message"`
	UserMessage string       `json:"userMessage"`
	Retryable   bool         `json:"retryable"`
	RetryAfter  int64        `json:"retryAfter,omitempty"` // seconds
	Details     ErrorDetails `json:"details,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

// ListenerError is the simpler legacy error frame used on listener paths.
type ListenerError struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

type StartSessionResponse struct {
	Type      MessageType   `json:"type"`
	Success   bool          `json:"success"`
	SessionID string        `json:"sessionId"`
	Config    SessionConfig `json:"config"`
	Timestamp string        `json:"timestamp"`
}

type EndSessionResponse struct {
	Type      MessageType `json:"type"`
	Success   bool        `json:"success"`
	SessionID string      `json:"sessionId"`
	Timestamp string      `json:"timestamp"`
}

type UpdateSessionConfigResponse struct {
	Type             MessageType   `json:"type"`
	Success          bool          `json:"success"`
	SessionID        string        `json:"sessionId"`
	Config           SessionConfig `json:"config"`
	RemovedLanguages []string      `json:"removedLanguages,omitempty"`
	Timestamp        string        `json:"timestamp"`
}

type ListSessionsResponse struct {
	Type      MessageType      `json:"type"`
	Sessions  []SessionSummary `json:"sessions"`
	Timestamp string           `json:"timestamp"`
}

// AudioMetadata accompanies a translation frame whose audio was synthesized.
type AudioMetadata struct {
	Format     string `json:"format"`
	DurationMS int64  `json:"durationMs"`
	VoiceUsed  string `json:"voiceUsed"`
	SizeBytes  int64  `json:"sizeBytes"`
	Tier       string `json:"tier"`
	CacheHit   bool   `json:"cacheHit"`
}

type GenerateTTSResponse struct {
	Type      MessageType    `json:"type"`
	Success   bool           `json:"success"`
	SessionID string         `json:"sessionId"`
	Language  string         `json:"language"`
	AudioURL  string         `json:"audioUrl,omitempty"`
	Audio     *AudioMetadata `json:"audio,omitempty"`
	Tier      string         `json:"tier"`
	Timestamp string         `json:"timestamp"`
}

type SessionMetadata struct {
	Type          MessageType   `json:"type"`
	SessionID     string        `json:"sessionId"`
	Config        SessionConfig `json:"config"`
	Language      string        `json:"language"`
	TTSAvailable  bool          `json:"ttsAvailable"`
	ListenerCount int           `json:"listenerCount"`
	Timestamp     string        `json:"timestamp"`
}

type SessionMetadataUpdate struct {
	Type          MessageType   `json:"type"`
	SessionID     string        `json:"sessionId"`
	Config        SessionConfig `json:"config"`
	ListenerCount int           `json:"listenerCount"`
	Timestamp     string        `json:"timestamp"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ConfigUpdated struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"sessionId"`
	Config    SessionConfig `json:"config"`
	Timestamp string        `json:"timestamp"`
}

// Translation is the personalized frame each listener receives per broadcast.
type Translation struct {
	Type         MessageType    `json:"type"`
	SessionID    string         `json:"sessionId"`
	SourceText   string         `json:"sourceText"`
	Language     string         `json:"language"`
	Text         string         `json:"text"`
	AudioURL     *string        `json:"audioUrl"`
	Audio        *AudioMetadata `json:"audio"`
	TTSAvailable bool           `json:"ttsAvailable"`
	Tier         string         `json:"tier,omitempty"`
	Timestamp    string         `json:"timestamp"`
}

type LanguageRemoved struct {
	Type               MessageType `json:"type"`
	SessionID          string      `json:"sessionId"`
	Language           string      `json:"language"`
	RemainingLanguages []string    `json:"remainingLanguages"`
	Timestamp          string      `json:"timestamp"`
}

type TokenExpiryWarning struct {
	Type             MessageType `json:"type"`
	ExpiresInSeconds int64       `json:"expiresInSeconds"`
	Timestamp        string      `json:"timestamp"`
}

type ServerShutdown struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// ParseInbound decodes and validates one client frame. The router decides
// whether the frame is legal for the connection's role; this layer only
// checks shape.
func ParseInbound(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAdminAuth:
		var msg AdminAuth
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Method {
		case AuthMethodCredentials:
			if msg.Username == "" || msg.Password == "" {
				return nil, errors.New("admin-auth credentials require username and password")
			}
		case AuthMethodToken:
			if msg.Token == "" {
				return nil, errors.New("admin-auth token method requires token")
			}
		default:
			return nil, fmt.Errorf("admin-auth method must be credentials or token, got %q", msg.Method)
		}
		return msg, nil
	case TypeTokenRefresh:
		var msg TokenRefresh
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Username == "" || msg.RefreshToken == "" {
			return nil, errors.New("token-refresh requires username and refreshToken")
		}
		return msg, nil
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("start-session requires sessionId")
		}
		return msg, nil
	case TypeEndSession:
		var msg EndSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("end-session requires sessionId")
		}
		return msg, nil
	case TypeUpdateSessionConfig:
		var msg UpdateSessionConfig
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("update-session-config requires sessionId")
		}
		return msg, nil
	case TypeListSessions:
		var msg ListSessions
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Filter == "" {
			msg.Filter = "all"
		}
		if msg.Filter != "all" && msg.Filter != "owned" {
			return nil, fmt.Errorf("list-sessions filter must be all or owned, got %q", msg.Filter)
		}
		return msg, nil
	case TypeAdminSessionAccess:
		var msg AdminSessionAccess
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("admin-session-access requires sessionId")
		}
		if msg.Mode != "read" && msg.Mode != "write" {
			return nil, fmt.Errorf("admin-session-access mode must be read or write, got %q", msg.Mode)
		}
		return msg, nil
	case TypeBroadcastTranslation:
		var msg BroadcastTranslation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("broadcast-translation requires sessionId")
		}
		if len(msg.Translations) == 0 {
			return nil, errors.New("broadcast-translation requires at least one translation")
		}
		return msg, nil
	case TypeGenerateTTS:
		var msg GenerateTTS
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" || msg.Language == "" {
			return nil, errors.New("generate-tts requires sessionId, text and language")
		}
		return msg, nil
	case TypeTTSConfigUpdate:
		var msg TTSConfigUpdateRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.TTSMode == "" {
			return nil, errors.New("tts-config-update requires sessionId and ttsMode")
		}
		return msg, nil
	case TypeLanguageUpdate:
		var msg LanguageUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || len(msg.EnabledLanguages) == 0 {
			return nil, errors.New("language-update requires sessionId and enabledLanguages")
		}
		return msg, nil
	case TypeJoinSession:
		var msg JoinSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PreferredLanguage == "" {
			return nil, errors.New("join-session requires sessionId and preferredLanguage")
		}
		return msg, nil
	case TypeLeaveSession:
		var msg LeaveSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeChangeLanguage:
		var msg ChangeLanguage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Language == "" {
			return nil, errors.New("change-language requires language")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
