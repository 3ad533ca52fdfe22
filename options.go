package vosk

import (
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultWebSocketURL   = "ws://localhost:2700"
	DefaultLanguage       = "en"
	DefaultTranscriptTag  = "en-US"
	DefaultConnectTimeout = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultLevelThreshold = 0.001
	DefaultChunkSize      = 3200
)

// Options configures session behavior shared by every session of a process.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics

	OnStateChange func(oldState, newState State)
	// OnReconnectNeeded is called once when the transport closes or fails.
	// The session never reconnects itself.
	OnReconnectNeeded func(cause error)
	// OnError receives protocol and transport errors after they have been logged.
	OnError func(err *Error)
}

// Metadata is optional context forwarded in the handshake.
type Metadata struct {
	// DebugName identifies the stream in logs; "room/participant" names also
	// populate RoomID and ParticipantID when those are empty.
	DebugName     string
	RoomID        string
	ParticipantID string
	// Language is the source language of the speaker.
	Language string
	// TranslationLanguage, when set, overrides Language as the tag on transcript events.
	TranslationLanguage string
	IsModerator         *bool
	Role                string
	StatsID             string
}

type SessionOptions struct {
	Metadata Metadata
	// FormatHint is validated before any transport activity. The sample rate sent in
	// the handshake always comes from the first audio frame.
	FormatHint AudioFormat
	Listeners  []Listener
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func (o *SessionOptions) applyDefaults() {
	if o.FormatHint.Encoding == "" {
		o.FormatHint.Encoding = EncodingLinear
	}
}

// transcriptTag is the language reported on events.
func (m Metadata) transcriptTag() string {
	if m.TranslationLanguage != "" {
		return m.TranslationLanguage
	}
	if m.Language != "" {
		return m.Language
	}
	return DefaultTranscriptTag
}

func (m Metadata) toStreamConfig(sampleRate float64) StreamConfig {
	cfg := StreamConfig{
		SampleRate:    sampleRate,
		DebugName:     m.DebugName,
		RoomID:        m.RoomID,
		ParticipantID: m.ParticipantID,
		Language:      m.transcriptTag(),
		IsModerator:   m.IsModerator,
		Role:          m.Role,
		StatsID:       m.StatsID,
	}
	if m.TranslationLanguage == "" && m.Language == "" {
		cfg.Language = ""
	}
	if parts := strings.Split(m.DebugName, "/"); len(parts) >= 2 {
		if cfg.RoomID == "" {
			cfg.RoomID = parts[0]
		}
		if cfg.ParticipantID == "" {
			cfg.ParticipantID = parts[1]
		}
	}
	return cfg
}

type SendStreamOptions struct {
	ChunkSize    int
	PaceInterval time.Duration
	Finish       bool // calls End() after the stream is fully sent
}
