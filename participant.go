package vosk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const DefaultMaxReconnectAttempts = 3

var ErrParticipantCompleted = NewError(ErrorStatusInvalidState, "participant has left")

type ParticipantConfig struct {
	Resolver *EndpointResolver
	Metadata Metadata
	Options  Options
	// Policy paces reconnects after a lost session. Defaults to ImmediateReconnect.
	Policy ReconnectPolicy
	// Gate, when set, drops frames it classifies as silence.
	Gate      *AudioLevelGate
	Listeners []Listener
	// MaxReconnectAttempts bounds a single Reconnect call.
	MaxReconnectAttempts uint64
	// Now is used for reconnect pacing; tests may replace it.
	Now func() time.Time
}

// Participant owns the streaming session of one speaker. It feeds frames through the
// optional level gate, reopens the session after the transport is lost and keeps
// listeners attached across sessions.
type Participant struct {
	cfg       ParticipantConfig
	logger    *slog.Logger
	listeners ListenerRegistry

	openMu sync.Mutex

	mu              sync.Mutex
	session         *Session
	completed       bool
	reconnectNeeded bool
	retryCount      int
	backoff         retry.Backoff
	nextAttempt     time.Time
	exhausted       bool
}

func NewParticipant(cfg ParticipantConfig) (*Participant, error) {
	if cfg.Resolver == nil {
		return nil, NewError(ErrorStatusConfiguration, "participant requires an endpoint resolver")
	}
	if cfg.Policy == nil {
		cfg.Policy = ImmediateReconnect()
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Options.applyDefaults()

	logger := componentLogger(cfg.Options.Logger, "vosk_participant")
	if cfg.Metadata.DebugName != "" {
		logger = logger.With(slog.String("debug_name", cfg.Metadata.DebugName))
	}
	p := &Participant{
		cfg:    cfg,
		logger: logger,
	}
	for _, l := range cfg.Listeners {
		p.listeners.Add(l)
	}
	return p, nil
}

// AddListener registers l on the current and every future session.
func (p *Participant) AddListener(l Listener) {
	p.listeners.Add(l)
}

// Session returns the current session, which may be nil or ended.
func (p *Participant) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// ReconnectNeeded is true from a transport loss until a new session opens.
func (p *Participant) ReconnectNeeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnectNeeded
}

func (p *Participant) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// RetryCount returns the failed opens since the last successful one.
func (p *Participant) RetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryCount
}

// PushAudio gates and forwards one frame, opening a session when none is live.
// Frames that arrive while a reconnect is being paced are dropped.
func (p *Participant) PushAudio(ctx context.Context, frame AudioFrame) error {
	if err := validateFrame(frame); err != nil {
		return err
	}

	if gate := p.cfg.Gate; gate != nil {
		gate.Observe(frame)
		if gate.IsSilence() {
			return nil
		}
		if gate.JustBecameSpeech() {
			p.logger.Debug("speech_started")
		}
	}

	session, err := p.activeSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		p.cfg.Options.Metrics.frameDropped()
		return nil
	}
	return session.SendAudio(frame)
}

func (p *Participant) activeSession(ctx context.Context) (*Session, error) {
	p.openMu.Lock()
	defer p.openMu.Unlock()

	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return nil, nil
	}
	if p.session != nil && !p.session.IsEnded() {
		session := p.session
		p.mu.Unlock()
		return session, nil
	}
	reconnecting := p.reconnectNeeded
	if reconnecting {
		now := p.cfg.Now()
		if p.backoff == nil {
			p.scheduleNextLocked(now)
		}
		if p.exhausted || now.Before(p.nextAttempt) {
			p.mu.Unlock()
			return nil, nil
		}
	}
	p.mu.Unlock()

	return p.open(ctx, reconnecting)
}

// open resolves the endpoint and opens a new session. openMu must be held.
func (p *Participant) open(ctx context.Context, reconnecting bool) (*Session, error) {
	endpoint, err := p.cfg.Resolver.Resolve(p.cfg.Metadata.Language)
	if err != nil {
		p.logger.Error("stt_endpoint_unresolved",
			slog.String("language", p.cfg.Metadata.Language),
			slog.String("error", err.Error()))
		return nil, err
	}

	opts := p.cfg.Options
	userHook := opts.OnReconnectNeeded
	opts.OnReconnectNeeded = func(cause error) {
		p.onConnectionLost(cause)
		if userHook != nil {
			userHook(cause)
		}
	}

	if reconnecting {
		p.cfg.Options.Metrics.reconnectAttempt()
	}

	session := NewSession(opts)
	err = session.Open(ctx, endpoint, SessionOptions{
		Metadata:  p.cfg.Metadata,
		Listeners: []Listener{&p.listeners},
	})
	if err != nil {
		p.mu.Lock()
		p.retryCount++
		p.reconnectNeeded = true
		p.scheduleNextLocked(p.cfg.Now())
		retries := p.retryCount
		p.mu.Unlock()
		p.logger.Warn("stt_open_failed",
			slog.Int("retry_count", retries),
			slog.String("error", err.Error()))
		return nil, err
	}

	p.mu.Lock()
	previous := p.session
	p.session = session
	p.reconnectNeeded = false
	p.resetRetryLocked()
	p.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	if reconnecting {
		p.logger.Info("stt_reconnected", slog.String("endpoint", endpoint))
	}
	return session, nil
}

// Reconnect opens a new session now, retrying connection failures per the policy up
// to MaxReconnectAttempts times.
func (p *Participant) Reconnect(ctx context.Context) error {
	if p.IsCompleted() {
		return ErrParticipantCompleted
	}

	p.openMu.Lock()
	defer p.openMu.Unlock()

	b := retry.WithMaxRetries(p.cfg.MaxReconnectAttempts, p.cfg.Policy.Backoff())
	return retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := p.open(ctx, true)
		if IsConnectionError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ResetRetryState clears attempt counters and pacing so the next frame may reconnect.
func (p *Participant) ResetRetryState() {
	p.mu.Lock()
	p.resetRetryLocked()
	p.mu.Unlock()
}

func (p *Participant) resetRetryLocked() {
	p.retryCount = 0
	p.backoff = nil
	p.nextAttempt = time.Time{}
	p.exhausted = false
}

func (p *Participant) scheduleNextLocked(now time.Time) {
	if p.backoff == nil {
		p.backoff = p.cfg.Policy.Backoff()
	}
	delay, stop := p.backoff.Next()
	if stop {
		p.exhausted = true
		return
	}
	p.nextAttempt = now.Add(delay)
}

func (p *Participant) onConnectionLost(cause error) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		p.logger.Debug("participant has left, skipping stt reconnection")
		return
	}
	p.reconnectNeeded = true
	p.resetRetryLocked()
	p.mu.Unlock()

	p.logger.Info("stt_connection_lost",
		slog.String("cause", cause.Error()),
		slog.String("action", "retry_on_next_audio"))
}

// Complete marks the participant as gone and asks the server to flush the final result.
// Later transport losses no longer raise reconnects.
func (p *Participant) Complete() {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	session := p.session
	p.mu.Unlock()

	if session != nil && !session.IsEnded() {
		session.End()
	}
}

// Close completes the participant and releases its session.
func (p *Participant) Close() error {
	p.Complete()
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}
