package vosk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var tlsSessionCache = tls.NewLRUClientSessionCache(32)

// Session is one streaming connection to the STT backend. It is created per audio
// stream, moves Init -> Connecting -> Configured -> Streaming -> Closed and is never
// reused once closed.
type Session struct {
	options   Options
	listeners ListenerRegistry

	mu              sync.RWMutex
	writeMu         sync.Mutex
	logger          *slog.Logger
	state           State
	conn            *websocket.Conn
	metadata        Metadata
	tag             string
	sampleRate      float64
	lastPartial     string
	id              uuid.UUID
	reconnectNeeded bool
	done            chan struct{}
	closeOnce       sync.Once
}

// NewSession creates a session in the Init state.
func NewSession(options Options) *Session {
	options.applyDefaults()
	return &Session{
		options:    options,
		logger:     componentLogger(options.Logger, "vosk_session"),
		state:      StateInit,
		tag:        DefaultTranscriptTag,
		sampleRate: -1,
		id:         uuid.New(),
		done:       make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ReconnectNeeded reports whether the transport was lost by a remote close or error.
func (s *Session) ReconnectNeeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectNeeded
}

// SampleRate returns the rate announced in the handshake; ok is false before the first frame.
func (s *Session) SampleRate() (rate float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sampleRate, s.sampleRate >= 0
}

// CorrelationID returns the id that the next forwarded event will carry.
func (s *Session) CorrelationID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// IsEnded reports whether the transport is absent or already closed.
func (s *Session) IsEnded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn == nil || s.state.IsTerminal()
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// AddListener registers l for all subsequent transcript events.
func (s *Session) AddListener(l Listener) {
	s.listeners.Add(l)
}

func (s *Session) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Session) setState(newState State) {
	s.mu.Lock()
	oldState, changed := s.setStateLocked(newState)
	s.mu.Unlock()

	if changed {
		s.notifyStateChange(oldState, newState)
	}
}

func (s *Session) setStateLocked(newState State) (State, bool) {
	oldState := s.state
	if oldState == newState || oldState.IsTerminal() {
		return oldState, false
	}
	s.state = newState
	return oldState, true
}

func (s *Session) notifyStateChange(oldState, newState State) {
	s.log().Debug("stt_state_changed",
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()))
	if s.options.OnStateChange != nil {
		s.options.OnStateChange(oldState, newState)
	}
}

// Open establishes the transport. The handshake is deferred to the first SendAudio
// so that it can carry the real sample rate.
func (s *Session) Open(ctx context.Context, endpoint string, sessionOpts SessionOptions) error {
	sessionOpts.applyDefaults()
	if err := sessionOpts.FormatHint.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return ErrSessionAlreadyOpen
	}
	s.metadata = sessionOpts.Metadata
	s.tag = sessionOpts.Metadata.transcriptTag()
	if name := sessionOpts.Metadata.DebugName; name != "" {
		s.logger = s.logger.With(slog.String("debug_name", name))
	}
	s.mu.Unlock()

	for _, l := range sessionOpts.Listeners {
		s.listeners.Add(l)
	}

	s.setState(StateConnecting)

	connCtx, cancel := context.WithTimeout(ctx, s.options.ConnectTimeout)
	defer cancel()

	conn, _, err := newDialer(s.options.ConnectTimeout).DialContext(connCtx, endpoint, http.Header{})
	if err != nil {
		s.log().Error("stt_connect_failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		s.terminate(false)
		return NewErrorWithCause(ErrorStatusConnection, "failed to connect to "+endpoint, err)
	}

	s.mu.Lock()
	if s.state.IsTerminal() {
		// Closed locally while dialing.
		s.mu.Unlock()
		conn.Close()
		return ErrSessionNotConnected
	}
	s.conn = conn
	oldState, changed := s.setStateLocked(StateConfigured)
	s.mu.Unlock()
	if changed {
		s.notifyStateChange(oldState, StateConfigured)
	}

	s.log().Info("stt_connected", slog.String("endpoint", endpoint))

	go s.readLoop(conn)
	return nil
}

func newDialer(timeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: timeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
		TLSClientConfig: &tls.Config{
			ClientSessionCache: tlsSessionCache,
		},
	}
}

// SendAudio forwards one frame. The first frame on a configured session is preceded by
// the config handshake. Without a live transport the frame is dropped and nil is
// returned; only an invalid frame yields an error.
func (s *Session) SendAudio(frame AudioFrame) error {
	if err := validateFrame(frame); err != nil {
		return err
	}
	failure, err := s.sendFrame(frame)
	// Hooks run after writeMu is released so they may call back into the session.
	if failure != nil {
		s.fail(failure)
	}
	return err
}

// sendFrame writes the handshake, when due, and the frame under writeMu. A non-nil
// failure means the transport broke and the session must be failed.
func (s *Session) sendFrame(frame AudioFrame) (failure *Error, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	state := s.state
	conn := s.conn
	if conn == nil || !state.CanSend() {
		s.mu.Unlock()
		s.options.Metrics.frameDropped()
		s.log().Warn("stt_frame_dropped",
			slog.String("state", state.String()),
			slog.Int("size_bytes", len(frame.Data)))
		return nil, nil
	}
	var handshake []byte
	if s.sampleRate < 0 {
		s.sampleRate = frame.SampleRate
		data, err := json.Marshal(ConfigMessage{Config: s.metadata.toStreamConfig(s.sampleRate)})
		if err != nil {
			s.mu.Unlock()
			return nil, NewErrorWithCause(ErrorStatusArgument, "failed to marshal configuration", err)
		}
		handshake = data
	}
	s.mu.Unlock()

	if handshake != nil {
		s.log().Debug("stt_sending_config", slog.String("config", string(handshake)))
		if err := s.write(conn, websocket.TextMessage, handshake); err != nil {
			return NewErrorWithCause(ErrorStatusConnection, "failed to send configuration", err), nil
		}
		s.options.Metrics.handshake()
		s.setState(StateStreaming)
	}

	if err := s.write(conn, websocket.BinaryMessage, frame.Data); err != nil {
		return NewErrorWithCause(ErrorStatusConnection, "failed to send audio", err), nil
	}
	s.options.Metrics.frameSent()
	return nil, nil
}

func validateFrame(frame AudioFrame) error {
	if err := frame.Format().validate(); err != nil {
		return err
	}
	if frame.SampleRate <= 0 || math.IsNaN(frame.SampleRate) || math.IsInf(frame.SampleRate, 0) {
		return NewError(ErrorStatusArgument, "sample rate must be a positive number")
	}
	return nil
}

// SendStream reads from r and sends frames of format until EOF.
func (s *Session) SendStream(r io.Reader, format AudioFormat, opts ...SendStreamOptions) error {
	var opt SendStreamOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}

	buf := make([]byte, opt.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			frame := AudioFrame{Data: chunk, SampleRate: format.SampleRate, Encoding: format.Encoding}
			if sendErr := s.SendAudio(frame); sendErr != nil {
				return sendErr
			}
			if opt.PaceInterval > 0 {
				time.Sleep(opt.PaceInterval)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if opt.Finish {
		s.End()
	}
	return nil
}

// End asks the server to flush and close. Failures are logged only.
func (s *Session) End() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	state := s.state
	s.mu.RUnlock()

	if conn == nil || state.IsTerminal() {
		s.log().Warn("stt_end_without_connection", slog.String("state", state.String()))
		return
	}

	data, err := json.Marshal(NewEOFMessage())
	if err == nil {
		err = s.write(conn, websocket.TextMessage, data)
	}
	if err != nil {
		s.log().Error("stt_end_failed", slog.String("error", err.Error()))
	}
}

// Close tears the session down without raising the reconnect signal.
func (s *Session) Close() error {
	s.terminate(false)
	return nil
}

func (s *Session) write(conn *websocket.Conn, msgType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	return conn.WriteMessage(msgType, data)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			s.fail(NewErrorWithCause(ErrorStatusConnection, "connection lost", err))
			return
		}
		if msgType != websocket.TextMessage {
			s.log().Debug("stt_binary_message_ignored", slog.Int("size_bytes", len(message)))
			continue
		}
		s.handleMessage(message)
	}
}

func (s *Session) handleMessage(raw []byte) {
	s.log().Debug("stt_response_received", slog.String("response", string(raw)))

	resp, err := ParseResponse(raw)
	if err != nil {
		s.options.Metrics.protocolError()
		s.log().Error("stt_protocol_error",
			slog.String("response", string(raw)),
			slog.String("error", err.Error()))
		var protoErr *Error
		if s.options.OnError != nil && errors.As(err, &protoErr) {
			s.options.OnError(protoErr)
		}
		return
	}

	partial := resp.IsPartial()
	text := resp.Transcript()

	s.mu.Lock()
	forward := text != "" && (!partial || text != s.lastPartial)
	var event TranscriptEvent
	if forward {
		event = TranscriptEvent{
			ID:           s.id,
			Text:         text,
			IsPartial:    partial,
			Language:     s.tag,
			Confidence:   1.0,
			Timestamp:    time.Now(),
			Alternatives: []Alternative{{Text: text, Confidence: 1.0}},
		}
	}
	if partial && forward {
		s.lastPartial = text
	}
	s.mu.Unlock()

	switch {
	case forward:
		s.listeners.NotifyAll(event)
		s.options.Metrics.eventForwarded(partial)
	case partial:
		s.options.Metrics.partialSuppressed()
	}

	if !partial {
		s.mu.Lock()
		s.id = uuid.New()
		s.mu.Unlock()
	}
}

// fail degrades the session after a transport close or error and raises the
// reconnect signal exactly once.
func (s *Session) fail(cause *Error) {
	if !s.terminate(true) {
		return
	}

	s.options.Metrics.disconnect()

	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) {
		s.log().Warn("stt_connection_closed",
			slog.Int("status", closeErr.Code),
			slog.String("reason", closeErr.Text))
	} else {
		s.log().Error("stt_connection_error",
			slog.String("error", cause.Error()))
	}

	if s.options.OnError != nil {
		s.options.OnError(cause)
	}
	if s.options.OnReconnectNeeded != nil {
		s.options.OnReconnectNeeded(cause)
	}
}

// terminate moves the session to Closed and releases the transport. It returns false
// if the session was already closed.
func (s *Session) terminate(signal bool) bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	if signal {
		s.reconnectNeeded = true
	}
	conn := s.conn
	s.conn = nil
	oldState, changed := s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.closeOnce.Do(func() { close(s.done) })
	if changed {
		s.notifyStateChange(oldState, StateClosed)
	}
	return true
}
