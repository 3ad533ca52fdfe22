package vosk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestParticipant(t *testing.T, cfg ParticipantConfig) *Participant {
	t.Helper()
	if cfg.Options.Logger == nil {
		cfg.Options.Logger = quietLogger()
	}
	p, err := NewParticipant(cfg)
	if err != nil {
		t.Fatalf("NewParticipant failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func fixedResolver(t *testing.T, url string) *EndpointResolver {
	t.Helper()
	r, err := NewEndpointResolver(EndpointConfig{URL: url})
	if err != nil {
		t.Fatalf("NewEndpointResolver failed: %v", err)
	}
	return r
}

func closeRemote(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	conn.Close()
}

func TestNewParticipantRequiresResolver(t *testing.T) {
	_, err := NewParticipant(ParticipantConfig{})
	if !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestParticipantGateDropsSilence(t *testing.T) {
	m := startMockVosk(t)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver: fixedResolver(t, m.url),
		Gate:     NewAudioLevelGate(),
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.PushAudio(ctx, linearFrame(10000, 16000)); err != nil {
			t.Fatalf("PushAudio failed: %v", err)
		}
	}
	if p.Session() != nil {
		t.Fatal("silent frames must not open a session")
	}

	loud := make([]byte, 10000)
	loud[0] = 1
	if err := p.PushAudio(ctx, AudioFrame{Data: loud, SampleRate: 16000, Encoding: EncodingLinear}); err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}
	m.nextConn(t)
	if msg := m.next(t); msg.kind != websocket.TextMessage {
		t.Error("expected handshake first")
	}
	if msg := m.next(t); msg.kind != websocket.BinaryMessage || len(msg.data) != 10000 {
		t.Error("expected the speech frame to be forwarded")
	}
}

func TestParticipantUnresolvedLanguage(t *testing.T) {
	m := startMockVosk(t)
	resolver, err := NewEndpointResolver(EndpointConfig{
		Languages: map[string]any{"en": m.url},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := newTestParticipant(t, ParticipantConfig{
		Resolver: resolver,
		Metadata: Metadata{Language: "de"},
	})

	err = p.PushAudio(context.Background(), linearFrame(320, 16000))
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	select {
	case <-m.conns:
		t.Error("no transport may be opened for an unmapped language")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParticipantRejectsEncoding(t *testing.T) {
	p := newTestParticipant(t, ParticipantConfig{Resolver: fixedResolver(t, "ws://127.0.0.1:1")})
	err := p.PushAudio(context.Background(), AudioFrame{Data: []byte{1}, SampleRate: 16000, Encoding: "OPUS"})
	if !IsArgumentError(err) {
		t.Errorf("expected argument error, got %v", err)
	}
}

func TestParticipantReconnectsOnNextAudio(t *testing.T) {
	m := startMockVosk(t)
	listener, events := collectEvents(4)
	hookCalls := make(chan error, 4)
	metrics := NewMetrics(nil)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver:  fixedResolver(t, m.url),
		Listeners: []Listener{listener},
		Options: Options{
			Metrics:           metrics,
			OnReconnectNeeded: func(cause error) { hookCalls <- cause },
		},
	})
	ctx := context.Background()

	if err := p.PushAudio(ctx, linearFrame(320, 16000)); err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}
	first := m.nextConn(t)
	m.next(t)
	m.next(t)
	firstSession := p.Session()

	closeRemote(t, first)
	select {
	case <-hookCalls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reconnect hook")
	}
	waitFor(t, "reconnect flag", p.ReconnectNeeded)

	if err := p.PushAudio(ctx, linearFrame(320, 16000)); err != nil {
		t.Fatalf("PushAudio after loss failed: %v", err)
	}
	second := m.nextConn(t)
	if msg := m.next(t); msg.kind != websocket.TextMessage {
		t.Error("expected a fresh handshake on the new session")
	}
	m.next(t)

	if p.ReconnectNeeded() {
		t.Error("expected the reconnect flag to clear after a successful open")
	}
	if p.Session() == firstSession {
		t.Error("expected a new session")
	}
	if got := testutil.ToFloat64(metrics.ReconnectAttempts); got != 1 {
		t.Errorf("expected 1 reconnect attempt, got %v", got)
	}

	sendJSON(t, second, `{"text":"back again"}`)
	if ev := nextEvent(t, events); ev.Text != "back again" {
		t.Errorf("expected listeners to follow the new session, got %+v", ev)
	}
}

func TestParticipantReconnectPacing(t *testing.T) {
	m := startMockVosk(t)
	clock := newFakeClock()
	metrics := NewMetrics(nil)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver: fixedResolver(t, m.url),
		Policy:   FixedDelayReconnect(time.Minute),
		Now:      clock.Now,
		Options:  Options{Metrics: metrics},
	})
	ctx := context.Background()

	p.PushAudio(ctx, linearFrame(320, 16000))
	closeRemote(t, m.nextConn(t))
	waitFor(t, "reconnect flag", p.ReconnectNeeded)

	p.PushAudio(ctx, linearFrame(320, 16000))
	clock.Advance(30 * time.Second)
	p.PushAudio(ctx, linearFrame(320, 16000))
	select {
	case <-m.conns:
		t.Fatal("reconnected before the policy delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}
	if got := testutil.ToFloat64(metrics.FramesDropped); got != 2 {
		t.Errorf("expected 2 dropped frames, got %v", got)
	}

	clock.Advance(31 * time.Second)
	if err := p.PushAudio(ctx, linearFrame(320, 16000)); err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}
	m.nextConn(t)
	if p.ReconnectNeeded() {
		t.Error("expected the reconnect flag to clear")
	}
}

func TestParticipantManualReconnect(t *testing.T) {
	m := startMockVosk(t)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver: fixedResolver(t, m.url),
		Policy:   ManualReconnect(),
	})
	ctx := context.Background()

	p.PushAudio(ctx, linearFrame(320, 16000))
	closeRemote(t, m.nextConn(t))
	waitFor(t, "reconnect flag", p.ReconnectNeeded)

	p.PushAudio(ctx, linearFrame(320, 16000))
	select {
	case <-m.conns:
		t.Fatal("manual policy must not reconnect on audio")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	m.nextConn(t)
	if p.ReconnectNeeded() {
		t.Error("expected the reconnect flag to clear")
	}
}

func TestParticipantReconnectGivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	metrics := NewMetrics(nil)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver:             fixedResolver(t, url),
		Policy:               FixedDelayReconnect(time.Millisecond),
		MaxReconnectAttempts: 2,
		Options:              Options{Metrics: metrics, ConnectTimeout: 2 * time.Second},
	})

	err := p.Reconnect(context.Background())
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.ReconnectAttempts); got != 3 {
		t.Errorf("expected 3 attempts, got %v", got)
	}
	if !p.ReconnectNeeded() {
		t.Error("expected the reconnect flag to stay set")
	}
	if p.RetryCount() != 3 {
		t.Errorf("expected retry count 3, got %d", p.RetryCount())
	}

	p.ResetRetryState()
	if p.RetryCount() != 0 {
		t.Errorf("expected retry count reset, got %d", p.RetryCount())
	}
}

func TestParticipantCompleteStopsReconnecting(t *testing.T) {
	m := startMockVosk(t)
	hookCalls := make(chan error, 1)
	p := newTestParticipant(t, ParticipantConfig{
		Resolver: fixedResolver(t, m.url),
		Options: Options{
			OnReconnectNeeded: func(cause error) { hookCalls <- cause },
		},
	})
	ctx := context.Background()

	p.PushAudio(ctx, linearFrame(320, 16000))
	conn := m.nextConn(t)
	m.next(t)
	m.next(t)

	p.Complete()
	if !p.IsCompleted() {
		t.Fatal("expected participant to be completed")
	}
	if eof := m.next(t); string(eof.data) != `{"eof":1}` {
		t.Errorf("expected eof on complete, got %q", eof.data)
	}

	closeRemote(t, conn)
	select {
	case <-hookCalls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the session hook")
	}
	if p.ReconnectNeeded() {
		t.Error("a completed participant must not request reconnection")
	}

	p.PushAudio(ctx, linearFrame(320, 16000))
	select {
	case <-m.conns:
		t.Error("a completed participant must not reopen a session")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Reconnect(ctx); err != ErrParticipantCompleted {
		t.Errorf("expected ErrParticipantCompleted, got %v", err)
	}
}
