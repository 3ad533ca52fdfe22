package vosk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// batchVoskHandler reads the config, audio and eof messages, replies with responses and
// closes the connection normally.
func batchVoskHandler(t *testing.T, got chan<- wsMessage, responses ...string) http.HandlerFunc {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for i := 0; i < 3; i++ {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- wsMessage{kind: msgType, data: msg}
		}
		for _, resp := range responses {
			conn.WriteMessage(websocket.TextMessage, []byte(resp))
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}
}

func TestTranscribe(t *testing.T) {
	got := make(chan wsMessage, 3)
	server := httptest.NewServer(batchVoskHandler(t, got,
		`{"partial":"hello"}`,
		`{"text":"hello world"}`,
	))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	audio := []byte{1, 2, 3, 4}
	result, err := Transcribe(context.Background(), wsURL, Request{
		Audio:  audio,
		Format: AudioFormat{SampleRate: 16000, Encoding: EncodingLinear},
	}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	want := "{\"partial\":\"hello\"}\n{\"text\":\"hello world\"}\n"
	if result != want {
		t.Errorf("expected %q, got %q", want, result)
	}

	config := <-got
	if config.kind != websocket.TextMessage || string(config.data) != `{"config":{"sample_rate":16000}}` {
		t.Errorf("unexpected config message %q", config.data)
	}
	data := <-got
	if data.kind != websocket.BinaryMessage || string(data.data) != string(audio) {
		t.Errorf("expected audio as one binary message, got %v", data.data)
	}
	eof := <-got
	if string(eof.data) != `{"eof":1}` {
		t.Errorf("expected eof marker, got %q", eof.data)
	}
}

func TestTranscribeNoResults(t *testing.T) {
	got := make(chan wsMessage, 3)
	server := httptest.NewServer(batchVoskHandler(t, got))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	result, err := Transcribe(context.Background(), wsURL, Request{
		Format: AudioFormat{SampleRate: 8000, Encoding: EncodingLinear},
	}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty result, got %q", result)
	}
}

func TestTranscribeMultiLineResults(t *testing.T) {
	got := make(chan wsMessage, 3)
	server := httptest.NewServer(batchVoskHandler(t, got,
		"{\n  \"partial\" : \"hello\"\n}",
		"{\n  \"result\" : [{\"conf\" : 1.0, \"word\" : \"hello\"}],\n  \"text\" : \"hello world\"\n}",
	))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	result, err := Transcribe(context.Background(), wsURL, Request{
		Audio:  []byte{1, 2},
		Format: AudioFormat{SampleRate: 16000, Encoding: EncodingLinear},
	}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	responses, err := ParseResults(result)
	if err != nil {
		t.Fatalf("ParseResults failed: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d from %q", len(responses), result)
	}
	if !responses[0].IsPartial() || responses[0].Transcript() != "hello" {
		t.Errorf("unexpected first response %+v", responses[0])
	}
	if responses[1].IsPartial() || responses[1].Transcript() != "hello world" {
		t.Errorf("expected final %q, got %+v", "hello world", responses[1])
	}
}

func TestParseResults(t *testing.T) {
	tests := []struct {
		name      string
		result    string
		want      []string
		wantError bool
	}{
		{"empty", "", nil, false},
		{"one per line", "{\"partial\":\"a\"}\n{\"text\":\"a b\"}\n", []string{"a", "a b"}, false},
		{"pretty printed", "{\n  \"text\" : \"hello world\"\n}\n", []string{"hello world"}, false},
		{"no result keys skipped", "{\"result\":[]}\n{\"text\":\"\"}\n", []string{""}, false},
		{"garbage after result", "{\"text\":\"ok\"}\nnot json\n", []string{"ok"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses, err := ParseResults(tt.result)
			if tt.wantError != (err != nil) {
				t.Fatalf("expected error=%v, got %v", tt.wantError, err)
			}
			if err != nil && !IsProtocolError(err) {
				t.Errorf("expected protocol error, got %v", err)
			}
			if len(responses) != len(tt.want) {
				t.Fatalf("expected %d responses, got %d", len(tt.want), len(responses))
			}
			for i, resp := range responses {
				if resp.Transcript() != tt.want[i] {
					t.Errorf("response %d: expected %q, got %q", i, tt.want[i], resp.Transcript())
				}
			}
		})
	}
}

func TestTranscribeRejectsEncoding(t *testing.T) {
	_, err := Transcribe(context.Background(), "ws://127.0.0.1:1", Request{
		Format: AudioFormat{SampleRate: 16000, Encoding: "MP3"},
	}, Options{Logger: quietLogger()})
	if !IsArgumentError(err) {
		t.Errorf("expected argument error, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("expected ErrUnsupportedEncoding in the chain, got %v", err)
	}
}

func TestTranscribeConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := Transcribe(context.Background(), wsURL, Request{
		Format: AudioFormat{SampleRate: 16000, Encoding: EncodingLinear},
	}, Options{Logger: quietLogger(), ConnectTimeout: 2 * time.Second})
	if !IsConnectionError(err) {
		t.Errorf("expected connection error, got %v", err)
	}
}

func TestTranscribeCanceled(t *testing.T) {
	m := startMockVosk(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.conns:
			time.Sleep(50 * time.Millisecond)
		case <-time.After(5 * time.Second):
		}
		cancel()
	}()

	_, err := Transcribe(ctx, m.url, Request{
		Audio:  []byte{0, 0},
		Format: AudioFormat{SampleRate: 16000, Encoding: EncodingLinear},
	}, Options{Logger: quietLogger()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
