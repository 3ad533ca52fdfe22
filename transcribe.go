package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Request is one complete utterance for single-shot transcription.
type Request struct {
	Audio  []byte
	Format AudioFormat
}

type singleShotConfig struct {
	Config struct {
		SampleRate float64 `json:"sample_rate"`
	} `json:"config"`
}

// Transcribe sends the whole request over a fresh connection and waits for the server to
// close it. The result is every text message received, each followed by a newline, in
// arrival order. Canceling ctx aborts the wait.
func Transcribe(ctx context.Context, endpoint string, req Request, options Options) (string, error) {
	if err := req.Format.validate(); err != nil {
		return "", err
	}
	options.applyDefaults()
	logger := componentLogger(options.Logger, "vosk_transcribe")

	connCtx, cancel := context.WithTimeout(ctx, options.ConnectTimeout)
	conn, _, err := newDialer(options.ConnectTimeout).DialContext(connCtx, endpoint, http.Header{})
	cancel()
	if err != nil {
		logger.Error("stt_connect_failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return "", NewErrorWithCause(ErrorStatusConnection, "failed to connect to "+endpoint, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var cfg singleShotConfig
	cfg.Config.SampleRate = req.Format.SampleRate
	handshake, err := json.Marshal(cfg)
	if err != nil {
		return "", NewErrorWithCause(ErrorStatusArgument, "failed to marshal configuration", err)
	}
	eof, _ := json.Marshal(NewEOFMessage())

	// Send failures are logged; the read below still collects whatever the server returns.
	for _, msg := range []struct {
		kind int
		data []byte
	}{
		{websocket.TextMessage, handshake},
		{websocket.BinaryMessage, req.Audio},
		{websocket.TextMessage, eof},
	} {
		if err := conn.WriteMessage(msg.kind, msg.data); err != nil {
			logger.Error("stt_transcribe_send_failed", slog.String("error", err.Error()))
			break
		}
	}

	var result strings.Builder
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result.String(), ctxErr
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				break
			}
			logger.Error("stt_connection_error", slog.String("error", err.Error()))
			return result.String(), NewErrorWithCause(ErrorStatusConnection, "connection lost", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		result.Write(message)
		result.WriteByte('\n')
	}

	logger.Debug("stt_transcribe_done", slog.Int("result_bytes", result.Len()))
	return result.String(), nil
}

// ParseResults splits a Transcribe result into its responses. Server messages may span
// several lines, so the result is read as a stream of JSON values rather than line by
// line. Values holding neither a partial nor a text key are skipped. On malformed input
// the responses decoded so far are returned with a protocol error.
func ParseResults(result string) ([]Response, error) {
	var out []Response
	dec := json.NewDecoder(strings.NewReader(result))
	for dec.More() {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			return out, NewErrorWithCause(ErrorStatusProtocol, "failed to parse result", err)
		}
		if resp.Partial == nil && resp.Text == nil {
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}
