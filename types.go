package vosk

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EncodingLinear is the only audio encoding accepted on the wire: raw linear PCM.
const EncodingLinear = "LINEAR"

// AudioFormat describes how audio bytes are to be interpreted.
type AudioFormat struct {
	SampleRate float64
	Encoding   string
}

func (f AudioFormat) validate() error {
	if f.Encoding != EncodingLinear {
		return NewErrorWithCause(ErrorStatusArgument, "unexpected audio encoding "+quoteOrEmpty(f.Encoding), ErrUnsupportedEncoding)
	}
	return nil
}

// AudioFrame is one captured tick of audio.
type AudioFrame struct {
	Data       []byte
	SampleRate float64
	Encoding   string
}

// Format returns the frame's audio format.
func (f AudioFrame) Format() AudioFormat {
	return AudioFormat{SampleRate: f.SampleRate, Encoding: f.Encoding}
}

// Alternative is one candidate transcription of an utterance.
type Alternative struct {
	Text       string
	Confidence float64
}

// TranscriptEvent is delivered to listeners for every forwarded partial or final result.
// All events of one utterance share the same ID.
type TranscriptEvent struct {
	ID           uuid.UUID
	Text         string
	IsPartial    bool
	Language     string
	Confidence   float64
	Timestamp    time.Time
	Alternatives []Alternative
}

// StreamConfig is the body of the handshake message.
type StreamConfig struct {
	SampleRate    float64 `json:"sample_rate"`
	DebugName     string  `json:"debug_name,omitempty"`
	RoomID        string  `json:"room_id,omitempty"`
	ParticipantID string  `json:"participant_id,omitempty"`
	Language      string  `json:"language,omitempty"`
	IsModerator   *bool   `json:"is_moderator,omitempty"`
	Role          string  `json:"role,omitempty"`
	StatsID       string  `json:"stats_id,omitempty"`
}

// ConfigMessage is the first message sent after connecting.
type ConfigMessage struct {
	Config StreamConfig `json:"config"`
}

// EOFMessage asks the server to flush the final result and close.
type EOFMessage struct {
	EOF int `json:"eof"`
}

func NewEOFMessage() EOFMessage {
	return EOFMessage{EOF: 1}
}

// Response is an inbound result message. Exactly one of Partial or Text is expected.
type Response struct {
	Partial *string `json:"partial,omitempty"`
	Text    *string `json:"text,omitempty"`
}

// IsPartial reports whether the response carries an incremental result.
func (r Response) IsPartial() bool {
	return r.Partial != nil
}

// Transcript returns the carried text, preferring the partial key.
func (r Response) Transcript() string {
	if r.Partial != nil {
		return *r.Partial
	}
	if r.Text != nil {
		return *r.Text
	}
	return ""
}

// ParseResponse decodes an inbound message. Anything that is not a JSON object holding a
// string "partial" or "text" key is a protocol error.
func ParseResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, NewErrorWithCause(ErrorStatusProtocol, "failed to parse response", err)
	}
	if resp.Partial == nil && resp.Text == nil {
		return Response{}, NewError(ErrorStatusProtocol, "response has neither partial nor text")
	}
	return resp, nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "<empty>"
	}
	return `"` + s + `"`
}
