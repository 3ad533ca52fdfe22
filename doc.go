// Package vosk provides a streaming client for Vosk-compatible speech-to-text
// WebSocket servers.
//
// A Session carries one audio stream. The config handshake is sent lazily with the
// first frame so that it always announces the real sample rate; every frame after that
// goes out as one binary message. Partial and final results come back as transcript
// events, delivered to registered listeners:
//
//	session := vosk.NewSession(vosk.Options{Logger: logger})
//	session.AddListener(vosk.ListenerFunc(func(ev vosk.TranscriptEvent) {
//	    if !ev.IsPartial {
//	        fmt.Println(ev.Text)
//	    }
//	}))
//
//	if err := session.Open(ctx, "ws://localhost:2700", vosk.SessionOptions{}); err != nil {
//	    return err
//	}
//	session.SendAudio(vosk.AudioFrame{Data: pcm, SampleRate: 16000, Encoding: vosk.EncodingLinear})
//	session.End()
//
// A partial equal to the last forwarded partial is suppressed, even across a final.
// All events of one utterance share an ID, which changes after the final result.
//
// # Reconnecting
//
// A session never reconnects itself. When the server closes the connection or the
// transport fails the session moves to StateClosed, ReconnectNeeded reports true and
// Options.OnReconnectNeeded fires. Participant builds on this: it owns the current
// session of one speaker, gates silent frames with an AudioLevelGate, and opens a
// replacement session on the next audio frame, paced by a ReconnectPolicy.
//
// # Language routing
//
// EndpointResolver maps a speaker's language to a backend URL. The endpoint setting is
// either a single URL or a JSON object of language tag to URL:
//
//	{"en": "ws://vosk-en:2700", "fr": "ws://vosk-fr:2700"}
//
// # Single-shot transcription
//
// Transcribe sends a complete recording over a fresh connection and returns every
// message the server produced before closing.
//
// # Error Handling
//
// Errors are *vosk.Error values carrying an ErrorStatus:
//
//	if vosk.IsConfigurationError(err) {
//	    // no backend for this language
//	}
package vosk
