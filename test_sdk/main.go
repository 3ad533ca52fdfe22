package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	vosk "github.com/moxierobots/vosk-stt-go"
	"github.com/moxierobots/vosk-stt-go/internal/clienv"
)

// Transcribes every file given on the command line with the single-shot path and
// prints the final texts. Settings come from VOSK_* environment variables.
func main() {
	audioFiles := os.Args[1:]
	if len(audioFiles) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: go run main.go <audio_file1> [audio_file2] ...")
		os.Exit(2)
	}

	env, err := clienv.Setup(os.Getenv("VOSK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	resolver, err := env.Config.Resolver()
	if err != nil {
		env.Fatal("endpoint_config_invalid", err)
	}
	url, err := resolver.Resolve(os.Getenv("VOSK_LANGUAGE"))
	if err != nil {
		env.Fatal("endpoint_unresolved", err)
	}

	failed := 0
	for _, path := range audioFiles {
		fmt.Printf("\n=== Transcribing: %s ===\n", path)

		text, err := transcribeFile(env, url, path)
		if err != nil {
			failed++
			env.Logger.Error("transcribe_failed", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		fmt.Printf("Final transcription: %s\n", text)
	}
	if failed > 0 {
		env.Close()
		os.Exit(1)
	}
}

func transcribeFile(env *clienv.Env, url, path string) (string, error) {
	audio, rate, err := clienv.ReadAudio(path, 16000)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	raw, err := vosk.Transcribe(ctx, url, vosk.Request{
		Audio:  audio,
		Format: vosk.AudioFormat{SampleRate: rate, Encoding: vosk.EncodingLinear},
	}, env.Options())
	if err != nil {
		return "", err
	}

	responses, err := vosk.ParseResults(raw)
	if err != nil {
		env.Logger.Warn("response_parse_failed", slog.String("error", err.Error()))
	}

	var finals []string
	for _, resp := range responses {
		if !resp.IsPartial() && resp.Transcript() != "" {
			finals = append(finals, resp.Transcript())
		}
	}
	return strings.Join(finals, " "), nil
}
