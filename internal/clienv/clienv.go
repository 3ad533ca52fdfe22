// Package clienv wires configuration, logging, error reporting and metrics for the
// command line tools of this module.
package clienv

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	vosk "github.com/moxierobots/vosk-stt-go"
)

type Env struct {
	Config  vosk.Config
	Logger  *slog.Logger
	Metrics *vosk.Metrics

	sentryEnabled bool
	metricsServer *http.Server
}

// Setup loads configPath (may be empty) and starts sentry and the metrics listener
// when they are configured.
func Setup(configPath string) (*Env, error) {
	cfg, err := vosk.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Config: cfg,
		Logger: vosk.NewLogger(cfg.LogLevel, cfg.LogFormat),
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: os.Getenv("VOSK_ENVIRONMENT"),
		})
		if err != nil {
			env.Logger.Warn("sentry_init_failed", slog.String("error", err.Error()))
		} else {
			env.sentryEnabled = true
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	env.Metrics = vosk.NewMetrics(reg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		env.metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			env.Logger.Info("metrics_listening", slog.String("addr", cfg.MetricsAddr))
			if err := env.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.Logger.Error("metrics_listen_failed", slog.String("error", err.Error()))
			}
		}()
	}

	return env, nil
}

// Options returns session options that report errors to sentry when it is enabled.
func (e *Env) Options() vosk.Options {
	opts := e.Config.Options(e.Logger, e.Metrics)
	opts.OnError = e.Report
	return opts
}

// Report forwards err to sentry. Errors are already logged by the session.
func (e *Env) Report(err *vosk.Error) {
	if !e.sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("status", string(err.Status))
		sentry.CaptureException(err)
	})
}

// Fatal logs err, reports it and exits.
func (e *Env) Fatal(msg string, err error) {
	e.Logger.Error(msg, slog.String("error", err.Error()))
	if e.sentryEnabled {
		sentry.CaptureException(err)
	}
	e.Close()
	os.Exit(1)
}

func (e *Env) Close() {
	if e.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.metricsServer.Shutdown(ctx)
	}
}

// ReadAudio loads a raw PCM or WAV file. For WAV input the header is stripped and its
// sample rate returned; raw input is reported at defaultRate.
func ReadAudio(path string, defaultRate float64) ([]byte, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	pcm, rate, ok := parseWAV(data)
	if !ok {
		return data, defaultRate, nil
	}
	return pcm, rate, nil
}

// parseWAV walks the RIFF chunks looking for fmt and data.
func parseWAV(data []byte) ([]byte, float64, bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, false
	}
	var rate float64
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+8 > len(data) {
				return nil, 0, false
			}
			rate = float64(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			end := body + size
			if end > len(data) || end < body {
				end = len(data)
			}
			if rate == 0 {
				return nil, 0, false
			}
			return data[body:end], rate, true
		}
		pos = body + size + size%2
	}
	return nil, 0, false
}
