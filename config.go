package vosk

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the file and environment form of the client settings.
type Config struct {
	Endpoint       EndpointConfig  `mapstructure:"endpoint"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout"`
	VAD            VADConfig       `mapstructure:"vad"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
	LogLevel       string          `mapstructure:"log_level"`
	LogFormat      string          `mapstructure:"log_format"`
	SentryDSN      string          `mapstructure:"sentry_dsn"`
	MetricsAddr    string          `mapstructure:"metrics_addr"`
}

type VADConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
	// Decoding is "int8" or "pcm16le".
	Decoding string `mapstructure:"decoding"`
}

type ReconnectConfig struct {
	// Policy is one of immediate, fixed, exponential, manual.
	Policy     string        `mapstructure:"policy"`
	Delay      time.Duration `mapstructure:"delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// LoadConfig reads path, if non-empty, and applies VOSK_* environment overrides
// (VOSK_ENDPOINT_URL, VOSK_LOG_LEVEL, ...). String values may reference ${ENV}.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("endpoint.url", DefaultWebSocketURL)
	v.SetDefault("endpoint.default_language", DefaultLanguage)
	v.SetDefault("connect_timeout", DefaultConnectTimeout)
	v.SetDefault("write_timeout", DefaultWriteTimeout)
	v.SetDefault("vad.enabled", true)
	v.SetDefault("vad.threshold", DefaultLevelThreshold)
	v.SetDefault("vad.decoding", "int8")
	v.SetDefault("reconnect.policy", "immediate")
	v.SetDefault("reconnect.delay", time.Second)
	v.SetDefault("reconnect.max_delay", 30*time.Second)
	v.SetDefault("reconnect.max_retries", uint64(DefaultMaxReconnectAttempts))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("metrics_addr", "")

	v.SetEnvPrefix("VOSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, NewErrorWithCause(ErrorStatusConfiguration, "read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, NewErrorWithCause(ErrorStatusConfiguration, "unmarshal config", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) expandEnv() {
	c.Endpoint.URL = os.ExpandEnv(c.Endpoint.URL)
	for lang, entry := range c.Endpoint.Languages {
		switch v := entry.(type) {
		case string:
			c.Endpoint.Languages[lang] = os.ExpandEnv(v)
		case map[string]any:
			if url, ok := v["url"].(string); ok {
				v["url"] = os.ExpandEnv(url)
			}
		}
	}
	c.SentryDSN = os.ExpandEnv(c.SentryDSN)
	c.MetricsAddr = os.ExpandEnv(c.MetricsAddr)
}

func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return NewError(ErrorStatusConfiguration, "timeouts must not be negative")
	}
	if c.VAD.Threshold < 0 {
		return NewError(ErrorStatusConfiguration, "vad.threshold must not be negative")
	}
	if _, err := parseDecoding(c.VAD.Decoding); err != nil {
		return err
	}
	if _, err := c.ReconnectPolicy(); err != nil {
		return err
	}
	if _, err := c.Resolver(); err != nil {
		return err
	}
	return nil
}

// Resolver builds the endpoint resolver described by the endpoint section.
func (c Config) Resolver() (*EndpointResolver, error) {
	return NewEndpointResolver(c.Endpoint)
}

func (c Config) ReconnectPolicy() (ReconnectPolicy, error) {
	r := c.Reconnect
	switch strings.ToLower(strings.TrimSpace(r.Policy)) {
	case "", "immediate":
		return ImmediateReconnect(), nil
	case "fixed":
		return FixedDelayReconnect(r.Delay), nil
	case "exponential":
		return ExponentialReconnect(r.Delay, r.MaxDelay, r.MaxRetries), nil
	case "manual":
		return ManualReconnect(), nil
	default:
		return nil, NewError(ErrorStatusConfiguration, fmt.Sprintf("unknown reconnect.policy %q", r.Policy))
	}
}

// Gate returns a level gate, or nil when the gate is disabled.
func (c Config) Gate() *AudioLevelGate {
	if !c.VAD.Enabled {
		return nil
	}
	decoding, err := parseDecoding(c.VAD.Decoding)
	if err != nil {
		decoding = DecodeInt8
	}
	return &AudioLevelGate{Threshold: c.VAD.Threshold, Decoding: decoding}
}

// Options returns session options for the configured timeouts.
func (c Config) Options(logger *slog.Logger, metrics *Metrics) Options {
	return Options{
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		Logger:         logger,
		Metrics:        metrics,
	}
}

// ParticipantConfig assembles everything a Participant needs for one speaker.
func (c Config) ParticipantConfig(metadata Metadata, logger *slog.Logger, metrics *Metrics) (ParticipantConfig, error) {
	resolver, err := c.Resolver()
	if err != nil {
		return ParticipantConfig{}, err
	}
	policy, err := c.ReconnectPolicy()
	if err != nil {
		return ParticipantConfig{}, err
	}
	return ParticipantConfig{
		Resolver:             resolver,
		Metadata:             metadata,
		Options:              c.Options(logger, metrics),
		Policy:               policy,
		Gate:                 c.Gate(),
		MaxReconnectAttempts: c.Reconnect.MaxRetries,
	}, nil
}

func parseDecoding(name string) (SampleDecoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "int8":
		return DecodeInt8, nil
	case "pcm16le", "pcm16":
		return DecodePCM16LE, nil
	default:
		return DecodeInt8, NewError(ErrorStatusConfiguration, fmt.Sprintf("unknown vad.decoding %q", name))
	}
}
