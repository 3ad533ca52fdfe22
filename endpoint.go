package vosk

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EndpointConfig selects the STT backend. When Languages is non-empty the resolver
// routes by language tag and URL is ignored. Each Languages entry is either a URL or
// an object with a "url" key.
type EndpointConfig struct {
	URL             string         `mapstructure:"url"`
	Languages       map[string]any `mapstructure:"languages"`
	DefaultLanguage string         `mapstructure:"default_language"`
}

type languageEndpoint struct {
	URL string `mapstructure:"url"`
}

var languageEndpointType = reflect.TypeOf(languageEndpoint{})

// bareURLHook lets a language entry be written as a plain URL string.
var bareURLHook mapstructure.DecodeHookFuncType = func(from, to reflect.Type, data any) (any, error) {
	if to == languageEndpointType && from.Kind() == reflect.String {
		return map[string]any{"url": data}, nil
	}
	return data, nil
}

// EndpointResolver maps a language tag to a WebSocket URL.
type EndpointResolver struct {
	fixed           string
	table           map[string]string
	defaultLanguage string
}

// NewEndpointResolver builds a resolver. A URL that is itself a JSON object is
// treated as a language table.
func NewEndpointResolver(cfg EndpointConfig) (*EndpointResolver, error) {
	r := &EndpointResolver{defaultLanguage: cfg.DefaultLanguage}
	if r.defaultLanguage == "" {
		r.defaultLanguage = DefaultLanguage
	}

	if len(cfg.Languages) > 0 {
		table, err := decodeLanguageTable(cfg.Languages)
		if err != nil {
			return nil, err
		}
		r.table = table
		return r, nil
	}

	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		raw = DefaultWebSocketURL
	}
	if !strings.HasPrefix(raw, "{") {
		r.fixed = raw
		return r, nil
	}

	table, err := parseLanguageTable(raw)
	if err != nil {
		return nil, err
	}
	r.table = table
	return r, nil
}

// ParseEndpoint builds a resolver from a single raw setting, either a URL or a JSON
// object of language tag to URL.
func ParseEndpoint(raw string) (*EndpointResolver, error) {
	return NewEndpointResolver(EndpointConfig{URL: raw})
}

// SupportsLanguageRouting reports whether the resolver uses a language table.
func (r *EndpointResolver) SupportsLanguageRouting() bool {
	return r.table != nil
}

// Resolve returns the endpoint for language. An empty language uses the default.
func (r *EndpointResolver) Resolve(language string) (string, error) {
	if r.table == nil {
		return r.fixed, nil
	}
	if language == "" {
		language = r.defaultLanguage
	}
	url, ok := r.table[language]
	if !ok {
		// Tags are case-insensitive and viper lowercases map keys.
		for tag, candidate := range r.table {
			if strings.EqualFold(tag, language) {
				url, ok = candidate, true
				break
			}
		}
	}
	if !ok || strings.TrimSpace(url) == "" {
		return "", NewError(ErrorStatusConfiguration, "no websocket URL configured for language "+quoteOrEmpty(language))
	}
	return url, nil
}

func parseLanguageTable(raw string) (map[string]string, error) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, NewErrorWithCause(ErrorStatusConfiguration, "invalid language routing table", err)
	}
	return decodeLanguageTable(generic)
}

// decodeLanguageTable turns a loosely typed language table, as produced by a JSON
// setting or a config file section, into tag to URL. Unknown entry keys are rejected.
func decodeLanguageTable(input any) (map[string]string, error) {
	var entries map[string]languageEndpoint
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  bareURLHook,
		ErrorUnused: true,
		Result:      &entries,
	})
	if err != nil {
		return nil, NewErrorWithCause(ErrorStatusConfiguration, "invalid language routing table", err)
	}
	if err := dec.Decode(input); err != nil {
		return nil, NewErrorWithCause(ErrorStatusConfiguration, "invalid language routing table", err)
	}
	table := make(map[string]string, len(entries))
	for lang, entry := range entries {
		table[lang] = strings.TrimSpace(entry.URL)
	}
	return table, nil
}
