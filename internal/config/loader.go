package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known adapter names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"telephony": {"twilio", "mock"},
	"stt":       {"deepgram", "mock"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "mock"},
	"tts":       {"elevenlabs", "mock"},
	"sms":       {"twilio", "mock"},
	"chat":      {"discord", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the documented defaults for every zero-valued
// tuning knob. Called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Compliance == "" {
		cfg.Server.Compliance = ComplianceSafe
	}
	if cfg.Session.SilenceTimeoutS == 0 {
		cfg.Session.SilenceTimeoutS = 30
	}
	if cfg.Session.TerminalQuietMs == 0 {
		cfg.Session.TerminalQuietMs = 8000
	}
	if cfg.Digits.SMSFallbackMinRetries == 0 {
		cfg.Digits.SMSFallbackMinRetries = 2
	}
	if cfg.Digits.MinDTMFGapMs == 0 {
		cfg.Digits.MinDTMFGapMs = 200
	}
	if cfg.Digits.CircuitWindowS == 0 {
		cfg.Digits.CircuitWindowS = 60
	}
	if cfg.Digits.CircuitMinSamples == 0 {
		cfg.Digits.CircuitMinSamples = 8
	}
	if cfg.Digits.CircuitErrorRate == 0 {
		cfg.Digits.CircuitErrorRate = 0.30
	}
	if cfg.Digits.CircuitCooldownS == 0 {
		cfg.Digits.CircuitCooldownS = 60
	}
	if cfg.Console.EditDebounceMs == 0 {
		cfg.Console.EditDebounceMs = 700
	}
	if cfg.Console.HighlightLines == 0 {
		cfg.Console.HighlightLines = 4
	}
	if cfg.Notify.ProcessIntervalMs == 0 {
		cfg.Notify.ProcessIntervalMs = 3000
	}
	if cfg.Notify.RetryBaseMs == 0 {
		cfg.Notify.RetryBaseMs = 2000
	}
	if cfg.Notify.RetryMaxMs == 0 {
		cfg.Notify.RetryMaxMs = 60000
	}
	if cfg.Notify.RetryMaxAttempts == 0 {
		cfg.Notify.RetryMaxAttempts = 5
	}
	if cfg.Notify.TranscriptWaitMaxS == 0 {
		cfg.Notify.TranscriptWaitMaxS = 600
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Compliance != "" && !cfg.Server.Compliance.IsValid() {
		errs = append(errs, fmt.Errorf("server.compliance %q is invalid; valid values: safe, audit", cfg.Server.Compliance))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown adapter names.
	validateProviderName("telephony", cfg.Providers.Telephony.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("sms", cfg.Providers.SMS.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)

	// The voice pipeline cannot run with any stage missing.
	for _, stage := range []struct {
		kind string
		name string
	}{
		{"telephony", cfg.Providers.Telephony.Name},
		{"stt", cfg.Providers.STT.Name},
		{"llm", cfg.Providers.LLM.Name},
		{"tts", cfg.Providers.TTS.Name},
	} {
		if stage.name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", stage.kind))
		}
	}
	if cfg.Providers.SMS.Name == "" {
		slog.Warn("no SMS provider configured; digit-collection SMS fallback is disabled")
	}
	if cfg.Providers.Chat.Name == "" {
		slog.Warn("no chat provider configured; the operator console is disabled")
	}

	if cfg.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url is required for provider callbacks"))
	}

	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; calls and transcripts will not be persisted")
	}

	// Tuning bounds
	if cfg.Digits.CircuitErrorRate < 0 || cfg.Digits.CircuitErrorRate > 1 {
		errs = append(errs, fmt.Errorf("digits.circuit_error_rate %.2f is out of range [0, 1]", cfg.Digits.CircuitErrorRate))
	}
	if cfg.Digits.SMSFallbackMinRetries < 0 {
		errs = append(errs, fmt.Errorf("digits.sms_fallback_min_retries %d must be non-negative", cfg.Digits.SMSFallbackMinRetries))
	}
	if cfg.Session.SilenceTimeoutS < 5 {
		errs = append(errs, fmt.Errorf("session.silence_timeout_s %d is below the 5s minimum", cfg.Session.SilenceTimeoutS))
	}
	if cfg.Console.HighlightLines < 1 || cfg.Console.HighlightLines > 10 {
		errs = append(errs, fmt.Errorf("console.highlight_lines %d is out of range [1, 10]", cfg.Console.HighlightLines))
	}
	if cfg.Notify.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("notify.retry_max_attempts %d must be at least 1", cfg.Notify.RetryMaxAttempts))
	}
	if cfg.Notify.RetryBaseMs > cfg.Notify.RetryMaxMs {
		errs = append(errs, fmt.Errorf("notify.retry_base_ms %d exceeds notify.retry_max_ms %d", cfg.Notify.RetryBaseMs, cfg.Notify.RetryMaxMs))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party adapter",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
