package config_test

import (
	"testing"

	"github.com/calloway-ai/switchboard/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Session.Greeting = "Hello"
	cfg.Session.Personality = "Concise"
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
}

func TestDiff_Session(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Session.Greeting = "Hi there"

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("greeting change not detected")
	}
	if d.DigitsChanged || d.NotifyChanged {
		t.Errorf("unrelated sections flagged: %+v", d)
	}
}

func TestDiff_SessionVocabulary(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	old.Session.Vocabulary = []string{"Acme", "Lakeshore"}
	new.Session.Vocabulary = []string{"Acme", "Lakeshore", "Brightway"}

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("vocabulary change not detected")
	}
}

func TestDiff_DigitsAndNotify(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Digits.CircuitErrorRate = 0.5
	new.Notify.RetryMaxAttempts = 7

	d := config.Diff(old, new)
	if !d.DigitsChanged {
		t.Error("digits tuning change not detected")
	}
	if !d.NotifyChanged {
		t.Error("notify tuning change not detected")
	}
}

func TestDiff_ConsoleRedactDefault(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()

	// nil and explicit true are the same effective value.
	yes := true
	new.Console.RedactPreview = &yes
	if d := config.Diff(old, new); d.ConsoleChanged {
		t.Error("explicit true treated as a change from the default")
	}

	no := false
	new.Console.RedactPreview = &no
	if d := config.Diff(old, new); !d.ConsoleChanged {
		t.Error("redact_preview disable not detected")
	}
}
