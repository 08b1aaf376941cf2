package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// database changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the greeting, personality, or vocabulary
	// changed. Applies to calls started after the reload.
	SessionChanged bool

	// DigitsChanged is true when any digit-collection tuning knob changed.
	DigitsChanged bool

	// ConsoleChanged is true when any console tuning knob changed.
	ConsoleChanged bool

	// NotifyChanged is true when any notification tuning knob changed.
	NotifyChanged bool
}

// Any reports whether the diff carries at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SessionChanged || d.DigitsChanged ||
		d.ConsoleChanged || d.NotifyChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Greeting != new.Session.Greeting ||
		old.Session.Personality != new.Session.Personality ||
		!slices.Equal(old.Session.Vocabulary, new.Session.Vocabulary) {
		d.SessionChanged = true
	}

	if old.Digits != new.Digits {
		d.DigitsChanged = true
	}

	if old.Console.EditDebounceMs != new.Console.EditDebounceMs ||
		old.Console.HighlightLines != new.Console.HighlightLines ||
		old.Console.Redact() != new.Console.Redact() {
		d.ConsoleChanged = true
	}

	if old.Notify != new.Notify {
		d.NotifyChanged = true
	}

	return d
}
