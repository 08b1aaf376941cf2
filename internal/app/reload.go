package app

import (
	"log/slog"
	"time"

	"github.com/calloway-ai/switchboard/internal/config"
)

// callDefaults are the per-call defaults a config reload may change. They
// apply to calls bound after the reload; live calls keep the values they
// started with.
type callDefaults struct {
	greeting    string
	personality string
	vocabulary  []string
}

func (a *App) callDefaults() callDefaults {
	a.defaultsMu.Lock()
	defer a.defaultsMu.Unlock()
	return a.defaults
}

// Reload applies a config file change to the running app. Only tunables are
// applied: log level, session defaults, digit-collection tuning, console
// rendering, and notification retry policy. Provider and database changes
// require a restart and are ignored here. The signature matches the
// [config.NewWatcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("reload: log level applied", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.defaultsMu.Lock()
		a.defaults = callDefaults{
			greeting:    new.Session.Greeting,
			personality: new.Session.Personality,
			vocabulary:  new.Session.Vocabulary,
		}
		a.defaultsMu.Unlock()
		slog.Info("reload: session defaults applied to future calls")
	}
	if d.DigitsChanged {
		a.engine.SetTuning(new.Digits.SMSFallbackMinRetries, new.Digits.MinDTMFGapMs)
		slog.Info("reload: digit tuning applied",
			"sms_fallback_min_retries", new.Digits.SMSFallbackMinRetries,
			"min_dtmf_gap_ms", new.Digits.MinDTMFGapMs)
	}
	if d.ConsoleChanged {
		a.console.SetTunables(
			time.Duration(new.Console.EditDebounceMs)*time.Millisecond,
			new.Console.HighlightLines,
			new.Console.Redact(),
		)
		slog.Info("reload: console tuning applied")
	}
	if d.NotifyChanged && a.dispatcher != nil {
		a.dispatcher.SetRetryPolicy(
			time.Duration(new.Notify.RetryBaseMs)*time.Millisecond,
			time.Duration(new.Notify.RetryMaxMs)*time.Millisecond,
			new.Notify.RetryMaxAttempts,
			time.Duration(new.Notify.TranscriptWaitMaxS)*time.Second,
		)
		slog.Info("reload: notification retry policy applied")
	}
}
