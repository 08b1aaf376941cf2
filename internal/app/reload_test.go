package app

import (
	"context"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/calloway-ai/switchboard/internal/config"
	"github.com/calloway-ai/switchboard/internal/observe"
	storemock "github.com/calloway-ai/switchboard/internal/store/mock"
)

func newReloadApp(t *testing.T, lv *slog.LevelVar) (*App, *config.Config) {
	t.Helper()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cfg := testConfig()
	a, err := New(context.Background(), cfg, &Providers{},
		WithStore(&storemock.Store{}), WithMetrics(metrics), WithLogLevelVar(lv))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, cfg
}

func TestReload_AppliesTunables(t *testing.T) {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)
	a, old := newReloadApp(t, lv)

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Session.Greeting = "Thanks for calling, one moment."
	updated.Session.Vocabulary = []string{"Brightway"}
	updated.Digits.MinDTMFGapMs = 350

	a.Reload(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	d := a.callDefaults()
	if d.greeting != "Thanks for calling, one moment." {
		t.Errorf("greeting = %q, not updated", d.greeting)
	}
	if len(d.vocabulary) != 1 || d.vocabulary[0] != "Brightway" {
		t.Errorf("vocabulary = %v, not updated", d.vocabulary)
	}
}

func TestReload_NoChangeIsNoop(t *testing.T) {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	a, old := newReloadApp(t, lv)

	before := a.callDefaults()
	a.Reload(old, old)

	if lv.Level() != slog.LevelWarn {
		t.Errorf("log level changed on identical config: %v", lv.Level())
	}
	if got := a.callDefaults(); got.greeting != before.greeting {
		t.Errorf("defaults changed on identical config: %q", got.greeting)
	}
}
