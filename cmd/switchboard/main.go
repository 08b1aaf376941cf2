// Command switchboard is the main entry point for the Switchboard call
// orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/calloway-ai/switchboard/internal/app"
	"github.com/calloway-ai/switchboard/internal/chat"
	chatdiscord "github.com/calloway-ai/switchboard/internal/chat/discord"
	chatmock "github.com/calloway-ai/switchboard/internal/chat/mock"
	"github.com/calloway-ai/switchboard/internal/config"
	"github.com/calloway-ai/switchboard/internal/observe"
	"github.com/calloway-ai/switchboard/pkg/provider/llm"
	"github.com/calloway-ai/switchboard/pkg/provider/llm/anyllm"
	llmmock "github.com/calloway-ai/switchboard/pkg/provider/llm/mock"
	llmopenai "github.com/calloway-ai/switchboard/pkg/provider/llm/openai"
	"github.com/calloway-ai/switchboard/pkg/provider/sms"
	smsmock "github.com/calloway-ai/switchboard/pkg/provider/sms/mock"
	smstwilio "github.com/calloway-ai/switchboard/pkg/provider/sms/twilio"
	"github.com/calloway-ai/switchboard/pkg/provider/stt"
	"github.com/calloway-ai/switchboard/pkg/provider/stt/deepgram"
	sttmock "github.com/calloway-ai/switchboard/pkg/provider/stt/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
	telmock "github.com/calloway-ai/switchboard/pkg/provider/telephony/mock"
	teltwilio "github.com/calloway-ai/switchboard/pkg/provider/telephony/twilio"
	"github.com/calloway-ai/switchboard/pkg/provider/tts"
	"github.com/calloway-ai/switchboard/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/calloway-ai/switchboard/pkg/provider/tts/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "switchboard: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(logLevel))

	slog.Info("switchboard starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OTel providers: Prometheus metrics bridge plus tracing.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "switchboard",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevelVar(logLevel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Config file edits are picked up live for tunables; provider and
	// database changes still need a restart.
	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in adapter factories into reg.
// Each factory receives a config.ProviderEntry and constructs the adapter
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// Telephony.
	reg.RegisterTelephony("twilio", func(entry config.ProviderEntry) (telephony.Provider, error) {
		var opts []teltwilio.Option
		if entry.From != "" {
			opts = append(opts, teltwilio.WithDefaultFrom(entry.From))
		}
		if entry.BaseURL != "" {
			opts = append(opts, teltwilio.WithBaseURL(entry.BaseURL))
		}
		return teltwilio.New(entry.APIKey, entry.APISecret, opts...)
	})
	reg.RegisterTelephony("mock", func(config.ProviderEntry) (telephony.Provider, error) {
		return &telmock.Provider{}, nil
	})

	// STT.
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// LLM. The "openai" adapter uses the native SDK; the rest of the family
	// shares the any-llm pattern: optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "This is a test reply."},
		}, nil
	})

	// TTS.
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// SMS.
	reg.RegisterSMS("twilio", func(entry config.ProviderEntry) (sms.Provider, error) {
		var opts []smstwilio.Option
		if entry.From != "" {
			opts = append(opts, smstwilio.WithDefaultFrom(entry.From))
		}
		if entry.BaseURL != "" {
			opts = append(opts, smstwilio.WithBaseURL(entry.BaseURL))
		}
		return smstwilio.New(entry.APIKey, entry.APISecret, opts...)
	})
	reg.RegisterSMS("mock", func(config.ProviderEntry) (sms.Provider, error) {
		return &smsmock.Provider{}, nil
	})

	// Chat.
	reg.RegisterChat("discord", func(entry config.ProviderEntry) (chat.Adapter, error) {
		return chatdiscord.New(chatdiscord.Config{
			Token:   entry.APIKey,
			GuildID: optString(entry.Options, "guild_id"),
		})
	})
	reg.RegisterChat("mock", func(config.ProviderEntry) (chat.Adapter, error) {
		return &chatmock.Adapter{}, nil
	})
}

// buildProviders instantiates all adapters named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Telephony.Name; name != "" {
		p, err := reg.CreateTelephony(cfg.Providers.Telephony)
		if err != nil {
			return nil, fmt.Errorf("create telephony provider %q: %w", name, err)
		}
		ps.Telephony = p
		slog.Info("provider created", "kind", "telephony", "name", name)
	}
	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}
	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}
	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}
	if name := cfg.Providers.SMS.Name; name != "" {
		p, err := reg.CreateSMS(cfg.Providers.SMS)
		if err != nil {
			return nil, fmt.Errorf("create sms provider %q: %w", name, err)
		}
		ps.SMS = p
		slog.Info("provider created", "kind", "sms", "name", name)
	}
	if name := cfg.Providers.Chat.Name; name != "" {
		p, err := reg.CreateChat(cfg.Providers.Chat)
		if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", name, err)
		}
		ps.Chat = p
		slog.Info("provider created", "kind", "chat", "name", name)
	}

	return ps, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Switchboard — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Telephony", cfg.Providers.Telephony.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("SMS", cfg.Providers.SMS.Name, "")
	printProvider("Chat", cfg.Providers.Chat.Name, "")
	if cfg.Database.PostgresDSN != "" {
		fmt.Printf("║  Database        : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Database        : %-19s ║\n", "(not configured)")
	}
	fmt.Printf("║  Compliance      : %-19s ║\n", cfg.Server.Compliance)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
