// Command donna is the main entry point for the Donna voice companion
// server.
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

	// Seniors carry IANA timezones; keep them resolvable in scratch images.
	_ "time/tzdata"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/agewell-labs/donna/internal/app"
	"github.com/agewell-labs/donna/internal/config"
	"github.com/agewell-labs/donna/internal/observe"
	"github.com/agewell-labs/donna/pkg/provider/embeddings"
	ollamaembed "github.com/agewell-labs/donna/pkg/provider/embeddings/ollama"
	oaembed "github.com/agewell-labs/donna/pkg/provider/embeddings/openai"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/provider/llm/anyllm"
	oallm "github.com/agewell-labs/donna/pkg/provider/llm/openai"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/provider/stt/deepgram"
	"github.com/agewell-labs/donna/pkg/provider/stt/whisper"
	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/provider/tts/coqui"
	"github.com/agewell-labs/donna/pkg/provider/tts/elevenlabs"
)

// version is stamped at release builds via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A .env file, when present, feeds the environment before the config
	// loader reads it. Absence is not an error.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "donna: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "donna: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("donna starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must precede app.New: the app builds its instruments from the global
	// meter provider installed here.
	stopObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopObserve(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// anthropic, openai, gemini, deepseek, mistral and groq all share the
	// same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "openai", "gemini", "deepseek", "mistral", "groq",
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

	// openai-native talks to the OpenAI API through the official SDK rather
	// than the any-llm translation layer.
	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, oaembed.WithDimensions(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, ollamaembed.WithDimensions(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildProviders instantiates every provider role named in cfg and returns
// them in an [app.Providers] struct. Roles left empty stay nil; the app
// decides which chains they fall back to.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Conversation, err = createLLM(reg, cfg.Providers.Conversation, "conversation"); err != nil {
		return nil, err
	}
	if ps.Director, err = createLLM(reg, cfg.Providers.Director, "director"); err != nil {
		return nil, err
	}
	if ps.Analysis, err = createLLM(reg, cfg.Providers.Analysis, "analysis"); err != nil {
		return nil, err
	}
	if ps.STT, err = createSTT(reg, cfg.Providers.STT, "stt"); err != nil {
		return nil, err
	}
	if ps.STTFallback, err = createSTT(reg, cfg.Providers.STTFallback, "stt-fallback"); err != nil {
		return nil, err
	}
	if ps.TTS, err = createTTS(reg, cfg.Providers.TTS, "tts"); err != nil {
		return nil, err
	}
	if ps.TTSFallback, err = createTTS(reg, cfg.Providers.TTSFallback, "tts-fallback"); err != nil {
		return nil, err
	}
	if ps.Embeddings, err = createEmbeddings(reg, cfg.Providers.Embeddings); err != nil {
		return nil, err
	}

	return ps, nil
}

func createLLM(reg *config.Registry, entry config.ProviderEntry, role string) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("skipping unknown llm provider", "role", role, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "role", role, "name", entry.Name, "model", entry.Model)
	return p, nil
}

func createSTT(reg *config.Registry, entry config.ProviderEntry, role string) (stt.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateSTT(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("skipping unknown stt provider", "role", role, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "role", role, "name", entry.Name, "model", entry.Model)
	return p, nil
}

func createTTS(reg *config.Registry, entry config.ProviderEntry, role string) (tts.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateTTS(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("skipping unknown tts provider", "role", role, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, entry.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "role", role, "name", entry.Name, "model", entry.Model)
	return p, nil
}

func createEmbeddings(reg *config.Registry, entry config.ProviderEntry) (embeddings.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateEmbeddings(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("skipping unknown embeddings provider", "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Donna startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Conversation", cfg.Providers.Conversation.Name, cfg.Providers.Conversation.Model)
	printProvider("Director", cfg.Providers.Director.Name, cfg.Providers.Director.Model)
	printProvider("Analysis", cfg.Providers.Analysis.Name, cfg.Providers.Analysis.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("STT fallback", cfg.Providers.STTFallback.Name, cfg.Providers.STTFallback.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("TTS fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Scheduler.SchedulerEnabled() {
		fmt.Printf("║  Scheduler       : every %-13s ║\n", cfg.Scheduler.PollInterval())
	} else {
		fmt.Printf("║  Scheduler       : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Tool servers    : %-19d ║\n", len(cfg.Tools.Servers))
	fmt.Printf("║  Public host     : %-19s ║\n", trunc(cfg.Server.PublicHost, 19))
	fmt.Printf("║  Listen addr     : %-19s ║\n", trunc(cfg.Server.ListenAddr, 19))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, trunc(value, 19))
}

func trunc(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// optInt extracts an integer value from a provider Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
