package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/agewell-labs/donna/internal/tools"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"anthropic", "openai", "gemini", "ollama", "deepseek", "mistral", "groq", "openai-native"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. Empty secret fields are filled from the
// environment (see [FillFromEnv]) before validation, so credentials can stay
// out of the file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	FillFromEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unlike [Load] it never consults the environment,
// which keeps configs built from string literals hermetic in tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses YAML from r, rejecting unknown fields so typos fail loudly
// at startup instead of silently running with defaults.
func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their documented defaults.
// It never overrides a value the operator set explicitly.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Call.MaxDurationMinutes <= 0 {
		cfg.Call.MaxDurationMinutes = 10
	}
	if cfg.Call.GoodbyeSilenceSeconds <= 0 {
		cfg.Call.GoodbyeSilenceSeconds = 3.5
	}
	if cfg.Call.STTEndpointingMs <= 0 {
		cfg.Call.STTEndpointingMs = 300
	}
	if cfg.Call.STTUtteranceEndMs <= 0 {
		cfg.Call.STTUtteranceEndMs = 1000
	}
	if cfg.Call.Language == "" {
		cfg.Call.Language = "en-US"
	}
	if cfg.Memory.EmbeddingDimensions <= 0 {
		cfg.Memory.EmbeddingDimensions = 1536
	}
	if cfg.Memory.DedupSimilarity <= 0 {
		cfg.Memory.DedupSimilarity = 0.90
	}
	if cfg.Memory.SearchThreshold <= 0 {
		cfg.Memory.SearchThreshold = 0.65
	}
	if cfg.Memory.DecayHalfLifeDays <= 0 {
		cfg.Memory.DecayHalfLifeDays = 30
	}
	if cfg.Scheduler.PollIntervalSeconds <= 0 {
		cfg.Scheduler.PollIntervalSeconds = 60
	}
}

// FillFromEnv copies well-known environment variables into config fields the
// operator left empty. Secrets normally travel this way rather than living
// in the YAML file.
func FillFromEnv(cfg *Config) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&cfg.Telephony.AccountSID, "TWILIO_ACCOUNT_SID")
	fill(&cfg.Telephony.AuthToken, "TWILIO_AUTH_TOKEN")
	fill(&cfg.Telephony.FromNumber, "TWILIO_FROM_NUMBER")
	fill(&cfg.Providers.Conversation.APIKey, "ANTHROPIC_API_KEY")
	fill(&cfg.Providers.Director.APIKey, "GEMINI_API_KEY")
	fill(&cfg.Providers.STT.APIKey, "DEEPGRAM_API_KEY")
	fill(&cfg.Providers.TTS.APIKey, "ELEVENLABS_API_KEY")
	fill(&cfg.Providers.Embeddings.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Memory.PostgresDSN, "DATABASE_URL")
}

// Validate checks cfg for contradictions and missing required fields,
// returning every failure found as one joined error.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicHost == "" {
		slog.Warn("server.public_host is empty; the webhook will fall back to the request Host header for the media-stream URL")
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.Conversation.Name)
	validateProviderName("llm", cfg.Providers.Director.Name)
	validateProviderName("llm", cfg.Providers.Analysis.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// A call cannot happen without the conversation stack.
	if cfg.Providers.Conversation.Name == "" {
		errs = append(errs, errors.New("providers.conversation is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name == "" && cfg.Memory.PostgresDSN != "" {
		slog.Warn("memory.postgres_dsn is set but providers.embeddings is not; semantic memory writes and search will be unavailable")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required"))
	}
	if cfg.Memory.DedupSimilarity < cfg.Memory.SearchThreshold {
		errs = append(errs, fmt.Errorf("memory.dedup_similarity %.2f must be ≥ memory.search_threshold %.2f", cfg.Memory.DedupSimilarity, cfg.Memory.SearchThreshold))
	}

	// Telephony
	if cfg.Telephony.SignatureValidationEnabled() && cfg.Telephony.AuthToken == "" {
		errs = append(errs, errors.New("telephony.auth_token is required when signature validation is enabled (set TWILIO_AUTH_TOKEN)"))
	}
	if cfg.Scheduler.SchedulerEnabled() {
		if cfg.Telephony.AccountSID == "" {
			errs = append(errs, errors.New("telephony.account_sid is required for outbound reminder calls (set TWILIO_ACCOUNT_SID)"))
		}
		if cfg.Telephony.FromNumber == "" {
			errs = append(errs, errors.New("telephony.from_number is required for outbound reminder calls"))
		}
	}

	// Voice
	if sf := cfg.Call.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("call.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}
	if st := cfg.Call.Voice.Stability; st < 0 || st > 1 {
		errs = append(errs, fmt.Errorf("call.voice.stability %.2f is out of range [0, 1]", st))
	}
	if sb := cfg.Call.Voice.SimilarityBoost; sb < 0 || sb > 1 {
		errs = append(errs, fmt.Errorf("call.voice.similarity_boost %.2f is out of range [0, 1]", sb))
	}

	// Tool servers
	serverNamesSeen := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind. Unknown names are not an
// error; out-of-tree providers register under their own names.
func validateProviderName(kind, name string) {
	known := ValidProviderNames[kind]
	if name == "" || len(known) == 0 || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider", "kind", kind, "name", name, "known", known)
}
