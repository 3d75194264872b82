package config_test

import (
	"strings"
	"testing"

	"github.com/agewell-labs/donna/internal/config"
)

// validBase is the minimal YAML that passes validation. Individual tests
// break one rule at a time on top of it.
const validBase = `
telephony:
  account_sid: ACtest
  auth_token: tok
  from_number: "+15550001111"
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
`

func TestValidate_MinimalValid(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(validBase))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingConversationProvider(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  auth_token: tok
  from_number: "+15550001111"
providers:
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing conversation provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.conversation") {
		t.Errorf("error should mention providers.conversation, got: %v", err)
	}
}

func TestValidate_MissingSTTAndTTS(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  auth_token: tok
  from_number: "+15550001111"
providers:
  conversation:
    name: anthropic
memory:
  postgres_dsn: "postgres://localhost/donna"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing stt/tts providers, got nil")
	}
	if !strings.Contains(err.Error(), "providers.stt") {
		t.Errorf("error should mention providers.stt, got: %v", err)
	}
	if !strings.Contains(err.Error(), "providers.tts") {
		t.Errorf("error should mention providers.tts, got: %v", err)
	}
}

func TestValidate_MissingPostgresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  auth_token: tok
  from_number: "+15550001111"
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing postgres dsn, got nil")
	}
	if !strings.Contains(err.Error(), "memory.postgres_dsn") {
		t.Errorf("error should mention memory.postgres_dsn, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := validBase + `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_DedupBelowSearchThreshold(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  auth_token: tok
  from_number: "+15550001111"
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
  dedup_similarity: 0.5
  search_threshold: 0.8
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for dedup below search threshold, got nil")
	}
	if !strings.Contains(err.Error(), "dedup_similarity") {
		t.Errorf("error should mention dedup_similarity, got: %v", err)
	}
}

func TestValidate_SignatureValidationNeedsAuthToken(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  from_number: "+15550001111"
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing auth_token, got nil")
	}
	if !strings.Contains(err.Error(), "auth_token") {
		t.Errorf("error should mention auth_token, got: %v", err)
	}
}

func TestValidate_SignatureValidationDisabledSkipsAuthToken(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  account_sid: ACtest
  from_number: "+15550001111"
  validate_signature: false
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error with signature validation disabled: %v", err)
	}
}

func TestValidate_SchedulerNeedsOutboundIdentity(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  auth_token: tok
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for scheduler without outbound identity, got nil")
	}
	if !strings.Contains(err.Error(), "account_sid") {
		t.Errorf("error should mention account_sid, got: %v", err)
	}
	if !strings.Contains(err.Error(), "from_number") {
		t.Errorf("error should mention from_number, got: %v", err)
	}
}

func TestValidate_SchedulerDisabledSkipsOutboundIdentity(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  auth_token: tok
providers:
  conversation:
    name: anthropic
  stt:
    name: deepgram
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/donna"
scheduler:
  enabled: false
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error with scheduler disabled: %v", err)
	}
}

func TestValidate_VoiceRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		voice string
		want  string
	}{
		{
			name:  "speed factor too high",
			voice: "speed_factor: 5.0",
			want:  "speed_factor",
		},
		{
			name:  "speed factor too low",
			voice: "speed_factor: 0.1",
			want:  "speed_factor",
		},
		{
			name:  "stability above one",
			voice: "stability: 1.5",
			want:  "stability",
		},
		{
			name:  "similarity boost negative",
			voice: "similarity_boost: -0.2",
			want:  "similarity_boost",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			yaml := validBase + `
call:
  voice:
    ` + tc.voice + `
`
			_, err := config.LoadFromReader(strings.NewReader(yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_ToolServerRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		servers string
		want    string
	}{
		{
			name: "missing name",
			servers: `
    - transport: stdio
      command: /bin/server
`,
			want: "name is required",
		},
		{
			name: "invalid transport",
			servers: `
    - name: bad
      transport: grpc
      command: /bin/server
`,
			want: "transport",
		},
		{
			name: "stdio without command",
			servers: `
    - name: bad
      transport: stdio
`,
			want: "command is required",
		},
		{
			name: "http without url",
			servers: `
    - name: bad
      transport: streamable-http
`,
			want: "url is required",
		},
		{
			name: "duplicate names",
			servers: `
    - name: twin
      transport: stdio
      command: /bin/a
    - name: twin
      transport: stdio
      command: /bin/b
`,
			want: "duplicate",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			yaml := validBase + `
tools:
  servers:` + tc.servers
			_, err := config.LoadFromReader(strings.NewReader(yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	// Missing everything: all required-field errors should surface at once.
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	for _, want := range []string{"providers.conversation", "providers.stt", "providers.tts", "memory.postgres_dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("TWILIO_AUTH_TOKEN", "env-token")
	t.Setenv("DEEPGRAM_API_KEY", "env-dg")

	cfg := &config.Config{}
	cfg.Telephony.AuthToken = "from-yaml"
	config.FillFromEnv(cfg)

	// Explicit YAML values win over the environment.
	if cfg.Telephony.AuthToken != "from-yaml" {
		t.Errorf("auth_token: got %q, want yaml value preserved", cfg.Telephony.AuthToken)
	}
	// Empty fields are filled.
	if cfg.Providers.STT.APIKey != "env-dg" {
		t.Errorf("stt api_key: got %q, want env-dg", cfg.Providers.STT.APIKey)
	}
}
