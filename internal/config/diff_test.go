package config_test

import (
	"testing"

	"github.com/agewell-labs/donna/internal/config"
)

// baseConfig returns a config with defaults applied, for diffing against.
func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	old, next := baseConfig(), baseConfig()

	d := config.Compare(old, next)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestCompare_LogLevel(t *testing.T) {
	t.Parallel()
	old, next := baseConfig(), baseConfig()
	next.Server.LogLevel = config.LogDebug

	d := config.Compare(old, next)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.Empty() {
		t.Error("diff with a log level change must not be Empty")
	}
}

func TestCompare_Voice(t *testing.T) {
	t.Parallel()
	old, next := baseConfig(), baseConfig()
	next.Call.Voice.VoiceID = "new-voice"
	next.Call.Voice.SpeedFactor = 0.9

	d := config.Compare(old, next)
	if !d.VoiceChanged {
		t.Fatal("VoiceChanged should be true")
	}
	if d.NewVoice.VoiceID != "new-voice" {
		t.Errorf("NewVoice.VoiceID: got %q", d.NewVoice.VoiceID)
	}
}

func TestCompare_CallTuning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "max duration", mutate: func(c *config.Config) { c.Call.MaxDurationMinutes = 15 }},
		{name: "goodbye silence", mutate: func(c *config.Config) { c.Call.GoodbyeSilenceSeconds = 5 }},
		{name: "endpointing", mutate: func(c *config.Config) { c.Call.STTEndpointingMs = 500 }},
		{name: "utterance end", mutate: func(c *config.Config) { c.Call.STTUtteranceEndMs = 1500 }},
		{name: "language", mutate: func(c *config.Config) { c.Call.Language = "es-MX" }},
		{name: "temperature", mutate: func(c *config.Config) { c.Call.Temperature = 0.4 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, next := baseConfig(), baseConfig()
			tc.mutate(next)

			d := config.Compare(old, next)
			if !d.CallTuningChanged {
				t.Error("CallTuningChanged should be true")
			}
		})
	}
}

func TestCompare_SchedulerToggle(t *testing.T) {
	t.Parallel()
	old, next := baseConfig(), baseConfig()
	off := false
	next.Scheduler.Enabled = &off

	d := config.Compare(old, next)
	if !d.SchedulerToggled {
		t.Fatal("SchedulerToggled should be true")
	}
	if d.SchedulerEnabled {
		t.Error("SchedulerEnabled should report the new (disabled) state")
	}
}

func TestCompare_RestartOnlyChangesIgnored(t *testing.T) {
	t.Parallel()
	old, next := baseConfig(), baseConfig()
	next.Providers.Conversation.APIKey = "rotated"
	next.Memory.PostgresDSN = "postgres://elsewhere/donna"
	next.Server.ListenAddr = ":9090"

	d := config.Compare(old, next)
	if !d.Empty() {
		t.Errorf("restart-only changes must produce an empty diff, got %+v", d)
	}
}
