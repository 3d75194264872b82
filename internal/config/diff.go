package config

// Diff describes what changed between two configs. Only changes that are
// safe to apply to a running process are tracked; provider credentials,
// storage DSNs and listen addresses need a restart and are ignored here.
type Diff struct {
	// LogLevelChanged is true when server.log_level changed. Applies
	// immediately to the process logger.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when call.voice changed. Calls already in
	// progress keep their voice; the next call picks up the new one.
	VoiceChanged bool
	NewVoice     VoiceConfig

	// CallTuningChanged is true when per-call tunables changed (duration
	// cap, goodbye silence, endpointing, language, temperature). Like the
	// voice, these take effect on the next call.
	CallTuningChanged bool

	// SchedulerToggled is true when scheduler.enabled flipped.
	SchedulerToggled bool
	SchedulerEnabled bool
}

// Empty reports whether the diff carries no applicable change.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.CallTuningChanged && !d.SchedulerToggled
}

// Compare returns the hot-applicable differences between old and next.
func Compare(old, next *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != next.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = next.Server.LogLevel
	}

	if old.Call.Voice != next.Call.Voice {
		d.VoiceChanged = true
		d.NewVoice = next.Call.Voice
	}

	if old.Call.MaxDurationMinutes != next.Call.MaxDurationMinutes ||
		old.Call.GoodbyeSilenceSeconds != next.Call.GoodbyeSilenceSeconds ||
		old.Call.STTEndpointingMs != next.Call.STTEndpointingMs ||
		old.Call.STTUtteranceEndMs != next.Call.STTUtteranceEndMs ||
		old.Call.Language != next.Call.Language ||
		old.Call.Temperature != next.Call.Temperature {
		d.CallTuningChanged = true
	}

	if old.Scheduler.SchedulerEnabled() != next.Scheduler.SchedulerEnabled() {
		d.SchedulerToggled = true
		d.SchedulerEnabled = next.Scheduler.SchedulerEnabled()
	}

	return d
}
