package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the voice settings are applied live; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if any hot-reloadable voice field changed.
	VoiceChanged bool
	NewVoice     VoiceConfig

	// RestartRequired names the top-level sections whose changes take effect
	// only after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if liveVoice(old.Voice) != liveVoice(new.Voice) {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldVoice, newVoice := frozenVoice(old.Voice), frozenVoice(new.Voice)

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"sessions", old.Sessions, new.Sessions},
		{"conversation", old.Conversation, new.Conversation},
		{"voice", oldVoice, newVoice},
		{"fallback", old.Fallback, new.Fallback},
		{"archive", old.Archive, new.Archive},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// liveVoice keeps the voice fields that are applied without restart.
func liveVoice(v VoiceConfig) VoiceConfig {
	return VoiceConfig{
		VoiceID:          v.VoiceID,
		Stability:        v.Stability,
		SimilarityBoost:  v.SimilarityBoost,
		Speed:            v.Speed,
		AlwaysSynthesize: v.AlwaysSynthesize,
	}
}

// frozenVoice keeps the voice fields that need a restart.
func frozenVoice(v VoiceConfig) VoiceConfig {
	return VoiceConfig{Model: v.Model, InputFormat: v.InputFormat, MaxAudioBytes: v.MaxAudioBytes}
}
