package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DrillsFileChanged is set when the seed file path changed. The file's
	// contents are not compared.
	DrillsFileChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Storage.DrillsFile != new.Storage.DrillsFile {
		d.DrillsFileChanged = true
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.max_body_bytes", old.Server.MaxBodyBytes != new.Server.MaxBodyBytes)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("live.provider", old.Live.Provider != new.Live.Provider)
	restart("live.fallbacks", !slices.Equal(old.Live.Fallbacks, new.Live.Fallbacks))
	restart("live.voice", old.Live.Voice != new.Live.Voice)
	restart("live.sample_rate", old.Live.SampleRate != new.Live.SampleRate)
	restart("live.dialogue_timeout", old.Live.DialogueTimeout != new.Live.DialogueTimeout)
	restart("live.transcription_timeout", old.Live.TranscriptionTimeout != new.Live.TranscriptionTimeout)
	restart("live.max_audio_chunks", old.Live.MaxAudioChunks != new.Live.MaxAudioChunks)
	restart("live.max_history_turns", old.Live.MaxHistoryTurns != new.Live.MaxHistoryTurns)
	restart("live.breaker", old.Live.Breaker != new.Live.Breaker)
	restart("storage.postgres_dsn", old.Storage.PostgresDSN != new.Storage.PostgresDSN)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
