package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SPEAKDRILL_GEMINI_API_KEY.
const EnvPrefix = "SPEAKDRILL"

// ValidProviderNames lists the known live provider names. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live"}

// Env holds the settings that may be overridden from the environment. Secrets
// and addresses usually come from here rather than the YAML file.
type Env struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Provider    string `envconfig:"LIVE_PROVIDER"`
	APIKey      string `envconfig:"GEMINI_API_KEY"`
	BaseURL     string `envconfig:"LIVE_BASE_URL"`
	Model       string `envconfig:"LIVE_MODEL"`
	Voice       string `envconfig:"LIVE_VOICE"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	DrillsFile  string `envconfig:"DRILLS_FILE"`
}

// Load reads the YAML configuration at path, applies environment overrides
// and defaults, and validates the result. An empty path skips the file and
// builds the config from the environment alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	cfg, err := parse(data, true)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, false)
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env") into
// the process environment. Missing files are ignored; variables already set
// are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

func parse(data []byte, withEnv bool) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if withEnv {
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the SPEAKDRILL_* environment variables onto cfg. Unset
// variables leave the corresponding field untouched.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, env.ListenAddr)
	if env.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(env.LogLevel))
	}
	set(&cfg.Live.Provider.Name, env.Provider)
	set(&cfg.Live.Provider.APIKey, env.APIKey)
	set(&cfg.Live.Provider.BaseURL, env.BaseURL)
	set(&cfg.Live.Provider.Model, env.Model)
	set(&cfg.Live.Voice, env.Voice)
	set(&cfg.Storage.PostgresDSN, env.PostgresDSN)
	set(&cfg.Storage.DrillsFile, env.DrillsFile)
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Live
	live := cfg.Live
	validateProviderName(live.Provider.Name)
	if live.Provider.Name != "" && live.Provider.APIKey == "" {
		errs = append(errs, fmt.Errorf("live.provider.api_key is required (or set %s_GEMINI_API_KEY)", EnvPrefix))
	}
	for i, fb := range live.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("live.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}
	if live.SampleRate != 0 && (live.SampleRate < 8000 || live.SampleRate > 48000) {
		errs = append(errs, fmt.Errorf("live.sample_rate %d is out of range [8000, 48000]", live.SampleRate))
	}
	if live.DialogueTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.dialogue_timeout %s must not be negative", live.DialogueTimeout))
	}
	if live.TranscriptionTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.transcription_timeout %s must not be negative", live.TranscriptionTimeout))
	}
	if live.MaxAudioChunks < 0 {
		errs = append(errs, fmt.Errorf("live.max_audio_chunks %d must not be negative", live.MaxAudioChunks))
	}
	if live.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("live.max_history_turns %d must not be negative", live.MaxHistoryTurns))
	}
	if b := live.Breaker; b.MaxFailures < 0 || b.ResetTimeout < 0 || b.HalfOpenMax < 0 {
		errs = append(errs, errors.New("live.breaker values must not be negative"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.DrillsFile == "" {
		slog.Warn("neither storage.postgres_dsn nor storage.drills_file is set; only inline drills will be accepted")
	}
	if cfg.Storage.Migrate && cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.migrate has no effect without storage.postgres_dsn")
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown live provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
