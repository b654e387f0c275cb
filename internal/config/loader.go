package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"classifier": {"phonetic", "none"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Editor
	if cfg.Editor.BufferSeconds < 0 || cfg.Editor.BufferSeconds > 5 {
		errs = append(errs, fmt.Errorf("editor.buffer_seconds %.3f is out of range [0, 5]", cfg.Editor.BufferSeconds))
	}
	if cfg.Editor.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("editor.history_limit %d must not be negative", cfg.Editor.HistoryLimit))
	}
	if cfg.Editor.AutosaveInterval < 0 {
		errs = append(errs, fmt.Errorf("editor.autosave_interval %s must not be negative", cfg.Editor.AutosaveInterval))
	}

	// Takes
	validateProviderName("classifier", cfg.Takes.Classifier)
	if cfg.Takes.Threshold <= 0 || cfg.Takes.Threshold > 1 {
		errs = append(errs, fmt.Errorf("takes.threshold %.2f is out of range (0, 1]", cfg.Takes.Threshold))
	}
	if cfg.Takes.MinWords < 1 {
		errs = append(errs, fmt.Errorf("takes.min_words %d must be at least 1", cfg.Takes.MinWords))
	}
	if cfg.Takes.MaxWords < cfg.Takes.MinWords {
		errs = append(errs, fmt.Errorf("takes.max_words %d is smaller than takes.min_words %d", cfg.Takes.MaxWords, cfg.Takes.MinWords))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; projects are kept in memory only")
	}

	// Collab
	if cfg.Collab.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("collab.rate_limit %.2f must not be negative", cfg.Collab.RateLimit))
	}
	if cfg.Collab.Burst < 1 {
		errs = append(errs, fmt.Errorf("collab.burst %d must be at least 1", cfg.Collab.Burst))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; correction suggestions are disabled")
	}

	// Correct
	if cfg.Correct.MinConfidence < 0 || cfg.Correct.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("correct.min_confidence %.2f is out of range [0, 1]", cfg.Correct.MinConfidence))
	}
	if cfg.Correct.MaxWords < 1 {
		errs = append(errs, fmt.Errorf("correct.max_words %d must be at least 1", cfg.Correct.MaxWords))
	}

	// Export
	if cfg.Export.FPS <= 0 || cfg.Export.FPS > 120 {
		errs = append(errs, fmt.Errorf("export.fps %.3f is out of range (0, 120]", cfg.Export.FPS))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
