package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// Config. It is a convenience wrapper around LoadFromReader.
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}
	if cfg.Store.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store.max_conns %d must not be negative", cfg.Store.MaxConns))
	}

	if cfg.Models.Transcript.Name == "" {
		errs = append(errs, errors.New("models.transcript.name is required"))
	}
	if !cfg.Features.TranscriptOnly {
		if cfg.Models.Cards.Name == "" {
			errs = append(errs, errors.New("models.cards.name is required unless features.transcript_only is set"))
		}
		if cfg.Models.Facts.Name == "" {
			errs = append(errs, errors.New("models.facts.name is required unless features.transcript_only is set"))
		}
	}
	if cfg.Models.Embeddings.Name == "" {
		slog.Warn("models.embeddings.name is empty; card/fact semantic search will be unavailable")
	}

	if cfg.PushBus.SubscriberBufferSize < 0 {
		errs = append(errs, fmt.Errorf("push_bus.subscriber_buffer_size %d must not be negative", cfg.PushBus.SubscriberBufferSize))
	}

	validateNonNegativeInterval(&errs, "pollers.blueprint_interval_seconds", cfg.Pollers.BlueprintIntervalSeconds)
	validateNonNegativeInterval(&errs, "pollers.context_interval_seconds", cfg.Pollers.ContextIntervalSeconds)
	validateNonNegativeInterval(&errs, "pollers.regeneration_interval_seconds", cfg.Pollers.RegenerationIntervalSeconds)
	validateNonNegativeInterval(&errs, "pollers.pause_resume_interval_seconds", cfg.Pollers.PauseResumeIntervalSeconds)
	validateNonNegativeInterval(&errs, "pollers.startup_interval_seconds", cfg.Pollers.StartupIntervalSeconds)
	validateNonNegativeInterval(&errs, "pollers.status_update_interval_seconds", cfg.Pollers.StatusUpdateIntervalSeconds)

	return errors.Join(errs...)
}

func validateNonNegativeInterval(errs *[]error, field string, seconds int) {
	if seconds < 0 {
		*errs = append(*errs, fmt.Errorf("%s %d must not be negative", field, seconds))
	}
}
