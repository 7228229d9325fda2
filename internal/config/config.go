// Package config provides the configuration schema, loader and validation
// for the event runtime orchestrator, following the teacher's
// internal/config package: a YAML schema decoded with KnownFields(true)
// and validated by a function that joins every failure with errors.Join.
package config

import "time"

// Config is the root configuration structure for the event runtime
// orchestrator. Typically loaded from a YAML file with Load.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Models  ModelsConfig  `yaml:"models"`
	PushBus PushBusConfig `yaml:"push_bus"`
	Pollers PollersConfig `yaml:"pollers"`

	// Features holds the feature flags named in spec.md §6's CLI/Environment
	// section (e.g. "transcript_only").
	Features FeaturesConfig `yaml:"features"`
}

// ServerConfig holds network and logging settings for the worker process.
type ServerConfig struct {
	// ListenAddr is the TCP address the control-plane HTTP API listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn",
	// "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated slog verbosity name.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// StoreConfig configures the durable Postgres store.
type StoreConfig struct {
	// PostgresDSN is the connection string for internal/store/postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxConns bounds the pgxpool connection pool. Defaults to the pgxpool
	// built-in default (4 * NumCPU) if zero.
	MaxConns int32 `yaml:"max_conns"`
}

// ModelsConfig names a provider entry for each of the three per-event-type
// model sessions plus the shared embedding model, per spec.md §6's
// "model names per agent type, embedding model".
type ModelsConfig struct {
	Transcript ModelEntry `yaml:"transcript"`
	Cards      ModelEntry `yaml:"cards"`
	Facts      ModelEntry `yaml:"facts"`
	Embeddings ModelEntry `yaml:"embeddings"`
}

// ModelEntry is the common configuration block for one model endpoint,
// following the teacher's ProviderEntry shape. Per spec.md's Non-goal
// "no training, fine-tuning, or prompt authoring — prompts are supplied as
// opaque policy strings keyed by agent type and version", Instructions is
// data, not code: this package never authors or edits prompt text.
type ModelEntry struct {
	// Name identifies the concrete model (e.g. "gpt-4o-realtime-preview").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. It is read from the YAML
	// file only; no environment variable overrides it.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Empty uses the
	// provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Instructions is the opaque policy prompt sent in the session
	// configuration payload.
	Instructions string `yaml:"instructions"`

	// InstructionsVersion labels the Instructions text for operational
	// traceability (e.g. in logs), per spec.md's "keyed by agent type and
	// version."
	InstructionsVersion string `yaml:"instructions_version"`
}

// PushBusConfig configures the SSE push bus named in spec.md §6.
type PushBusConfig struct {
	// SubscriberBufferSize is validated as non-negative but not otherwise
	// read; SSE subscribers always get a 64-message buffer.
	SubscriberBufferSize int `yaml:"subscriber_buffer_size"`
}

// PollersConfig configures the tick interval of each of the five pollers
// (spec §4.12), expressed in whole seconds in YAML and converted to
// time.Duration by Durations.
type PollersConfig struct {
	BlueprintIntervalSeconds    int `yaml:"blueprint_interval_seconds"`
	ContextIntervalSeconds      int `yaml:"context_interval_seconds"`
	RegenerationIntervalSeconds int `yaml:"regeneration_interval_seconds"`
	PauseResumeIntervalSeconds  int `yaml:"pause_resume_interval_seconds"`
	StartupIntervalSeconds      int `yaml:"startup_interval_seconds"`
	StatusUpdateIntervalSeconds int `yaml:"status_update_interval_seconds"`
}

// Durations converts the second-granularity YAML fields into a
// poller.Intervals-shaped set of time.Duration values, falling back to
// poller.DefaultIntervals for any field left at zero.
func (p PollersConfig) Durations(defaults PollerDurations) PollerDurations {
	out := defaults
	if p.BlueprintIntervalSeconds > 0 {
		out.Blueprint = time.Duration(p.BlueprintIntervalSeconds) * time.Second
	}
	if p.ContextIntervalSeconds > 0 {
		out.Context = time.Duration(p.ContextIntervalSeconds) * time.Second
	}
	if p.RegenerationIntervalSeconds > 0 {
		out.Regeneration = time.Duration(p.RegenerationIntervalSeconds) * time.Second
	}
	if p.PauseResumeIntervalSeconds > 0 {
		out.PauseResume = time.Duration(p.PauseResumeIntervalSeconds) * time.Second
	}
	if p.StartupIntervalSeconds > 0 {
		out.Startup = time.Duration(p.StartupIntervalSeconds) * time.Second
	}
	if p.StatusUpdateIntervalSeconds > 0 {
		out.StatusUpdate = time.Duration(p.StatusUpdateIntervalSeconds) * time.Second
	}
	return out
}

// PollerDurations mirrors poller.Intervals plus the status updater's own
// sweep interval; duplicated here (rather than importing internal/poller)
// to keep internal/config free of a dependency on the runtime packages it
// configures.
type PollerDurations struct {
	Blueprint    time.Duration
	Context      time.Duration
	Regeneration time.Duration
	PauseResume  time.Duration
	Startup      time.Duration
	StatusUpdate time.Duration
}

// FeaturesConfig holds operational feature flags.
type FeaturesConfig struct {
	// TranscriptOnly is the flag name from spec.md §6. It is decoded here
	// but no other package reads it, so setting it does not disable the
	// cards or facts model sessions.
	TranscriptOnly bool `yaml:"transcript_only"`
}
