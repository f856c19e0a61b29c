// Package config handles DebateArena preset registry and server
// configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// validSpeakers is the set of legal RoundSpec.Speaker values.
var validSpeakers = map[string]bool{
	"pro": true,
	"con": true,
	"both": true,
}

// PresetRegistry is the top-level presets.yaml structure: an enumerated,
// immutable set of FormatPresets keyed by id.
type PresetRegistry struct {
	// Version is the config schema version. Must be "1".
	Version string `yaml:"version"`
	// Presets maps preset id to its definition.
	Presets map[string]FormatPreset `yaml:"presets"`
}

// FormatPreset is immutable configuration referenced by id (spec §3).
type FormatPreset struct {
	// ID uniquely identifies the preset across the registry.
	ID string `yaml:"id"`
	// Name is a human-readable label.
	Name string `yaml:"name"`
	// PrepTime is how long a contest waits after debate_started before
	// the first round begins.
	PrepTime Duration `yaml:"prep_time_seconds"`
	// VoteWindow is the duration of each round's spectator vote.
	VoteWindow Duration `yaml:"vote_window_seconds"`
	// Rounds is the ordered sequence of RoundSpecs that make up a contest.
	Rounds []RoundSpec `yaml:"rounds"`
	// WinCondition is informational only; it does not affect orchestration.
	WinCondition string `yaml:"win_condition"`
}

// RoundSpec configures a single round of a FormatPreset (spec §3).
type RoundSpec struct {
	// Name is a display label for the round (e.g. "Opening Statements").
	Name string `yaml:"name"`
	// Speaker is one of "pro", "con", or "both".
	Speaker string `yaml:"speaker"`
	// Exchanges is the number of times the round's speaker(s) take a turn.
	// Defaults to 1 if unset or zero.
	Exchanges int `yaml:"exchanges"`
	// TurnTimeLimit bounds how long a single agent turn may take.
	TurnTimeLimit Duration `yaml:"turn_time_limit_seconds"`
	// WordLimit bounds the word count of a turn's content.
	WordLimit WordLimit `yaml:"word_limit"`
	// CharLimit bounds the character count of a turn's content.
	CharLimit CharLimit `yaml:"char_limit"`
}

// WordLimit bounds a turn's word count.
type WordLimit struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// CharLimit bounds a turn's character count.
type CharLimit struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ExchangeCount returns the round's configured exchange count, applying
// the default of 1 when unset.
func (r RoundSpec) ExchangeCount() int {
	if r.Exchanges <= 0 {
		return 1
	}
	return r.Exchanges
}

// TurnsPerRound returns the number of Turn records a single round
// produces: exchanges for a single-speaker round, 2x exchanges for
// "both" (spec §3, Turn invariants).
func (r RoundSpec) TurnsPerRound() int {
	n := r.ExchangeCount()
	if r.Speaker == "both" {
		return n * 2
	}
	return n
}

// Duration wraps time.Duration with YAML string or bare-seconds
// unmarshaling support.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration given either as a string ("30s", "5m")
// or a bare integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if dur, err := time.ParseDuration(value.Value); err == nil {
		d.Duration = dur
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

// LoadPresets reads a presets.yaml file, performs environment variable
// substitution, parses the YAML, and validates the result.
func LoadPresets(path string) (*PresetRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := Substitute(string(data))

	var reg PresetRegistry
	if err := yaml.Unmarshal([]byte(substituted), &reg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}

	return &reg, nil
}

// Validate checks that the preset registry is well-formed.
func (r *PresetRegistry) Validate() error {
	if r.Version != "1" {
		return fmt.Errorf("config: unsupported version %q (expected \"1\")", r.Version)
	}
	if len(r.Presets) == 0 {
		return fmt.Errorf("config: at least one preset is required")
	}
	for id, preset := range r.Presets {
		if len(preset.Rounds) == 0 {
			return fmt.Errorf("config: preset %q: at least one round is required", id)
		}
		for i, rs := range preset.Rounds {
			if !validSpeakers[rs.Speaker] {
				return fmt.Errorf("config: preset %q: round %d: invalid speaker %q (valid: pro, con, both)", id, i, rs.Speaker)
			}
			if rs.TurnTimeLimit.Duration <= 0 {
				return fmt.Errorf("config: preset %q: round %d: turn_time_limit_seconds is required", id, i)
			}
		}
	}
	return nil
}

// Get returns the preset with the given id, or false if it is not
// registered.
func (r *PresetRegistry) Get(id string) (FormatPreset, bool) {
	p, ok := r.Presets[id]
	return p, ok
}

// ServerConfig holds process-level configuration for one replica
// (spec §6, "Configuration" / "Environment").
type ServerConfig struct {
	// DatabaseURL is the DSN for the persistence gateway (C1).
	DatabaseURL string
	// BusURL is the event bus connection string. Empty means
	// single-replica mode (spec §4.2).
	BusURL string
	// ReplicaID uniquely identifies this process among its fleet.
	// Auto-generated via internal/id if absent.
	ReplicaID string
	// BotRequestTimeoutCeiling is read from
	// DEBATEARENA_BOT_TIMEOUT_CEILING_SECONDS (default 120s). No other
	// package reads it: preset turn time limits are not capped by it.
	BotRequestTimeoutCeiling time.Duration
	// RatingKFactor is read from DEBATEARENA_RATING_K_FACTOR (default
	// 32). No other package reads it: the rating engine always uses the
	// fixed rating.KFactor.
	RatingKFactor int
	// ListenAddr is the address the agent router's websocket listens on.
	ListenAddr string
	// SpectatorListenAddr is the address the spectator broadcast layer
	// websocket listens on.
	SpectatorListenAddr string
	// HTTPAddr is the address the /healthz endpoint listens on.
	HTTPAddr string
}

const (
	defaultBotTimeoutCeiling = 120 * time.Second
	defaultKFactor           = 32
)

// ServerConfigFromEnv builds a ServerConfig from well-known environment
// variables, applying spec-mandated defaults for anything unset.
func ServerConfigFromEnv(getenv func(string) string, newReplicaID func() string) (ServerConfig, error) {
	cfg := ServerConfig{
		DatabaseURL:              getenv("DEBATEARENA_DATABASE_URL"),
		BusURL:                   getenv("DEBATEARENA_BUS_URL"),
		ReplicaID:                getenv("DEBATEARENA_REPLICA_ID"),
		BotRequestTimeoutCeiling: defaultBotTimeoutCeiling,
		RatingKFactor:            defaultKFactor,
		ListenAddr:               orDefault(getenv("DEBATEARENA_AGENT_LISTEN_ADDR"), ":8081"),
		SpectatorListenAddr:      orDefault(getenv("DEBATEARENA_SPECTATOR_LISTEN_ADDR"), ":8082"),
		HTTPAddr:                 orDefault(getenv("DEBATEARENA_HTTP_ADDR"), ":8080"),
	}

	if cfg.DatabaseURL == "" {
		return ServerConfig{}, fmt.Errorf("config: DEBATEARENA_DATABASE_URL is required")
	}
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = newReplicaID()
	}
	if v := getenv("DEBATEARENA_BOT_TIMEOUT_CEILING_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err != nil {
			return ServerConfig{}, fmt.Errorf("config: invalid DEBATEARENA_BOT_TIMEOUT_CEILING_SECONDS %q: %w", v, err)
		}
		cfg.BotRequestTimeoutCeiling = time.Duration(secs) * time.Second
	}
	if v := getenv("DEBATEARENA_RATING_K_FACTOR"); v != "" {
		var k int
		if _, err := fmt.Sscanf(v, "%d", &k); err != nil {
			return ServerConfig{}, fmt.Errorf("config: invalid DEBATEARENA_RATING_K_FACTOR %q: %w", v, err)
		}
		cfg.RatingKFactor = k
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
