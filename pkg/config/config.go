// Package config loads and validates the knobs that govern one run of the
// core: iteration budgets, compaction thresholds, mailbox capacity, and
// parse-retry limits. Configuration arrives as YAML, is decoded leniently
// via mapstructure, then defaulted and validated before use.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for a run.
type Config struct {
	MaxIterations int                 `yaml:"max_iterations"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Mailbox       MailboxConfig       `yaml:"mailbox"`
	Parse         ParseConfig         `yaml:"parse"`
	Tool          ToolConfig          `yaml:"tool"`
	Shutdown      ShutdownConfig      `yaml:"shutdown"`
}

// CompactionConfig controls the context-compaction engine.
type CompactionConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Threshold            float64       `yaml:"threshold"`
	ProtectRecent        int           `yaml:"protect_recent"`
	ReservedOutputTokens int           `yaml:"reserved_output_tokens"`
	ContextLimit         int           `yaml:"context_limit"`
	CounterStrategy      string        `yaml:"counter_strategy"`
	CounterModel         string        `yaml:"counter_model"`
	MaxRetries           int           `yaml:"max_retries"`
	SummaryTargetWords   int           `yaml:"summary_target_words"`
	Backoff              []time.Duration `yaml:"backoff"`
}

// MailboxConfig controls the inter-agent message bus.
type MailboxConfig struct {
	Capacity       int           `yaml:"capacity"`
	DeliverTimeout time.Duration `yaml:"deliver_timeout"`
}

// ParseConfig controls the output parser's retry policy.
type ParseConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// ToolConfig holds tool invocation defaults. DefaultTimeout is decoded and
// defaulted here; the agent loop does not apply it to tool calls.
type ToolConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ShutdownConfig holds the grace period for winding down outstanding
// subagents. Grace is decoded and defaulted here; Orchestrator.Shutdown
// does not read it and cancels running tasks without waiting.
type ShutdownConfig struct {
	Grace time.Duration `yaml:"grace"`
}

// unsetMaxIterations is the sentinel SetDefaults looks for to tell "never
// configured" apart from an explicit max_iterations: 0, which is itself a
// valid, if extreme, budget (the agent is given no turns at all and
// immediately synthesizes a Finish). Go's int zero value can't serve as
// that sentinel since it is also the legitimate explicit value.
const unsetMaxIterations = -1

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{MaxIterations: unsetMaxIterations}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in any unset field with its documented default. Safe to
// call on a partially-populated Config (e.g. after decoding a YAML document
// that only overrides a few fields). MaxIterations is defaulted only when
// it is still the unsetMaxIterations sentinel, so that an explicit 0
// survives untouched; every other field keeps the zero-value-means-unset
// convention, so an explicit zero there (for example
// compaction.protect_recent: 0 or compaction.max_retries: 0) is replaced by
// the default.
func (c *Config) SetDefaults() {
	if c.MaxIterations < 0 {
		c.MaxIterations = 15
	}

	if c.Compaction.Threshold <= 0 {
		c.Compaction.Threshold = 0.8
	}
	if c.Compaction.ProtectRecent <= 0 {
		c.Compaction.ProtectRecent = 4
	}
	if c.Compaction.ReservedOutputTokens <= 0 {
		c.Compaction.ReservedOutputTokens = 1024
	}
	if c.Compaction.ContextLimit <= 0 {
		c.Compaction.ContextLimit = 128_000
	}
	if c.Compaction.CounterStrategy == "" {
		c.Compaction.CounterStrategy = "auto"
	}
	if c.Compaction.MaxRetries <= 0 {
		c.Compaction.MaxRetries = 2
	}
	if c.Compaction.SummaryTargetWords <= 0 {
		c.Compaction.SummaryTargetWords = 200
	}
	if len(c.Compaction.Backoff) == 0 {
		c.Compaction.Backoff = []time.Duration{time.Second, 2 * time.Second}
	}
	// Compaction.Enabled intentionally defaults to its zero value (false)
	// only when the field was never set by the caller; LoadYAML callers
	// that want it on must say so explicitly, since decoding a document
	// with no "compaction" block at all should not silently turn it on.

	if c.Mailbox.Capacity <= 0 {
		c.Mailbox.Capacity = 64
	}
	if c.Mailbox.DeliverTimeout <= 0 {
		c.Mailbox.DeliverTimeout = 5 * time.Second
	}

	if c.Parse.MaxRetries <= 0 {
		c.Parse.MaxRetries = 3
	}

	if c.Tool.DefaultTimeout <= 0 {
		c.Tool.DefaultTimeout = 30 * time.Second
	}

	if c.Shutdown.Grace <= 0 {
		c.Shutdown.Grace = 10 * time.Second
	}
}

// Validate checks invariants SetDefaults cannot guarantee on its own
// (values explicitly set to something out of range).
func (c *Config) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must not be negative")
	}
	if c.Compaction.Threshold <= 0 || c.Compaction.Threshold > 1 {
		return fmt.Errorf("config: compaction.threshold must be in (0, 1]")
	}
	if c.Compaction.ProtectRecent < 0 {
		return fmt.Errorf("config: compaction.protect_recent must not be negative")
	}
	switch c.Compaction.CounterStrategy {
	case "simple", "precise", "auto":
	default:
		return fmt.Errorf("config: compaction.counter_strategy must be simple, precise, or auto, got %q", c.Compaction.CounterStrategy)
	}
	if c.Mailbox.Capacity <= 0 {
		return fmt.Errorf("config: mailbox.capacity must be positive")
	}
	if c.Parse.MaxRetries <= 0 {
		return fmt.Errorf("config: parse.max_retries must be positive")
	}
	return nil
}

// LoadYAML parses data as YAML into a map, decodes it into a Config via
// mapstructure (so unknown keys are ignored rather than rejected, and
// "yaml"-tagged fields drive the mapping, not Go field names), then applies
// defaults and validates the result.
func LoadYAML(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}

	// Seeded with the unset sentinel so that, if the document never mentions
	// max_iterations, the decoder (which only writes keys actually present
	// in raw) leaves it alone and SetDefaults fills in 15; an explicit
	// "max_iterations: 0" in raw overwrites the sentinel and is honored as-is.
	cfg := &Config{MaxIterations: unsetMaxIterations}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
