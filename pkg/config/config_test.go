package config

import (
	"testing"
	"time"
)

func TestDefault_PassesValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want 15", cfg.MaxIterations)
	}
	if cfg.Parse.MaxRetries != 3 {
		t.Errorf("Parse.MaxRetries = %d, want 3", cfg.Parse.MaxRetries)
	}
}

func TestLoadYAML_OverridesAndDefaults(t *testing.T) {
	data := []byte(`
max_iterations: 25
compaction:
  enabled: true
  threshold: 0.5
mailbox:
  capacity: 128
  deliver_timeout: 2s
`)

	cfg, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}
	if cfg.MaxIterations != 25 {
		t.Errorf("MaxIterations = %d, want 25", cfg.MaxIterations)
	}
	if !cfg.Compaction.Enabled {
		t.Error("Compaction.Enabled = false, want true")
	}
	if cfg.Compaction.Threshold != 0.5 {
		t.Errorf("Compaction.Threshold = %v, want 0.5", cfg.Compaction.Threshold)
	}
	if cfg.Compaction.ProtectRecent != 4 {
		t.Errorf("Compaction.ProtectRecent = %d, want default 4", cfg.Compaction.ProtectRecent)
	}
	if cfg.Mailbox.Capacity != 128 {
		t.Errorf("Mailbox.Capacity = %d, want 128", cfg.Mailbox.Capacity)
	}
	if cfg.Mailbox.DeliverTimeout != 2*time.Second {
		t.Errorf("Mailbox.DeliverTimeout = %v, want 2s", cfg.Mailbox.DeliverTimeout)
	}
}

func TestLoadYAML_ExplicitZeroMaxIterationsIsHonored(t *testing.T) {
	data := []byte(`max_iterations: 0`)

	cfg, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}
	if cfg.MaxIterations != 0 {
		t.Errorf("MaxIterations = %d, want the explicit 0 preserved, not defaulted", cfg.MaxIterations)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want max_iterations: 0 to be a valid boundary value", err)
	}
}

func TestLoadYAML_OmittedMaxIterationsDefaults(t *testing.T) {
	data := []byte(`mailbox:
  capacity: 32
`)

	cfg, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}
	if cfg.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want default 15 when the key is absent", cfg.MaxIterations)
	}
}

func TestValidate_RejectsNegativeMaxIterations(t *testing.T) {
	cfg := Default()
	cfg.MaxIterations = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want an error for negative max_iterations")
	}
}

func TestLoadYAML_RejectsInvalidThreshold(t *testing.T) {
	data := []byte(`
compaction:
  threshold: 1.5
`)
	_, err := LoadYAML(data)
	if err == nil {
		t.Fatal("LoadYAML() error = nil, want validation error for threshold > 1")
	}
}

func TestLoadYAML_RejectsUnknownCounterStrategy(t *testing.T) {
	data := []byte(`
compaction:
  counter_strategy: quantum
`)
	_, err := LoadYAML(data)
	if err == nil {
		t.Fatal("LoadYAML() error = nil, want validation error for bad counter_strategy")
	}
}

func TestLoadYAML_MalformedYAML(t *testing.T) {
	_, err := LoadYAML([]byte("not: valid: yaml: at: all: ["))
	if err == nil {
		t.Fatal("LoadYAML() error = nil, want parse error")
	}
}
