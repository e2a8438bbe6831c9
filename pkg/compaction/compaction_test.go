package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/agentcore/pkg/llmclient"
	"github.com/kadirpekel/agentcore/pkg/tokens"
)

func bigHistory(n int) []llmclient.Message {
	msgs := make([]llmclient.Message, 0, n)
	for i := 0; i < n; i++ {
		role := llmclient.RoleUser
		if i%2 == 1 {
			role = llmclient.RoleAssistant
		}
		msgs = append(msgs, llmclient.Message{
			Role:    role,
			Content: strings.Repeat("word ", 50),
		})
	}
	return msgs
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.ContextLimit = 500
	cfg.ReservedOutputTokens = 100
	cfg.Threshold = 0.5
	cfg.ProtectRecent = 2
	cfg.CounterStrategy = tokens.StrategySimple
	cfg.MaxRetries = 1
	cfg.Backoff = []time.Duration{time.Millisecond}
	return cfg
}

func TestCompactIfNeeded_Disabled(t *testing.T) {
	cfg := smallConfig()
	cfg.Enabled = false
	client := llmclient.NewFakeClient("summary")
	engine, err := NewEngine(cfg, client)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	history := bigHistory(13)
	got, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if changed {
		t.Error("changed = true, want false when disabled")
	}
	if len(got) != len(history) {
		t.Errorf("len(got) = %d, want unchanged %d", len(got), len(history))
	}
}

func TestCompactIfNeeded_BelowThreshold_NoOp(t *testing.T) {
	cfg := smallConfig()
	client := llmclient.NewFakeClient("summary")
	engine, _ := NewEngine(cfg, client)

	history := bigHistory(2)
	got, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if changed {
		t.Error("changed = true, want false below threshold")
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestCompactIfNeeded_CommitsShrunkHistory(t *testing.T) {
	cfg := smallConfig()
	client := llmclient.NewFakeClient("a short summary")
	engine, _ := NewEngine(cfg, client)

	history := bigHistory(13)
	got, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if !changed {
		t.Fatal("changed = false, want true")
	}
	if len(got) >= len(history) {
		t.Errorf("len(got) = %d, want fewer than %d", len(got), len(history))
	}
	if len(got) != cfg.ProtectRecent+1 {
		t.Errorf("len(got) = %d, want %d (summary + protected tail)", len(got), cfg.ProtectRecent+1)
	}
	if got[0].Role != llmclient.RoleAssistant {
		t.Errorf("got[0].Role = %v, want assistant summary message (no system messages precede it here)", got[0].Role)
	}
	if !strings.Contains(got[0].Content, "[CONTEXT SUMMARY]") || !strings.Contains(got[0].Content, "a short summary") {
		t.Errorf("got[0].Content = %q, want it prefixed with [CONTEXT SUMMARY] and containing the summary", got[0].Content)
	}
}

func TestCompactIfNeeded_PreservesLeadingSystemMessageAheadOfSummary(t *testing.T) {
	cfg := smallConfig()
	client := llmclient.NewFakeClient("a short summary")
	engine, _ := NewEngine(cfg, client)

	history := append([]llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "you are a helpful agent"},
	}, bigHistory(13)...)

	got, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if !changed {
		t.Fatal("changed = false, want true")
	}
	if got[0].Role != llmclient.RoleSystem || got[0].Content != "you are a helpful agent" {
		t.Errorf("got[0] = %+v, want the original system message preserved verbatim in the head position", got[0])
	}
	if got[1].Role != llmclient.RoleAssistant || !strings.HasPrefix(got[1].Content, "[CONTEXT SUMMARY]\n") {
		t.Errorf("got[1] = %+v, want the assistant summary message right after the preserved system message", got[1])
	}
}

func TestCompactIfNeeded_AbortsWhenSummaryDoesNotShrink(t *testing.T) {
	cfg := smallConfig()
	// A summary far longer than the original history it replaces: every
	// attempt should fail validation and the original history should come
	// back untouched.
	longSummary := strings.Repeat("much longer than the original conversation ", 200)
	client := llmclient.NewFakeClient(longSummary, longSummary)
	engine, _ := NewEngine(cfg, client)

	history := bigHistory(13)
	got, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err == nil {
		t.Fatal("CompactIfNeeded() error = nil, want an error reporting the failed attempts")
	}
	if changed {
		t.Error("changed = true, want false when no attempt validates")
	}
	if len(got) != len(history) {
		t.Errorf("len(got) = %d, want original %d preserved", len(got), len(history))
	}
}

func TestCompactIfNeeded_RetriesAfterSummarizerError(t *testing.T) {
	cfg := smallConfig()
	client := llmclient.NewFakeClient("a short summary")
	client.FailNextCallWith(errors.New("summarizer unavailable"))
	engine, _ := NewEngine(cfg, client)

	history := bigHistory(13)
	_, changed, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
}

func TestCompactIfNeeded_NeverMutatesInput(t *testing.T) {
	cfg := smallConfig()
	client := llmclient.NewFakeClient("a short summary")
	engine, _ := NewEngine(cfg, client)

	history := bigHistory(13)
	originalFirst := history[0]

	_, _, err := engine.CompactIfNeeded(context.Background(), history)
	if err != nil {
		t.Fatalf("CompactIfNeeded() error = %v", err)
	}
	if history[0] != originalFirst {
		t.Error("input history slice was mutated")
	}
	if len(history) != 13 {
		t.Errorf("len(history) = %d, want unchanged 13", len(history))
	}
}

func TestPartition_KeepsSystemMessagesOutOfSummarizable(t *testing.T) {
	cfg := smallConfig()
	cfg.ProtectRecent = 1
	engine, _ := NewEngine(cfg, llmclient.NewFakeClient("s"))

	history := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "sys"},
		{Role: llmclient.RoleUser, Content: "u1"},
		{Role: llmclient.RoleAssistant, Content: "a1"},
		{Role: llmclient.RoleUser, Content: "u2"},
	}

	protected, summarizable := engine.partition(history)
	for _, m := range summarizable {
		if m.Role == llmclient.RoleSystem {
			t.Errorf("system message leaked into summarizable: %+v", m)
		}
	}

	foundSystem := false
	for _, m := range protected {
		if m.Role == llmclient.RoleSystem {
			foundSystem = true
		}
	}
	if !foundSystem {
		t.Error("system message missing from protected set")
	}
}
