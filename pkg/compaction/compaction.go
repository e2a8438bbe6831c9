// Package compaction shrinks a conversation history once it approaches a
// model's context window, by summarizing the oldest messages with an LLM
// call and splicing the summary in ahead of a protected, untouched recent
// tail. It is best-effort throughout: on any failure to produce a strictly
// shorter history it returns the original unchanged rather than erroring
// the caller out of its turn.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/agentcore/pkg/llmclient"
	"github.com/kadirpekel/agentcore/pkg/tokens"
)

// Config controls when and how the Engine compacts a history.
type Config struct {
	// Enabled turns compaction off entirely when false; CompactIfNeeded then
	// always returns the history unchanged.
	Enabled bool

	// Threshold is the fraction of usable budget (ContextLimit minus
	// ReservedOutputTokens) that triggers compaction once reached.
	Threshold float64

	// ProtectRecent is the number of most recent messages never handed to
	// the summarizer, regardless of how the rest of the budget looks.
	ProtectRecent int

	// ReservedOutputTokens is held back from ContextLimit to leave room for
	// the model's next reply.
	ReservedOutputTokens int

	// ContextLimit is the target model's total context window, in tokens.
	ContextLimit int

	// CounterStrategy selects the tokens.Counter used to measure usage.
	CounterStrategy tokens.Strategy

	// CounterModel names the model the precise counter should resolve an
	// encoding for; ignored by the simple strategy.
	CounterModel string

	// MaxRetries is how many additional summarization attempts follow an
	// initial failed or non-shrinking attempt.
	MaxRetries int

	// Backoff lists the wait before each retry, reused (last entry repeats)
	// if MaxRetries exceeds its length.
	Backoff []time.Duration

	// SummaryTargetWords is advisory guidance given to the summarizer
	// model; it is not enforced on the result.
	SummaryTargetWords int
}

// DefaultConfig returns the configuration used when a caller does not
// override it: enabled, triggering at 80% of usable budget, protecting the
// four most recent messages, two retries with 1s/2s backoff.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Threshold:            0.8,
		ProtectRecent:        4,
		ReservedOutputTokens: 1024,
		ContextLimit:         128_000,
		CounterStrategy:      tokens.StrategyAuto,
		MaxRetries:           2,
		Backoff:              []time.Duration{time.Second, 2 * time.Second},
		SummaryTargetWords:   200,
	}
}

// Engine runs the detect/partition/summarize/validate pipeline.
type Engine struct {
	cfg        Config
	counter    tokens.Counter
	summarizer llmclient.Client
}

// NewEngine builds an Engine. summarizer is the model client used to
// generate the replacement summary text. The summarization request goes
// through summarizer.Chat as an ordinary turn, so it is appended to that
// client's own history; the engine does not save or restore that history
// around the call.
func NewEngine(cfg Config, summarizer llmclient.Client) (*Engine, error) {
	counter, err := tokens.NewCounter(cfg.CounterStrategy, cfg.CounterModel)
	if err != nil {
		return nil, fmt.Errorf("compaction: building token counter: %w", err)
	}
	return &Engine{cfg: cfg, counter: counter, summarizer: summarizer}, nil
}

// CompactIfNeeded inspects history and, if it has grown past the
// configured threshold, replaces its oldest, non-protected messages with a
// single summary message. It never mutates history: on success it returns
// a new slice; on any failure (summarizer error, or a summary that does
// not actually shrink the history) it returns history itself unchanged
// alongside the last error encountered, for the caller to log.
func (e *Engine) CompactIfNeeded(ctx context.Context, history []llmclient.Message) ([]llmclient.Message, bool, error) {
	if !e.cfg.Enabled {
		return history, false, nil
	}
	if !e.detect(history) {
		return history, false, nil
	}
	return e.compact(ctx, history)
}

// ForceCompact runs the same summarize/validate pipeline as
// CompactIfNeeded but skips the threshold check in detect, regardless of
// whether compaction is enabled or the budget has actually been reached.
// It exists for the one caller that cannot wait for the next iteration's
// routine check: a model call that has already failed with a context
// length error gets one emergency attempt to shrink history before its
// turn is retried (§4.3/§7's "emergency compaction").
func (e *Engine) ForceCompact(ctx context.Context, history []llmclient.Message) ([]llmclient.Message, bool, error) {
	return e.compact(ctx, history)
}

func (e *Engine) compact(ctx context.Context, history []llmclient.Message) ([]llmclient.Message, bool, error) {
	protected, summarizable := e.partition(history)
	if len(summarizable) == 0 {
		return history, false, nil
	}

	var lastErr error
	attempts := e.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.backoffFor(attempt-1)); err != nil {
				return history, false, err
			}
		}

		summary, err := e.summarize(ctx, summarizable)
		if err != nil {
			lastErr = fmt.Errorf("compaction: summarization attempt %d: %w", attempt+1, err)
			continue
		}

		candidate := e.assemble(protected, summary)
		if e.validate(history, candidate) {
			return candidate, true, nil
		}
		lastErr = fmt.Errorf("compaction: attempt %d produced a non-shrinking history (%d messages/%d tokens, had %d/%d)",
			attempt+1, len(candidate), e.countHistory(candidate), len(history), e.countHistory(history))
	}

	return history, false, lastErr
}

// detect reports whether history's current token usage has reached the
// configured fraction of usable budget.
func (e *Engine) detect(history []llmclient.Message) bool {
	usable := e.cfg.ContextLimit - e.cfg.ReservedOutputTokens
	if usable <= 0 {
		return false
	}
	threshold := e.cfg.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	used := e.countHistory(history)
	return float64(used) >= threshold*float64(usable)
}

// partition splits history into the protected tail (kept verbatim, always
// including any leading system messages) and the summarizable head.
func (e *Engine) partition(history []llmclient.Message) (protected, summarizable []llmclient.Message) {
	keep := e.cfg.ProtectRecent
	if keep < 0 {
		keep = 0
	}

	splitAt := len(history) - keep
	if splitAt < 0 {
		splitAt = 0
	}

	// System messages are never summarized, wherever they fall; pull any
	// that land in the summarizable head back out into protected, keeping
	// relative order in both halves.
	var head, tail []llmclient.Message
	head = append(head, history[:splitAt]...)
	tail = append(tail, history[splitAt:]...)

	var keptHead []llmclient.Message
	var systemFromHead []llmclient.Message
	for _, m := range head {
		if m.Role == llmclient.RoleSystem {
			systemFromHead = append(systemFromHead, m)
			continue
		}
		keptHead = append(keptHead, m)
	}

	protected = append(protected, systemFromHead...)
	protected = append(protected, tail...)
	summarizable = keptHead
	return protected, summarizable
}

// summarize asks the configured client to produce a prose summary of
// summarizable, returning an error if the client fails or the reply is
// empty after trimming.
func (e *Engine) summarize(ctx context.Context, summarizable []llmclient.Message) (string, error) {
	systemPrompt := "You condense conversation history for an AI agent that will continue the task afterward. " +
		"Preserve every decision, fact, constraint, and open question; drop only small talk and redundant phrasing. " +
		"Write plain prose, not a transcript."

	target := e.cfg.SummaryTargetWords
	if target <= 0 {
		target = 200
	}

	prompt := fmt.Sprintf(
		"Summarize the conversation below in about %d words, preserving everything the agent will still need:\n\n%s",
		target, formatConversation(summarizable),
	)

	reply, err := e.summarizer.Chat(ctx, prompt, systemPrompt, llmclient.RoleUser)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(reply)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}
	return summary, nil
}

// assemble builds the replacement history: any preserved system messages
// first (the system role is immutable and always occupies the head),
// followed by a synthetic assistant message carrying the summary, followed
// by the protected tail. protected is partition's output, so its leading
// run (if any) is exactly the system messages pulled out of the
// summarizable head; everything after that is the untouched recent tail.
func (e *Engine) assemble(protected []llmclient.Message, summary string) []llmclient.Message {
	systems, tail := splitLeadingSystem(protected)

	out := make([]llmclient.Message, 0, len(protected)+1)
	out = append(out, systems...)
	out = append(out, llmclient.Message{
		Role:    llmclient.RoleAssistant,
		Content: "[CONTEXT SUMMARY]\n" + summary,
	})
	out = append(out, tail...)
	return out
}

// splitLeadingSystem splits messages into its leading run of RoleSystem
// messages and everything after, mirroring how partition assembles
// protected (system messages pulled from the head, then the preserved
// tail).
func splitLeadingSystem(messages []llmclient.Message) (systems, rest []llmclient.Message) {
	i := 0
	for i < len(messages) && messages[i].Role == llmclient.RoleSystem {
		i++
	}
	return messages[:i], messages[i:]
}

// validate enforces the one hard invariant: a compaction is only accepted
// if it strictly shrinks the history by token count. Message count is not
// itself checked, since a single long summary message can legitimately
// replace many short ones or vice versa.
func (e *Engine) validate(original, candidate []llmclient.Message) bool {
	return e.countHistory(candidate) < e.countHistory(original)
}

func (e *Engine) countHistory(history []llmclient.Message) int {
	msgs := make([]tokens.Message, len(history))
	for i, m := range history {
		msgs[i] = tokens.Message{Role: string(m.Role), Content: m.Content}
	}
	return e.counter.CountMessages(msgs)
}

func (e *Engine) backoffFor(retryIndex int) time.Duration {
	if len(e.cfg.Backoff) == 0 {
		return 0
	}
	if retryIndex >= len(e.cfg.Backoff) {
		return e.cfg.Backoff[len(e.cfg.Backoff)-1]
	}
	return e.cfg.Backoff[retryIndex]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatConversation(messages []llmclient.Message) string {
	var b strings.Builder
	for _, m := range messages {
		role := string(m.Role)
		if len(role) > 0 {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		fmt.Fprintf(&b, "%s: %s\n\n", role, m.Content)
	}
	return b.String()
}
