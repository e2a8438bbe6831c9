// Package tokens provides deterministic token counting for conversation
// histories, used by the compaction engine to detect context overflow.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message is the minimal shape the counter needs from a conversation entry.
type Message struct {
	Role    string
	Content string
}

// Counter estimates token counts for text and message lists under a model.
// Implementations MUST be deterministic: the same inputs always yield the
// same integer.
type Counter interface {
	Count(text string) int
	CountMessages(messages []Message) int
}

// Strategy selects which Counter implementation NewCounter builds.
type Strategy string

const (
	// StrategySimple divides byte length by four, with no model awareness.
	StrategySimple Strategy = "simple"

	// StrategyPrecise uses a BPE-style encoder selected by model name.
	StrategyPrecise Strategy = "precise"

	// StrategyAuto prefers precise and falls back to simple if the encoder
	// cannot be constructed for the given model.
	StrategyAuto Strategy = "auto"
)

// NewCounter builds a Counter for the given strategy and model name.
// "auto" never returns an error: it silently falls back to the simple
// counter when a precise encoder is unavailable for the model.
func NewCounter(strategy Strategy, model string) (Counter, error) {
	switch strategy {
	case "", StrategySimple:
		return NewSimpleCounter(), nil
	case StrategyPrecise:
		return NewPreciseCounter(model)
	case StrategyAuto:
		if c, err := NewPreciseCounter(model); err == nil {
			return c, nil
		}
		return NewSimpleCounter(), nil
	default:
		return nil, fmt.Errorf("tokens: unknown strategy %q", strategy)
	}
}

// ============================================================================
// SIMPLE COUNTER
// ============================================================================

// perMessageOverhead approximates the per-turn role/separator bookkeeping a
// real tokenizer would spend framing each message.
const perMessageOverhead = 4

// SimpleCounter is a model-agnostic, allocation-free approximation:
// count(text) = max(0, floor(len(text)/4)).
type SimpleCounter struct{}

// NewSimpleCounter returns the length/4 heuristic counter.
func NewSimpleCounter() *SimpleCounter {
	return &SimpleCounter{}
}

func (c *SimpleCounter) Count(text string) int {
	n := len(text) / 4
	if n < 0 {
		return 0
	}
	return n
}

func (c *SimpleCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Role) + c.Count(m.Content) + perMessageOverhead
	}
	return total
}

// ============================================================================
// PRECISE COUNTER
// ============================================================================

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// PreciseCounter wraps a tiktoken BPE encoding resolved from a model name.
// Message overhead follows the OpenAI chat-completion accounting: 4 tokens
// per message plus 2 for the assistant reply primer.
// See: https://github.com/openai/openai-cookbook/blob/main/examples/How_to_count_tokens_with_tiktoken.ipynb
type PreciseCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// NewPreciseCounter builds a counter for a specific model, caching the
// resolved encoding across calls. Falls back to cl100k_base when the model
// name is unrecognized, and only errors if that fallback also fails.
func NewPreciseCounter(model string) (*PreciseCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &PreciseCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokens: failed to resolve encoding for %q: %w", model, err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &PreciseCounter{encoding: encoding, model: model}, nil
}

func (c *PreciseCounter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *PreciseCounter) CountMessages(messages []Message) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += len(c.encoding.Encode(m.Role, nil, nil))
		total += len(c.encoding.Encode(m.Content, nil, nil))
	}
	// Every reply is primed with <|start|>assistant<|message|>.
	total += 2
	return total
}

// GetModel returns the model name this counter was built for.
func (c *PreciseCounter) GetModel() string {
	return c.model
}
