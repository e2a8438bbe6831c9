// Package llmclient defines the model client interface the agent loop
// drives, and the Message/Role vocabulary that carries the tool-role
// injection contract documented in §9 of the design notes. Concrete
// providers (HTTP clients to remote chat APIs) are external collaborators
// and are not implemented here — see the Client interface for the shape
// the core requires of them.
package llmclient

import (
	"context"
	"fmt"
)

// Role distinguishes who produced a Message. The core's one load-bearing
// invariant is that tool observations use RoleTool, never RoleUser — this
// is what keeps a model from confusing a tool result with a fresh human
// instruction and re-issuing the same call.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation, in the universal format every
// provider adapter normalizes to and from.
type Message struct {
	Role    Role
	Content string
}

// Client is the model client interface the core consumes. Implementations
// hold their own conversation state and handle provider-specific retries,
// rate limiting, and auth — none of that is the core's concern.
//
// Providers that collapse roles (for example, an API that has no distinct
// "tool" role and treats everything non-assistant as "user") MUST translate
// within their own adapter and MUST document the loss; the core never does
// this translation itself.
type Client interface {
	// Chat appends prompt (under role, defaulting to RoleUser) to the
	// conversation, optionally overriding the system prompt for this call,
	// and returns the assistant's reply text.
	Chat(ctx context.Context, prompt string, systemPrompt string, role Role) (string, error)
	ResetHistory()
	GetHistory() []Message
	SetHistory(history []Message)
}

// ContextLengthError is returned by a Client when the underlying provider
// rejected a call because the conversation no longer fits the model's
// context window. The agent loop's emergency-compaction path detects it
// through IsContextLengthError, which looks for this type before falling
// back to the "context length" substring heuristic.
type ContextLengthError struct {
	Err error
}

func (e *ContextLengthError) Error() string {
	return fmt.Sprintf("llmclient: context length exceeded: %v", e.Err)
}

func (e *ContextLengthError) Unwrap() error { return e.Err }

// IsContextLengthError reports whether err signals a context-overflow
// rejection, preferring the typed error and falling back to the historical
// substring check documented as an open question in the design notes.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	var cle *ContextLengthError
	if asContextLengthError(err, &cle) {
		return true
	}
	return containsContextLengthHint(err.Error())
}

func asContextLengthError(err error, target **ContextLengthError) bool {
	for err != nil {
		if cle, ok := err.(*ContextLengthError); ok {
			*target = cle
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func containsContextLengthHint(msg string) bool {
	return containsFold(msg, "context length")
}

// containsFold is a tiny case-insensitive substring check, kept local to
// avoid pulling in strings.ToLower allocations on the hot error path.
func containsFold(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	n, m := len(s), len(substr)
	for i := 0; i+m <= n; i++ {
		if foldEqual(s[i:i+m], substr) {
			return true
		}
	}
	return false
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
