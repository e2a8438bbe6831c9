package llmclient

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is a scripted Client used by tests throughout this module: it
// returns queued responses in order and records the full conversation so
// assertions can inspect exactly what the loop sent it (in particular, the
// role each observation was injected under).
type FakeClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	history   []Message
	// Err, if set, is returned by every Chat call instead of a response.
	Err error
	// nextErr, if set, is returned by exactly the next Chat call and then
	// cleared, letting a test script a single transient failure (e.g. a
	// context-length error) ahead of an otherwise successful response
	// sequence.
	nextErr error
}

// FailNextCallWith arranges for the next Chat call to return err instead of
// consuming a scripted response; the call after that resumes the normal
// response sequence.
func (f *FakeClient) FailNextCallWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErr = err
}

// NewFakeClient returns a client that yields responses in order, one per
// Chat call. If more calls happen than there are responses, the last
// response repeats.
func NewFakeClient(responses ...string) *FakeClient {
	return &FakeClient{responses: responses}
}

func (f *FakeClient) Chat(ctx context.Context, prompt string, systemPrompt string, role Role) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if role == "" {
		role = RoleUser
	}
	f.history = append(f.history, Message{Role: role, Content: prompt})

	if f.Err != nil {
		return "", f.Err
	}
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		return "", err
	}

	if len(f.responses) == 0 {
		return "", fmt.Errorf("llmclient: fake client has no scripted responses")
	}

	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++

	reply := f.responses[idx]
	f.history = append(f.history, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

func (f *FakeClient) ResetHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
}

func (f *FakeClient) GetHistory() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.history))
	copy(out, f.history)
	return out
}

func (f *FakeClient) SetHistory(history []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append([]Message(nil), history...)
}

// CallCount returns how many Chat calls have been made so far.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
