// Package agentloop drives a single agent's execution: one model turn at a
// time, parsing that turn into an action.Action, dispatching it, feeding
// the observation back, and repeating until the agent finishes, fails, or
// exhausts its iteration budget.
package agentloop

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agentcore/pkg/action"
	"github.com/kadirpekel/agentcore/pkg/compaction"
	"github.com/kadirpekel/agentcore/pkg/llmclient"
	"github.com/kadirpekel/agentcore/pkg/logger"
	"github.com/kadirpekel/agentcore/pkg/mailbox"
	"github.com/kadirpekel/agentcore/pkg/orchestrator"
	"github.com/kadirpekel/agentcore/pkg/parser"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// DefaultMaxIterations bounds how many model turns an agent gets before the
// loop gives up, independent of how many times it suspends along the way.
const DefaultMaxIterations = 15

// DefaultMaxParseRetries bounds how many parse attempts the loop makes for
// one turn: the original reply plus replies re-requested with feedback
// after each malformed one, before the run fails.
const DefaultMaxParseRetries = 3

// Config holds the fixed, per-agent settings the loop is constructed with.
type Config struct {
	SystemPrompt    string
	MaxIterations   int
	MaxParseRetries int
}

// Callbacks are observation hooks the loop invokes at well-defined points.
// None of them may influence control flow: every call is wrapped so a
// panicking or nil callback never interrupts the loop, and none of their
// return values are consulted.
type Callbacks struct {
	OnIterationStart    func(iteration int)
	OnModelCallEnd      func(reply string, err error)
	OnParseError        func(attempt int, err error)
	OnActionParsed      func(a action.Action)
	OnToolCallStart     func(name string, args map[string]any)
	OnToolCallEnd       func(name string, result action.ToolResult, err error)
	OnSubagentsLaunched func(ids []string, specs []action.SubagentSpec)
	OnSuspend           func(reason string)
	OnResume            func(msgs []action.AgentMessage)
	OnCompaction        func(before, after int)
	OnFinish            func(content string)
	OnFailure           func(err error)
}

// Loop is the per-agent execution engine. One Loop instance corresponds to
// one running agent; its Run method satisfies orchestrator.Runner so the
// orchestrator can launch it as a subagent.
type Loop struct {
	id        string
	client    llmclient.Client
	tools     *tool.Registry
	subagents map[string]string
	orch      *orchestrator.Orchestrator
	bus       *mailbox.Bus
	compactor *compaction.Engine
	cfg       Config
	callbacks Callbacks
	state     *action.State
}

// New builds a Loop for agent id. tools and subagents may be nil/empty if
// this agent has none available. orch and compactor may be nil, disabling
// subagent delegation and compaction respectively.
func New(
	id string,
	client llmclient.Client,
	tools *tool.Registry,
	subagents map[string]string,
	orch *orchestrator.Orchestrator,
	bus *mailbox.Bus,
	compactor *compaction.Engine,
	cfg Config,
	callbacks Callbacks,
) *Loop {
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxParseRetries <= 0 {
		cfg.MaxParseRetries = DefaultMaxParseRetries
	}
	cfg.SystemPrompt = buildSystemPrompt(cfg.SystemPrompt, tools, subagents)

	return &Loop{
		id:        id,
		client:    client,
		tools:     tools,
		subagents: subagents,
		orch:      orch,
		bus:       bus,
		compactor: compactor,
		cfg:       cfg,
		callbacks: callbacks,
		state:     action.NewState(id, cfg.MaxIterations),
	}
}

// State returns the loop's current execution state snapshot.
func (l *Loop) State() *action.State { return l.state }

// Run drives the agent to completion, returning its final response text.
// It satisfies orchestrator.Runner.
func (l *Loop) Run(ctx context.Context, task, taskContext string) (string, error) {
	if err := l.state.Transition(action.StatusRunning); err != nil {
		return "", fmt.Errorf("agentloop: %w", err)
	}
	if l.orch != nil {
		l.orch.Register(l.id)
	}

	if l.state.MaxIterations == 0 {
		return l.finishWithoutIteration()
	}

	prompt := buildInitialPrompt(task, taskContext)
	role := llmclient.RoleUser

	for {
		if err := ctx.Err(); err != nil {
			return l.fail(err)
		}
		if l.state.IterationCount >= l.state.MaxIterations {
			return l.fail(fmt.Errorf("agentloop: agent %s exceeded max iterations (%d)", l.id, l.state.MaxIterations))
		}

		l.maybeCompact(ctx)

		reply, err := l.chatWithEmergencyCompaction(ctx, prompt, role)
		l.safe(func() { l.call(l.callbacks.OnModelCallEnd, reply, err) })
		if err != nil {
			return l.fail(fmt.Errorf("agentloop: model call failed: %w", err))
		}

		l.state.IterationCount++
		l.safe(func() { l.callIter(l.callbacks.OnIterationStart, l.state.IterationCount) })

		act, err := l.parseWithRetry(ctx, reply)
		if err != nil {
			return l.fail(err)
		}
		l.state.LastAction = act
		l.safe(func() { l.callAction(l.callbacks.OnActionParsed, act) })

		done, result, nextPrompt, nextRole, err := l.dispatch(ctx, act)
		if err != nil {
			return l.fail(err)
		}
		if done {
			return result, nil
		}

		prompt, role = nextPrompt, nextRole

		if pending := l.bus.Drain(l.id); len(pending) > 0 {
			prompt = renderMessages(pending) + "\n" + prompt
			role = llmclient.RoleTool
		}
	}
}

// dispatch executes one parsed action and returns either a final result
// (done=true) or the observation to feed back as the next prompt.
func (l *Loop) dispatch(ctx context.Context, act action.Action) (done bool, result, nextPrompt string, nextRole llmclient.Role, err error) {
	switch a := act.(type) {
	case action.ToolAction:
		return l.dispatchTool(ctx, a)
	case action.LaunchSubagentsAction:
		return l.dispatchLaunch(ctx, a)
	case action.WaitForSubagentsAction:
		return l.dispatchWait(ctx, "waiting for subagents")
	case action.WaitAction:
		return l.dispatchWait(ctx, "waiting for a message")
	case action.SendMessageAction:
		return l.dispatchSend(ctx, a)
	case action.FinishAction:
		return l.dispatchFinish(a)
	default:
		return false, "", "", "", fmt.Errorf("agentloop: unhandled action kind %q", act.Kind())
	}
}

func (l *Loop) dispatchTool(ctx context.Context, a action.ToolAction) (bool, string, string, llmclient.Role, error) {
	l.safe(func() {
		if l.callbacks.OnToolCallStart != nil {
			l.callbacks.OnToolCallStart(a.Name, a.Arguments)
		}
	})

	if l.tools == nil {
		obs := fmt.Sprintf("Tool %q is not available: no tools are registered.", a.Name)
		l.safe(func() {
			if l.callbacks.OnToolCallEnd != nil {
				l.callbacks.OnToolCallEnd(a.Name, action.ToolResult{}, fmt.Errorf("no tool registry"))
			}
		})
		return false, "", obs, llmclient.RoleTool, nil
	}

	t, ok := l.tools.Get(a.Name)
	if !ok {
		obs := fmt.Sprintf("Tool %q is not registered. Available tools: %v", a.Name, l.tools.Names())
		return false, "", obs, llmclient.RoleTool, nil
	}

	result, err := t.Call(ctx, tool.CallContext{}, a.Arguments)
	l.safe(func() {
		if l.callbacks.OnToolCallEnd != nil {
			l.callbacks.OnToolCallEnd(a.Name, result, err)
		}
	})
	if err != nil {
		return false, "", fmt.Sprintf("Tool %q failed: %v", a.Name, err), llmclient.RoleTool, nil
	}

	return false, "", renderToolObservation(a.Name, result), llmclient.RoleTool, nil
}

func (l *Loop) dispatchLaunch(ctx context.Context, a action.LaunchSubagentsAction) (bool, string, string, llmclient.Role, error) {
	if l.orch == nil {
		return false, "", "Cannot launch subagents: no orchestrator is configured.", llmclient.RoleTool, nil
	}

	ids, err := l.orch.Launch(ctx, l.id, a.Specs)
	if err != nil {
		return false, "", "", "", fmt.Errorf("agentloop: launching subagents: %w", err)
	}
	for _, id := range ids {
		l.state.PendingChildren[id] = struct{}{}
	}
	l.safe(func() { l.callLaunch(l.callbacks.OnSubagentsLaunched, ids, a.Specs) })

	return false, "", fmt.Sprintf("Launched %d subagent(s): %v", len(ids), ids), llmclient.RoleTool, nil
}

func (l *Loop) dispatchWait(ctx context.Context, reason string) (bool, string, string, llmclient.Role, error) {
	l.safe(func() {
		if l.callbacks.OnSuspend != nil {
			l.callbacks.OnSuspend(reason)
		}
	})
	if err := l.state.Transition(action.StatusSuspended); err != nil {
		return false, "", "", "", fmt.Errorf("agentloop: %w", err)
	}

	msgs, waitErr := l.bus.WaitForAny(ctx, l.id)

	if tErr := l.state.Transition(action.StatusRunning); tErr != nil {
		return false, "", "", "", fmt.Errorf("agentloop: %w", tErr)
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			// The run itself was cancelled out from under the wait; that is
			// not something the model can decide its way out of.
			return false, "", "", "", fmt.Errorf("agentloop: %s: %w", reason, waitErr)
		}
		// No message arrived before the mailbox's own timeout. This must not
		// deadlock the agent: feed it back as an observation, like a failed
		// tool call, and let the model decide whether to wait again, try
		// something else, or give up.
		obs := fmt.Sprintf("No message arrived while %s: %v", reason, waitErr)
		return false, "", obs, llmclient.RoleTool, nil
	}

	for _, m := range msgs {
		if m.Kind == action.MessageKindChildComplete || m.Kind == action.MessageKindChildFailed {
			delete(l.state.PendingChildren, m.From)
		}
	}

	l.safe(func() { l.callResume(l.callbacks.OnResume, msgs) })
	return false, "", renderMessages(msgs), llmclient.RoleTool, nil
}

func (l *Loop) dispatchSend(ctx context.Context, a action.SendMessageAction) (bool, string, string, llmclient.Role, error) {
	if l.orch == nil {
		return false, "", "Cannot send messages: no orchestrator is configured.", llmclient.RoleTool, nil
	}
	if err := l.orch.Send(ctx, l.id, a.To, a.Content); err != nil {
		return false, "", fmt.Sprintf("Failed to send message to %q: %v", a.To, err), llmclient.RoleTool, nil
	}
	return false, "", fmt.Sprintf("Message sent to %q.", a.To), llmclient.RoleTool, nil
}

// finishWithoutIteration handles the MaxIterations == 0 boundary: the agent
// is granted no turns at all, so rather than tripping the iteration-budget
// failure on its very first check, it synthesizes an empty Finish without
// ever calling the model or a tool.
func (l *Loop) finishWithoutIteration() (string, error) {
	act := action.NewFinishAction("", "")
	l.state.LastAction = act
	l.safe(func() { l.callAction(l.callbacks.OnActionParsed, act) })

	_, result, _, _, err := l.dispatchFinish(act)
	if err != nil {
		return l.fail(err)
	}
	return result, nil
}

func (l *Loop) dispatchFinish(a action.FinishAction) (bool, string, string, llmclient.Role, error) {
	if err := l.state.Transition(action.StatusCompleted); err != nil {
		return false, "", "", "", fmt.Errorf("agentloop: %w", err)
	}
	l.safe(func() {
		if l.callbacks.OnFinish != nil {
			l.callbacks.OnFinish(a.Content)
		}
	})
	return true, a.Content, "", "", nil
}

// parseWithRetry makes up to cfg.MaxParseRetries attempts in total to parse
// an Action, resending feedback to the model after every failed attempt
// except the last.
// None of these retries advance the loop's iteration count: they are
// recovery within the same logical turn, not new turns of the task.
func (l *Loop) parseWithRetry(ctx context.Context, raw string) (action.Action, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxParseRetries; attempt++ {
		act, err := parser.Parse(raw)
		if err == nil {
			return act, nil
		}
		lastErr = err
		l.safe(func() { l.callParseErr(l.callbacks.OnParseError, attempt, err) })

		if attempt == l.cfg.MaxParseRetries {
			break
		}

		feedback := parser.FormatRetryFeedback(raw, err)
		reply, chatErr := l.client.Chat(ctx, feedback, l.cfg.SystemPrompt, llmclient.RoleTool)
		if chatErr != nil {
			return nil, fmt.Errorf("agentloop: retry chat call failed: %w", chatErr)
		}
		raw = reply
	}

	return nil, fmt.Errorf("agentloop: agent %s could not produce a parseable response after %d attempt(s): %w",
		l.id, l.cfg.MaxParseRetries, lastErr)
}

// maybeCompact asks the compaction engine to shrink the client's history if
// it has grown past budget, swapping the client's history in place on
// success. Failures are logged and otherwise ignored: compaction is always
// best-effort.
func (l *Loop) maybeCompact(ctx context.Context) {
	if l.compactor == nil {
		return
	}
	before := l.client.GetHistory()
	after, changed, err := l.compactor.CompactIfNeeded(ctx, before)
	if err != nil {
		logger.WithAgent(l.id).Warn("agentloop: compaction attempt failed", "error", err)
	}
	if !changed {
		return
	}
	l.client.SetHistory(after)
	l.safe(func() { l.callCompact(l.callbacks.OnCompaction, len(before), len(after)) })
}

// chatWithEmergencyCompaction calls the model client once, and if that call
// fails with an error identifying a context-length overflow, attempts one
// forced compaction and retries the same turn exactly once before giving
// up. Any other error, or a missing compactor, surfaces immediately.
func (l *Loop) chatWithEmergencyCompaction(ctx context.Context, prompt string, role llmclient.Role) (string, error) {
	reply, err := l.client.Chat(ctx, prompt, l.cfg.SystemPrompt, role)
	if err == nil || l.compactor == nil || !llmclient.IsContextLengthError(err) {
		return reply, err
	}

	logger.WithAgent(l.id).Warn("agentloop: model call hit context length limit, attempting emergency compaction", "error", err)

	history := l.client.GetHistory()
	compacted, changed, compErr := l.compactor.ForceCompact(ctx, history)
	if compErr != nil || !changed {
		return reply, err
	}
	l.client.SetHistory(compacted)
	l.safe(func() { l.callCompact(l.callbacks.OnCompaction, len(history), len(compacted)) })

	return l.client.Chat(ctx, prompt, l.cfg.SystemPrompt, role)
}

func (l *Loop) fail(err error) (string, error) {
	_ = l.state.Transition(action.StatusFailed)
	l.safe(func() {
		if l.callbacks.OnFailure != nil {
			l.callbacks.OnFailure(err)
		}
	})
	return "", err
}

// safe runs fn, recovering any panic so a misbehaving callback never
// interrupts the loop's own control flow.
func (l *Loop) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithAgent(l.id).Warn("agentloop: callback panicked, ignoring", "recovered", r)
		}
	}()
	fn()
}

func (l *Loop) call(fn func(string, error), reply string, err error) {
	if fn != nil {
		fn(reply, err)
	}
}
func (l *Loop) callIter(fn func(int), i int) {
	if fn != nil {
		fn(i)
	}
}
func (l *Loop) callAction(fn func(action.Action), a action.Action) {
	if fn != nil {
		fn(a)
	}
}
func (l *Loop) callLaunch(fn func([]string, []action.SubagentSpec), ids []string, specs []action.SubagentSpec) {
	if fn != nil {
		fn(ids, specs)
	}
}
func (l *Loop) callResume(fn func([]action.AgentMessage), msgs []action.AgentMessage) {
	if fn != nil {
		fn(msgs)
	}
}
func (l *Loop) callCompact(fn func(int, int), before, after int) {
	if fn != nil {
		fn(before, after)
	}
}
func (l *Loop) callParseErr(fn func(int, error), attempt int, err error) {
	if fn != nil {
		fn(attempt, err)
	}
}
