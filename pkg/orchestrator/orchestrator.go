// Package orchestrator tracks launched subagent tasks and routes the
// messages that report their outcome back to the parent that launched
// them. One Orchestrator instance is shared across all agents in a run.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentcore/pkg/action"
	"github.com/kadirpekel/agentcore/pkg/logger"
	"github.com/kadirpekel/agentcore/pkg/mailbox"
)

// Runner is the agent loop's entrypoint, as the orchestrator needs to see
// it: run one task to completion and return its final response text.
// Concrete implementations live in package agentloop; orchestrator depends
// only on this shape to avoid an import cycle.
type Runner interface {
	Run(ctx context.Context, task, taskContext string) (string, error)
}

// Factory resolves a subagent name to a fresh Runner instance, scoped to
// one launch. Implementations typically close over a tool registry, a
// model client, and this same Orchestrator.
type Factory func(subagentName string) (Runner, error)

// Error reports an orchestrator operation that could not be completed,
// naming the task and operation involved.
type Error struct {
	Op     string
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("orchestrator: %s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type taskRecord struct {
	id        string
	parentID  string
	agentName string
	status    action.Status
	result    string
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// Orchestrator is the single source of truth for which tasks are running,
// who launched them, and what they returned. All exported methods are
// safe for concurrent use.
type Orchestrator struct {
	mu       sync.Mutex
	bus      *mailbox.Bus
	factory  Factory
	tasks    map[string]*taskRecord
	children map[string]map[string]struct{} // parentID -> pending child task IDs
}

// New builds an Orchestrator that delivers child-completion notifications
// over bus and resolves subagents through factory.
func New(bus *mailbox.Bus, factory Factory) *Orchestrator {
	return &Orchestrator{
		bus:      bus,
		factory:  factory,
		tasks:    make(map[string]*taskRecord),
		children: make(map[string]map[string]struct{}),
	}
}

// Register records agentID as a task the orchestrator should track even
// though nothing launched it as a subagent (typically the top-level
// agent of a run). Calling it twice for the same ID is a no-op.
func (o *Orchestrator) Register(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.tasks[agentID]; exists {
		return
	}
	o.tasks[agentID] = &taskRecord{
		id:     agentID,
		status: action.StatusRunning,
		done:   make(chan struct{}),
	}
}

// Launch starts one goroutine per spec in specs, running each through a
// Runner obtained from the Factory, and returns the task IDs assigned to
// them. The parent is not blocked: task completion is reported
// asynchronously as an AgentMessage delivered to parentID's mailbox.
func (o *Orchestrator) Launch(ctx context.Context, parentID string, specs []action.SubagentSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))

	for _, spec := range specs {
		runner, err := o.factory(spec.SubagentName)
		if err != nil {
			return ids, &Error{Op: "launch", TaskID: spec.SubagentName, Err: err}
		}

		taskID := uuid.NewString()
		taskCtx, cancel := context.WithCancel(ctx)

		rec := &taskRecord{
			id:        taskID,
			parentID:  parentID,
			agentName: spec.SubagentName,
			status:    action.StatusRunning,
			cancel:    cancel,
			done:      make(chan struct{}),
		}

		o.mu.Lock()
		o.tasks[taskID] = rec
		if o.children[parentID] == nil {
			o.children[parentID] = make(map[string]struct{})
		}
		o.children[parentID][taskID] = struct{}{}
		o.mu.Unlock()

		ids = append(ids, taskID)

		go o.run(taskCtx, rec, runner, spec)
	}

	return ids, nil
}

func (o *Orchestrator) run(ctx context.Context, rec *taskRecord, runner Runner, spec action.SubagentSpec) {
	result, err := runner.Run(ctx, spec.Task, spec.Context)
	o.complete(rec.id, result, err)
}

// complete records a task's outcome exactly once (later calls for the same
// task ID are ignored) and notifies the parent, if any, that launched it.
func (o *Orchestrator) complete(taskID, result string, runErr error) {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if rec.status == action.StatusCompleted || rec.status == action.StatusFailed {
		o.mu.Unlock()
		return
	}

	rec.result = result
	rec.err = runErr
	if runErr != nil {
		rec.status = action.StatusFailed
	} else {
		rec.status = action.StatusCompleted
	}

	parentID := rec.parentID
	if parentID != "" {
		if set, ok := o.children[parentID]; ok {
			delete(set, taskID)
		}
	}
	o.mu.Unlock()

	close(rec.done)
	o.bus.Close(taskID)

	if parentID == "" {
		return
	}

	kind := action.MessageKindChildComplete
	payload := result
	if runErr != nil {
		kind = action.MessageKindChildFailed
		payload = runErr.Error()
	}

	msg := action.AgentMessage{
		From:    taskID,
		To:      parentID,
		Kind:    kind,
		Payload: payload,
	}
	if err := o.bus.Deliver(context.Background(), msg); err != nil {
		logger.WithTask(taskID).Warn("orchestrator: failed to deliver child outcome",
			"parent_id", parentID, "error", err)
	}
}

// Send enqueues a peer-to-peer message from one agent to another. It blocks
// the sender only while the recipient's inbox is full, up to the Bus's
// deliver timeout. to must name a task the orchestrator has Registered
// or Launched and that has not yet reached a terminal state; sending to an
// unknown or terminal recipient returns the same error every time rather
// than racing a closed mailbox.
func (o *Orchestrator) Send(ctx context.Context, from, to, content string) error {
	o.mu.Lock()
	rec, ok := o.tasks[to]
	terminal := ok && (rec.status == action.StatusCompleted || rec.status == action.StatusFailed)
	o.mu.Unlock()

	if !ok || terminal {
		return &Error{Op: "send", TaskID: to, Err: fmt.Errorf("unknown recipient")}
	}

	return o.bus.Deliver(ctx, action.AgentMessage{
		From:    from,
		To:      to,
		Kind:    action.MessageKindPeer,
		Payload: content,
	})
}

// IsAlive reports whether taskID is registered and not yet completed or
// failed.
func (o *Orchestrator) IsAlive(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	if !ok {
		return false
	}
	return rec.status != action.StatusCompleted && rec.status != action.StatusFailed
}

// Status returns taskID's current lifecycle status.
func (o *Orchestrator) Status(taskID string) (action.Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	if !ok {
		return "", false
	}
	return rec.status, true
}

// Result returns taskID's final output and any run error, once it has
// completed. ok is false if the task is unknown or still running.
func (o *Orchestrator) Result(taskID string) (result string, runErr error, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, exists := o.tasks[taskID]
	if !exists {
		return "", nil, false
	}
	if rec.status != action.StatusCompleted && rec.status != action.StatusFailed {
		return "", nil, false
	}
	return rec.result, rec.err, true
}

// PendingChildren returns the task IDs still running for parentID.
func (o *Orchestrator) PendingChildren(parentID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	set, ok := o.children[parentID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// AwaitAll blocks until every task in taskIDs has completed or failed, or
// until ctx is cancelled, and returns their results in the same order. It
// is a synchronous alternative to the mailbox-driven WaitForSubagents
// action, for callers outside the agent loop that want to block on a batch
// of children directly (tests, or tools that fan out their own
// sub-launches). The first task to fail cancels the wait for the rest.
func (o *Orchestrator) AwaitAll(ctx context.Context, taskIDs []string) ([]string, error) {
	results := make([]string, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range taskIDs {
		i, id := i, id
		g.Go(func() error {
			rec, ok := o.taskRecord(id)
			if !ok {
				return &Error{Op: "await", TaskID: id, Err: fmt.Errorf("unknown task")}
			}

			select {
			case <-rec.done:
			case <-gctx.Done():
				return gctx.Err()
			}

			result, runErr, _ := o.Result(id)
			if runErr != nil {
				return &Error{Op: "await", TaskID: id, Err: runErr}
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) taskRecord(taskID string) (*taskRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	return rec, ok
}

// Shutdown cancels every task still running, including orphans left behind
// by a parent that itself failed before collecting them. It does not wait
// for the cancelled goroutines to observe ctx and return; callers that
// need that guarantee should await each task's Result via its done signal.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, rec := range o.tasks {
		if rec.cancel != nil && rec.status == action.StatusRunning {
			rec.cancel()
		}
	}
}

// CancelOrphans cancels and forgets every pending child of parentID. It is
// used when parentID itself has failed or been abandoned, so its children
// do not run forever unobserved.
func (o *Orchestrator) CancelOrphans(parentID string) {
	o.mu.Lock()
	ids := make([]string, 0)
	if set, ok := o.children[parentID]; ok {
		for id := range set {
			ids = append(ids, id)
		}
	}
	delete(o.children, parentID)
	for _, id := range ids {
		if rec, ok := o.tasks[id]; ok && rec.cancel != nil {
			rec.cancel()
		}
	}
	o.mu.Unlock()
}
