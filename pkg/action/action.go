// Package action defines the typed decisions an agent can emit from a
// single model turn, and the envelopes those decisions travel in
// (inter-agent messages, tool results, execution state).
package action

import "fmt"

// Kind tags which concrete Action variant a value holds.
type Kind string

const (
	KindTool             Kind = "tool"
	KindLaunchSubagents  Kind = "launch_subagents"
	KindWaitForSubagents Kind = "wait_for_subagents"
	KindWait             Kind = "wait"
	KindSendMessage      Kind = "send_message"
	KindFinish           Kind = "finish"
)

// Valid reports whether k is one of the six known action kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTool, KindLaunchSubagents, KindWaitForSubagents, KindWait, KindSendMessage, KindFinish:
		return true
	default:
		return false
	}
}

// Action is the single typed decision produced by parsing one model turn.
// Exactly one concrete type below implements it; dispatch is a type switch
// over Kind(), never a string comparison on raw model output.
type Action interface {
	Kind() Kind
	// Thought returns the optional "Thought:" field captured alongside the
	// action, for observability only — it never influences dispatch.
	Thought() string
}

type base struct {
	thought string
}

func (b base) Thought() string { return b.thought }

// ToolAction invokes a named tool with validated arguments.
type ToolAction struct {
	base
	Name      string
	Arguments map[string]any
}

func NewToolAction(name string, arguments map[string]any, thought string) ToolAction {
	return ToolAction{base: base{thought: thought}, Name: name, Arguments: arguments}
}

func (ToolAction) Kind() Kind { return KindTool }

// SubagentSpec describes one child to launch as part of a LaunchSubagents
// action.
type SubagentSpec struct {
	SubagentName     string
	Task             string
	ChildDisplayName string
	Context          string
}

// LaunchSubagentsAction starts zero or more children in parallel; the parent
// does not block on them here — it must separately issue WaitForSubagents.
type LaunchSubagentsAction struct {
	base
	Specs []SubagentSpec
}

func NewLaunchSubagentsAction(specs []SubagentSpec, thought string) LaunchSubagentsAction {
	return LaunchSubagentsAction{base: base{thought: thought}, Specs: specs}
}

func (LaunchSubagentsAction) Kind() Kind { return KindLaunchSubagents }

// WaitForSubagentsAction suspends the agent until a pending child completes
// or fails, or any inbound message arrives.
type WaitForSubagentsAction struct {
	base
}

func NewWaitForSubagentsAction(thought string) WaitForSubagentsAction {
	return WaitForSubagentsAction{base: base{thought: thought}}
}

func (WaitForSubagentsAction) Kind() Kind { return KindWaitForSubagents }

// WaitAction suspends the agent until any inbound message arrives. Used for
// peer-to-peer rendezvous, independent of any pending children.
type WaitAction struct {
	base
}

func NewWaitAction(thought string) WaitAction {
	return WaitAction{base: base{thought: thought}}
}

func (WaitAction) Kind() Kind { return KindWait }

// SendMessageAction enqueues content to another agent's mailbox without
// blocking.
type SendMessageAction struct {
	base
	To      string
	Content string
}

func NewSendMessageAction(to, content, thought string) SendMessageAction {
	return SendMessageAction{base: base{thought: thought}, To: to, Content: content}
}

func (SendMessageAction) Kind() Kind { return KindSendMessage }

// FinishAction terminates the agent successfully with a final response.
type FinishAction struct {
	base
	Content string
}

func NewFinishAction(content, thought string) FinishAction {
	return FinishAction{base: base{thought: thought}, Content: content}
}

func (FinishAction) Kind() Kind { return KindFinish }

// ============================================================================
// MESSAGES
// ============================================================================

// MessageKind tags why an AgentMessage was delivered.
type MessageKind string

const (
	MessageKindPeer          MessageKind = "peer"
	MessageKindChildComplete MessageKind = "child_completed"
	MessageKindChildFailed   MessageKind = "child_failed"
	MessageKindResume        MessageKind = "resume"
)

// AgentMessage is the unit of inter-agent communication. Every message
// delivered to an agent appears exactly once in its ordered inbox.
type AgentMessage struct {
	From      string
	To        string
	Kind      MessageKind
	Payload   string
	Timestamp int64 // unix nanoseconds, stamped by the sender's clock source
}

func (m AgentMessage) String() string {
	return fmt.Sprintf("%s{from=%s to=%s payload=%q}", m.Kind, m.From, m.To, m.Payload)
}

// ============================================================================
// TOOL RESULT
// ============================================================================

// ToolResult is the structured envelope a tool invocation produces. The core
// treats the fields opaquely except Error, which it inspects when deciding
// whether to continue the loop.
type ToolResult struct {
	Title      string
	Output     string
	Metadata   map[string]any
	Attachment []string
	Error      string
}

// Failed reports whether the tool reported an error.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// ============================================================================
// AGENT STATE
// ============================================================================

// Status is one of the five states an agent can occupy.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// validTransitions enumerates the state diagram from the data model: every
// key is a status, every value the set of statuses it may move to next.
var validTransitions = map[Status]map[Status]bool{
	StatusIdle:      {StatusRunning: true},
	StatusRunning:   {StatusSuspended: true, StatusCompleted: true, StatusFailed: true},
	StatusSuspended: {StatusRunning: true, StatusFailed: true},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the agent lifecycle diagram.
func CanTransition(from, to Status) bool {
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// State is the snapshot used across suspensions: everything the loop and
// the orchestrator need to reason about one agent without re-deriving it.
type State struct {
	AgentID         string
	Status          Status
	IterationCount  int
	MaxIterations   int
	HistoryDigest   string // opaque reference into the model client's conversation
	PendingChildren map[string]struct{}
	ReceivedMsgs    []AgentMessage
	LastAction      Action
}

// NewState builds an idle snapshot ready to start running.
func NewState(agentID string, maxIterations int) *State {
	return &State{
		AgentID:         agentID,
		Status:          StatusIdle,
		MaxIterations:   maxIterations,
		PendingChildren: make(map[string]struct{}),
	}
}

// Validate checks the invariants from §3 of the data model that are
// statically checkable from the snapshot alone (the live-task invariant
// requires the orchestrator and is checked there).
func (s *State) Validate() error {
	if s.IterationCount > s.MaxIterations {
		return fmt.Errorf("action: iteration_count %d exceeds max_iterations %d", s.IterationCount, s.MaxIterations)
	}
	if s.Status == StatusSuspended {
		waitingOnMailbox := s.LastAction != nil &&
			(s.LastAction.Kind() == KindWaitForSubagents || s.LastAction.Kind() == KindWait)
		if len(s.PendingChildren) == 0 && !waitingOnMailbox {
			return fmt.Errorf("action: agent %s is suspended with no pending children and no wait action", s.AgentID)
		}
	}
	return nil
}

// Transition moves the state to `to`, validating the edge is legal.
func (s *State) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("action: illegal transition %s -> %s for agent %s", s.Status, to, s.AgentID)
	}
	s.Status = to
	return nil
}
