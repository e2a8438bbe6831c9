// Package parser turns one model turn's raw text into a single typed
// action.Action. The format is line-oriented and label-driven rather than
// JSON-the-whole-way, because models are more reliable at producing a short
// run of "Label: value" lines than a single well-formed JSON document —
// only the field values that are inherently structured (tool arguments,
// subagent batches) are themselves JSON.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/action"
)

// field names recognized case-insensitively as labels. Order here is not
// significant; it is the order they happen to appear in the format.
const (
	fieldThought  = "thought"
	fieldAction   = "action"
	fieldTool     = "tool"
	fieldArgs     = "arguments"
	fieldAgents   = "agents"
	fieldTasks    = "tasks"
	fieldTo       = "to"
	fieldContent  = "content"
	fieldResponse = "response"
)

var knownFields = map[string]bool{
	fieldThought:  true,
	fieldAction:   true,
	fieldTool:     true,
	fieldArgs:     true,
	fieldAgents:   true,
	fieldTasks:    true,
	fieldTo:       true,
	fieldContent:  true,
	fieldResponse: true,
}

// ParseError names the field that could not be parsed and carries a short
// snippet of the offending input, so a retry prompt can point the model at
// exactly what to fix instead of resending the whole turn.
type ParseError struct {
	Field   string
	Message string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("parser: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("parser: %s: %s (near %q)", e.Field, e.Message, e.Snippet)
}

// Parse converts raw model output into one Action. On any malformed or
// missing field it returns a *ParseError describing exactly what was wrong.
func Parse(raw string) (action.Action, error) {
	fields := scanFields(raw)

	thought := strings.TrimSpace(fields[fieldThought])
	kind := strings.ToLower(strings.TrimSpace(fields[fieldAction]))

	switch kind {
	case string(action.KindTool):
		return parseTool(fields, thought)
	case string(action.KindLaunchSubagents):
		return parseLaunchSubagents(fields, thought)
	case string(action.KindWaitForSubagents):
		return action.NewWaitForSubagentsAction(thought), nil
	case string(action.KindWait):
		return action.NewWaitAction(thought), nil
	case string(action.KindSendMessage):
		return parseSendMessage(fields, thought)
	case string(action.KindFinish):
		return parseFinish(fields, thought)
	case "":
		return nil, &ParseError{Field: "Action", Message: "missing Action field"}
	default:
		return nil, &ParseError{Field: "Action", Message: "unrecognized action kind", Snippet: snippet(kind)}
	}
}

func parseTool(fields map[string]string, thought string) (action.Action, error) {
	name := strings.TrimSpace(fields[fieldTool])
	if name == "" {
		return nil, &ParseError{Field: "Tool", Message: "missing Tool field for action: tool"}
	}

	raw := strings.TrimSpace(fields[fieldArgs])
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ParseError{Field: "Arguments", Message: "not valid JSON: " + err.Error(), Snippet: snippet(raw)}
	}

	return action.NewToolAction(name, args, thought), nil
}

func parseLaunchSubagents(fields map[string]string, thought string) (action.Action, error) {
	agentsRaw := strings.TrimSpace(fields[fieldAgents])
	tasksRaw := strings.TrimSpace(fields[fieldTasks])
	if agentsRaw == "" {
		return nil, &ParseError{Field: "Agents", Message: "missing Agents field for action: launch_subagents"}
	}
	if tasksRaw == "" {
		return nil, &ParseError{Field: "Tasks", Message: "missing Tasks field for action: launch_subagents"}
	}

	var agents []string
	if err := json.Unmarshal([]byte(agentsRaw), &agents); err != nil {
		return nil, &ParseError{Field: "Agents", Message: "not a valid JSON array: " + err.Error(), Snippet: snippet(agentsRaw)}
	}
	var tasks []string
	if err := json.Unmarshal([]byte(tasksRaw), &tasks); err != nil {
		return nil, &ParseError{Field: "Tasks", Message: "not a valid JSON array: " + err.Error(), Snippet: snippet(tasksRaw)}
	}

	if len(agents) != len(tasks) {
		return nil, &ParseError{
			Field:   "Tasks",
			Message: fmt.Sprintf("Agents has %d entries but Tasks has %d; they must pair up", len(agents), len(tasks)),
		}
	}
	if len(agents) == 0 {
		return nil, &ParseError{Field: "Agents", Message: "Agents array is empty; launch_subagents needs at least one"}
	}

	specs := make([]action.SubagentSpec, len(agents))
	for i := range agents {
		specs[i] = action.SubagentSpec{SubagentName: agents[i], Task: tasks[i]}
	}
	return action.NewLaunchSubagentsAction(specs, thought), nil
}

func parseSendMessage(fields map[string]string, thought string) (action.Action, error) {
	to := strings.TrimSpace(fields[fieldTo])
	if to == "" {
		return nil, &ParseError{Field: "To", Message: "missing To field for action: send_message"}
	}
	content := strings.TrimSpace(fields[fieldContent])
	if content == "" {
		return nil, &ParseError{Field: "Content", Message: "missing Content field for action: send_message"}
	}
	return action.NewSendMessageAction(to, content, thought), nil
}

func parseFinish(fields map[string]string, thought string) (action.Action, error) {
	content := strings.TrimSpace(fields[fieldResponse])
	if content == "" {
		content = strings.TrimSpace(fields[fieldContent])
	}
	if content == "" {
		return nil, &ParseError{Field: "Response", Message: "missing Response field for action: finish"}
	}
	return action.NewFinishAction(content, thought), nil
}

// scanFields walks raw line by line, recognizing "Label: value" lines
// case-insensitively against knownFields. A field's value is everything
// from the rest of that line through the line before the next recognized
// label, so multi-line Content/Arguments blocks are captured whole.
func scanFields(raw string) map[string]string {
	fields := make(map[string]string)
	var current string
	var buf strings.Builder
	has := false

	flush := func() {
		if has {
			fields[current] = buf.String()
		}
		buf.Reset()
		has = false
	}

	for _, line := range strings.Split(raw, "\n") {
		if label, rest, ok := splitLabel(line); ok {
			flush()
			current = label
			has = true
			buf.WriteString(rest)
			continue
		}
		if has {
			buf.WriteString("\n")
			buf.WriteString(line)
		}
	}
	flush()

	return fields
}

// splitLabel reports whether line begins with "Label:" for a known field
// name, returning the lowercased field name and the remainder of the line
// after the colon (with at most one leading space trimmed).
func splitLabel(line string) (label, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
	if !knownFields[name] {
		return "", "", false
	}
	rest = trimmed[idx+1:]
	rest = strings.TrimPrefix(rest, " ")
	return name, rest, true
}

func snippet(s string) string {
	const max = 60
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
