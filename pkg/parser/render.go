package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/action"
)

// Render produces the canonical textual form of a, the same format Parse
// consumes. It exists mainly so the parser's round-trip property holds:
// Parse(Render(a)) yields an action of the same kind with the same thought
// and fields, except that a launch spec's ChildDisplayName and Context are
// not rendered and numeric tool arguments come back as float64. It is also useful for
// composing retry-feedback examples and for tests.
func Render(a action.Action) string {
	var b strings.Builder
	if t := a.Thought(); t != "" {
		fmt.Fprintf(&b, "Thought: %s\n", t)
	}
	fmt.Fprintf(&b, "Action: %s\n", a.Kind())

	switch v := a.(type) {
	case action.ToolAction:
		fmt.Fprintf(&b, "Tool: %s\n", v.Name)
		fmt.Fprintf(&b, "Arguments: %s\n", renderJSON(v.Arguments))
	case action.LaunchSubagentsAction:
		agents := make([]string, len(v.Specs))
		tasks := make([]string, len(v.Specs))
		for i, spec := range v.Specs {
			agents[i] = spec.SubagentName
			tasks[i] = spec.Task
		}
		fmt.Fprintf(&b, "Agents: %s\n", renderJSON(agents))
		fmt.Fprintf(&b, "Tasks: %s\n", renderJSON(tasks))
	case action.WaitForSubagentsAction:
		// no further fields
	case action.WaitAction:
		// no further fields
	case action.SendMessageAction:
		fmt.Fprintf(&b, "To: %s\n", v.To)
		fmt.Fprintf(&b, "Content: %s\n", v.Content)
	case action.FinishAction:
		fmt.Fprintf(&b, "Response: %s\n", v.Content)
	}

	return b.String()
}

func renderJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// FormatRetryFeedback composes the message fed back to the model after a
// failed parse: the original text, what went wrong, and a reminder of the
// expected format. The loop is responsible for counting attempts and giving
// up after the configured maximum.
func FormatRetryFeedback(original string, err error) string {
	var b strings.Builder
	b.WriteString("Your previous response could not be parsed.\n")
	fmt.Fprintf(&b, "Your response was:\n%s\n", original)
	if pe, ok := err.(*ParseError); ok {
		fmt.Fprintf(&b, "Problem: %s\n", pe.Error())
	} else {
		fmt.Fprintf(&b, "Problem: %v\n", err)
	}
	b.WriteString("Please resend your response using the exact field format (Thought/Action/...).\n")
	return b.String()
}
