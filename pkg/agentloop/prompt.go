package agentloop

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/action"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// buildSystemPrompt composes the base instruction, the field-based output
// format the parser expects, the available tools' schemas, and the
// subagent catalog this agent may delegate to.
func buildSystemPrompt(base string, tools *tool.Registry, subagents map[string]string) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}

	b.WriteString(formatInstructions)

	if tools != nil {
		names := tools.Names()
		sort.Strings(names)
		if len(names) > 0 {
			b.WriteString("\nAvailable tools:\n")
			for _, name := range names {
				t, _ := tools.Get(name)
				schema, _ := json.Marshal(t.Schema())
				fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", t.Name(), t.Description(), schema)
			}
		}
	}

	if len(subagents) > 0 {
		names := make([]string, 0, len(subagents))
		for name := range subagents {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nAvailable subagents:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, subagents[name])
		}
	}

	return b.String()
}

const formatInstructions = `Respond using labeled fields, one action per turn:

Thought: <your reasoning, optional>
Action: tool | launch_subagents | wait_for_subagents | wait | send_message | finish

For Action: tool
Tool: <tool name>
Arguments: <JSON object of arguments>

For Action: launch_subagents
Agents: <JSON array of subagent names>
Tasks: <JSON array of task descriptions, same length and order as Agents>

For Action: wait_for_subagents
(no further fields; suspends until a launched subagent completes or fails)

For Action: wait
(no further fields; suspends until a message arrives)

For Action: send_message
To: <recipient agent ID>
Content: <message text>

For Action: finish
Response: <final answer to return>
`

func buildInitialPrompt(task, taskContext string) string {
	if taskContext == "" {
		return task
	}
	return fmt.Sprintf("Context:\n%s\n\nTask:\n%s", taskContext, task)
}

func renderMessages(msgs []action.AgentMessage) string {
	var b strings.Builder
	b.WriteString("You received the following message(s) while suspended:\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s from %s] %s\n", m.Kind, m.From, m.Payload)
	}
	return b.String()
}

func renderToolObservation(name string, result action.ToolResult) string {
	if result.Failed() {
		return fmt.Sprintf("Tool %q failed: %s", name, result.Error)
	}
	if result.Title != "" {
		return fmt.Sprintf("Tool %q result (%s): %s", name, result.Title, result.Output)
	}
	return fmt.Sprintf("Tool %q result: %s", name, result.Output)
}
