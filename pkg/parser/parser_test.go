package parser

import (
	"strings"
	"testing"

	"github.com/kadirpekel/agentcore/pkg/action"
)

func TestParse_Tool(t *testing.T) {
	raw := "Thought: I should look this up\n" +
		"Action: tool\n" +
		"Tool: search\n" +
		"Arguments: {\"query\": \"golang\"}\n"

	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ta, ok := a.(action.ToolAction)
	if !ok {
		t.Fatalf("Parse() = %T, want action.ToolAction", a)
	}
	if ta.Name != "search" {
		t.Errorf("Name = %q, want search", ta.Name)
	}
	if ta.Arguments["query"] != "golang" {
		t.Errorf("Arguments[query] = %v, want golang", ta.Arguments["query"])
	}
	if ta.Thought() != "I should look this up" {
		t.Errorf("Thought() = %q", ta.Thought())
	}
}

func TestParse_Tool_CaseInsensitiveLabels(t *testing.T) {
	raw := "ACTION: TOOL\ntool: echo\narguments: {}\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ta := a.(action.ToolAction)
	if ta.Name != "echo" {
		t.Errorf("Name = %q, want echo", ta.Name)
	}
}

func TestParse_Tool_MissingToolField(t *testing.T) {
	raw := "Action: tool\nArguments: {}\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("err = %T, want *ParseError", err)
	}
	if pe.Field != "Tool" {
		t.Errorf("Field = %q, want Tool", pe.Field)
	}
}

func TestParse_Tool_InvalidJSONArguments(t *testing.T) {
	raw := "Action: tool\nTool: search\nArguments: {not json}\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
	pe := err.(*ParseError)
	if pe.Field != "Arguments" {
		t.Errorf("Field = %q, want Arguments", pe.Field)
	}
}

func TestParse_LaunchSubagents(t *testing.T) {
	raw := "Action: launch_subagents\n" +
		"Agents: [\"researcher\", \"writer\"]\n" +
		"Tasks: [\"find sources\", \"draft summary\"]\n"

	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	la := a.(action.LaunchSubagentsAction)
	if len(la.Specs) != 2 {
		t.Fatalf("len(Specs) = %d, want 2", len(la.Specs))
	}
	if la.Specs[0].SubagentName != "researcher" || la.Specs[0].Task != "find sources" {
		t.Errorf("Specs[0] = %+v", la.Specs[0])
	}
	if la.Specs[1].SubagentName != "writer" || la.Specs[1].Task != "draft summary" {
		t.Errorf("Specs[1] = %+v", la.Specs[1])
	}
}

func TestParse_LaunchSubagents_MismatchedLength(t *testing.T) {
	raw := "Action: launch_subagents\n" +
		"Agents: [\"researcher\", \"writer\"]\n" +
		"Tasks: [\"find sources\"]\n"

	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
	pe := err.(*ParseError)
	if pe.Field != "Tasks" {
		t.Errorf("Field = %q, want Tasks", pe.Field)
	}
}

func TestParse_LaunchSubagents_Empty(t *testing.T) {
	raw := "Action: launch_subagents\nAgents: []\nTasks: []\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error for empty batch")
	}
}

func TestParse_WaitForSubagents(t *testing.T) {
	raw := "Thought: waiting on children\nAction: wait_for_subagents\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.Kind() != action.KindWaitForSubagents {
		t.Errorf("Kind() = %v, want wait_for_subagents", a.Kind())
	}
}

func TestParse_Wait(t *testing.T) {
	raw := "Action: wait\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.Kind() != action.KindWait {
		t.Errorf("Kind() = %v, want wait", a.Kind())
	}
}

func TestParse_SendMessage(t *testing.T) {
	raw := "Action: send_message\nTo: researcher\nContent: please hurry\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	sa := a.(action.SendMessageAction)
	if sa.To != "researcher" || sa.Content != "please hurry" {
		t.Errorf("got %+v", sa)
	}
}

func TestParse_SendMessage_MissingTo(t *testing.T) {
	raw := "Action: send_message\nContent: hello\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
}

func TestParse_Finish(t *testing.T) {
	raw := "Action: finish\nResponse: All done, here is the summary.\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fa := a.(action.FinishAction)
	if fa.Content != "All done, here is the summary." {
		t.Errorf("Content = %q", fa.Content)
	}
}

func TestParse_Finish_FallsBackToContent(t *testing.T) {
	raw := "Action: finish\nContent: done via content field\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fa := a.(action.FinishAction)
	if fa.Content != "done via content field" {
		t.Errorf("Content = %q", fa.Content)
	}
}

func TestParse_Finish_MultilineResponse(t *testing.T) {
	raw := "Action: finish\nResponse: line one\nline two\nline three\n"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fa := a.(action.FinishAction)
	if !strings.Contains(fa.Content, "line one") || !strings.Contains(fa.Content, "line three") {
		t.Errorf("Content = %q, want all three lines captured", fa.Content)
	}
}

func TestParse_MissingAction(t *testing.T) {
	raw := "Thought: hmm\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
	pe := err.(*ParseError)
	if pe.Field != "Action" {
		t.Errorf("Field = %q, want Action", pe.Field)
	}
}

func TestParse_UnrecognizedAction(t *testing.T) {
	raw := "Action: do_a_backflip\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []action.Action{
		action.NewToolAction("search", map[string]any{"query": "golang"}, "looking it up"),
		action.NewLaunchSubagentsAction([]action.SubagentSpec{
			{SubagentName: "researcher", Task: "find sources"},
		}, "delegating"),
		action.NewWaitForSubagentsAction("blocking on children"),
		action.NewWaitAction(""),
		action.NewSendMessageAction("peer", "status update", ""),
		action.NewFinishAction("final answer", "wrapping up"),
	}

	for _, original := range cases {
		rendered := Render(original)
		parsed, err := Parse(rendered)
		if err != nil {
			t.Fatalf("Parse(Render(%v)) error = %v; rendered:\n%s", original.Kind(), err, rendered)
		}
		if parsed.Kind() != original.Kind() {
			t.Errorf("round trip kind = %v, want %v", parsed.Kind(), original.Kind())
		}
	}
}
