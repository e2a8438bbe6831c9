// Command agentcore runs a single top-level agent against a scripted
// model client, wiring together every package in the core:
// config, logger, tokens, tool, llmclient, mailbox, orchestrator,
// compaction, and agentloop.
//
// Usage:
//
//	agentcore run "summarize the open issues"
//	agentcore run --config agentcore.yaml "draft a release note"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentcore/pkg/action"
	"github.com/kadirpekel/agentcore/pkg/agentloop"
	"github.com/kadirpekel/agentcore/pkg/compaction"
	"github.com/kadirpekel/agentcore/pkg/config"
	"github.com/kadirpekel/agentcore/pkg/llmclient"
	"github.com/kadirpekel/agentcore/pkg/logger"
	"github.com/kadirpekel/agentcore/pkg/mailbox"
	"github.com/kadirpekel/agentcore/pkg/orchestrator"
	"github.com/kadirpekel/agentcore/pkg/telemetry"
	"github.com/kadirpekel/agentcore/pkg/tokens"
	"github.com/kadirpekel/agentcore/pkg/tool"

	"go.opentelemetry.io/otel/trace"
)

// CLI defines the command-line interface.
type CLI struct {
	Run RunCmd `cmd:"" default:"1" help:"Run one top-level agent task."`

	Config    string `short:"c" help:"Path to a YAML config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// RunCmd runs a single agent to completion and prints its final response.
type RunCmd struct {
	Task    string `arg:"" help:"Task description handed to the agent."`
	Context string `help:"Additional context string placed ahead of the task in the agent's first prompt."`
}

func (c *RunCmd) Run(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return fmt.Errorf("agentcore: %w", err)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)
	log := logger.GetLogger()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("agentcore: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	tools := demoTools()
	bus := mailbox.NewBus(cfg.Mailbox.Capacity, cfg.Mailbox.DeliverTimeout)

	factory := func(name string) (orchestrator.Runner, error) {
		return nil, fmt.Errorf("agentcore: no subagent registered for %q", name)
	}
	orch := orchestrator.New(bus, factory)

	client := demoClient(c.Task)

	var compactor *compaction.Engine
	if cfg.Compaction.Enabled {
		compactor, err = compaction.NewEngine(toCompactionConfig(cfg.Compaction), client)
		if err != nil {
			return fmt.Errorf("agentcore: building compaction engine: %w", err)
		}
	}

	// No collector endpoint is configured anywhere in this binary, so the
	// tracer provider has no exporter attached: spans are created and ended
	// like normal (exercising the same code paths a wired collector would)
	// but go nowhere, and the meter provider falls back to otel's global
	// no-op default. A host process that wants real observability data
	// attaches its own processor/exporter to these providers before this
	// point; this command only proves the instrumentation points exist.
	const agentID = "root"
	tp := telemetry.NewDevelopmentTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	telemetryProvider, err := telemetry.NewProvider(tp, nil)
	if err != nil {
		return fmt.Errorf("agentcore: building telemetry provider: %w", err)
	}

	var toolSpan trace.Span
	callbacks := agentloop.Callbacks{
		OnActionParsed: func(a action.Action) {
			log.Debug("action parsed", "kind", a.Kind())
		},
		OnToolCallStart: func(name string, args map[string]any) {
			_, toolSpan = telemetryProvider.StartToolSpan(ctx, agentID, name)
		},
		OnToolCallEnd: func(name string, result action.ToolResult, err error) {
			telemetryProvider.RecordToolCall(ctx, name, err)
			if toolSpan != nil {
				if err != nil {
					toolSpan.RecordError(err)
				}
				toolSpan.End()
				toolSpan = nil
			}
			if err != nil {
				log.Warn("tool call failed", "tool", name, "error", err)
				return
			}
			log.Debug("tool call finished", "tool", name)
		},
		OnCompaction: func(before, after int) {
			telemetryProvider.RecordCompaction(ctx, agentID)
			log.Info("compaction committed", "agent_id", agentID, "before", before, "after", after)
		},
		OnFailure: func(err error) {
			log.Error("agent failed", "error", err)
		},
	}

	loop := agentloop.New(
		agentID,
		client,
		tools,
		nil,
		orch,
		bus,
		compactor,
		agentloop.Config{
			MaxIterations:   cfg.MaxIterations,
			MaxParseRetries: cfg.Parse.MaxRetries,
		},
		callbacks,
	)

	runCtx, agentSpan := telemetryProvider.StartAgentSpan(ctx, agentID)
	result, runErr := loop.Run(runCtx, c.Task, c.Context)
	telemetryProvider.RecordAgentRun(ctx, agentID, runErr)
	if runErr != nil {
		agentSpan.RecordError(runErr)
	}
	agentSpan.End()
	if runErr != nil {
		return fmt.Errorf("agentcore: %w", runErr)
	}

	fmt.Println(result)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return config.LoadYAML(data)
}

func toCompactionConfig(c config.CompactionConfig) compaction.Config {
	return compaction.Config{
		Enabled:              c.Enabled,
		Threshold:            c.Threshold,
		ProtectRecent:        c.ProtectRecent,
		ReservedOutputTokens: c.ReservedOutputTokens,
		ContextLimit:         c.ContextLimit,
		CounterStrategy:      tokens.Strategy(c.CounterStrategy),
		CounterModel:         c.CounterModel,
		MaxRetries:           c.MaxRetries,
		Backoff:              c.Backoff,
		SummaryTargetWords:   c.SummaryTargetWords,
	}
}

type echoArgs struct {
	Message string `json:"message" jsonschema:"required,description=text to echo back"`
}

// demoTools builds a small tool registry so the demo agent has something
// concrete to call; production wiring would register real tools here
// instead.
func demoTools() *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(tool.NewAdapter("echo", "echoes the given message back", func(ctx context.Context, callCtx tool.CallContext, args echoArgs) (action.ToolResult, error) {
		return action.ToolResult{Output: args.Message}, nil
	}))
	return reg
}

// demoClient scripts a FakeClient to call the echo tool once and then
// finish, since no concrete model provider is wired into this core (model
// access is an external collaborator, not something this binary ships).
// Point a real llmclient.Client implementation at this same Loop to drive
// it against an actual model.
func demoClient(task string) llmclient.Client {
	return llmclient.NewFakeClient(
		fmt.Sprintf("Thought: I should acknowledge the task.\nAction: tool\nTool: echo\nArguments: {\"message\": %q}\n", task),
		fmt.Sprintf("Thought: Done.\nAction: finish\nResponse: acknowledged: %s\n", task),
	)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("Runs a single hierarchical agent task."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
