// Package tool defines the async-function shape the agent loop dispatches
// through, and a generic adapter that turns a typed Go function into one,
// with JSON-schema argument validation derived from its argument type.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/agentcore/pkg/action"
)

// PermissionRequest describes a single ask() call a tool makes before
// performing a side-effecting operation.
type PermissionRequest struct {
	ToolName string
	Action   string
	Detail   string
}

// PermissionHandler funnels a tool's ask() to whatever UI or policy engine
// the host process wires in. The core only requires this interface shape;
// it never implements the prompt itself.
type PermissionHandler interface {
	Ask(ctx context.Context, req PermissionRequest) (bool, error)
}

// PermissionDenied is returned by a tool body when PermissionHandler.Ask
// refuses a request. The loop captures it as an ordinary tool execution
// error, not a special case.
type PermissionDenied struct {
	Request PermissionRequest
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("tool: permission denied for %s: %s", e.Request.ToolName, e.Request.Action)
}

// CallContext carries the per-invocation plumbing a tool body needs: routing
// identifiers for logs, a place to do filesystem work, and the means to ask
// for permission or notice cancellation.
type CallContext struct {
	SessionID  string
	MessageID  string
	CallID     string
	WorkDir    string
	Permission PermissionHandler
}

// Tool is the async function the core invokes from the loop's point of
// view. Concrete tool bodies (shell, file I/O, search, ...) are external
// collaborators; the core only sees this shape.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema describing Arguments, used both to
	// advertise the tool to the model and to validate a call's arguments.
	Schema() map[string]any
	Call(ctx context.Context, callCtx CallContext, args map[string]any) (action.ToolResult, error)
}

// Registry is a name-keyed lookup of the tools available to one agent loop.
// Tools are typically registered once up front, before the loop starts
// running, but Get and Names are safe to call concurrently with further
// Register calls (e.g. a host process adding tools while other agents are
// already dispatching against the same registry).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	// order preserves registration order so Names() and schema listings
	// read the same way every time a caller builds a prompt, rather than
	// shuffling with Go's randomized map iteration.
	order []string
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous registration under the same
// name without disturbing that name's position in registration order.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order, for
// composing error messages and context injections.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ============================================================================
// TYPED ADAPTER
// ============================================================================

// Func is a tool body expressed as a typed Go function: it receives already
// JSON-decoded arguments and the call context, and returns the structured
// result envelope.
type Func[T any] func(ctx context.Context, callCtx CallContext, args T) (action.ToolResult, error)

// Adapter wraps a typed Func as a Tool, generating its JSON schema once from
// the argument type's struct tags (see jsonschema tag conventions in the
// invopop/jsonschema package) and validating every call's raw arguments
// against it before the body runs.
type Adapter[T any] struct {
	name        string
	description string
	schema      map[string]any
	fn          Func[T]
}

// NewAdapter builds an Adapter, deriving the argument schema from T via
// reflection. Panics only on a reflection failure in the type itself (a
// programming error caught at registration time, not at call time).
func NewAdapter[T any](name, description string, fn Func[T]) *Adapter[T] {
	schema, err := GenerateSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("tool: failed to derive schema for %q: %v", name, err))
	}
	return &Adapter[T]{name: name, description: description, schema: schema, fn: fn}
}

func (a *Adapter[T]) Name() string             { return a.name }
func (a *Adapter[T]) Description() string      { return a.description }
func (a *Adapter[T]) Schema() map[string]any   { return a.schema }

// Call decodes the raw arguments into T via a JSON round-trip, validates
// required fields are present, and invokes the typed body. Decode or
// validation failures are tool validation errors per §7 — the loop feeds
// them back to the model as an observation rather than treating them as a
// crash.
func (a *Adapter[T]) Call(ctx context.Context, callCtx CallContext, args map[string]any) (action.ToolResult, error) {
	if err := ValidateArgs(a.schema, args); err != nil {
		return action.ToolResult{}, fmt.Errorf("tool: %s: invalid arguments: %w", a.name, err)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return action.ToolResult{}, fmt.Errorf("tool: %s: cannot re-encode arguments: %w", a.name, err)
	}

	var typed T
	if err := json.Unmarshal(raw, &typed); err != nil {
		return action.ToolResult{}, fmt.Errorf("tool: %s: arguments do not match schema: %w", a.name, err)
	}

	return a.fn(ctx, callCtx, typed)
}

// ============================================================================
// SCHEMA GENERATION & VALIDATION
// ============================================================================

// GenerateSchema reflects a JSON schema out of T's struct tags.
//
// Supported tags (see invopop/jsonschema):
//   - json:"name"                    parameter name
//   - json:",omitempty"              optional parameter
//   - jsonschema:"required"          explicitly mark as required
//   - jsonschema:"description=..."   parameter description
//   - jsonschema:"enum=a|b|c"        allowed values
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("tool: unmarshal schema: %w", err)
	}

	delete(result, "$schema")
	delete(result, "$id")

	if result["type"] != "object" {
		return result, nil
	}

	out := map[string]any{
		"type":       "object",
		"properties": result["properties"],
	}
	if required, ok := result["required"]; ok {
		out["required"] = required
	}
	if additional, ok := result["additionalProperties"]; ok {
		out["additionalProperties"] = additional
	}
	return out, nil
}

// ValidateArgs checks that every field schema marks required is present in
// args. It does not attempt full JSON-schema type checking — the JSON
// round-trip in Adapter.Call surfaces type mismatches as decode errors.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	requiredRaw, ok := schema["required"]
	if !ok {
		return nil
	}

	required, ok := requiredRaw.([]any)
	if !ok {
		return nil
	}

	var missing []string
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %v", missing)
	}
	return nil
}
