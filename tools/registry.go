package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/martinemde/observagent/llm"
)

// Func is the Go implementation behind a tool. It receives validated
// arguments and returns a JSON-serializable result or an error.
type Func func(ctx context.Context, args Args) (any, error)

// Tool pairs a descriptor with its implementation.
type Tool struct {
	Descriptor Descriptor
	fn         Func
	schema     *gojsonschema.Schema
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.Descriptor.Name }

// Registry manages tool registration and lookup. Iteration follows
// registration order; re-registering a name replaces the tool in place.
type Registry struct {
	tools *orderedmap.OrderedMap[string, *Tool]
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: orderedmap.New[string, *Tool](),
	}
}

// Register binds fn to d. A second registration under the same name
// replaces the first and keeps its position.
func (r *Registry) Register(d Descriptor, fn Func) error {
	if fn == nil {
		return fmt.Errorf("tool %q: nil function", d.Name)
	}
	if err := d.validate(); err != nil {
		return err
	}
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	schema, err := compileSchema(d)
	if err != nil {
		return fmt.Errorf("tool %q: compiling parameter schema: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools.Set(d.Name, &Tool{Descriptor: d, fn: fn, schema: schema})
	return nil
}

// MustRegister is Register for static tool tables; it panics on error.
func (r *Registry) MustRegister(d Descriptor, fn Func) {
	if err := r.Register(d, fn); err != nil {
		panic(err)
	}
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Get(name)
}

// All returns every tool in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ByCategory returns the tools tagged with category in registration order.
// An unknown category yields an empty slice.
func (r *Registry) ByCategory(category string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Tool{}
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Descriptor.Category == category {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Names returns the names of all registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Len()
}

// Definitions returns the completion-request definitions of the named
// tools, in the order given. Unknown names are skipped.
func (r *Registry) Definitions(names ...string) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools.Get(name); ok {
			defs = append(defs, t.Descriptor.Definition())
		}
	}
	return defs
}

// Execute validates args against the named tool's schema and invokes it.
// It returns ErrUnknownTool (wrapped) for an unregistered name, a
// *ValidationError for bad arguments, and a *ToolExecutionError for any
// failure inside the tool, panics included.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	validated, err := prepareArgs(t.Descriptor, t.schema, args)
	if err != nil {
		return nil, err
	}
	return t.invoke(ctx, validated)
}

// ExecuteJSON is Execute for a raw JSON argument object.
func (r *Registry) ExecuteJSON(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	if _, ok := r.Get(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	args, err := llm.ToolCall{Name: name, Arguments: raw}.ArgumentsMap()
	if err != nil {
		return nil, &ValidationError{Tool: name, Problems: []string{"arguments are not a JSON object"}, Cause: err}
	}
	return r.Execute(ctx, name, args)
}

func (t *Tool) invoke(ctx context.Context, args Args) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ToolExecutionError{Tool: t.Descriptor.Name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	out, callErr := t.fn(ctx, args)
	if callErr != nil {
		return nil, &ToolExecutionError{Tool: t.Descriptor.Name, Cause: callErr}
	}
	return out, nil
}
