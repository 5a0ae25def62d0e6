package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/types"
)

// Registry holds tools by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry creates a registry holding tools. Later tools replace earlier ones with the same name.
func NewRegistry(logger *zap.Logger, tools ...Tool) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.tools[t.Name]
	r.tools[t.Name] = t
	r.logger.Debug("tool registered", zap.String("name", t.Name), zap.Bool("replaced", replaced))
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	r.logger.Debug("tool unregistered", zap.String("name", name))
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the function-calling schemas in name order.
func (r *Registry) Schemas() []types.ToolSchema {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]types.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Clone returns an independent registry with the same tools plus extra.
func (r *Registry) Clone(extra ...Tool) *Registry {
	r.mu.RLock()
	cp := &Registry{
		tools:  make(map[string]Tool, len(r.tools)+len(extra)),
		logger: r.logger,
	}
	for name, t := range r.tools {
		cp.tools[name] = t
	}
	r.mu.RUnlock()

	for _, t := range extra {
		cp.tools[t.Name] = t
	}
	return cp
}

// Call executes a model tool call. found is false when no tool has the
// requested name; the caller decides whether that is an error.
func (r *Registry) Call(ctx context.Context, call types.ToolCall, rc RunContext) (msg types.Message, found bool, err error) {
	t, ok := r.Get(call.Name)
	if !ok {
		r.logger.Warn("model requested unknown tool, skipping",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.ID),
		)
		return types.Message{}, false, nil
	}

	start := time.Now()
	content, err := t.Invoke(ctx, call.Arguments, rc)
	if err != nil {
		r.logger.Debug("tool call failed",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.ID),
			zap.Error(err),
		)
		return types.Message{}, true, err
	}

	r.logger.Debug("tool call completed",
		zap.String("tool", call.Name),
		zap.String("tool_call_id", call.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return types.NewToolMessage(call.ID, content), true, nil
}
