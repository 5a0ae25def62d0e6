package workflow

import (
	"encoding/json"
	"fmt"
	"maps"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/ratelimit"
	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/llm/tools"
	"github.com/BaSui01/chatflow/templates"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// 📦 Definition: 可持久化的工作流配置
// =============================================================================

// SeedDefinition is one seed entry. Kind is "message", "chat" or "template".
type SeedDefinition struct {
	Kind       string           `json:"kind" yaml:"kind"`
	Role       types.Role       `json:"role,omitempty" yaml:"role,omitempty"`
	Content    string           `json:"content,omitempty" yaml:"content,omitempty"`
	Template   string           `json:"template,omitempty" yaml:"template,omitempty"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty" yaml:"-"`
	ToolCallID string           `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
}

// OutputDefinition references an output schema by name.
type OutputDefinition struct {
	Schema     string `json:"schema" yaml:"schema"`
	Strict     bool   `json:"strict" yaml:"strict"`
	NumRetries int    `json:"num_retries" yaml:"num_retries"`
}

// RateLimiterDefinition identifies a shared limiter.
type RateLimiterDefinition struct {
	ID       string             `json:"id" yaml:"id"`
	Strategy ratelimit.Strategy `json:"strategy" yaml:"strategy"`
}

// Definition is the serialisable form of a ChatWorkflow. Tools, schemas and
// the provider are referenced by name and resolved by FromDefinition.
type Definition struct {
	Name        string                 `json:"name" yaml:"name"`
	Messages    []SeedDefinition       `json:"messages" yaml:"messages"`
	Inputs      map[string]any         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Tools       []string               `json:"tools,omitempty" yaml:"tools,omitempty"`
	Output      *OutputDefinition      `json:"output,omitempty" yaml:"output,omitempty"`
	ErrorPolicy ErrorPolicy            `json:"error_policy" yaml:"error_policy"`
	MaxParallel int                    `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	RateLimiter *RateLimiterDefinition `json:"rate_limiter,omitempty" yaml:"rate_limiter,omitempty"`
	Retry       *retry.RetryPolicy     `json:"retry,omitempty" yaml:"retry,omitempty"`
	Params      *llm.GenerationParams  `json:"params,omitempty" yaml:"params,omitempty"`
}

// Definition exports the workflow configuration.
func (w *ChatWorkflow) Definition() *Definition {
	def := &Definition{
		Name:        w.name,
		Inputs:      maps.Clone(w.inputs),
		Tools:       w.tools.Names(),
		ErrorPolicy: w.policy,
		MaxParallel: w.maxParallel,
	}
	for _, s := range w.seeds {
		sd := SeedDefinition{Kind: string(s.kind)}
		switch s.kind {
		case seedTemplate:
			sd.Template = s.template
		default:
			sd.Role = s.message.Role
			sd.Content = s.message.Content
			sd.ToolCalls = s.message.Clone().ToolCalls
			sd.ToolCallID = s.message.ToolCallID
		}
		def.Messages = append(def.Messages, sd)
	}
	if w.output != nil {
		def.Output = &OutputDefinition{Schema: w.output.Name(), Strict: w.strict, NumRetries: w.numRetries}
	}
	if w.generator != nil {
		if l := w.generator.RateLimiter(); l != nil {
			def.RateLimiter = &RateLimiterDefinition{ID: l.ID(), Strategy: l.Strategy()}
		}
		def.Retry = w.generator.RetryPolicy()
		if p := w.generator.Params(); p.Model != "" || p.MaxTokens > 0 || p.Temperature != nil {
			def.Params = &p
		}
	}
	if w.params != nil && w.generator != nil {
		p := w.generator.Params().Merge(w.params)
		def.Params = &p
	}
	if def.Params != nil {
		def.Params.Tools = nil
		def.Params.ResponseFormat = nil
	}
	return def
}

// JSON encodes the definition.
func (d *Definition) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// YAML encodes the definition.
func (d *Definition) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// DefinitionFromJSON decodes a definition produced by Definition.JSON.
func DefinitionFromJSON(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	return &d, nil
}

// DefinitionFromYAML decodes a definition produced by Definition.YAML.
func DefinitionFromYAML(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	return &d, nil
}

// Dependencies are the live objects a Definition refers to by name.
type Dependencies struct {
	Provider llm.Provider
	// Limiters resolves RateLimiter so that reloaded workflows share the
	// clock and gate of live ones. Required when the definition has a limiter.
	Limiters *ratelimit.Registry
	// Tools is the catalogue tool names are looked up in.
	Tools *tools.Registry
	// Schemas maps output schema names to schemas.
	Schemas  map[string]structured.Schema
	Renderer templates.Renderer
	Logger   *zap.Logger

	GeneratorOptions []llm.GeneratorOption
	Options          []Option
}

// FromDefinition rebuilds a workflow. Unknown tools, schemas and policies are errors.
func FromDefinition(def *Definition, deps Dependencies) (*ChatWorkflow, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("workflow %s: provider is required", def.Name)
	}
	policy, err := ParseErrorPolicy(string(def.ErrorPolicy))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", def.Name, err)
	}

	genOpts := []llm.GeneratorOption{llm.WithLogger(deps.Logger), llm.WithRetryPolicy(def.Retry)}
	if def.RateLimiter != nil {
		if deps.Limiters == nil {
			return nil, fmt.Errorf("workflow %s: rate limiter %s needs a limiter registry", def.Name, def.RateLimiter.ID)
		}
		l, err := deps.Limiters.GetOrCreate(def.RateLimiter.ID, def.RateLimiter.Strategy)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", def.Name, err)
		}
		genOpts = append(genOpts, llm.WithRateLimiter(l))
	}
	if def.Params != nil {
		genOpts = append(genOpts, llm.WithParams(*def.Params))
	}
	genOpts = append(genOpts, deps.GeneratorOptions...)

	opts := []Option{
		WithName(def.Name),
		WithLogger(deps.Logger),
		WithTemplates(deps.Renderer),
		WithMaxParallel(def.MaxParallel),
	}
	opts = append(opts, deps.Options...)
	w := New(llm.NewGenerator(deps.Provider, genOpts...), opts...)

	for i, sd := range def.Messages {
		switch seedKind(sd.Kind) {
		case seedMessage:
			msg := types.Message{Role: sd.Role, Content: sd.Content, ToolCallID: sd.ToolCallID}
			w = w.Message(msg.WithToolCalls(sd.ToolCalls))
		case seedChat:
			w = w.Chat(sd.Content, sd.Role)
		case seedTemplate:
			w = w.Template(sd.Template)
		default:
			return nil, fmt.Errorf("workflow %s: message %d has unknown kind %q", def.Name, i, sd.Kind)
		}
	}

	if len(def.Tools) > 0 {
		ts := make([]tools.Tool, 0, len(def.Tools))
		for _, name := range def.Tools {
			var (
				t  tools.Tool
				ok bool
			)
			if deps.Tools != nil {
				t, ok = deps.Tools.Get(name)
			}
			if !ok {
				return nil, fmt.Errorf("workflow %s: %w", def.Name,
					types.NewError(types.ErrToolNotFound, "tool "+name+" is not registered"))
			}
			ts = append(ts, t)
		}
		w = w.WithTools(ts...)
	}

	if def.Output != nil {
		schema, ok := deps.Schemas[def.Output.Schema]
		if !ok {
			return nil, fmt.Errorf("workflow %s: unknown output schema %s", def.Name, def.Output.Schema)
		}
		w = w.WithOutput(schema, def.Output.Strict, def.Output.NumRetries)
	}

	return w.WithInputs(def.Inputs).OnError(policy), nil
}
