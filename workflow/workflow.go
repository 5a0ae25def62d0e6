package workflow

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/llm/tools"
	"github.com/BaSui01/chatflow/templates"
	"github.com/BaSui01/chatflow/types"
)

const (
	tracerName = "github.com/BaSui01/chatflow/workflow"

	// DefaultName is the name of a workflow built without WithName.
	DefaultName = "chat_workflow"
	// DefaultNumRetries is the schema retry budget set by WithOutput when numRetries < 0.
	DefaultNumRetries = 2
	// OutputInstructionsVar is the template variable holding the output schema instructions.
	OutputInstructionsVar = "output_instructions"
)

type seedKind string

const (
	seedMessage  seedKind = "message"
	seedChat     seedKind = "chat"
	seedTemplate seedKind = "template"
)

// seed is one entry of the initial conversation.
type seed struct {
	kind     seedKind
	message  types.Message
	template string
}

// ChatWorkflow declares a conversation and runs it.
// Values are immutable: every builder method returns a modified copy.
type ChatWorkflow struct {
	name       string
	generator  *llm.Generator
	params     *llm.GenerationParams
	seeds      []seed
	tools      *tools.Registry
	inputs     map[string]any
	output     structured.Schema
	strict     bool
	numRetries int
	rc         *RunContext
	policy     ErrorPolicy

	renderer    templates.Renderer
	maxParallel int

	logger  *zap.Logger
	metrics Observer
	tracer  trace.Tracer
	store   Recorder
}

// Option configures a ChatWorkflow.
type Option func(*ChatWorkflow)

// WithName sets the workflow name used in logs, metrics and records.
func WithName(name string) Option {
	return func(w *ChatWorkflow) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *ChatWorkflow) {
		if l == nil {
			l = zap.NewNop()
		}
		w.logger = l.With(zap.String("component", "workflow"))
	}
}

// WithMetrics sets the run and step observer.
func WithMetrics(o Observer) Option {
	return func(w *ChatWorkflow) {
		if o == nil {
			o = nopObserver{}
		}
		w.metrics = o
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(w *ChatWorkflow) {
		if t != nil {
			w.tracer = t
		}
	}
}

// WithStore persists every finished run. Save errors are logged and do not fail the run.
func WithStore(r Recorder) Option {
	return func(w *ChatWorkflow) { w.store = r }
}

// WithTemplates sets the renderer used by Template seeds.
func WithTemplates(r templates.Renderer) Option {
	return func(w *ChatWorkflow) {
		if r != nil {
			w.renderer = r
		}
	}
}

// WithMaxParallel bounds the number of concurrent replicas. n <= 0 is unbounded.
func WithMaxParallel(n int) Option {
	return func(w *ChatWorkflow) { w.maxParallel = n }
}

// WithParams sets per-workflow generation parameters merged over the generator defaults.
func WithParams(p llm.GenerationParams) Option {
	return func(w *ChatWorkflow) { w.params = &p }
}

// New creates a workflow completing with generator.
func New(generator *llm.Generator, opts ...Option) *ChatWorkflow {
	w := &ChatWorkflow{
		name:       DefaultName,
		generator:  generator,
		inputs:     map[string]any{},
		strict:     true,
		numRetries: DefaultNumRetries,
		rc:         NewRunContext(),
		policy:     PolicyRaise,
		logger:     zap.NewNop().With(zap.String("component", "workflow")),
		metrics:    nopObserver{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.tools = tools.NewRegistry(w.logger)
	if w.renderer == nil {
		w.renderer = templates.NewManager("", w.logger)
	}
	return w
}

// clone copies w. Slices and maps are copied so the copy can be modified freely.
func (w *ChatWorkflow) clone() *ChatWorkflow {
	cp := *w
	cp.seeds = append([]seed(nil), w.seeds...)
	cp.inputs = maps.Clone(w.inputs)
	return &cp
}

// With returns a copy with opts applied.
func (w *ChatWorkflow) With(opts ...Option) *ChatWorkflow {
	cp := w.clone()
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// Name returns the workflow name.
func (w *ChatWorkflow) Name() string { return w.name }

// Generator returns the generator used for completions.
func (w *ChatWorkflow) Generator() *llm.Generator { return w.generator }

// Tools returns the names of the registered tools.
func (w *ChatWorkflow) Tools() []string { return w.tools.Names() }

// Policy returns the error policy.
func (w *ChatWorkflow) Policy() ErrorPolicy { return w.policy }

// Output returns the output schema, or nil.
func (w *ChatWorkflow) Output() structured.Schema { return w.output }

// Chat appends a message whose text is a template rendered with the run inputs.
// An empty role is user.
func (w *ChatWorkflow) Chat(text string, role types.Role) *ChatWorkflow {
	if role == "" {
		role = types.RoleUser
	}
	cp := w.clone()
	cp.seeds = append(cp.seeds, seed{kind: seedChat, message: types.NewMessage(role, text)})
	return cp
}

// Message appends msg verbatim, without rendering.
func (w *ChatWorkflow) Message(msg types.Message) *ChatWorkflow {
	cp := w.clone()
	cp.seeds = append(cp.seeds, seed{kind: seedMessage, message: msg.Clone()})
	return cp
}

// Template appends the messages rendered from the named template.
func (w *ChatWorkflow) Template(name string) *ChatWorkflow {
	cp := w.clone()
	cp.seeds = append(cp.seeds, seed{kind: seedTemplate, template: name})
	return cp
}

// WithTools makes tools available to the model. Tools with an existing name replace it.
func (w *ChatWorkflow) WithTools(ts ...tools.Tool) *ChatWorkflow {
	cp := w.clone()
	cp.tools = w.tools.Clone(ts...)
	return cp
}

// WithOutput sets the output schema. With strict set, tool-free completions
// that do not parse are retried up to numRetries times; numRetries < 0
// selects DefaultNumRetries. A nil schema removes the constraint.
func (w *ChatWorkflow) WithOutput(schema structured.Schema, strict bool, numRetries int) *ChatWorkflow {
	if numRetries < 0 {
		numRetries = DefaultNumRetries
	}
	cp := w.clone()
	cp.output = schema
	cp.strict = strict
	cp.numRetries = numRetries
	return cp
}

// WithInputs merges inputs into the run inputs.
func (w *ChatWorkflow) WithInputs(inputs map[string]any) *ChatWorkflow {
	cp := w.clone()
	maps.Copy(cp.inputs, inputs)
	return cp
}

// WithContext sets the template for each run's context. Every run works on a clone.
func (w *ChatWorkflow) WithContext(rc *RunContext) *ChatWorkflow {
	cp := w.clone()
	cp.rc = rc.Clone()
	return cp
}

// OnError sets the error policy.
func (w *ChatWorkflow) OnError(policy ErrorPolicy) *ChatWorkflow {
	cp := w.clone()
	cp.policy = policy
	return cp
}

// renderVars returns the template variables for a run.
func (w *ChatWorkflow) renderVars(inputs map[string]any) map[string]any {
	vars := make(map[string]any, len(inputs)+1)
	if w.output != nil {
		vars[OutputInstructionsVar] = structured.Instructions(w.output)
	}
	maps.Copy(vars, inputs)
	return vars
}

// initChat builds the seed conversation for one run.
func (w *ChatWorkflow) initChat(ctx context.Context, inputs map[string]any) (*Chat, error) {
	chat := &Chat{
		Output:  w.output,
		Context: w.rc.withInputs(inputs),
	}
	vars := w.renderVars(inputs)
	for _, s := range w.seeds {
		switch s.kind {
		case seedMessage:
			chat.Messages = append(chat.Messages, s.message.Clone())
		case seedChat:
			msg, err := templates.MessageTemplate{Role: s.message.Role, Content: s.message.Content}.Render(vars)
			if err != nil {
				return chat, err
			}
			chat.Messages = append(chat.Messages, msg)
		case seedTemplate:
			msgs, err := w.renderer.Render(ctx, s.template, vars)
			if err != nil {
				return chat, fmt.Errorf("render template %s: %w", s.template, err)
			}
			chat.Messages = append(chat.Messages, msgs...)
		}
	}
	return chat, nil
}

// Run drives one conversation. maxSteps bounds the number of steps
// (Unbounded for none). On failure the error policy decides between a
// *RunError and a chat carrying the failure marker.
func (w *ChatWorkflow) Run(ctx context.Context, maxSteps int) (*Chat, error) {
	return w.run(ctx, w.inputs, maxSteps)
}

func (w *ChatWorkflow) run(ctx context.Context, inputs map[string]any, maxSteps int) (*Chat, error) {
	runID := uuid.NewString()
	ctx = types.WithWorkflowName(types.WithRunID(ctx, runID), w.name)
	ctx, span := w.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.name", w.name),
			attribute.String("workflow.run_id", runID),
			attribute.Int("workflow.max_steps", maxSteps),
		),
	)
	defer span.End()

	logger := w.logger.With(zap.String("workflow", w.name), zap.String("run_id", runID))
	if replica, ok := types.Replica(ctx); ok {
		logger = logger.With(zap.Int("replica", replica))
	}
	start := time.Now()
	logger.Info("run started", zap.Int("max_steps", maxSteps))

	var last *Step
	initial, err := w.initChat(ctx, inputs)
	if err == nil {
		err = NewStepRunner(w, initial).Run(ctx, maxSteps, func(s *Step) bool {
			last = s
			return true
		})
		if err == nil && last == nil {
			err = ErrNoSteps
		}
	}

	steps := 0
	if last != nil {
		steps = last.Index + 1
	}
	duration := time.Since(start)
	span.SetAttributes(attribute.Int("workflow.steps", steps))

	var (
		chat   *Chat
		runErr error
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.ObserveRun(w.name, StatusFailed, duration, steps)
		logger.Info("run failed",
			zap.Int("steps", steps),
			zap.Duration("duration", duration),
			zap.String("policy", string(w.policy)),
			zap.Error(err),
		)
		chat, runErr = w.handleError(err, last, initial)
	} else {
		chat = last.Chat
		w.metrics.ObserveRun(w.name, StatusSuccess, duration, steps)
		logger.Info("run completed", zap.Int("steps", steps), zap.Duration("duration", duration))
	}

	if w.store != nil {
		rec := newRecord(runID, w.name, chat, last, runErr, start)
		if saveErr := w.store.Save(context.WithoutCancel(ctx), runID, rec); saveErr != nil {
			logger.Warn("failed to save run record", zap.Error(saveErr))
		}
	}
	return chat, runErr
}

// handleError applies the error policy to a failed run.
func (w *ChatWorkflow) handleError(err error, last *Step, initial *Chat) (*Chat, error) {
	if w.policy == PolicyRaise || w.policy == "" {
		return nil, &RunError{Message: "step processing failed", LastStep: last, Err: err}
	}

	var chat *Chat
	switch {
	case last != nil:
		chat = last.Chat.Clone()
	case initial != nil:
		chat = initial.Clone()
	default:
		chat = &Chat{Output: w.output, Context: w.rc.withInputs(w.inputs)}
	}
	chat.Err = &RunError{Message: err.Error(), LastStep: last, Err: err}
	return chat, nil
}

// Steps returns the steps of one run as they happen. The error policy is not
// applied: a failure is yielded once as (nil, err) and ends the sequence.
func (w *ChatWorkflow) Steps(ctx context.Context, maxSteps int) iter.Seq2[*Step, error] {
	return func(yield func(*Step, error) bool) {
		ctx := types.WithWorkflowName(types.WithRunID(ctx, uuid.NewString()), w.name)
		chat, err := w.initChat(ctx, w.inputs)
		if err != nil {
			yield(nil, err)
			return
		}
		stopped := false
		err = NewStepRunner(w, chat).Run(ctx, maxSteps, func(s *Step) bool {
			if !yield(s, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}
