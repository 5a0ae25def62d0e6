package workflow

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/types"
)

// Unbounded lets a run take as many steps as the conversation needs.
// Any budget <= 0 yields no steps.
const Unbounded = math.MaxInt

type runnerState int

const (
	stateAwaitingTools runnerState = iota
	stateAwaitingCompletion
	stateDone
)

func (s runnerState) String() string {
	switch s {
	case stateAwaitingTools:
		return "awaiting_tools"
	case stateAwaitingCompletion:
		return "awaiting_completion"
	default:
		return "done"
	}
}

// StepRunner alternates between tool execution and completions until a
// completion requests no tools or the step budget is spent.
// A StepRunner drives one conversation and is not reusable.
type StepRunner struct {
	workflow *ChatWorkflow
	chat     *Chat
	logger   *zap.Logger
}

// NewStepRunner creates a runner continuing chat with the configuration of w.
func NewStepRunner(w *ChatWorkflow, chat *Chat) *StepRunner {
	return &StepRunner{
		workflow: w,
		chat:     chat,
		logger:   w.logger.With(zap.String("component", "step_runner")),
	}
}

// Run emits one Step per appended message. maxSteps <= 0 yields nothing and
// performs no call; pass Unbounded for no cap. Returning false from yield stops the loop without error.
// Tool and completion errors are returned unchanged.
func (r *StepRunner) Run(ctx context.Context, maxSteps int, yield func(*Step) bool) error {
	var (
		prev  *Step
		index int
	)
	withinBudget := func() bool {
		return index < maxSteps
	}
	emit := func(msg types.Message) bool {
		r.chat = r.chat.Add(msg)
		step := &Step{
			Index:    index,
			Workflow: r.workflow,
			Chat:     r.chat,
			Message:  msg,
			Previous: prev,
		}
		prev = step
		index++

		r.logger.Debug("step",
			zap.Int("index", step.Index),
			zap.String("role", string(msg.Role)),
			zap.Int("tool_calls", len(msg.ToolCalls)),
		)
		r.workflow.metrics.ObserveStep(r.workflow.name, string(msg.Role))
		return yield(step)
	}

	state := stateAwaitingCompletion
	if r.chat.Last().HasToolCalls() {
		state = stateAwaitingTools
	}

	for state != stateDone && withinBudget() {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case stateAwaitingTools:
			// 工具调用取自进入该状态时的最后一条消息
			calls := r.chat.Last().ToolCalls
			for _, call := range calls {
				if !withinBudget() {
					return nil
				}
				msg, found, err := r.workflow.tools.Call(ctx, call, r.chat.Context)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				if !emit(msg) {
					return nil
				}
			}
			state = stateAwaitingCompletion

		case stateAwaitingCompletion:
			msg, err := r.complete(ctx)
			if err != nil {
				return err
			}
			if !emit(msg) {
				return nil
			}
			if msg.HasToolCalls() {
				state = stateAwaitingTools
			} else {
				state = stateDone
			}
		}
	}
	return nil
}

// complete produces the next assistant message. In strict mode a tool-free
// reply that does not parse is requested again, up to 1+numRetries times.
func (r *StepRunner) complete(ctx context.Context) (types.Message, error) {
	w := r.workflow
	params := w.generationParams()
	validate := w.output != nil && w.strict

	attempt := func() (types.Message, error) {
		resp, err := w.generator.Complete(ctx, r.chat.Messages, params)
		if err != nil {
			return types.Message{}, err
		}
		msg := resp.Message
		if validate && !msg.HasToolCalls() {
			if _, err := w.output.Parse(msg.Content); err != nil {
				r.logger.Debug("completion does not match output schema",
					zap.String("schema", w.output.Name()),
					zap.Error(err),
				)
				return types.Message{}, err
			}
		}
		return msg, nil
	}

	if !validate || w.numRetries <= 0 {
		return attempt()
	}
	retryer := retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxAttempts: 1 + w.numRetries,
		Multiplier:  1,
	}, r.logger)
	return retry.DoWithResultTyped(retryer, ctx, attempt, retry.WithRetryIf(structured.IsSchemaViolation))
}

// generationParams merges the workflow tools and output format into the
// per-call parameters.
func (w *ChatWorkflow) generationParams() *llm.GenerationParams {
	var p llm.GenerationParams
	if w.params != nil {
		p = *w.params
	}
	if w.tools.Len() > 0 {
		p.Tools = w.tools.Schemas()
	}
	if w.output != nil {
		p.ResponseFormat = &llm.ResponseFormat{
			Type:   "json_schema",
			Name:   w.output.Name(),
			Schema: w.output.JSONSchema(),
			Strict: w.strict,
		}
	}
	return &p
}
