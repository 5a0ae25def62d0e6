package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/chatflow/llm/ratelimit"
	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/types"
)

const tracerName = "github.com/BaSui01/chatflow/llm"

// GenerationParams 单次补全的生成参数。零值字段表示沿用默认值。
type GenerationParams struct {
	Model          string          `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP           *float32        `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty" yaml:"stop,omitempty"`
	Tools          []ToolSchema    `json:"tools,omitempty" yaml:"-"`
	ToolChoice     string          `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty" yaml:"-"`
}

// Merge 返回以 o 中非零字段覆盖 p 的新参数。
func (p GenerationParams) Merge(o *GenerationParams) GenerationParams {
	if o == nil {
		return p
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != nil {
		p.Temperature = o.Temperature
	}
	if o.TopP != nil {
		p.TopP = o.TopP
	}
	if o.MaxTokens > 0 {
		p.MaxTokens = o.MaxTokens
	}
	if len(o.Stop) > 0 {
		p.Stop = o.Stop
	}
	if len(o.Tools) > 0 {
		p.Tools = o.Tools
	}
	if o.ToolChoice != "" {
		p.ToolChoice = o.ToolChoice
	}
	if o.ResponseFormat != nil {
		p.ResponseFormat = o.ResponseFormat
	}
	return p
}

// Response 是一次补全的结果。
type Response struct {
	Message      Message   `json:"message"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Model        string    `json:"model,omitempty"`
	Usage        ChatUsage `json:"usage"`
	Attempts     int       `json:"attempts"`
}

// Generator 将一次后端调用组合为「限流 + 重试」的调用：
//
//	attempt = retry(throttle(provider.Completion))
//
// 每一次尝试（包括失败的）都占用一个准入名额并消耗一次调度间隔。
// Generator 不可变，With* 方法返回修改后的副本。
type Generator struct {
	provider    Provider
	params      GenerationParams
	limiter     *ratelimit.Limiter
	retryPolicy *retry.RetryPolicy
	observer    Observer
	tracer      trace.Tracer
	logger      *zap.Logger
}

// GeneratorOption 配置 Generator。
type GeneratorOption func(*Generator)

// WithRateLimiter 设置限流器，nil 表示不限流。
func WithRateLimiter(l *ratelimit.Limiter) GeneratorOption {
	return func(g *Generator) { g.limiter = l }
}

// WithRetryPolicy 设置重试策略，nil 表示只调用一次。
func WithRetryPolicy(p *retry.RetryPolicy) GeneratorOption {
	return func(g *Generator) {
		if p == nil {
			g.retryPolicy = nil
			return
		}
		cp := *p
		g.retryPolicy = &cp
	}
}

// WithRetries 以指数退避参数设置重试策略。
func WithRetries(maxAttempts int, initialDelay, maxDelay time.Duration) GeneratorOption {
	return WithRetryPolicy(&retry.RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
	})
}

// WithParams 设置默认生成参数。
func WithParams(p GenerationParams) GeneratorOption {
	return func(g *Generator) { g.params = p }
}

// WithModel 设置默认模型。
func WithModel(model string) GeneratorOption {
	return func(g *Generator) { g.params.Model = model }
}

// WithObserver 设置观测数据接收者。
func WithObserver(o Observer) GeneratorOption {
	return func(g *Generator) {
		if o == nil {
			o = nopObserver{}
		}
		g.observer = o
	}
}

// WithTracer 设置 OpenTelemetry tracer。
func WithTracer(t trace.Tracer) GeneratorOption {
	return func(g *Generator) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if l == nil {
			l = zap.NewNop()
		}
		g.logger = l.With(zap.String("component", "generator"))
	}
}

// NewGenerator 创建 Generator。
func NewGenerator(provider Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider: provider,
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// With 返回应用了 opts 的副本。
func (g *Generator) With(opts ...GeneratorOption) *Generator {
	cp := *g
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// WithRateLimiterID 返回使用 registry 中 id 对应限流器的副本。
func (g *Generator) WithRateLimiterID(registry *ratelimit.Registry, id string) (*Generator, error) {
	l, err := registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return g.With(WithRateLimiter(l)), nil
}

// Provider 返回底层 Provider。
func (g *Generator) Provider() Provider { return g.provider }

// Params 返回默认生成参数。
func (g *Generator) Params() GenerationParams { return g.params }

// RateLimiter 返回限流器，可能为 nil。
func (g *Generator) RateLimiter() *ratelimit.Limiter { return g.limiter }

// RetryPolicy 返回重试策略副本，可能为 nil。
func (g *Generator) RetryPolicy() *retry.RetryPolicy {
	if g.retryPolicy == nil {
		return nil
	}
	cp := *g.retryPolicy
	return &cp
}

// Complete 对 messages 发起一次补全。失败的尝试按重试策略重试；
// 重试耗尽或遇到不可重试的错误时原样返回最后一个错误。
func (g *Generator) Complete(ctx context.Context, messages []Message, params *GenerationParams) (*Response, error) {
	p := g.params.Merge(params)
	req := g.buildRequest(ctx, messages, p)

	attempts := 0
	throttled := func() (*ChatResponse, error) {
		attempts++
		if g.limiter == nil {
			return g.attempt(ctx, req, attempts)
		}
		var resp *ChatResponse
		err := g.limiter.Throttle(ctx, func(waited time.Duration) error {
			g.observer.ObserveThrottleWait(g.limiter.ID(), waited)
			var callErr error
			resp, callErr = g.attempt(ctx, req, attempts)
			return callErr
		})
		return resp, err
	}

	var resp *ChatResponse
	var err error
	if g.retryPolicy == nil {
		resp, err = throttled()
	} else {
		retryer := retry.NewBackoffRetryer(g.retryPolicy, g.logger)
		resp, err = retry.DoWithResultTyped(retryer, ctx, throttled,
			retry.WithRetryIf(g.shouldRetry),
			retry.WithBeforeSleep(func(attempt int, err error, delay time.Duration) {
				g.observer.ObserveRetry(g.provider.Name(), attempt)
				g.logger.Warn("completion attempt failed, retrying",
					zap.String("provider", g.provider.Name()),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
			}),
		)
	}
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "completion returned no choices").
			WithProvider(g.provider.Name())
	}
	choice := resp.Choices[0]
	msg := choice.Message
	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	return &Response{
		Message:      msg.Clone(),
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
		Usage:        resp.Usage,
		Attempts:     attempts,
	}, nil
}

// BatchComplete 并发地对每组 messages 发起补全，结果与输入顺序一致。
// 所有调用都会执行完毕，返回第一个出现的错误。
func (g *Generator) BatchComplete(ctx context.Context, batch [][]Message, params *GenerationParams) ([]*Response, error) {
	results := make([]*Response, len(batch))
	var eg errgroup.Group
	for i, messages := range batch {
		eg.Go(func() error {
			resp, err := g.Complete(ctx, messages, params)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (g *Generator) buildRequest(ctx context.Context, messages []Message, p GenerationParams) *ChatRequest {
	msgs := make([]Message, len(messages))
	for i, m := range messages {
		msgs[i] = m.Clone()
	}
	req := &ChatRequest{
		Model:          p.Model,
		Messages:       msgs,
		MaxTokens:      p.MaxTokens,
		Temperature:    p.Temperature,
		TopP:           p.TopP,
		Stop:           p.Stop,
		Tools:          p.Tools,
		ToolChoice:     p.ToolChoice,
		ResponseFormat: p.ResponseFormat,
	}
	if traceID, ok := types.TraceID(ctx); ok {
		req.TraceID = traceID
	}
	if runID, ok := types.RunID(ctx); ok {
		req.Metadata = map[string]string{"run_id": runID}
	}
	return req
}

// attempt 执行一次原始后端调用并记录 span 与指标。
func (g *Generator) attempt(ctx context.Context, req *ChatRequest, n int) (*ChatResponse, error) {
	ctx, span := g.tracer.Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.provider", g.provider.Name()),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.attempt", n),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := g.provider.Completion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.observer.ObserveAttempt(g.provider.Name(), req.Model, "error", duration, ChatUsage{})
		g.logger.Debug("completion attempt failed",
			zap.String("provider", g.provider.Name()),
			zap.Int("attempt", n),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}
	if resp == nil {
		err := types.NewError(types.ErrUpstreamError, "provider returned nil response").WithProvider(g.provider.Name())
		span.SetStatus(codes.Error, err.Error())
		g.observer.ObserveAttempt(g.provider.Name(), req.Model, "error", duration, ChatUsage{})
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
	)
	g.observer.ObserveAttempt(g.provider.Name(), req.Model, "success", duration, resp.Usage)
	g.logger.Debug("completion attempt succeeded",
		zap.String("provider", g.provider.Name()),
		zap.Int("attempt", n),
		zap.Duration("duration", duration),
	)
	return resp, nil
}

// shouldRetry 判断错误是否为瞬时错误。
func (g *Generator) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if c, ok := g.provider.(RetryClassifier); ok {
		return c.ShouldRetry(err)
	}
	return types.IsRetryable(err) || retry.IsRetryableError(err)
}
