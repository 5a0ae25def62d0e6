package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
// MaxAttempts 包含首次调用：3 表示最多调用 3 次
type RetryPolicy struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts"`   // 最大尝试次数（<=1 表示不重试）
	InitialDelay    time.Duration `json:"initial_delay" yaml:"initial_delay"` // 第一次重试前的等待时间
	MaxDelay        time.Duration `json:"max_delay" yaml:"max_delay"`         // 最大延迟时间（0 表示不封顶）
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`       // 延迟时间倍增因子（指数退避）
	Jitter          bool          `json:"jitter" yaml:"jitter"`               // 是否添加随机抖动
	RetryableErrors []error       `json:"-" yaml:"-"`                         // 可重试的错误类型（为空则重试所有错误）
}

// DefaultRetryPolicy 返回默认的重试策略
// 适用于大部分 LLM API 调用场景
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Option 单次调用级别的重试选项
type Option func(*callOptions)

type callOptions struct {
	retryIf     func(error) bool
	beforeSleep func(attempt int, err error, delay time.Duration)
}

// WithRetryIf 设置错误过滤器，返回 false 的错误立即返回且不等待
func WithRetryIf(pred func(error) bool) Option {
	return func(o *callOptions) {
		o.retryIf = pred
	}
}

// WithBeforeSleep 设置每次等待前的回调，attempt 为刚失败的尝试序号（从 1 开始）
func WithBeforeSleep(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *callOptions) {
		o.beforeSleep = fn
	}
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error, opts ...Option) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error), opts ...Option) (any, error)

	// Policy 返回生效的策略副本
	Policy() RetryPolicy
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验（在副本上进行，不修改调用方的策略）
	p := *policy
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Policy 实现 Retryer.Policy
func (r *backoffRetryer) Policy() RetryPolicy {
	return r.policy
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error, opts ...Option) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	}, opts...)
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 可选抖动 + 错误过滤
// 重试耗尽时原样返回最后一次的错误
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error), opts ...Option) (any, error) {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var lastErr error
	var result any

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, lastErr = fn()

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功",
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		// 检查是否可重试
		if !r.isRetryable(o, lastErr) {
			r.logger.Debug("错误不可重试",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			return nil, lastErr
		}

		// 检查是否还有重试次数
		if attempt >= r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)

		r.logger.Debug("重试中",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		if o.beforeSleep != nil {
			o.beforeSleep(attempt, lastErr, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("重试被取消: %w", errors.Join(err, lastErr))
		}
	}

	// 所有重试都失败了
	if r.policy.MaxAttempts > 1 {
		r.logger.Warn("重试次数耗尽",
			zap.Int("attempts", r.policy.MaxAttempts),
			zap.Error(lastErr),
		)
	}

	return nil, lastErr
}

// Delay 计算第 attempt 次失败之后的等待时间（attempt 从 1 开始）
// delay = initial * multiplier^(attempt-1)，上限 MaxDelay，可选 ±25% 抖动
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))

	// 限制最大延迟
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// 添加随机抖动（±25%）
	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试
func (r *backoffRetryer) isRetryable(o *callOptions, err error) bool {
	if err == nil {
		return false
	}

	if o.retryIf != nil {
		return o.retryIf(err)
	}

	// 如果没有配置可重试错误列表，则所有错误都可重试
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// sleep 等待 d，同时监听 context 取消
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryableError 可重试的错误类型
// 用于标记哪些错误应该触发重试
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
// 注意：这与 types.IsRetryable 语义不同，本函数检查 *RetryableError 包装类型，
// 而 types.IsRetryable 检查 *types.Error 的 Retryable 字段。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
