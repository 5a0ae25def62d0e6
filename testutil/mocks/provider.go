// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按顺序编排的响应/错误脚本、固定响应、延迟与错误注入，
// 并记录每次调用的请求、时刻与并发度。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

// ErrScriptExhausted 脚本耗尽且未配置兜底响应
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// Step 是脚本中的一项：返回 Response 或 Err
type Step struct {
	Response *llm.ChatResponse
	Err      error
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
	Started  time.Time
}

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name string

	// 响应配置
	script    []Step
	response  *llm.ChatResponse
	err       error
	retryable func(error) bool

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// 行为控制
	delay     time.Duration
	failAfter int

	// 调用记录
	calls       []MockProviderCall
	callCount   int
	inFlight    int
	maxInFlight int
}

var _ llm.Provider = (*MockProvider)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider，默认回复 "Mock response"
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:     "mock",
		response: simpleResponse("Mock response"),
	}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置兜底文本响应
func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.WithChatResponse(simpleResponse(content))
}

// WithChatResponse 设置兜底响应
func (m *MockProvider) WithChatResponse(resp *llm.ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = resp
	return m
}

// WithToolCalls 设置兜底响应为工具调用
func (m *MockProvider) WithToolCalls(toolCalls ...types.ToolCall) *MockProvider {
	msg := types.NewAssistantMessage("").WithToolCalls(toolCalls)
	return m.WithChatResponse(&llm.ChatResponse{
		Provider: "mock",
		Choices:  []llm.ChatChoice{{FinishReason: "tool_calls", Message: msg}},
	})
}

// WithError 设置兜底错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 追加按顺序消费的脚本，耗尽后使用兜底响应
func (m *MockProvider) WithScript(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// ThenRespond 追加一条文本响应
func (m *MockProvider) ThenRespond(content string) *MockProvider {
	return m.WithScript(Step{Response: simpleResponse(content)})
}

// ThenMessage 追加一条任意消息响应
func (m *MockProvider) ThenMessage(msg types.Message) *MockProvider {
	return m.WithScript(Step{Response: &llm.ChatResponse{
		Provider: "mock",
		Choices:  []llm.ChatChoice{{Message: msg}},
	}})
}

// ThenToolCalls 追加一条工具调用响应
func (m *MockProvider) ThenToolCalls(toolCalls ...types.ToolCall) *MockProvider {
	return m.ThenMessage(types.NewAssistantMessage("").WithToolCalls(toolCalls))
}

// ThenFail 追加一条错误
func (m *MockProvider) ThenFail(err error) *MockProvider {
	return m.WithScript(Step{Err: err})
}

// WithDelay 设置每次调用的延迟，可被 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithRetryClassifier 让 MockProvider 实现 llm.RetryClassifier
func (m *MockProvider) WithRetryClassifier(fn func(error) bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryable = fn
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数，优先级最高
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// ShouldRetry 未配置分类器时所有非 ctx 错误都可重试
func (m *MockProvider) ShouldRetry(err error) bool {
	m.mu.Lock()
	fn := m.retryable
	m.mu.Unlock()
	if fn != nil {
		return fn(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Completion 按 completionFunc → failAfter → 脚本 → 兜底错误 → 兜底响应 的顺序生成结果
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	idx := len(m.calls)
	m.calls = append(m.calls, MockProviderCall{Request: cloneRequest(req), Started: time.Now()})
	delay := m.delay
	fn := m.completionFunc
	resp, err := m.next()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.record(idx, nil, ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if fn != nil {
		resp, err = fn(ctx, req)
	}
	m.record(idx, resp, err)
	return resp, err
}

// next 在持锁状态下决定本次结果
func (m *MockProvider) next() (*llm.ChatResponse, error) {
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return nil, errors.New("mock provider: configured to fail after N calls")
	}
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step.Response, step.Err
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.response == nil {
		return nil, ErrScriptExhausted
	}
	return m.response, nil
}

func (m *MockProvider) record(idx int, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[idx].Response = resp
	m.calls[idx].Error = err
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// MaxInFlight 返回观测到的最大并发调用数
func (m *MockProvider) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// StartTimes 返回每次调用的开始时刻（按调用顺序）
func (m *MockProvider) StartTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Started
	}
	return out
}

// Reset 重置调用记录与脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
	m.callCount = 0
	m.maxInFlight = 0
	m.err = nil
}

// --- 预设 Provider 工厂 ---

// NewSuccessProvider 创建总是成功的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewFlakeyProvider 前 failures 次返回 err，之后返回 response
func NewFlakeyProvider(failures int, err error, response string) *MockProvider {
	m := NewMockProvider().WithResponse(response)
	for i := 0; i < failures; i++ {
		m.ThenFail(err)
	}
	return m
}

func simpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      types.NewAssistantMessage(content),
		}},
		Usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func cloneRequest(req *llm.ChatRequest) *llm.ChatRequest {
	if req == nil {
		return nil
	}
	cp := *req
	cp.Messages = make([]llm.Message, len(req.Messages))
	for i, msg := range req.Messages {
		cp.Messages[i] = msg.Clone()
	}
	return &cp
}
