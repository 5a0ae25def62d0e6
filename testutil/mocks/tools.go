// MockTool 记录调用参数的工具测试模拟实现。
package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BaSui01/chatflow/llm/tools"
)

// ToolInvocation 记录一次工具调用
type ToolInvocation struct {
	Args       json.RawMessage
	RunContext tools.RunContext
}

// MockTool 是可编排结果的工具
type MockTool struct {
	mu sync.Mutex

	name   string
	result any
	err    error
	fn     func(ctx context.Context, args json.RawMessage, rc tools.RunContext) (any, error)
	calls  []ToolInvocation
}

// NewMockTool 创建返回 result 的工具
func NewMockTool(name string, result any) *MockTool {
	return &MockTool{name: name, result: result}
}

// WithError 让工具返回 err
func (m *MockTool) WithError(err error) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFunc 设置自定义实现
func (m *MockTool) WithFunc(fn func(ctx context.Context, args json.RawMessage, rc tools.RunContext) (any, error)) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Tool 返回可注册的 tools.Tool
func (m *MockTool) Tool() tools.Tool {
	return tools.New(m.name, "mock tool "+m.name, nil, m.invoke)
}

func (m *MockTool) invoke(ctx context.Context, args json.RawMessage, rc tools.RunContext) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolInvocation{Args: append(json.RawMessage(nil), args...), RunContext: rc})
	fn, result, err := m.fn, m.result, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, args, rc)
	}
	return result, err
}

// GetCalls 获取所有调用记录
func (m *MockTool) GetCalls() []ToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolInvocation(nil), m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockTool) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
