/*
Package testutil 提供 ChatFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertToolCallsEqual，比较角色、内容与工具调用

# 子包

  - testutil/mocks: MockProvider（可编排的 LLM 后端，记录调用时刻与并发度）
    与 MockTool（记录调用参数的工具）
  - testutil/fixtures: ChatResponse、ToolCall 与对话样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
