// =============================================================================
// 📦 测试数据工厂 - LLM 响应测试数据
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return ResponseWithMessage(types.NewAssistantMessage(content))
}

// ResponseWithMessage 将任意 assistant 消息包装为单选项响应
func ResponseWithMessage(msg types.Message) *llm.ChatResponse {
	finish := "stop"
	if msg.HasToolCalls() {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: finish,
			Message:      msg,
		}},
		Usage: SmallUsage(),
	}
}

// EmptyResponse 返回没有任何选项的响应
func EmptyResponse() *llm.ChatResponse {
	return &llm.ChatResponse{ID: "resp-empty", Provider: "mock", Model: "mock-model"}
}

// ToolCall 构造工具调用，args 会被序列化为 JSON
func ToolCall(id, name string, args any) types.ToolCall {
	raw, ok := args.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("fixtures.ToolCall: %v", err))
		}
		raw = data
	}
	return types.ToolCall{ID: id, Name: name, Arguments: raw}
}

// SmallUsage 小量 token 用量
func SmallUsage() llm.ChatUsage {
	return llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
}

// =============================================================================
// 💬 对话样例
// =============================================================================

// Greeting 返回 system + user 的最小对话
func Greeting() []types.Message {
	return []types.Message{
		types.NewSystemMessage("You are a helpful assistant."),
		types.NewUserMessage("Hello!"),
	}
}

// WeatherConversation 返回一段包含工具调用与结果的完整对话
func WeatherConversation() []types.Message {
	call := ToolCall("call_weather", "get_weather", map[string]string{"city": "Paris"})
	return []types.Message{
		types.NewUserMessage("What's the weather in Paris?"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{call}),
		types.NewToolMessage("call_weather", `{"city":"Paris","temperature":21.5}`),
		types.NewAssistantMessage("It is 21.5 degrees in Paris."),
	}
}
