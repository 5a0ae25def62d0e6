package providers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

// 429、5xx 与 529 必须可重试；其余 4xx 不可重试
func TestProperty_HTTPStatusRetryClassification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("retryable iff 408, 409, 429 or 5xx", prop.ForAll(
		func(status int, msg string) bool {
			e := MapHTTPError(status, msg, "p")
			want := status == http.StatusTooManyRequests || status == http.StatusRequestTimeout ||
				status == http.StatusConflict || status >= 500
			if e.Retryable != want {
				t.Logf("status %d: retryable=%v want %v", status, e.Retryable, want)
				return false
			}
			return e.HTTPStatus == status && e.Provider == "p" && e.Message == msg
		},
		gen.IntRange(400, 599),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestMapHTTPError_Codes(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		want   types.ErrorCode
	}{
		{http.StatusUnauthorized, "", types.ErrAuthentication},
		{http.StatusForbidden, "", types.ErrForbidden},
		{http.StatusNotFound, "no such model", types.ErrModelNotFound},
		{http.StatusTooManyRequests, "", types.ErrRateLimited},
		{http.StatusBadRequest, "insufficient quota", types.ErrQuotaExceeded},
		{http.StatusBadRequest, "Credit balance too low", types.ErrQuotaExceeded},
		{http.StatusBadRequest, "bad field", types.ErrInvalidRequest},
		{http.StatusGatewayTimeout, "", types.ErrUpstreamTimeout},
		{http.StatusServiceUnavailable, "", types.ErrServiceUnavailable},
		{StatusModelOverloaded, "", types.ErrModelOverloaded},
		{http.StatusBadGateway, "", types.ErrUpstreamError},
		{http.StatusConflict, "", types.ErrUpstreamError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapHTTPError(tt.status, tt.msg, "p").Code, "status %d", tt.status)
	}
}

func TestMapHTTPError_ConflictIsRetryable(t *testing.T) {
	e := MapHTTPError(http.StatusConflict, "conflict", "p")
	assert.True(t, e.Retryable)
	assert.True(t, types.IsRetryable(e))
	assert.False(t, MapHTTPError(http.StatusUnprocessableEntity, "", "p").Retryable)
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "oops (type: server)", ReadErrorMessage(strings.NewReader(`{"error":{"message":"oops","type":"server"}}`)))
	assert.Equal(t, "oops", ReadErrorMessage(strings.NewReader(`{"error":{"message":"oops"}}`)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader("plain text\n")))
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.ChatRequest{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
}

func TestConvertResponseFormat(t *testing.T) {
	assert.Nil(t, ConvertResponseFormat(nil))

	rf := ConvertResponseFormat(&llm.ResponseFormat{Type: "json_object"})
	assert.Equal(t, "json_object", rf.Type)
	assert.Nil(t, rf.JSONSchema)

	rf = ConvertResponseFormat(&llm.ResponseFormat{Type: "json_schema", Name: "verdict", Strict: true})
	assert.Equal(t, "verdict", rf.JSONSchema.Name)
	assert.True(t, rf.JSONSchema.Strict)
}

func TestToLLMChatResponse_EmptyArguments(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{Choices: []OpenAICompatChoice{{
		Message: OpenAICompatMessage{ToolCalls: []OpenAICompatToolCall{{ID: "1", Function: OpenAICompatCalled{Name: "f"}}}},
	}}}, "p")
	assert.Equal(t, "{}", string(resp.Choices[0].Message.ToolCalls[0].Arguments))
	assert.True(t, resp.CreatedAt.IsZero())
}
