package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/testutil/fixtures"
	"github.com/BaSui01/chatflow/types"
)

func TestChat_CloneSharesContext(t *testing.T) {
	rc := NewRunContext()
	chat := &Chat{Messages: fixtures.WeatherConversation(), Context: rc}

	cp := chat.Clone()
	cp.Messages[1].ToolCalls[0].Arguments[2] = 'X'
	cp.Messages[0].Content = "changed"

	assert.Equal(t, "What's the weather in Paris?", chat.Messages[0].Content)
	assert.NotEqual(t, byte('X'), chat.Messages[1].ToolCalls[0].Arguments[2])
	assert.Same(t, rc, cp.Context)

	independent := chat.CloneWithContext()
	independent.Context.Set("k", 1)
	assert.NotSame(t, rc, independent.Context)
	assert.False(t, rc.Has("k"))
}

func TestChat_AddDoesNotMutate(t *testing.T) {
	base := &Chat{Messages: make([]types.Message, 1, 8), Context: NewRunContext()}
	base.Messages[0] = types.NewUserMessage("hi")

	a := base.Add(types.NewAssistantMessage("a"))
	b := base.Add(types.NewAssistantMessage("b"))

	assert.Len(t, base.Messages, 1)
	assert.Equal(t, "a", a.Last().Content)
	assert.Equal(t, "b", b.Last().Content)
}

func TestChat_LastAndTranscript(t *testing.T) {
	empty := &Chat{}
	assert.Equal(t, types.Message{}, empty.Last())
	assert.Equal(t, "", empty.Transcript())

	chat := &Chat{Messages: fixtures.WeatherConversation()}
	want := "[user]: What's the weather in Paris?\n" +
		"[assistant]: \n>[tool_call:get_weather:call_weather]: {\"city\":\"Paris\"}\n" +
		"[tool:call_weather]: {\"city\":\"Paris\",\"temperature\":21.5}\n" +
		"[assistant]: It is 21.5 degrees in Paris."
	assert.Equal(t, want, chat.Transcript())
}

func TestChat_OutputWithoutSchema(t *testing.T) {
	chat := &Chat{Messages: []types.Message{types.NewAssistantMessage(`{"a":1}`)}}
	_, err := chat.Parsed()
	assert.ErrorIs(t, err, ErrNoOutputSchema)
	_, err = OutputAs[map[string]any](chat)
	assert.ErrorIs(t, err, ErrNoOutputSchema)
}

func TestChat_JSON(t *testing.T) {
	rc := NewRunContext().withInputs(map[string]any{"lang": "fr"})
	rc.Set("seen", true)
	chat := &Chat{
		Messages: []types.Message{types.NewUserMessage("bonjour")},
		Output:   structured.MustTyped[struct{ A int }](),
		Context:  rc,
		Err:      &RunError{Message: "boom"},
	}

	data, err := json.Marshal(chat)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"messages": [{"role": "user", "content": "bonjour"}],
		"context": {"data": {"seen": true}, "inputs": {"lang": "fr"}},
		"error": {"message": "boom"}
	}`, string(data))

	var back Chat
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Failed())
	assert.Equal(t, "boom", back.Err.Error())
	assert.Equal(t, "fr", back.Context.Inputs()["lang"])
}

func TestRunContext(t *testing.T) {
	rc := NewRunContext()
	assert.False(t, rc.Has("a"))
	assert.Equal(t, "def", rc.GetOr("a", "def"))

	rc.Set("a", 1)
	v, ok := rc.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	cp := rc.Clone()
	cp.Set("b", 2)
	assert.False(t, rc.Has("b"))

	rc.Clear()
	assert.Empty(t, rc.Data())
	assert.True(t, cp.Has("a"))

	var nilCtx *RunContext
	assert.NotNil(t, nilCtx.Clone())
}

func TestStep_History(t *testing.T) {
	s0 := &Step{Index: 0}
	s1 := &Step{Index: 1, Previous: s0}
	s2 := &Step{Index: 2, Previous: s1}

	history := s2.History()
	require.Len(t, history, 3)
	for i, s := range history {
		assert.Equal(t, i, s.Index)
	}
	assert.Len(t, s0.History(), 1)
}

func TestRunnerState_String(t *testing.T) {
	assert.Equal(t, "awaiting_tools", stateAwaitingTools.String())
	assert.Equal(t, "awaiting_completion", stateAwaitingCompletion.String())
	assert.Equal(t, "done", stateDone.String())
}
