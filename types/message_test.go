package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := NewAssistantMessage("").WithToolCalls([]ToolCall{
		{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
	})

	cp := orig.Clone()
	cp.ToolCalls[0].Name = "changed"
	cp.ToolCalls[0].Arguments[2] = 'Q'

	assert.Equal(t, "lookup", orig.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, string(orig.ToolCalls[0].Arguments))
}

func TestMessage_Transcript(t *testing.T) {
	msg := NewAssistantMessage("checking").WithToolCalls([]ToolCall{
		{ID: "c1", Name: "weather", Arguments: json.RawMessage(`{"city":"Paris"}`)},
	})
	assert.Equal(t, "[assistant]: checking\n>[tool_call:weather:c1]: {\"city\":\"Paris\"}", msg.Transcript())
	assert.Equal(t, "[tool:c1]: 12", NewToolMessage("c1", "12").Transcript())
	assert.True(t, msg.HasToolCalls())
	assert.False(t, NewUserMessage("hi").HasToolCalls())
}

func TestMessage_JSONOmitsEmptyContent(t *testing.T) {
	data, err := json.Marshal(NewToolMessage("c1", `"ok"`))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"role":"tool","content":"\"ok\"","tool_call_id":"c1"}`, string(data))

	data, err = json.Marshal(Message{Role: RoleAssistant})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant"}`, string(data))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleTool.Valid())
	assert.False(t, Role("narrator").Valid())
}
