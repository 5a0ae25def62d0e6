package structured

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type verdict struct {
	Label  string   `json:"label" jsonschema:"enum=safe|unsafe" description:"classification"`
	Score  float64  `json:"score" jsonschema:"minimum=0,maximum=1"`
	Tags   []string `json:"tags,omitempty" jsonschema:"maxItems=3"`
	Reason *string  `json:"reason"`
	hidden int
}

func TestGenerateFor_Struct(t *testing.T) {
	s, err := GenerateFor[verdict]()
	require.NoError(t, err)

	assert.Equal(t, TypeObject, s.Type)
	assert.ElementsMatch(t, []string{"label", "score"}, s.Required)
	assert.Equal(t, []any{"safe", "unsafe"}, s.Properties["label"].Enum)
	assert.Equal(t, "classification", s.Properties["label"].Description)
	require.NotNil(t, s.Properties["score"].Maximum)
	assert.Equal(t, 1.0, *s.Properties["score"].Maximum)
	assert.Equal(t, TypeArray, s.Properties["tags"].Type)
	assert.Equal(t, 3, *s.Properties["tags"].MaxItems)
	assert.NotContains(t, s.Properties, "hidden")
}

func TestGenerateFor_Recursive(t *testing.T) {
	type node struct {
		Value    int     `json:"value"`
		Children []*node `json:"children,omitempty"`
	}
	s, err := GenerateFor[node]()
	require.NoError(t, err)
	assert.Equal(t, TypeObject, s.Properties["children"].Items.Type)
}

func TestGenerateFor_Unsupported(t *testing.T) {
	_, err := GenerateFor[chan int]()
	assert.Error(t, err)
}

func TestTyped_ParseValid(t *testing.T) {
	schema := MustTyped[verdict]()

	v, err := ParseAs[verdict](schema, `{"label":"safe","score":0.25}`)
	require.NoError(t, err)
	assert.Equal(t, "safe", v.Label)
	assert.Equal(t, 0.25, v.Score)
	assert.Nil(t, v.Reason)
}

func TestTyped_ParseFenced(t *testing.T) {
	schema := MustTyped[verdict]()
	v, err := schema.ParseTyped("```json\n{\"label\":\"unsafe\",\"score\":1}\n```")
	require.NoError(t, err)
	assert.Equal(t, "unsafe", v.Label)
}

func TestTyped_Violations(t *testing.T) {
	schema := MustTyped[verdict]()

	tests := []struct {
		name string
		text string
	}{
		{"not json", "I think it is safe"},
		{"missing field", `{"label":"safe"}`},
		{"enum", `{"label":"maybe","score":0.5}`},
		{"range", `{"label":"safe","score":2}`},
		{"type", `{"label":"safe","score":"high"}`},
		{"too many tags", `{"label":"safe","score":0.1,"tags":["a","b","c","d"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse(tt.text)
			require.Error(t, err)
			assert.True(t, IsSchemaViolation(err))
		})
	}
}

func TestInstructions(t *testing.T) {
	schema := MustTyped[verdict]()
	text := Instructions(schema)
	assert.Contains(t, text, "Provide your answer in JSON format, respecting this schema:\n")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(schema.JSONSchema(), &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, "verdict", schema.Name())
}

func TestValidate_IntegerProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Int64Range(-1<<40, 1<<40).Draw(rt, "n")
		schema := NewSchema(TypeInteger)
		data, _ := json.Marshal(n)
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			rt.Fatal(err)
		}
		if errs := Validate(v, schema); len(errs) != 0 {
			rt.Fatalf("integer %d rejected: %v", n, errs)
		}
		if errs := Validate(float64(n)+0.5, schema); len(errs) == 0 {
			rt.Fatalf("fraction accepted for %d", n)
		}
	})
}
