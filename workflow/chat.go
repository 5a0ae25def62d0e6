package workflow

import (
	"errors"
	"strings"

	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/types"
)

// ErrNoOutputSchema is returned when parsing output of a chat without a schema.
var ErrNoOutputSchema = errors.New("output schema not set")

// Chat is the state of a conversation. A Chat produced by a run is never
// mutated afterwards; Add and Clone return new values.
type Chat struct {
	Messages []types.Message   `json:"messages"`
	Output   structured.Schema `json:"-"`
	Context  *RunContext       `json:"context,omitempty"`

	// Err marks a failed run. Set only under PolicyReturn and PolicySkip.
	Err *RunError `json:"error,omitempty"`
}

// Last returns the last message, or the zero Message when the chat is empty.
func (c *Chat) Last() types.Message {
	if len(c.Messages) == 0 {
		return types.Message{}
	}
	return c.Messages[len(c.Messages)-1]
}

// Failed reports whether the chat carries an error marker.
func (c *Chat) Failed() bool {
	return c.Err != nil
}

// Transcript renders every message on its own line.
func (c *Chat) Transcript() string {
	lines := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		lines[i] = m.Transcript()
	}
	return strings.Join(lines, "\n")
}

// Parsed parses the last message with the output schema.
func (c *Chat) Parsed() (any, error) {
	if c.Output == nil {
		return nil, ErrNoOutputSchema
	}
	return c.Output.Parse(c.Last().Content)
}

// OutputAs parses the last message of c into T.
func OutputAs[T any](c *Chat) (T, error) {
	if c.Output == nil {
		var zero T
		return zero, ErrNoOutputSchema
	}
	return structured.ParseAs[T](c.Output, c.Last().Content)
}

// Clone deep-copies the messages. The run context is shared.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Messages = make([]types.Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = m.Clone()
	}
	return &cp
}

// CloneWithContext is Clone with an independent copy of the run context.
func (c *Chat) CloneWithContext() *Chat {
	cp := c.Clone()
	cp.Context = c.Context.Clone()
	return cp
}

// Add returns a new chat with msg appended. The receiver is unchanged.
func (c *Chat) Add(msg types.Message) *Chat {
	cp := *c
	cp.Messages = make([]types.Message, len(c.Messages), len(c.Messages)+1)
	copy(cp.Messages, c.Messages)
	cp.Messages = append(cp.Messages, msg)
	return &cp
}
