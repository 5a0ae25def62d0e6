package workflow

import "github.com/BaSui01/chatflow/types"

// Step is one message appended to the conversation.
type Step struct {
	Index    int
	Workflow *ChatWorkflow
	// Chat is the conversation after Message was appended.
	Chat     *Chat
	Message  types.Message
	Previous *Step
}

// History returns the steps leading to s, oldest first, s included.
func (s *Step) History() []*Step {
	var out []*Step
	for cur := s; cur != nil; cur = cur.Previous {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
