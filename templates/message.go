package templates

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/chatflow/types"
)

// Formattable is implemented by values that know how to present themselves to a model.
type Formattable interface {
	PromptString() string
}

// formatted adapts a Formattable to fmt.Stringer so text/template prints it.
type formatted struct{ v Formattable }

func (f formatted) String() string { return f.v.PromptString() }

// roleMarker brackets a role name inside rendered output. The NUL bytes
// cannot come from YAML or typical template text.
const (
	markerOpen  = "\x00role:"
	markerClose = "\x00"
)

func baseFuncs() template.FuncMap {
	return template.FuncMap{
		"json": toJSON,
		"role": func(role string) (string, error) {
			if !types.Role(role).Valid() {
				return "", fmt.Errorf("unknown role %q", role)
			}
			return markerOpen + role + markerClose, nil
		},
	}
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// prepareVars wraps Formattable values so they print through PromptString.
func prepareVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if f, ok := v.(Formattable); ok {
			out[k] = formatted{f}
			continue
		}
		out[k] = v
	}
	return out
}

func parse(name, text string) (*template.Template, error) {
	return template.New(name).
		Option("missingkey=error").
		Funcs(baseFuncs()).
		Parse(text)
}

func execute(tmpl *template.Template, vars map[string]any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, prepareVars(vars)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderString renders an inline template.
func RenderString(text string, vars map[string]any) (string, error) {
	tmpl, err := parse("inline", text)
	if err != nil {
		return "", templateError("inline", err)
	}
	out, err := execute(tmpl, vars)
	if err != nil {
		return "", templateError("inline", err)
	}
	return out, nil
}

// MessageTemplate is a single message whose content is an inline template.
type MessageTemplate struct {
	Role    types.Role `json:"role" yaml:"role"`
	Content string     `json:"content" yaml:"content"`
}

// Render renders the content with vars.
func (m MessageTemplate) Render(vars map[string]any) (types.Message, error) {
	content, err := RenderString(m.Content, vars)
	if err != nil {
		return types.Message{}, err
	}
	return types.NewMessage(m.Role, content), nil
}

// splitMessages turns marker-delimited output into messages.
// Without markers the whole output is one user message.
func splitMessages(name, rendered string) ([]types.Message, error) {
	first := strings.Index(rendered, markerOpen)
	if first < 0 {
		return []types.Message{types.NewUserMessage(rendered)}, nil
	}
	if strings.TrimSpace(rendered[:first]) != "" {
		return nil, templateError(name, fmt.Errorf("text outside of message blocks"))
	}

	var msgs []types.Message
	rest := rendered[first:]
	for rest != "" {
		rest = strings.TrimPrefix(rest, markerOpen)
		end := strings.Index(rest, markerClose)
		if end < 0 {
			return nil, templateError(name, fmt.Errorf("unterminated role marker"))
		}
		role := types.Role(rest[:end])
		rest = rest[end+len(markerClose):]

		next := strings.Index(rest, markerOpen)
		body := rest
		if next >= 0 {
			body, rest = rest[:next], rest[next:]
		} else {
			rest = ""
		}
		msgs = append(msgs, types.NewMessage(role, strings.TrimSpace(body)))
	}
	return msgs, nil
}

func templateError(name string, err error) error {
	return types.NewError(types.ErrTemplate, fmt.Sprintf("template %s: %v", name, err)).WithCause(err)
}
