package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Schema 是输出约束的抽象。
type Schema interface {
	// Name 返回 Schema 名称（用于日志与 response_format）
	Name() string
	// Describe 返回写入提示词的 Schema 描述
	Describe() string
	// JSONSchema 返回 JSON Schema 文档
	JSONSchema() json.RawMessage
	// Parse 将模型输出解析为目标值，失败时返回 *ViolationError
	Parse(text string) (any, error)
}

// ViolationError 表示模型输出不满足 Schema。
type ViolationError struct {
	Schema string
	Text   string
	Fields []FieldError
	Err    error
}

func (e *ViolationError) Error() string {
	switch {
	case len(e.Fields) > 0:
		return fmt.Sprintf("output does not match schema %s: %s", e.Schema, joinErrors(e.Fields))
	case e.Err != nil:
		return fmt.Sprintf("output does not match schema %s: %v", e.Schema, e.Err)
	default:
		return fmt.Sprintf("output does not match schema %s", e.Schema)
	}
}

func (e *ViolationError) Unwrap() error { return e.Err }

// IsSchemaViolation reports whether err is (or wraps) a *ViolationError.
func IsSchemaViolation(err error) bool {
	var v *ViolationError
	return errors.As(err, &v)
}

// Instructions 返回要求模型按 Schema 输出 JSON 的提示语。
func Instructions(s Schema) string {
	return "Provide your answer in JSON format, respecting this schema:\n" + s.Describe()
}

// Typed 是基于 Go 类型 T 的 Schema 实现。
type Typed[T any] struct {
	name   string
	schema *JSONSchema
	raw    json.RawMessage
}

// NewTyped 从 T 生成 Schema。
func NewTyped[T any]() (*Typed[T], error) {
	s, err := GenerateFor[T]()
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	raw, err := s.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	name := s.Title
	if name == "" {
		name = "output"
	}
	return &Typed[T]{name: name, schema: s, raw: raw}, nil
}

// MustTyped 与 NewTyped 相同，失败时 panic。
func MustTyped[T any]() *Typed[T] {
	t, err := NewTyped[T]()
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Typed[T]) Name() string                { return t.name }
func (t *Typed[T]) Describe() string            { return string(t.raw) }
func (t *Typed[T]) JSONSchema() json.RawMessage { return t.raw }

// Schema 返回生成的 JSON Schema。
func (t *Typed[T]) Schema() *JSONSchema { return t.schema }

// Parse 实现 Schema.Parse，返回 T。
func (t *Typed[T]) Parse(text string) (any, error) {
	return t.ParseTyped(text)
}

// ParseTyped 先按 Schema 校验再解码为 T。
func (t *Typed[T]) ParseTyped(text string) (T, error) {
	var zero T
	payload := ExtractJSON(text)

	var generic any
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return zero, &ViolationError{Schema: t.name, Text: text, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if errs := Validate(generic, t.schema); len(errs) > 0 {
		return zero, &ViolationError{Schema: t.name, Text: text, Fields: errs}
	}

	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return zero, &ViolationError{Schema: t.name, Text: text, Err: err}
	}
	return value, nil
}

// ParseAs 使用 s 解析 text 并断言为 T。
func ParseAs[T any](s Schema, text string) (T, error) {
	var zero T
	if s == nil {
		return zero, errors.New("output schema not set")
	}
	if typed, ok := s.(*Typed[T]); ok {
		return typed.ParseTyped(text)
	}
	v, err := s.Parse(text)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("schema %s produced %T, not %T", s.Name(), v, zero)
	}
	return out, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON 去掉 markdown 代码块包裹，返回其中的 JSON 文本。
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```") {
		if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return text
}
