package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// SchemaGenerator 利用反射从 Go 类型生成 JSON Schema。
type SchemaGenerator struct {
	// 正在处理的类型，用于终止递归类型
	visited map[reflect.Type]bool
}

// NewSchemaGenerator 创建 SchemaGenerator。
func NewSchemaGenerator() *SchemaGenerator {
	return &SchemaGenerator{visited: make(map[reflect.Type]bool)}
}

// GenerateFor 为类型参数 T 生成 Schema。
func GenerateFor[T any]() (*JSONSchema, error) {
	return NewSchemaGenerator().GenerateSchema(reflect.TypeFor[T]())
}

// GenerateSchema 从 Go 类型生成 JSON Schema。
//
// 支持的 jsonschema 标签选项（逗号分隔）：
//   - required：强制必填
//   - enum=a|b|c：枚举值
//   - minimum=0 / maximum=100：数值范围
//   - minLength=1 / maxLength=100：字符串长度
//   - pattern=^[a-z]+$：正则
//   - minItems=1 / maxItems=10：数组长度
func (g *SchemaGenerator) GenerateSchema(t reflect.Type) (*JSONSchema, error) {
	g.visited = make(map[reflect.Type]bool)
	return g.generateSchema(t)
}

func (g *SchemaGenerator) generateSchema(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}

	if t.Kind() == reflect.Ptr {
		s, err := g.generateSchema(t.Elem())
		if err != nil {
			return nil, err
		}
		s.Nullable = true
		return s, nil
	}

	if t == rawMessageType {
		return &JSONSchema{}, nil
	}

	if g.visited[t] {
		return &JSONSchema{Type: TypeObject}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewSchema(TypeString), nil
	case reflect.Bool:
		return NewSchema(TypeBoolean), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewSchema(TypeInteger), nil
	case reflect.Float32, reflect.Float64:
		return NewSchema(TypeNumber), nil
	case reflect.Slice, reflect.Array:
		elem, err := g.generateSchema(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		return NewArraySchema(elem), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", t.Key())
		}
		value, err := g.generateSchema(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		s := NewObjectSchema()
		s.AdditionalProperties = value
		return s, nil
	case reflect.Struct:
		return g.generateStructSchema(t)
	case reflect.Interface:
		return &JSONSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind())
	}
}

func (g *SchemaGenerator) generateStructSchema(t reflect.Type) (*JSONSchema, error) {
	g.visited[t] = true
	defer delete(g.visited, t)

	schema := NewObjectSchema()
	schema.Title = t.Name()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, omitEmpty := jsonFieldName(field)
		if name == "-" {
			continue
		}

		fieldSchema, err := g.generateSchema(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		opts := parseTagOptions(field.Tag.Get("jsonschema"))
		if err := applyOptions(fieldSchema, opts); err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if desc := field.Tag.Get("description"); desc != "" {
			fieldSchema.Description = desc
		}

		_, forced := opts["required"]
		if forced || (!omitEmpty && field.Type.Kind() != reflect.Ptr) {
			schema.Required = append(schema.Required, name)
		}
		schema.Properties[name] = fieldSchema
	}

	return schema, nil
}

// jsonFieldName 从 json 标签中提取字段名与 omitempty 标记。
func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = field.Name
	}
	omitEmpty := false
	for _, p := range parts[1:] {
		if p == "omitempty" || p == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

// parseTagOptions 解析 "opt1,key=value" 形式的标签。
func parseTagOptions(tag string) map[string]string {
	options := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx > 0 {
			options[part[:idx]] = part[idx+1:]
		} else {
			options[part] = ""
		}
	}
	return options
}

func applyOptions(s *JSONSchema, opts map[string]string) error {
	if v, ok := opts["enum"]; ok {
		for _, e := range strings.Split(v, "|") {
			s.Enum = append(s.Enum, strings.TrimSpace(e))
		}
	}
	if v, ok := opts["pattern"]; ok {
		s.Pattern = v
	}

	ints := map[string]**int{
		"minLength": &s.MinLength,
		"maxLength": &s.MaxLength,
		"minItems":  &s.MinItems,
		"maxItems":  &s.MaxItems,
	}
	for key, dst := range ints {
		if v, ok := opts[key]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = &n
		}
	}

	floats := map[string]**float64{
		"minimum": &s.Minimum,
		"maximum": &s.Maximum,
	}
	for key, dst := range floats {
		if v, ok := opts[key]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = &f
		}
	}
	return nil
}
