package structured

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// FieldError is a validation failure at a JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks a decoded JSON value (as produced by json.Unmarshal into any)
// against schema and returns every violation found.
func Validate(value any, schema *JSONSchema) []FieldError {
	var errs []FieldError
	validateValue(value, schema, "", &errs)
	return errs
}

func validateValue(value any, schema *JSONSchema, path string, errs *[]FieldError) {
	if schema == nil {
		return
	}
	if value == nil {
		if schema.Nullable || schema.Type == "" || schema.Type == TypeNull {
			return
		}
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected %s, got null", schema.Type)})
		return
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, e := range schema.Enum {
			if fmt.Sprint(e) == fmt.Sprint(value) {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value must be one of: %v", schema.Enum)})
		}
	}

	switch schema.Type {
	case TypeString:
		validateString(value, schema, path, errs)
	case TypeNumber:
		if num, ok := value.(float64); ok {
			validateRange(num, schema, path, errs)
		} else {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected number, got %T", value)})
		}
	case TypeInteger:
		num, ok := value.(float64)
		if !ok || num != math.Trunc(num) {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected integer, got %v", value)})
			return
		}
		validateRange(num, schema, path, errs)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected boolean, got %T", value)})
		}
	case TypeObject:
		validateObject(value, schema, path, errs)
	case TypeArray:
		validateArray(value, schema, path, errs)
	}
}

func validateString(value any, schema *JSONSchema, path string, errs *[]FieldError) {
	str, ok := value.(string)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected string, got %T", value)})
		return
	}
	n := len([]rune(str))
	if schema.MinLength != nil && n < *schema.MinLength {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string length %d is less than minimum %d", n, *schema.MinLength)})
	}
	if schema.MaxLength != nil && n > *schema.MaxLength {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string length %d exceeds maximum %d", n, *schema.MaxLength)})
	}
	if schema.Pattern != "" {
		matched, err := regexp.MatchString(schema.Pattern, str)
		if err != nil {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("invalid pattern %q: %v", schema.Pattern, err)})
		} else if !matched {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string does not match pattern %q", schema.Pattern)})
		}
	}
}

func validateRange(num float64, schema *JSONSchema, path string, errs *[]FieldError) {
	if schema.Minimum != nil && num < *schema.Minimum {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value %v is less than minimum %v", num, *schema.Minimum)})
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value %v exceeds maximum %v", num, *schema.Maximum)})
	}
}

func validateObject(value any, schema *JSONSchema, path string, errs *[]FieldError) {
	obj, ok := value.(map[string]any)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected object, got %T", value)})
		return
	}
	for _, name := range schema.Required {
		if _, ok := obj[name]; !ok {
			*errs = append(*errs, FieldError{Path: joinPath(path, name), Message: "required field missing"})
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if prop, ok := schema.Properties[k]; ok {
			validateValue(obj[k], prop, joinPath(path, k), errs)
		} else if schema.AdditionalProperties != nil {
			validateValue(obj[k], schema.AdditionalProperties, joinPath(path, k), errs)
		}
	}
}

func validateArray(value any, schema *JSONSchema, path string, errs *[]FieldError) {
	arr, ok := value.([]any)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected array, got %T", value)})
		return
	}
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("array has %d items, minimum %d", len(arr), *schema.MinItems)})
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("array has %d items, maximum %d", len(arr), *schema.MaxItems)})
	}
	for i, item := range arr {
		validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), errs)
	}
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func joinErrors(errs []FieldError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
