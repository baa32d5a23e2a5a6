package tools

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// ParameterSchema 工具参数的 JSON Schema，顶层总是 object
type ParameterSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]PropertySchema `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitempty"`
}

// PropertySchema 单个参数的 Schema
type PropertySchema struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description,omitempty"`
	Enum        []string                  `json:"enum,omitempty"`
	Items       *PropertySchema           `json:"items,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// propertyNames 参数名按字典序排列
func (s ParameterSchema) propertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 按 Schema 校验模型给出的参数
//
// 模型输出的 JSON 数字都解析为 float64，integer 只要求没有小数部分。
func Validate(schema ParameterSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required parameter: %s", name)
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			if schema.AdditionalProperties {
				continue
			}
			return fmt.Errorf("unexpected parameter: %s", name)
		}
		if err := checkValue(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(name string, prop PropertySchema, value any) error {
	if value == nil {
		return nil
	}
	mismatch := func() error {
		return fmt.Errorf("parameter %s: expected %s, got %T", name, prop.Type, value)
	}

	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return mismatch()
		}
		if len(prop.Enum) > 0 && !slices.Contains(prop.Enum, s) {
			return fmt.Errorf("parameter %s: %q not in %v", name, s, prop.Enum)
		}
	case "number":
		if _, ok := toFloat(value); !ok {
			return mismatch()
		}
	case "integer":
		f, ok := toFloat(value)
		if !ok || f != float64(int64(f)) {
			return mismatch()
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return mismatch()
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return mismatch()
		}
	case "array":
		v := reflect.ValueOf(value)
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return mismatch()
		}
		if prop.Items == nil {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkValue(name+"["+strconv.Itoa(i)+"]", *prop.Items, v.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// SchemaFromStruct 由结构体的 json、desc、required 标签生成参数 Schema
//
//	type TaskArgs struct {
//	    ID string `json:"id" desc:"Task identifier" required:"true"`
//	}
func SchemaFromStruct(v any) ParameterSchema {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return ParameterSchema{Type: "object"}
	}

	schema := ParameterSchema{Type: "object", Properties: make(map[string]PropertySchema)}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		prop := propertyFor(f.Type)
		prop.Description = f.Tag.Get("desc")
		schema.Properties[name] = prop
		if req := f.Tag.Get("required"); req == "true" || req == "1" {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func propertyFor(t reflect.Type) PropertySchema {
	switch t.Kind() {
	case reflect.Pointer:
		return propertyFor(t.Elem())
	case reflect.String:
		return PropertySchema{Type: "string"}
	case reflect.Bool:
		return PropertySchema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return PropertySchema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return PropertySchema{Type: "number"}
	case reflect.Slice, reflect.Array:
		items := propertyFor(t.Elem())
		return PropertySchema{Type: "array", Items: &items}
	case reflect.Struct:
		nested := SchemaFromStruct(reflect.New(t).Elem().Interface())
		return PropertySchema{Type: "object", Properties: nested.Properties, Required: nested.Required}
	case reflect.Map:
		return PropertySchema{Type: "object"}
	}
	return PropertySchema{Type: "string"}
}

// Describe 生成工具清单的纯文本说明，必填参数带 * 标记
func Describe(tools []Tool) string {
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "%s: %s\n", t.Name(), t.Description())
		schema := t.Parameters()
		for _, name := range schema.propertyNames() {
			prop := schema.Properties[name]
			mark := ""
			if slices.Contains(schema.Required, name) {
				mark = "*"
			}
			fmt.Fprintf(&sb, "  %s%s (%s)", name, mark, prop.Type)
			if prop.Description != "" {
				sb.WriteString(" " + prop.Description)
			}
			if len(prop.Enum) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(prop.Enum, "|"))
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
