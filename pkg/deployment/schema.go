package deployment

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindBool   FieldKind = "bool"
	KindFloat  FieldKind = "float"
	KindSecret FieldKind = "secret"
	KindEnum   FieldKind = "enum"
)

// Field describes one platform setting, so that a UI can render a form for it.
type Field struct {
	Name        string      `json:"name"`
	Kind        FieldKind   `json:"kind"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Description string      `json:"description"`
}

type Schema struct {
	Platform Platform              `json:"platform"`
	Fields   []Field               `json:"fields"`
	New      func() PlatformConfig `json:"-"`
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Decode merges defaults with the raw settings and decodes them into the platform's
// typed configuration. Type mismatches and enum violations are reported as
// validation errors, unknown keys as warnings.
func (s Schema) Decode(raw map[string]interface{}) (PlatformConfig, ValidationResult) {
	result := ValidationResult{}
	merged := make(map[string]interface{}, len(s.Fields))

	for _, f := range s.Fields {
		if f.Default != nil {
			merged[f.Name] = f.Default
		}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		f, known := s.field(k)
		if !known {
			result.AddWarning("unknown setting %q ignored", k)
			continue
		}
		if v == nil || v == "" {
			continue
		}
		if f.Kind == KindEnum {
			str := strings.ToLower(fmt.Sprint(v))
			if !contains(f.Enum, str) {
				result.AddError("%s must be one of %s, got %q", f.Name, strings.Join(f.Enum, ", "), fmt.Sprint(v))
				continue
			}
			v = str
		}
		merged[k] = v
	}

	for _, f := range s.Fields {
		if v, ok := raw[f.Name]; f.Required && (!ok || v == nil || v == "") {
			result.AddError("%s is required", f.Name)
		}
	}

	target := s.New()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		result.AddError("internal decoder error: %s", err)
		return target, result
	}

	if err := decoder.Decode(merged); err != nil {
		var mapErr *mapstructure.Error
		if errors.As(err, &mapErr) {
			for _, msg := range mapErr.Errors {
				result.AddError("%s", msg)
			}
		} else {
			result.AddError("%s", err)
		}
	}

	return target, result
}

// Redact returns a copy of raw settings with secret fields masked.
func (s Schema) Redact(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		f, known := s.field(k)
		if (known && f.Kind == KindSecret) || (!known && looksSecret(k)) {
			if v != nil && v != "" {
				v = Redacted
			}
		}
		out[k] = v
	}
	return out
}

// SecretValues returns the plaintext values of all secret fields present in raw.
func (s Schema) SecretValues(raw map[string]interface{}) []string {
	values := make([]string, 0)
	for _, f := range s.Fields {
		if f.Kind != KindSecret {
			continue
		}
		if str, ok := raw[f.Name].(string); ok && len(str) > 0 {
			values = append(values, str)
		}
	}
	return values
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
