package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Values wraps a map[string]any for type-safe value extraction.
// Accessors return the default when the key is missing or the value
// cannot be converted to the requested type.
type Values map[string]any

// String returns the string value for key, or def.
func (v Values) String(key, def string) string {
	val, ok := v[key]
	if !ok {
		return def
	}
	if s, ok := val.(string); ok {
		return s
	}
	return def
}

// Int returns the integer value for key, or def.
func (v Values) Int(key string, def int) int {
	val, ok := v[key]
	if !ok {
		return def
	}
	switch n := val.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// Bool returns the boolean value for key, or def.
func (v Values) Bool(key string, def bool) bool {
	val, ok := v[key]
	if !ok {
		return def
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return def
}

// FromFile loads a YAML settings file into Values.
func FromFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Values(m), nil
}
