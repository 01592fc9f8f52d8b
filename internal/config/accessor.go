package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "server.port").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, key := range parts {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. Array elements are
// addressed by index ("routes.3.timeoutSeconds").
func SetByPath(cfg *Config, path string, value any) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("empty path")
	}

	var parent any = m
	for i := 0; i < len(parts)-1; i++ {
		next, err := child(parent, parts[i], true)
		if err != nil {
			return err
		}
		parent = next
	}

	lastKey := parts[len(parts)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[lastKey] = parseValue(value)
	case []any:
		idx, err := strconv.Atoi(lastKey)
		if err != nil || idx < 0 || idx >= len(p) {
			return fmt.Errorf("invalid array index: %s", lastKey)
		}
		p[idx] = parseValue(value)
	default:
		return fmt.Errorf("cannot set %s on %T", lastKey, parent)
	}

	newData, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(newData, &updated); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

func child(parent any, key string, create bool) (any, error) {
	switch p := parent.(type) {
	case map[string]any:
		c, ok := p[key]
		if !ok || c == nil {
			if !create {
				return nil, fmt.Errorf("key not found: %s", key)
			}
			newMap := make(map[string]any)
			p[key] = newMap
			return newMap, nil
		}
		return c, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(p) {
			return nil, fmt.Errorf("invalid array index: %s", key)
		}
		return p[idx], nil
	default:
		return nil, fmt.Errorf("cannot traverse into %T at %s", parent, key)
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	return s
}

// Sanitize returns a copy of the config with API keys and target
// environment values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for name, prov := range copy.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		copy.Providers[name] = prov
	}

	for name, t := range copy.Targets {
		for k, v := range t.Env {
			t.Env[k] = maskString(v)
		}
		copy.Targets[name] = t
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
