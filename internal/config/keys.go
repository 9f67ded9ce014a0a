package config

import "strings"

// ParseConfigPath splits a dotted key such as gateway.auth.token.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment: " + raw}
		}
	}
	return parts, nil
}

// parentOf walks to the map holding the last key of path. With create,
// missing or non-map intermediates are replaced by empty maps.
func parentOf(root map[string]any, path []string, create bool) (map[string]any, bool) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	return m, true
}

// GetValueAtPath reads the value at path from a decoded YAML tree.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parentOf(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating maps along the way.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parentOf(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parentOf(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
