package tool

import "fmt"

// ConfigError reports an invalid tool registration.
type ConfigError struct {
	Tool    string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("tool: %s", e.Message)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// ArgumentError reports a malformed or schema-violating argument payload.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid arguments: %v", e.Err)
	}
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }
