package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultBaseURL serves the provider defined by COURSEMATE_API_KEY alone.
const defaultBaseURL = "https://api.openai.com/v1"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references. Unset variables stay as
// written so the mistake is visible.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return val
		}
		return ref
	})
}

// expandSecrets lets tokens, keys, URLs and headers be kept in the
// environment as ${VAR}.
func expandSecrets(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		p.APIKey = expandEnvVars(p.APIKey)
		p.BaseURL = expandEnvVars(p.BaseURL)
		for k, v := range p.Headers {
			p.Headers[k] = expandEnvVars(v)
		}
	}
}

// Load returns Defaults overlaid with the file at path, then with the
// COURSEMATE_* environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		fillZeroes(&cfg)
	}

	applyEnvOverrides(&cfg)
	expandSecrets(&cfg)
	return cfg, nil
}

// LoadRaw decodes the file into a generic tree for dotted-key edits.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes the tree through a temp file and rename, so a crash never
// leaves a half-written config.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// fillZeroes restores defaults for keys the file set to zero or empty.
func fillZeroes(cfg *Config) {
	d := Defaults()
	orDefault(&cfg.LLM.TimeoutSeconds, d.LLM.TimeoutSeconds)
	orDefault(&cfg.Generator.MaxRounds, d.Generator.MaxRounds)
	orDefault(&cfg.Generator.MaxTokens, d.Generator.MaxTokens)
	orDefault(&cfg.Generator.Temperature, d.Generator.Temperature)
	orDefault(&cfg.Store.MaxResults, d.Store.MaxResults)
	orDefault(&cfg.Store.ChunkSize, d.Store.ChunkSize)
	orDefault(&cfg.Store.ChunkOverlap, d.Store.ChunkOverlap)
	orDefault(&cfg.Session.Store, d.Session.Store)
	orDefault(&cfg.Session.MaxHistory, d.Session.MaxHistory)
	orDefault(&cfg.Gateway.Port, d.Gateway.Port)
	orDefault(&cfg.Gateway.Bind, d.Gateway.Bind)
	orDefault(&cfg.Logging.Level, d.Logging.Level)
	orDefault(&cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
	for i := range cfg.LLM.Providers {
		orDefault(&cfg.LLM.Providers[i].API, "openai")
	}
}

// envOverrides maps COURSEMATE_* variables onto config fields. Values that
// do not parse are ignored.
var envOverrides = map[string]func(*Config, string){
	"COURSEMATE_GATEWAY_PORT": func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	},
	"COURSEMATE_GATEWAY_BIND": func(c *Config, v string) { c.Gateway.Bind = v },
	"COURSEMATE_LOG_LEVEL":    func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) },
	"COURSEMATE_LLM_MODEL":    func(c *Config, v string) { c.LLM.Model = v },
	"COURSEMATE_STORE_PATH":   func(c *Config, v string) { c.Store.Path = v },
}

// applyEnvOverrides applies envOverrides. With no provider configured,
// COURSEMATE_API_KEY adds one OpenAI-compatible provider at
// COURSEMATE_BASE_URL.
func applyEnvOverrides(cfg *Config) {
	for name, set := range envOverrides {
		if v := os.Getenv(name); v != "" {
			set(cfg, v)
		}
	}

	key := os.Getenv("COURSEMATE_API_KEY")
	if key == "" || len(cfg.LLM.Providers) > 0 {
		return
	}
	base := os.Getenv("COURSEMATE_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	cfg.LLM.Providers = []ProviderEntry{{Name: "default", API: "openai", BaseURL: base, APIKey: key}}
}
