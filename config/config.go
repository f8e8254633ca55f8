// Package config loads autocoder settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/martinemde/autocoder/command"
	"github.com/martinemde/autocoder/logging"
	"github.com/martinemde/autocoder/sandbox"
)

// DefaultPath is read when no path is given. Its absence is not an error.
const DefaultPath = "autocoder.toml"

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full configuration.
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Automode AutomodeConfig `toml:"automode"`
	Log      LogConfig      `toml:"log"`
	Detect   DetectConfig   `toml:"detect"`
}

// LLMConfig selects and tunes the completion backend.
type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	// MaxRetries is zero by default: failed completions are reported, not
	// retried.
	MaxRetries    int `toml:"max_retries"`
	ContextWindow int `toml:"context_window"`
}

// SandboxConfig configures code execution.
type SandboxConfig struct {
	Dir         string   `toml:"dir"`
	Runtime     string   `toml:"runtime"`
	Interpreter string   `toml:"interpreter"`
	Timeout     Duration `toml:"timeout"`
	KillOnExit  bool     `toml:"kill_on_exit"`
}

// AutomodeConfig configures the continuation driver.
type AutomodeConfig struct {
	MaxIterations int `toml:"max_iterations"`
	StallWindow   int `toml:"stall_window"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DetectConfig selects how operations are recognised in text.
type DetectConfig struct {
	Mode string `toml:"mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "groq",
			Model:    "llama3-8b-8192",
		},
		Sandbox: SandboxConfig{
			Dir:        "code_execution_env",
			Runtime:    string(sandbox.RuntimePython),
			Timeout:    Duration{sandbox.DefaultTimeout},
			KillOnExit: true,
		},
		Automode: AutomodeConfig{
			MaxIterations: 25,
			StallWindow:   3,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Detect: DetectConfig{
			Mode: command.ModeBoth,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. The provider's API key variable
// (GROQ_API_KEY for groq) fills api_key only when the file leaves it empty.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv(APIKeyEnv(c.LLM.Provider))
	}
	if v := getenv("AUTOCODER_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("AUTOCODER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// APIKeyEnv names the environment variable holding a provider's API key.
func APIKeyEnv(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.Provider) == "" {
		return errors.New("llm.provider must be set")
	}
	if c.LLM.MaxRetries < 0 {
		return errors.New("llm.max_retries must not be negative")
	}
	if c.LLM.ContextWindow < 0 {
		return errors.New("llm.context_window must not be negative")
	}
	if _, err := sandbox.ParseRuntime(c.Sandbox.Runtime); err != nil {
		return fmt.Errorf("sandbox.runtime: %w", err)
	}
	if c.Sandbox.Timeout.Duration <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Automode.MaxIterations < 0 {
		return errors.New("automode.max_iterations must not be negative")
	}
	if c.Automode.StallWindow < 0 {
		return errors.New("automode.stall_window must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := command.ForMode(c.Detect.Mode); err != nil {
		return fmt.Errorf("detect.mode: %w", err)
	}
	return nil
}

// Encode writes the configuration as TOML, leaving out the API key.
func (c *Config) Encode(w io.Writer) error {
	redacted := *c
	redacted.LLM.APIKey = ""
	return toml.NewEncoder(w).Encode(redacted)
}
