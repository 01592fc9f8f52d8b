package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for scriptgate.
type Config struct {
	Server    ServerConfig              `json:"server" yaml:"server" toml:"server"`
	Log       LogConfig                 `json:"log" yaml:"log" toml:"log"`
	Runner    RunnerConfig              `json:"runner" yaml:"runner" toml:"runner"`
	Targets   map[string]TargetConfig   `json:"targets" yaml:"targets" toml:"targets"`
	Routes    []RouteConfig             `json:"routes" yaml:"routes" toml:"routes"`
	Chat      ChatConfig                `json:"chat" yaml:"chat" toml:"chat"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Audit     AuditConfig               `json:"audit" yaml:"audit" toml:"audit"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type ServerConfig struct {
	Host                   string   `json:"host" yaml:"host" toml:"host"`
	Port                   int      `json:"port" yaml:"port" toml:"port"`
	ServiceName            string   `json:"serviceName" yaml:"serviceName" toml:"serviceName"`
	MaxBodyBytes           int64    `json:"maxBodyBytes" yaml:"maxBodyBytes" toml:"maxBodyBytes"`
	CORSOrigins            []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty" toml:"corsOrigins,omitempty"`
	ShutdownTimeoutSeconds int      `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds" toml:"shutdownTimeoutSeconds"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`    // debug | info | warn | error
	Format string `json:"format" yaml:"format" toml:"format"` // auto | text | json
	File   string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
}

// RunnerConfig bounds every external computation the gateway launches.
type RunnerConfig struct {
	WorkDir            string `json:"workDir" yaml:"workDir" toml:"workDir"`
	MaxOutputBytes     int    `json:"maxOutputBytes" yaml:"maxOutputBytes" toml:"maxOutputBytes"`
	MaxDiagnosticBytes int    `json:"maxDiagnosticBytes" yaml:"maxDiagnosticBytes" toml:"maxDiagnosticBytes"`
	KillGraceSeconds   int    `json:"killGraceSeconds" yaml:"killGraceSeconds" toml:"killGraceSeconds"`
}

// TargetConfig describes how to launch one external computation. The argv is
// command, then args, then script (resolved against dir) when set.
type TargetConfig struct {
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Script  string            `json:"script,omitempty" yaml:"script,omitempty" toml:"script,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// Route kinds.
const (
	RouteScript  = "script"
	RouteChat    = "chat"
	RouteHealth  = "health"
	RouteDocs    = "docs"
	RouteMetrics = "metrics"
)

type RouteConfig struct {
	Name           string         `json:"name" yaml:"name" toml:"name"`
	Method         string         `json:"method" yaml:"method" toml:"method"`
	Path           string         `json:"path" yaml:"path" toml:"path"`
	Kind           string         `json:"kind" yaml:"kind" toml:"kind"`
	Target         string         `json:"target,omitempty" yaml:"target,omitempty" toml:"target,omitempty"`
	Summary        string         `json:"summary,omitempty" yaml:"summary,omitempty" toml:"summary,omitempty"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Required       []string       `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Optional       []string       `json:"optional,omitempty" yaml:"optional,omitempty" toml:"optional,omitempty"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds,omitempty"`
	Example        map[string]any `json:"example,omitempty" yaml:"example,omitempty" toml:"example,omitempty"`
}

type ChatConfig struct {
	Provider         string            `json:"provider" yaml:"provider" toml:"provider"`
	Model            string            `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	MaxTokens        int               `json:"maxTokens" yaml:"maxTokens" toml:"maxTokens"`
	MaxHistoryTurns  int               `json:"maxHistoryTurns" yaml:"maxHistoryTurns" toml:"maxHistoryTurns"`
	BookingURL       string            `json:"bookingUrl" yaml:"bookingUrl" toml:"bookingUrl"`
	SystemPrompt     string            `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty" toml:"systemPrompt,omitempty"`
	SystemPromptFile string            `json:"systemPromptFile,omitempty" yaml:"systemPromptFile,omitempty" toml:"systemPromptFile,omitempty"`
	Greetings        map[string]string `json:"greetings,omitempty" yaml:"greetings,omitempty" toml:"greetings,omitempty"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty" toml:"defaultModel,omitempty"`
	Target         string `json:"target,omitempty" yaml:"target,omitempty" toml:"target,omitempty"` // script provider only
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds,omitempty"`
}

// AuditConfig configures the invocation outcome log. Only metadata is
// recorded (route, target, outcome kind, duration), never payloads.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath" toml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays" toml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.scriptgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptgate"
	}
	return filepath.Join(home, ".scriptgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch formatFor(path) {
	case formatYAML:
		return yaml.Unmarshal(data, cfg)
	case formatTOML:
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) expandPaths() {
	c.Runner.WorkDir = ExpandPath(c.Runner.WorkDir)
	c.Audit.DBPath = ExpandPath(c.Audit.DBPath)
	c.Log.File = ExpandPath(c.Log.File)
	c.Chat.SystemPromptFile = ExpandPath(c.Chat.SystemPromptFile)
	for name, t := range c.Targets {
		t.Dir = ExpandPath(t.Dir)
		c.Targets[name] = t
	}
}

// ApplyEnv overlays the handful of environment knobs the service has always
// honoured. Values in the file win for API keys; PORT and LOG_LEVEL always win.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	} else if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		cfg.Log.Level = "debug"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if pc, ok := cfg.Providers["claude"]; ok && pc.APIKey == "" {
			pc.APIKey = v
			cfg.Providers["claude"] = pc
		}
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chat.MaxTokens = n
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch formatFor(path) {
	case formatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(cfg); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	case formatTOML:
		data, err = toml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, "log.format must be one of: auto, text, json")
	}

	if cfg.Runner.MaxOutputBytes < 1 {
		errs = append(errs, "runner.maxOutputBytes must be >= 1")
	}
	if cfg.Runner.MaxDiagnosticBytes < 1 {
		errs = append(errs, "runner.maxDiagnosticBytes must be >= 1")
	}
	if cfg.Runner.KillGraceSeconds < 1 {
		errs = append(errs, "runner.killGraceSeconds must be >= 1")
	}

	for name, t := range cfg.Targets {
		if strings.TrimSpace(t.Command) == "" {
			errs = append(errs, fmt.Sprintf("targets.%s: command is required", name))
		}
	}

	seen := make(map[string]bool)
	hasChat := false
	for i, r := range cfg.Routes {
		label := r.Name
		if label == "" {
			label = strconv.Itoa(i)
		}
		switch r.Method {
		case "GET", "POST":
		default:
			errs = append(errs, fmt.Sprintf("routes.%s: method must be GET or POST", label))
		}
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Sprintf("routes.%s: path must start with /", label))
		}
		key := r.Method + " " + r.Path
		if seen[key] {
			errs = append(errs, fmt.Sprintf("routes.%s: duplicate route %s", label, key))
		}
		seen[key] = true

		switch r.Kind {
		case RouteScript:
			if _, ok := cfg.Targets[r.Target]; !ok {
				errs = append(errs, fmt.Sprintf("routes.%s: unknown target %q", label, r.Target))
			}
			if r.TimeoutSeconds < 1 {
				errs = append(errs, fmt.Sprintf("routes.%s: timeoutSeconds must be >= 1", label))
			}
		case RouteChat:
			hasChat = true
			if r.TimeoutSeconds < 1 {
				errs = append(errs, fmt.Sprintf("routes.%s: timeoutSeconds must be >= 1", label))
			}
		case RouteHealth, RouteDocs, RouteMetrics:
		default:
			errs = append(errs, fmt.Sprintf("routes.%s: unknown kind %q", label, r.Kind))
		}
	}

	if hasChat {
		pc, ok := cfg.Providers[cfg.Chat.Provider]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("chat.provider references unknown provider: %s", cfg.Chat.Provider))
		case !pc.Enabled:
			errs = append(errs, fmt.Sprintf("chat.provider %s is disabled", cfg.Chat.Provider))
		}
		if cfg.Chat.MaxHistoryTurns < 1 {
			errs = append(errs, "chat.maxHistoryTurns must be >= 1")
		}
		if cfg.Chat.MaxTokens < 1 {
			errs = append(errs, "chat.maxTokens must be >= 1")
		}
		if cfg.Chat.BookingURL == "" {
			errs = append(errs, "chat.bookingUrl is required")
		}
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if name == "script" {
			if _, ok := cfg.Targets[pc.Target]; !ok {
				errs = append(errs, fmt.Sprintf("providers.script: unknown target %q", pc.Target))
			}
			continue
		}
		if pc.APIBase == "" && name != "claude" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.DBPath == "" {
			errs = append(errs, "audit.dbPath is required when audit is enabled")
		}
		if cfg.Audit.RetentionDays < 1 {
			errs = append(errs, "audit.retentionDays must be >= 1")
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
