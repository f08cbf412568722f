// Package config loads the service configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"deployhook/pkg/cmdutil"
	"deployhook/pkg/fileutil"
)

const (
	DefaultSecret         = "your-webhook-secret"
	DefaultProjectPath    = "/app/flearn"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 3001
	DefaultServiceName    = "FLEARN Webhook Service"
	DefaultSelfService    = "webhook"
	DefaultRemote         = "origin"
	DefaultBranch         = "main"
	DefaultDelay          = time.Second
	DefaultCommandTimeout = 10 * time.Minute
	DefaultRunTimeout     = 30 * time.Minute
	DefaultRateLimit      = 60
	DefaultLogLevel       = "info"

	// ConfigFileName is looked up in the default config paths when
	// WEBHOOK_CONFIG_FILE is not set.
	ConfigFileName = "deployhook.yaml"
)

// DefaultServices is the managed service set of the application stack.
var DefaultServices = []string{"frontend", "backend", "postgres", "mongodb", "pgadmin", "mongo-express"}

// Environment variable names
const (
	EnvSecret         = "WEBHOOK_SECRET"
	EnvProjectPath    = "PROJECT_PATH"
	EnvPort           = "WEBHOOK_PORT"
	EnvHost           = "WEBHOOK_HOST"
	EnvServiceName    = "WEBHOOK_SERVICE_NAME"
	EnvSelfService    = "WEBHOOK_SELF_SERVICE"
	EnvServices       = "DEPLOY_SERVICES"
	EnvRemote         = "DEPLOY_REMOTE"
	EnvDelay          = "DEPLOY_DELAY"
	EnvCommandTimeout = "DEPLOY_COMMAND_TIMEOUT"
	EnvRunTimeout     = "DEPLOY_RUN_TIMEOUT"
	EnvLogFile        = "DEPLOY_LOG_FILE"
	EnvHistoryDB      = "WEBHOOK_HISTORY_DB"
	EnvRateLimit      = "WEBHOOK_RATE_LIMIT"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvLogLevel       = "WEBHOOK_LOG_LEVEL"
	EnvConfigFile     = "WEBHOOK_CONFIG_FILE"
)

// Config is the resolved service configuration.
type Config struct {
	Secret      string
	ProjectPath string
	Host        string
	Port        int
	ServiceName string
	SelfService string

	Services       []string
	Remote         string
	Branch         string
	Delay          time.Duration
	CommandTimeout time.Duration
	RunTimeout     time.Duration

	// LogFile is the deployment log. Empty means <ProjectPath>/logs/deployment.log.
	LogFile string
	// HistoryDB is the sqlite history path. Empty disables history.
	HistoryDB string

	RateLimit   int
	GitHubToken string
	LogLevel    string

	Compose ComposeConfig
	Docker  string

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string
}

// ComposeConfig selects the compose command forms.
type ComposeConfig struct {
	Primary []string
	Legacy  []string
	Files   []string
}

// FileConfig is the YAML configuration file.
type FileConfig struct {
	Services []string `yaml:"services"`
	Remote   string   `yaml:"remote"`
	Docker   string   `yaml:"docker"`
	Compose  struct {
		Primary interface{} `yaml:"primary"`
		Legacy  interface{} `yaml:"legacy"`
		File    interface{} `yaml:"file"`
	} `yaml:"compose"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Secret:         DefaultSecret,
		ProjectPath:    DefaultProjectPath,
		Host:           DefaultHost,
		Port:           DefaultPort,
		ServiceName:    DefaultServiceName,
		SelfService:    DefaultSelfService,
		Services:       append([]string(nil), DefaultServices...),
		Remote:         DefaultRemote,
		Branch:         DefaultBranch,
		Delay:          DefaultDelay,
		CommandTimeout: DefaultCommandTimeout,
		RunTimeout:     DefaultRunTimeout,
		HistoryDB:      filepath.Join(DefaultProjectPath, "logs", "deployments.db"),
		RateLimit:      DefaultRateLimit,
		LogLevel:       DefaultLogLevel,
		Compose: ComposeConfig{
			Primary: []string{"docker", "compose"},
			Legacy:  []string{"docker-compose"},
		},
		Docker: "docker",
	}
}

// Load resolves the configuration: defaults, then the YAML file, then the
// environment. A .env file in the working directory is loaded first and
// never overrides variables that are already set.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit YAML path. An empty path falls back to
// WEBHOOK_CONFIG_FILE and then the default search paths.
func LoadFrom(path string) (*Config, error) {
	if fileutil.FileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = fileutil.SearchPathsOptional(fileutil.DefaultConfigPaths(ConfigFileName))
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if len(fc.Services) > 0 {
		c.Services = fc.Services
	}
	if fc.Remote != "" {
		c.Remote = fc.Remote
	}
	if fc.Docker != "" {
		c.Docker = fc.Docker
	}
	if fc.Compose.Primary != nil {
		parts, err := cmdutil.ParseCommandList(fc.Compose.Primary)
		if err != nil {
			return fmt.Errorf("compose.primary: %w", err)
		}
		c.Compose.Primary = parts
	}
	if fc.Compose.Legacy != nil {
		// An explicit false or empty string turns the fallback off.
		if b, ok := fc.Compose.Legacy.(bool); ok && !b {
			c.Compose.Legacy = nil
		} else if s, ok := fc.Compose.Legacy.(string); ok && s == "" {
			c.Compose.Legacy = nil
		} else {
			parts, err := cmdutil.ParseCommandList(fc.Compose.Legacy)
			if err != nil {
				return fmt.Errorf("compose.legacy: %w", err)
			}
			c.Compose.Legacy = parts
		}
	}
	if fc.Compose.File != nil {
		files, err := stringOrList(fc.Compose.File)
		if err != nil {
			return fmt.Errorf("compose.file: %w", err)
		}
		c.Compose.Files = files
	}

	c.ConfigFile = path
	return nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str(EnvSecret, &c.Secret)
	str(EnvHost, &c.Host)
	str(EnvServiceName, &c.ServiceName)
	str(EnvSelfService, &c.SelfService)
	str(EnvRemote, &c.Remote)
	str(EnvGitHubToken, &c.GitHubToken)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFile, &c.LogFile)

	if v, ok := lookup(EnvProjectPath); ok && v != "" {
		// History follows the project unless it was set explicitly.
		if c.HistoryDB == filepath.Join(c.ProjectPath, "logs", "deployments.db") {
			c.HistoryDB = filepath.Join(v, "logs", "deployments.db")
		}
		c.ProjectPath = v
	}
	str(EnvHistoryDB, &c.HistoryDB)

	if v, ok := lookup(EnvServices); ok && strings.TrimSpace(v) != "" {
		c.Services = SplitList(v)
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvRateLimit); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", EnvRateLimit, v)
		}
		c.RateLimit = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvDelay, &c.Delay},
		{EnvCommandTimeout, &c.CommandTimeout},
		{EnvRunTimeout, &c.RunTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

// ParseDuration accepts Go duration syntax ("90s", "10m") or a bare number
// of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func stringOrList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d is not a string: %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or list, got %T", v)
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DeploymentLogPath returns the deployment log location.
func (c *Config) DeploymentLogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.ProjectPath, "logs", "deployment.log")
}

// SecretConfigured reports whether the secret differs from the built-in
// placeholder.
func (c *Config) SecretConfigured() bool {
	return c.Secret != "" && c.Secret != DefaultSecret
}

// Secrets lists values that must never appear in logs.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Secret, c.GitHubToken} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
