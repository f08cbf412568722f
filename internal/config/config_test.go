package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.ProjectPath = t.TempDir()
	cfg.Secret = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Secret != "your-webhook-secret" {
		t.Errorf("Secret = %q", cfg.Secret)
	}
	if cfg.ProjectPath != "/app/flearn" || cfg.Port != 3001 || cfg.Host != "0.0.0.0" {
		t.Errorf("listener/project defaults = %s %s:%d", cfg.ProjectPath, cfg.Host, cfg.Port)
	}
	if cfg.ServiceName != "FLEARN Webhook Service" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	want := []string{"frontend", "backend", "postgres", "mongodb", "pgadmin", "mongo-express"}
	if !reflect.DeepEqual(cfg.Services, want) {
		t.Errorf("Services = %v, want %v", cfg.Services, want)
	}
	if cfg.DeploymentLogPath() != "/app/flearn/logs/deployment.log" {
		t.Errorf("DeploymentLogPath() = %q", cfg.DeploymentLogPath())
	}
	if cfg.HistoryDB != "/app/flearn/logs/deployments.db" {
		t.Errorf("HistoryDB = %q", cfg.HistoryDB)
	}
	if cfg.Addr() != "0.0.0.0:3001" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.SecretConfigured() {
		t.Error("default secret should not count as configured")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvSecret:         "s3cret",
		EnvProjectPath:    "/srv/app",
		EnvPort:           "8080",
		EnvHost:           "127.0.0.1",
		EnvServiceName:    "Test Service",
		EnvServices:       "frontend, backend",
		EnvRemote:         "upstream",
		EnvDelay:          "250ms",
		EnvCommandTimeout: "120",
		EnvRunTimeout:     "1h",
		EnvRateLimit:      "0",
		EnvGitHubToken:    "ghp_x",
		EnvLogLevel:       "debug",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Secret != "s3cret" || !cfg.SecretConfigured() {
		t.Errorf("Secret = %q", cfg.Secret)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if !reflect.DeepEqual(cfg.Services, []string{"frontend", "backend"}) {
		t.Errorf("Services = %v", cfg.Services)
	}
	if cfg.Remote != "upstream" {
		t.Errorf("Remote = %q", cfg.Remote)
	}
	if cfg.Delay != 250*time.Millisecond || cfg.CommandTimeout != 2*time.Minute || cfg.RunTimeout != time.Hour {
		t.Errorf("durations = %s %s %s", cfg.Delay, cfg.CommandTimeout, cfg.RunTimeout)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %d", cfg.RateLimit)
	}
	if cfg.HistoryDB != "/srv/app/logs/deployments.db" {
		t.Errorf("HistoryDB should follow PROJECT_PATH, got %q", cfg.HistoryDB)
	}
	if cfg.DeploymentLogPath() != "/srv/app/logs/deployment.log" {
		t.Errorf("DeploymentLogPath() = %q", cfg.DeploymentLogPath())
	}
	if !reflect.DeepEqual(cfg.Secrets(), []string{"s3cret", "ghp_x"}) {
		t.Errorf("Secrets() = %v", cfg.Secrets())
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel() = %v", cfg.SlogLevel())
	}
}

func TestApplyEnv_EmptyHistoryDisables(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyEnv(envMap(map[string]string{EnvHistoryDB: ""})); err != nil {
		t.Fatal(err)
	}
	if cfg.HistoryDB != "" {
		t.Errorf("HistoryDB = %q, want empty", cfg.HistoryDB)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{EnvPort: "http"}},
		{"rate limit", map[string]string{EnvRateLimit: "lots"}},
		{"delay", map[string]string{EnvDelay: "soon"}},
		{"run timeout", map[string]string{EnvRunTimeout: "1 hour"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Default().ApplyEnv(envMap(tt.env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployhook.yaml")
	content := `
services: [frontend, backend]
remote: upstream
docker: /usr/bin/docker
compose:
  primary: "docker compose --progress plain"
  legacy: ["docker-compose", "--no-ansi"]
  file: docker-compose.prod.yml
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile() error = %v", err)
	}

	if !reflect.DeepEqual(cfg.Services, []string{"frontend", "backend"}) {
		t.Errorf("Services = %v", cfg.Services)
	}
	if cfg.Remote != "upstream" || cfg.Docker != "/usr/bin/docker" {
		t.Errorf("Remote/Docker = %q/%q", cfg.Remote, cfg.Docker)
	}
	if !reflect.DeepEqual(cfg.Compose.Primary, []string{"docker", "compose", "--progress", "plain"}) {
		t.Errorf("Compose.Primary = %v", cfg.Compose.Primary)
	}
	if !reflect.DeepEqual(cfg.Compose.Legacy, []string{"docker-compose", "--no-ansi"}) {
		t.Errorf("Compose.Legacy = %v", cfg.Compose.Legacy)
	}
	if !reflect.DeepEqual(cfg.Compose.Files, []string{"docker-compose.prod.yml"}) {
		t.Errorf("Compose.Files = %v", cfg.Compose.Files)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
}

func TestApplyFile_LegacyDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("compose:\n  legacy: false\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile() error = %v", err)
	}
	if cfg.Compose.Legacy != nil {
		t.Errorf("Compose.Legacy = %v, want nil", cfg.Compose.Legacy)
	}
}

func TestApplyFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if err := Default().ApplyFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("services: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Default().ApplyFile(bad); err == nil || !strings.Contains(err.Error(), "parse YAML") {
		t.Errorf("ApplyFile() error = %v, want parse error", err)
	}

	badCmd := filepath.Join(dir, "cmd.yaml")
	if err := os.WriteFile(badCmd, []byte("compose:\n  primary: 42\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Default().ApplyFile(badCmd); err == nil || !strings.Contains(err.Error(), "compose.primary") {
		t.Errorf("ApplyFile() error = %v, want compose.primary error", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployhook.yaml")
	if err := os.WriteFile(path, []byte("services: [frontend]\nremote: fromfile\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvRemote, "fromenv")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote != "fromenv" {
		t.Errorf("Remote = %q, want env value", cfg.Remote)
	}
	if !reflect.DeepEqual(cfg.Services, []string{"frontend"}) {
		t.Errorf("Services = %v, want file value", cfg.Services)
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	dotenv := "WEBHOOK_SERVICE_NAME=From DotEnv\nWEBHOOK_SELF_SERVICE=hook\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)
	t.Setenv(EnvServiceName, "From Environment")
	t.Setenv(EnvConfigFile, "")
	// Restored by t.Setenv's cleanup once godotenv has set it.
	t.Setenv(EnvSelfService, "")
	os.Unsetenv(EnvSelfService)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServiceName != "From Environment" {
		t.Errorf("ServiceName = %q, real environment should win", cfg.ServiceName)
	}
	if cfg.SelfService != "hook" {
		t.Errorf("SelfService = %q, want value from .env", cfg.SelfService)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{"10m", 10 * time.Minute, false},
		{"30", 30 * time.Second, false},
		{" 5 ", 5 * time.Second, false},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" frontend,backend ,, postgres\tmongodb ")
	want := []string{"frontend", "backend", "postgres", "mongodb"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList() = %v, want %v", got, want)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	errs, warnings := validConfig(t).Validate()
	if len(errs) > 0 {
		t.Errorf("Expected valid config to pass validation, got errors: %v", errs)
	}
	if len(warnings) > 0 {
		t.Errorf("Expected no warnings, got: %v", warnings)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"self service managed", func(c *Config) { c.Services = append(c.Services, "webhook") }, "cannot be managed"},
		{"custom self service", func(c *Config) { c.SelfService = "hook"; c.Services = []string{"hook"} }, "cannot be managed"},
		{"empty services", func(c *Config) { c.Services = nil }, "service list is empty"},
		{"bad service name", func(c *Config) { c.Services = []string{"-rf"} }, "invalid characters"},
		{"duplicate service", func(c *Config) { c.Services = []string{"backend", "backend"} }, "listed twice"},
		{"relative path", func(c *Config) { c.ProjectPath = "app" }, "must be absolute"},
		{"empty path", func(c *Config) { c.ProjectPath = "" }, "PROJECT_PATH is required"},
		{"port", func(c *Config) { c.Port = 70000 }, "WEBHOOK_PORT"},
		{"remote option", func(c *Config) { c.Remote = "--upload-pack=x" }, "DEPLOY_REMOTE"},
		{"negative delay", func(c *Config) { c.Delay = -time.Second }, "DEPLOY_DELAY"},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }, "DEPLOY_COMMAND_TIMEOUT"},
		{"zero run timeout", func(c *Config) { c.RunTimeout = 0 }, "DEPLOY_RUN_TIMEOUT"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "WEBHOOK_RATE_LIMIT"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "WEBHOOK_LOG_LEVEL"},
		{"no compose", func(c *Config) { c.Compose.Primary = nil }, "compose.primary"},
		{"empty secret", func(c *Config) { c.Secret = "" }, "WEBHOOK_SECRET is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)

			errs, _ := cfg.Validate()
			if !containsSubstring(errs, tt.want) {
				t.Errorf("errors %v should mention %q", errs, tt.want)
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"placeholder secret", func(c *Config) { c.Secret = DefaultSecret }, "WEBHOOK_SECRET"},
		{"short secret", func(c *Config) { c.Secret = "abc" }, "WEBHOOK_SECRET"},
		{"missing project dir", func(c *Config) { c.ProjectPath = "/does/not/exist" }, "not accessible"},
		{"timeouts inverted", func(c *Config) { c.CommandTimeout = time.Hour; c.RunTimeout = time.Minute }, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)

			errs, warnings := cfg.Validate()
			if len(errs) > 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
			if !containsSubstring(warnings, tt.want) {
				t.Errorf("warnings %v should mention %q", warnings, tt.want)
			}
		})
	}
}

func TestValidate_WorldWritableConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployhook.yaml")
	if err := os.WriteFile(path, []byte("remote: origin\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig(t)
	cfg.ConfigFile = path

	_, warnings := cfg.Validate()
	if !containsSubstring(warnings, "world-writable") {
		t.Errorf("warnings %v should flag world-writable config", warnings)
	}
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
