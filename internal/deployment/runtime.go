package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Runtime is the container control surface a run needs. Implementations
// drive the container engine's command-line tool.
type Runtime interface {
	Stop(ctx context.Context, service string) error
	BuildAndStart(ctx context.Context, service, cacheToken string) error
	BuildAndStartAll(ctx context.Context, services []string, cacheToken string) error
	PruneImages(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	Restart(ctx context.Context, services []string) error
}

// CacheToken derives the cache-busting value for a build started at t.
func CacheToken(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// StatusFormat is the ps template used by the plugin form of compose.
const StatusFormat = "table {{.Name}}\t{{.Status}}"

// Compose drives one command-line form of compose, e.g. "docker compose"
// or the standalone "docker-compose".
type Compose struct {
	Name         string
	Command      []string
	Files        []string
	Docker       string
	StatusFormat string
	Runner       Runner
}

// NewPrimaryCompose returns the "docker compose" plugin form.
func NewPrimaryCompose(runner Runner, files []string) *Compose {
	return &Compose{
		Name:         "docker compose",
		Command:      []string{"docker", "compose"},
		Files:        files,
		Docker:       "docker",
		StatusFormat: StatusFormat,
		Runner:       runner,
	}
}

// NewLegacyCompose returns the standalone "docker-compose" form.
func NewLegacyCompose(runner Runner, files []string) *Compose {
	return &Compose{
		Name:    "docker-compose",
		Command: []string{"docker-compose"},
		Files:   files,
		Docker:  "docker",
		Runner:  runner,
	}
}

func (c *Compose) compose(args ...string) []string {
	cmd := make([]string, 0, len(c.Command)+2*len(c.Files)+len(args))
	cmd = append(cmd, c.Command...)
	for _, f := range c.Files {
		cmd = append(cmd, "-f", f)
	}
	return append(cmd, args...)
}

func (c *Compose) run(ctx context.Context, env []string, command []string) (*ExecutionResult, error) {
	res, err := c.Runner.Run(ctx, env, command)
	if err != nil {
		return res, err
	}
	if res != nil && !res.OK() {
		return res, fmt.Errorf("%s exited with code %d", res.Command, res.ReturnCode)
	}
	return res, nil
}

func (c *Compose) Stop(ctx context.Context, service string) error {
	_, err := c.run(ctx, nil, c.compose("stop", service))
	return err
}

func (c *Compose) BuildAndStart(ctx context.Context, service, cacheToken string) error {
	_, err := c.run(ctx, cacheEnv(cacheToken), c.compose("up", "-d", "--build", "--no-deps", service))
	return err
}

func (c *Compose) BuildAndStartAll(ctx context.Context, services []string, cacheToken string) error {
	args := append([]string{"up", "-d", "--build"}, services...)
	_, err := c.run(ctx, cacheEnv(cacheToken), c.compose(args...))
	return err
}

func (c *Compose) PruneImages(ctx context.Context) error {
	docker := c.Docker
	if docker == "" {
		docker = "docker"
	}
	_, err := c.run(ctx, nil, []string{docker, "image", "prune", "-f"})
	return err
}

func (c *Compose) Status(ctx context.Context) (string, error) {
	args := []string{"ps"}
	if c.StatusFormat != "" {
		args = append(args, "--format", c.StatusFormat)
	}
	res, err := c.run(ctx, nil, c.compose(args...))
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func (c *Compose) Restart(ctx context.Context, services []string) error {
	args := append([]string{"up", "-d"}, services...)
	_, err := c.run(ctx, nil, c.compose(args...))
	return err
}

func cacheEnv(token string) []string {
	if token == "" {
		return nil
	}
	return []string{"CACHEBUST=" + token}
}

// FallbackRuntime tries Primary and, when it fails, Legacy. The error
// returned when both fail wraps both causes.
type FallbackRuntime struct {
	Primary Runtime
	Legacy  Runtime
	Logger  *slog.Logger
}

// NewFallbackRuntime combines a primary and an optional legacy runtime.
func NewFallbackRuntime(primary, legacy Runtime, logger *slog.Logger) *FallbackRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRuntime{Primary: primary, Legacy: legacy, Logger: logger}
}

func (f *FallbackRuntime) try(op string, primary, legacy func() error) error {
	err := primary()
	if err == nil {
		return nil
	}
	if f.Legacy == nil {
		return err
	}
	f.Logger.Warn("primary runtime failed, trying legacy", "operation", op, "error", err)
	if legacyErr := legacy(); legacyErr != nil {
		return errors.Join(err, legacyErr)
	}
	return nil
}

func (f *FallbackRuntime) Stop(ctx context.Context, service string) error {
	return f.try("stop "+service,
		func() error { return f.Primary.Stop(ctx, service) },
		func() error { return f.Legacy.Stop(ctx, service) })
}

func (f *FallbackRuntime) BuildAndStart(ctx context.Context, service, cacheToken string) error {
	return f.try("build "+service,
		func() error { return f.Primary.BuildAndStart(ctx, service, cacheToken) },
		func() error { return f.Legacy.BuildAndStart(ctx, service, cacheToken) })
}

func (f *FallbackRuntime) BuildAndStartAll(ctx context.Context, services []string, cacheToken string) error {
	return f.try("build all",
		func() error { return f.Primary.BuildAndStartAll(ctx, services, cacheToken) },
		func() error { return f.Legacy.BuildAndStartAll(ctx, services, cacheToken) })
}

func (f *FallbackRuntime) PruneImages(ctx context.Context) error {
	return f.try("prune",
		func() error { return f.Primary.PruneImages(ctx) },
		func() error { return f.Legacy.PruneImages(ctx) })
}

func (f *FallbackRuntime) Status(ctx context.Context) (string, error) {
	var out string
	err := f.try("status",
		func() (err error) { out, err = f.Primary.Status(ctx); return err },
		func() (err error) { out, err = f.Legacy.Status(ctx); return err })
	return out, err
}

func (f *FallbackRuntime) Restart(ctx context.Context, services []string) error {
	return f.try("restart",
		func() error { return f.Primary.Restart(ctx, services) },
		func() error { return f.Legacy.Restart(ctx, services) })
}
