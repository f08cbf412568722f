package deployment

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCacheToken(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	if got, want := CacheToken(ts), "1704164645006"; got != want {
		t.Errorf("CacheToken() = %q, want %q", got, want)
	}
}

func TestCompose_Commands(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		compose func(Runner) *Compose
		call    func(*Compose) error
		want    string
		wantEnv []string
	}{
		{
			name:    "primary stop",
			compose: func(r Runner) *Compose { return NewPrimaryCompose(r, nil) },
			call:    func(c *Compose) error { return c.Stop(ctx, "backend") },
			want:    "docker compose stop backend",
		},
		{
			name:    "legacy stop",
			compose: func(r Runner) *Compose { return NewLegacyCompose(r, nil) },
			call:    func(c *Compose) error { return c.Stop(ctx, "backend") },
			want:    "docker-compose stop backend",
		},
		{
			name:    "build one service with cache token",
			compose: func(r Runner) *Compose { return NewPrimaryCompose(r, nil) },
			call:    func(c *Compose) error { return c.BuildAndStart(ctx, "frontend", "1700000000000") },
			want:    "docker compose up -d --build --no-deps frontend",
			wantEnv: []string{"CACHEBUST=1700000000000"},
		},
		{
			name:    "full stack restricted to services",
			compose: func(r Runner) *Compose { return NewLegacyCompose(r, nil) },
			call:    func(c *Compose) error { return c.BuildAndStartAll(ctx, []string{"frontend", "backend"}, "42") },
			want:    "docker-compose up -d --build frontend backend",
			wantEnv: []string{"CACHEBUST=42"},
		},
		{
			name:    "compose file flags",
			compose: func(r Runner) *Compose { return NewPrimaryCompose(r, []string{"docker-compose.prod.yml"}) },
			call:    func(c *Compose) error { return c.Restart(ctx, []string{"backend"}) },
			want:    "docker compose -f docker-compose.prod.yml up -d backend",
		},
		{
			name:    "prune uses docker directly",
			compose: func(r Runner) *Compose { return NewLegacyCompose(r, []string{"x.yml"}) },
			call:    func(c *Compose) error { return c.PruneImages(ctx) },
			want:    "docker image prune -f",
		},
		{
			name:    "primary status is formatted",
			compose: func(r Runner) *Compose { return NewPrimaryCompose(r, nil) },
			call:    func(c *Compose) error { _, err := c.Status(ctx); return err },
			want:    "docker compose ps --format table {{.Name}}\t{{.Status}}",
		},
		{
			name:    "legacy status is plain",
			compose: func(r Runner) *Compose { return NewLegacyCompose(r, nil) },
			call:    func(c *Compose) error { _, err := c.Status(ctx); return err },
			want:    "docker-compose ps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			if err := tt.call(tt.compose(runner)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			cmds := runner.Commands()
			if len(cmds) != 1 || cmds[0] != tt.want {
				t.Errorf("commands = %q, want %q", cmds, tt.want)
			}
			if tt.wantEnv != nil && !reflect.DeepEqual(runner.envs[0], tt.wantEnv) {
				t.Errorf("env = %v, want %v", runner.envs[0], tt.wantEnv)
			}
		})
	}
}

func TestCompose_NonZeroExitIsError(t *testing.T) {
	runner := &fakeRunner{exit: map[string]int{"docker compose stop backend": 3}}
	c := NewPrimaryCompose(runner, nil)

	if err := c.Stop(context.Background(), "backend"); err == nil {
		t.Error("expected error for non-zero exit code")
	}
}

func TestCompose_StatusReturnsOutput(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"docker-compose ps": "backend   Up 3 seconds\n"}}
	out, err := NewLegacyCompose(runner, nil).Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if out != "backend   Up 3 seconds\n" {
		t.Errorf("Status() = %q", out)
	}
}

func TestFallbackRuntime(t *testing.T) {
	primaryErr := errors.New("docker compose: unknown command")
	legacyErr := errors.New("docker-compose: not found")

	tests := []struct {
		name         string
		primaryFail  map[string]error
		legacyFail   map[string]error
		wantErr      bool
		wantCommands []string
	}{
		{
			name:         "primary succeeds",
			wantCommands: []string{"docker compose stop backend"},
		},
		{
			name:        "legacy used after primary fails",
			primaryFail: map[string]error{"docker compose stop backend": primaryErr},
			wantCommands: []string{
				"docker compose stop backend",
				"docker-compose stop backend",
			},
		},
		{
			name:        "both fail",
			primaryFail: map[string]error{"docker compose stop backend": primaryErr},
			legacyFail:  map[string]error{"docker-compose stop backend": legacyErr},
			wantErr:     true,
			wantCommands: []string{
				"docker compose stop backend",
				"docker-compose stop backend",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{fail: map[string]error{}}
			for k, v := range tt.primaryFail {
				runner.fail[k] = v
			}
			for k, v := range tt.legacyFail {
				runner.fail[k] = v
			}
			rt := NewFallbackRuntime(NewPrimaryCompose(runner, nil), NewLegacyCompose(runner, nil), discardLogger())

			err := rt.Stop(context.Background(), "backend")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Stop() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, primaryErr) || !errors.Is(err, legacyErr)) {
				t.Errorf("error should wrap both causes: %v", err)
			}
			if got := runner.Commands(); !reflect.DeepEqual(got, tt.wantCommands) {
				t.Errorf("commands = %v, want %v", got, tt.wantCommands)
			}
		})
	}
}

func TestFallbackRuntime_StatusFromLegacy(t *testing.T) {
	runner := &fakeRunner{
		fail:   map[string]error{"docker compose ps --format " + StatusFormat: errors.New("no plugin")},
		output: map[string]string{"docker-compose ps": "legacy output"},
	}
	rt := NewFallbackRuntime(NewPrimaryCompose(runner, nil), NewLegacyCompose(runner, nil), discardLogger())

	out, err := rt.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if out != "legacy output" {
		t.Errorf("Status() = %q, want legacy output", out)
	}
}

func TestFallbackRuntime_NoLegacy(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"docker image prune -f": errFake}}
	rt := NewFallbackRuntime(NewPrimaryCompose(runner, nil), nil, discardLogger())

	if err := rt.PruneImages(context.Background()); !errors.Is(err, errFake) {
		t.Errorf("PruneImages() error = %v, want errFake", err)
	}
	if n := len(runner.Commands()); n != 1 {
		t.Errorf("ran %d commands, want 1", n)
	}
}
