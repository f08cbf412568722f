package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type logEntry struct {
	runID   string
	message string
}

// memSink collects deployment log entries in memory.
type memSink struct {
	mu      sync.Mutex
	entries []logEntry
}

func (s *memSink) Append(runID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, logEntry{runID: runID, message: message})
}

func (s *memSink) all() []logEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logEntry(nil), s.entries...)
}

// stepLines returns the step entries, skipping detail lines and command
// transcripts.
func (s *memSink) stepLines() []logEntry {
	var out []logEntry
	for _, e := range s.all() {
		if strings.HasPrefix(e.message, "  ") || strings.HasPrefix(e.message, "$ ") {
			continue
		}
		out = append(out, e)
	}
	return out
}

type fakeSource struct {
	mu           sync.Mutex
	configureErr error
	pullErr      error
	pullPanic    bool
	pulls        int
}

func (s *fakeSource) Configure(ctx context.Context) error {
	return s.configureErr
}

func (s *fakeSource) Pull(ctx context.Context) error {
	s.mu.Lock()
	s.pulls++
	s.mu.Unlock()
	if s.pullPanic {
		panic("pull exploded")
	}
	return s.pullErr
}

func (s *fakeSource) Head(ctx context.Context) (string, error) {
	return "abc123", nil
}

var errFake = errors.New("fake failure")

type fakeRuntime struct {
	mu    sync.Mutex
	calls []string
	token string

	failStop     map[string]bool
	failBuild    map[string]bool
	failBuildAll bool
	failPrune    bool
	failStatus   bool
	failRestart  bool
	status       string

	// When set, BuildAndStart blocks until release is closed or ctx ends.
	release chan struct{}
	entered chan struct{}
}

func (r *fakeRuntime) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRuntime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRuntime) Stop(ctx context.Context, service string) error {
	r.record("stop " + service)
	if r.failStop[service] {
		return errFake
	}
	return nil
}

func (r *fakeRuntime) BuildAndStart(ctx context.Context, service, cacheToken string) error {
	r.record("build " + service)
	r.mu.Lock()
	r.token = cacheToken
	r.mu.Unlock()
	if r.release != nil {
		if r.entered != nil {
			select {
			case r.entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.failBuild[service] {
		return errFake
	}
	return nil
}

func (r *fakeRuntime) BuildAndStartAll(ctx context.Context, services []string, cacheToken string) error {
	r.record("build-all " + strings.Join(services, ","))
	if r.failBuildAll {
		return errFake
	}
	return nil
}

func (r *fakeRuntime) PruneImages(ctx context.Context) error {
	r.record("prune")
	if r.failPrune {
		return errFake
	}
	return nil
}

func (r *fakeRuntime) Status(ctx context.Context) (string, error) {
	r.record("status")
	if r.failStatus {
		return "", errFake
	}
	return r.status, nil
}

func (r *fakeRuntime) Restart(ctx context.Context, services []string) error {
	r.record("restart " + strings.Join(services, ","))
	if r.failRestart {
		return errFake
	}
	return nil
}

// fakeRunner records commands and answers from a table keyed by the
// formatted command.
type fakeRunner struct {
	mu       sync.Mutex
	commands [][]string
	envs     [][]string
	fail     map[string]error
	exit     map[string]int
	output   map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, env []string, command []string) (*ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, append([]string(nil), command...))
	f.envs = append(f.envs, append([]string(nil), env...))

	key := strings.Join(command, " ")
	res := &ExecutionResult{Command: key, ReturnCode: f.exit[key], Output: f.output[key]}
	if err := f.fail[key]; err != nil {
		res.ReturnCode = 1
		return res, err
	}
	return res, nil
}

func (f *fakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = strings.Join(c, " ")
	}
	return out
}

// countingReporter tracks how many runs are active at once.
type countingReporter struct {
	mu       sync.Mutex
	active   int
	maxSeen  int
	started  []string
	finished []*Run
}

func (c *countingReporter) RunStarted(ctx context.Context, run *Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.started = append(c.started, run.ID)
}

func (c *countingReporter) RunFinished(ctx context.Context, run *Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	c.finished = append(c.finished, run)
}

func (c *countingReporter) Finished() []*Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Run(nil), c.finished...)
}

var testServices = []string{"frontend", "backend", "postgres"}

func newTestOrchestrator(src Source, rt Runtime, sink OutputSink, reporters ...Reporter) *Orchestrator {
	o := NewOrchestrator(Options{
		Source:    src,
		Runtime:   rt,
		Services:  testServices,
		Log:       sink,
		Logger:    discardLogger(),
		Reporters: reporters,
	})
	o.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
