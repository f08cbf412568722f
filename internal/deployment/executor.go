package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
)

// DefaultCommandTimeout bounds a single external command.
const DefaultCommandTimeout = 10 * time.Minute

// ExecutionResult represents the result of running a command
type ExecutionResult struct {
	Command    string
	ReturnCode int
	Output     string
	Duration   time.Duration
}

// OK checks if the execution was successful
func (r *ExecutionResult) OK() bool {
	return r.ReturnCode == 0
}

// Runner executes one external command. env entries are added on top of
// the inherited environment.
type Runner interface {
	Run(ctx context.Context, env []string, command []string) (*ExecutionResult, error)
}

// OutputSink receives command transcripts. deploylog.Log satisfies it.
type OutputSink interface {
	Append(runID, message string)
}

// Executor runs allow-listed commands in the project directory with a
// timeout, no stdin and no interactive prompts. Output never reaches the
// console: it is redacted and mirrored to Sink under the current run ID.
type Executor struct {
	Dir     string
	Timeout time.Duration
	Policy  *security.CommandPolicy
	Secrets []string
	Sink    OutputSink
	Logger  *slog.Logger
}

// NewExecutor creates an executor rooted at dir with the default policy.
func NewExecutor(dir string, timeout time.Duration, sink OutputSink, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Dir:     dir,
		Timeout: timeout,
		Policy:  security.NewCommandPolicy(),
		Sink:    sink,
		Logger:  logger,
	}
}

// Run validates and executes command.
func (e *Executor) Run(ctx context.Context, env []string, command []string) (*ExecutionResult, error) {
	formatted := e.redact(cmdutil.FormatCommand(command))
	if e.Policy != nil {
		if err := e.Policy.Validate(command); err != nil {
			return &ExecutionResult{Command: formatted, ReturnCode: -1}, fmt.Errorf("refusing to run %s: %w", formatted, err)
		}
	}

	extra := make([]string, 0, len(cmdutil.NonInteractiveEnv)+len(env))
	extra = append(extra, cmdutil.NonInteractiveEnv...)
	extra = append(extra, env...)

	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            e.Dir,
		Timeout:        e.Timeout,
		ExtraEnv:       extra,
		CombinedOutput: true,
	}, command)

	execResult := &ExecutionResult{
		Command:    formatted,
		ReturnCode: result.ExitCode,
		Output:     e.redact(result.Text()),
		Duration:   result.Duration,
	}
	e.mirror(ctx, execResult, err)

	if err != nil {
		return execResult, &redactedError{msg: formatted + ": " + e.redact(err.Error()), err: err}
	}
	return execResult, nil
}

func (e *Executor) redact(s string) string {
	if len(e.Secrets) == 0 {
		return s
	}
	return string(cmdutil.SanitizeOutput([]byte(s), e.Secrets))
}

// redactedError keeps the wrapped error for errors.Is while its message
// has secrets removed.
type redactedError struct {
	msg string
	err error
}

func (r *redactedError) Error() string { return r.msg }
func (r *redactedError) Unwrap() error { return r.err }

func (e *Executor) mirror(ctx context.Context, res *ExecutionResult, err error) {
	runID := RunIDFromContext(ctx)
	if e.Logger != nil {
		e.Logger.Debug("command finished",
			"run_id", runID,
			"command", res.Command,
			"exit_code", res.ReturnCode,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	if e.Sink == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "$ %s (exit %d, %s)", res.Command, res.ReturnCode, res.Duration.Round(time.Millisecond))
	if err != nil && res.ReturnCode <= 0 {
		fmt.Fprintf(&b, ": %s", e.redact(err.Error()))
	}
	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	e.Sink.Append(runID, b.String())
}

type runIDKey struct{}

// WithRunID returns a context carrying the run ID used to tag command output.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run ID stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
