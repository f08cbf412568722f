package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// NonInteractiveEnv disables credential and editor prompts from git and
// similar tools so a missing credential fails fast instead of hanging.
var NonInteractiveEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GIT_ASKPASS=",
	"SSH_ASKPASS=",
	"GIT_SSH_COMMAND=ssh -o BatchMode=yes",
}

const waitDelay = 2 * time.Second

// ErrTimeout is returned when a command exceeds its ExecOptions.Timeout.
var ErrTimeout = errors.New("command timed out")

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env replaces the process environment when set.
	// Each entry should be in the form "KEY=value".
	Env []string

	// ExtraEnv is appended to the inherited environment (or to Env when set).
	ExtraEnv []string

	// CombinedOutput determines if stdout and stderr are combined.
	CombinedOutput bool
}

// Result contains the result of a command execution.
type Result struct {
	// Stdout is the standard output (only if CombinedOutput is false).
	Stdout []byte

	// Stderr is the standard error (only if CombinedOutput is false).
	Stderr []byte

	// Output is the combined stdout and stderr (only if CombinedOutput is true).
	Output []byte

	// ExitCode is the exit code of the command.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration
}

// Text returns whatever output the command produced, combined or split.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if len(r.Output) > 0 {
		return string(r.Output)
	}
	return string(r.Stdout) + string(r.Stderr)
}

// Run executes a command with the given options.
// The command is provided as a slice of arguments (command and its arguments).
// Stdin is never attached. A non-nil Result is returned whenever the command
// was started, even if it failed.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return &Result{ExitCode: -1}, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts)
	// Children that inherit the output pipes must not keep Run waiting
	// after the context has killed the command itself.
	cmd.WaitDelay = waitDelay

	start := time.Now()

	var result Result
	var err error

	if opts.CombinedOutput {
		result.Output, err = cmd.CombinedOutput()
	} else {
		result.Stdout, err = cmd.Output()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Stderr = exitErr.Stderr
		}
	}

	result.Duration = time.Since(start)

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &result, fmt.Errorf("%w after %s: %s", ErrTimeout, opts.Timeout, FormatCommand(cmdParts))
		}
		return &result, fmt.Errorf("command failed: %w", err)
	}

	return &result, nil
}

func buildEnv(opts ExecOptions) []string {
	if opts.Env == nil && len(opts.ExtraEnv) == 0 {
		return nil
	}
	base := opts.Env
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+len(opts.ExtraEnv))
	env = append(env, base...)
	return append(env, opts.ExtraEnv...)
}

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"docker compose -f \"my stack.yml\"" -> ["docker", "compose", "-f", "my stack.yml"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// ParseCommandList parses a command that can be either a string or a list.
// This handles the two formats from YAML configuration:
//   - String format: "docker compose"
//   - List format: ["docker", "compose"]
func ParseCommandList(cmd interface{}) ([]string, error) {
	switch v := cmd.(type) {
	case string:
		return ParseCommandString(v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return parts, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["git", "commit", "-m", "my message"] -> "git commit -m 'my message'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
// This is useful for logging command output without exposing secrets.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}
