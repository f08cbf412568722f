package security

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultAllowedCommands is the set of binaries the orchestrator may invoke.
var DefaultAllowedCommands = map[string]bool{
	"git":            true,
	"docker":         true,
	"docker-compose": true,
}

// CommandPolicy validates commands before they are handed to the process
// runner. Commands are executed without a shell, so the policy only has to
// guard the binary name and reject arguments that could smuggle a second
// line into a log or terminal.
type CommandPolicy struct {
	// AllowedCommands is the map of binaries that are permitted to run.
	AllowedCommands map[string]bool
}

// NewCommandPolicy creates a policy with the default allow list.
func NewCommandPolicy() *CommandPolicy {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for cmd := range DefaultAllowedCommands {
		allowed[cmd] = true
	}
	return &CommandPolicy{AllowedCommands: allowed}
}

// Validate checks a command before execution.
func (p *CommandPolicy) Validate(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := filepath.Base(cmdParts[0])
	if !p.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %v)", baseCmd, p.allowedList())
	}

	for i, arg := range cmdParts[1:] {
		if containsControlChars(arg) {
			return fmt.Errorf("argument %d contains control characters", i+1)
		}
	}

	return nil
}

// Allow adds a binary to the allow list.
func (p *CommandPolicy) Allow(cmd string) {
	if p.AllowedCommands == nil {
		p.AllowedCommands = make(map[string]bool)
	}
	p.AllowedCommands[filepath.Base(cmd)] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (p *CommandPolicy) IsCommandAllowed(cmd string) bool {
	return p.AllowedCommands[filepath.Base(cmd)]
}

func (p *CommandPolicy) allowedList() []string {
	commands := make([]string, 0, len(p.AllowedCommands))
	for cmd := range p.AllowedCommands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// containsControlChars reports NUL, CR and LF. Tabs are allowed because
// format templates such as "table {{.Name}}\t{{.Status}}" need them.
func containsControlChars(s string) bool {
	return strings.ContainsAny(s, "\x00\r\n")
}
