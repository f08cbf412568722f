package config

import (
	"fmt"

	"deployhook/internal/security"
	"deployhook/pkg/fileutil"
)

// Validate checks the configuration. Errors make the service refuse to
// start; warnings are logged at startup.
func (c *Config) Validate() (errs []string, warnings []string) {
	// Project path
	if c.ProjectPath == "" {
		errs = append(errs, "  - PROJECT_PATH is required")
	} else if _, err := security.SanitizePath(c.ProjectPath); err != nil {
		errs = append(errs, fmt.Sprintf("  - PROJECT_PATH: %v", err))
	} else if fileutil.FileExists(c.ProjectPath) {
		errs = append(errs, fmt.Sprintf("  - PROJECT_PATH is not a directory: '%s'", c.ProjectPath))
	} else if !fileutil.DirExists(c.ProjectPath) {
		warnings = append(warnings, fmt.Sprintf("  - PROJECT_PATH '%s' is not accessible", c.ProjectPath))
	}

	// Listener
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("  - WEBHOOK_PORT must be between 1 and 65535, got %d", c.Port))
	}

	// Managed services
	if len(c.Services) == 0 {
		errs = append(errs, "  - managed service list is empty")
	}
	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if err := security.ValidateServiceName(svc); err != nil {
			errs = append(errs, fmt.Sprintf("  - service '%s': %v", svc, err))
			continue
		}
		if seen[svc] {
			errs = append(errs, fmt.Sprintf("  - service '%s' is listed twice", svc))
		}
		seen[svc] = true
		if c.SelfService != "" && svc == c.SelfService {
			errs = append(errs, fmt.Sprintf("  - service '%s' is this webhook service and cannot be managed by it", svc))
		}
	}

	// Git
	if err := security.ValidateRemoteName(c.Remote); err != nil {
		errs = append(errs, fmt.Sprintf("  - DEPLOY_REMOTE: %v", err))
	}
	if err := security.ValidateBranchName(c.Branch); err != nil {
		errs = append(errs, fmt.Sprintf("  - branch: %v", err))
	}

	// Timing
	if c.Delay < 0 {
		errs = append(errs, fmt.Sprintf("  - DEPLOY_DELAY cannot be negative, got %s", c.Delay))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("  - DEPLOY_COMMAND_TIMEOUT must be positive, got %s", c.CommandTimeout))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("  - DEPLOY_RUN_TIMEOUT must be positive, got %s", c.RunTimeout))
	} else if c.CommandTimeout > c.RunTimeout {
		warnings = append(warnings, fmt.Sprintf("  - DEPLOY_COMMAND_TIMEOUT (%s) exceeds DEPLOY_RUN_TIMEOUT (%s)", c.CommandTimeout, c.RunTimeout))
	}

	if c.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("  - WEBHOOK_RATE_LIMIT cannot be negative, got %d", c.RateLimit))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Sprintf("  - WEBHOOK_LOG_LEVEL must be debug, info, warn or error, got '%s'", c.LogLevel))
	}

	// Compose
	if len(c.Compose.Primary) == 0 {
		errs = append(errs, "  - compose.primary command is empty")
	}

	// Secret
	if c.Secret == "" {
		errs = append(errs, "  - WEBHOOK_SECRET is empty; deliveries signed with an empty key would be accepted")
	} else if err := security.ValidateSecret(c.Secret); err != nil {
		warnings = append(warnings, fmt.Sprintf("  - WEBHOOK_SECRET: %v", err))
	}

	if c.ConfigFile != "" {
		if err := security.CheckConfigFilePermissions(c.ConfigFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("  - %v", err))
		}
	}

	return errs, warnings
}
