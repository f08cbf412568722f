package deployment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"deployhook/pkg/fileutil"
)

// Source is the working tree a run updates.
type Source interface {
	Configure(ctx context.Context) error
	Pull(ctx context.Context) error
	Head(ctx context.Context) (string, error)
}

// Git updates a checkout with fast-forward-only pulls.
type Git struct {
	Dir    string
	Remote string
	Branch string
	Runner Runner

	// UID and GID the tree is re-owned to during Configure. Negative values
	// skip the ownership pass.
	UID int
	GID int
}

// NewGit returns a Git source for dir that pulls remote/main and re-owns
// the tree to the current process.
func NewGit(dir, remote string, runner Runner) *Git {
	if remote == "" {
		remote = "origin"
	}
	return &Git{
		Dir:    dir,
		Remote: remote,
		Branch: "main",
		Runner: runner,
		UID:    os.Getuid(),
		GID:    os.Getgid(),
	}
}

// Configure marks the tree as a safe directory and fixes ownership so that
// git accepts a checkout mounted from the host. Both halves are attempted.
func (g *Git) Configure(ctx context.Context) error {
	var errs []error
	if err := g.exec(ctx, "git", "config", "--global", "--add", "safe.directory", g.Dir); err != nil {
		errs = append(errs, fmt.Errorf("safe.directory: %w", err))
	}
	if g.UID >= 0 && g.GID >= 0 {
		report, err := fileutil.ChownTree(g.Dir, g.UID, g.GID)
		if err != nil {
			errs = append(errs, fmt.Errorf("ownership (%d of %d entries failed): %w", report.Failed, report.Visited, err))
		}
	}
	return errors.Join(errs...)
}

// Pull fast-forwards the tree to the remote branch.
func (g *Git) Pull(ctx context.Context) error {
	return g.exec(ctx, "git", "pull", "--ff-only", g.Remote, g.Branch)
}

// Head returns the commit currently checked out.
func (g *Git) Head(ctx context.Context) (string, error) {
	res, err := g.Runner.Run(ctx, nil, []string{"git", "rev-parse", "HEAD"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func (g *Git) exec(ctx context.Context, command ...string) error {
	res, err := g.Runner.Run(ctx, nil, command)
	if err != nil {
		return err
	}
	if res != nil && !res.OK() {
		return fmt.Errorf("%s exited with code %d", res.Command, res.ReturnCode)
	}
	return nil
}
