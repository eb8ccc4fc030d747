package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Git implements Cloner using the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
	opts    CloneOptions
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context, opts CloneOptions) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath, opts: opts}, nil
}

// Clone runs git clone into dest. The parent directory is created when
// missing. A failed clone removes whatever partial copy git left behind.
// SECURITY: dest must be a path under the configured working directory.
// remoteURL comes from the hosting service and is passed after "--" so it
// can never be parsed as an option.
func (g *Git) Clone(ctx context.Context, remoteURL, dest string) error {
	if remoteURL == "" {
		return fmt.Errorf("clone URL is required")
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("clone destination %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create clone parent directory: %w", err)
	}

	args := []string{"clone"}
	if g.opts.Quiet {
		args = append(args, "--quiet")
	}
	if g.opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(g.opts.Depth))
	}
	args = append(args, "--", remoteURL, dest)

	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	// Never block on a credential prompt for a repository that vanished
	// or turned private between listing and cloning.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.RemoveAll(dest) // Best-effort cleanup
		return fmt.Errorf("git clone %s failed: %w: %s", remoteURL, err, strings.TrimSpace(string(output)))
	}
	return nil
}
