// Package scaffold bootstraps the local workspace for a new delivery
// project by generating a Next.js application skeleton.
package scaffold

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/calebhart/stagesync/internal/config"
	"github.com/calebhart/stagesync/internal/domain"
)

// Bootstrapper creates the on-disk workspace for new delivery projects.
type Bootstrapper struct {
	projectsDir string
	template    string

	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a Bootstrapper writing under cfg.ProjectsDir. A template
// other than "default" selects a create-next-app starter example.
func New(cfg config.Scaffold) *Bootstrapper {
	return &Bootstrapper{
		projectsDir: cfg.ProjectsDir,
		template:    cfg.Template,
		execCommand: exec.CommandContext,
	}
}

// Bootstrap creates the project directory and scaffolds a Next.js app
// inside it. Returns the created directory. An already-scaffolded app
// directory is left untouched.
func (b *Bootstrapper) Bootstrap(ctx context.Context, remoteProjectID string) (string, error) {
	dir := filepath.Join(b.projectsDir, remoteProjectID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create project dir %s: %w: %w", dir, domain.ErrScaffold, err)
	}

	appDir := filepath.Join(dir, "project")
	if _, err := os.Stat(appDir); err == nil {
		slog.Warn("app directory already exists, skipping scaffold", "dir", appDir)
		return dir, nil
	}

	args := []string{
		"create-next-app@latest", appDir,
		"--typescript",
		"--tailwind",
		"--app",
		"--no-src-dir",
		"--import-alias", "@/*",
		"--use-npm",
	}
	if b.template != "" && b.template != "default" {
		args = append(args, "--example", b.template)
	}

	cmd := b.execCommand(ctx, "npx", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("create-next-app: %w: %s: %w", domain.ErrScaffold, string(out), err)
	}

	slog.Info("scaffolded project workspace", "dir", dir)
	return dir, nil
}
