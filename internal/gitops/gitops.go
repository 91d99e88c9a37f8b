// Package gitops keeps a books directory under version control so every
// ledger mutation made through the CLI leaves an auditable commit.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNothingToCommit is returned by CommitAll when the tree is clean.
var ErrNothingToCommit = errors.New("gitops: nothing to commit")

// Author identifies who commits ledger changes.
type Author struct {
	Name  string
	Email string
}

// ignored lists paths that never belong in the books history.
var ignored = []string{".env", "*.tmp"}

// Init initializes a git repository at dir and writes a .gitignore that
// keeps secrets out of the history.
func Init(ctx context.Context, dir string) error {
	if _, err := run(ctx, dir, nil, "init", "--quiet"); err != nil {
		return err
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(ignored, "\n")+"\n"), 0o644)
}

// CommitAll stages all files and creates a commit. Returns the short commit
// hash, or ErrNothingToCommit.
func CommitAll(ctx context.Context, dir, message string, author Author) (string, error) {
	if _, err := run(ctx, dir, nil, "add", "-A"); err != nil {
		return "", err
	}
	status, err := run(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(status)) == 0 {
		return "", ErrNothingToCommit
	}

	// The committer is set too, so commits work without a global git identity.
	env := []string{
		"GIT_AUTHOR_NAME=" + author.Name,
		"GIT_AUTHOR_EMAIL=" + author.Email,
		"GIT_COMMITTER_NAME=" + author.Name,
		"GIT_COMMITTER_EMAIL=" + author.Email,
	}
	if _, err := run(ctx, dir, env, "commit", "--quiet", "-m", message); err != nil {
		return "", err
	}
	out, err := run(ctx, dir, nil, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether dir is the root of a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func run(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return out, nil
}
