package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const cloneTimeout = 2 * time.Minute

// ValidRepoURL reports whether the reference looks like a fetchable GitHub
// repository URL.
func ValidRepoURL(repoURL string) bool {
	return strings.HasPrefix(repoURL, "https://github.com/") && repoNameFromURL(repoURL) != ""
}

// repoNameFromURL extracts the repository name from a GitHub URL, or "".
func repoNameFromURL(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 5 || parts[3] == "" || parts[4] == "" {
		return ""
	}
	return parts[len(parts)-1]
}

// OwnerRepoFromURL splits a GitHub URL into owner and repository name.
func OwnerRepoFromURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	rest, ok := strings.CutPrefix(trimmed, "https://github.com/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrBadRepository, repoURL)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadRepository, repoURL)
	}
	return parts[0], parts[1], nil
}

// cloneRepository shallow-clones the repository into a fresh directory under
// baseDir and returns the path. The caller removes the directory when done.
func cloneRepository(ctx context.Context, repoURL, baseDir string) (string, error) {
	if !ValidRepoURL(repoURL) {
		return "", fmt.Errorf("%w: invalid GitHub repository URL %q", ErrBadRepository, repoURL)
	}

	cloneDir, err := os.MkdirTemp(baseDir, repoNameFromURL(repoURL)+"-*")
	if err != nil {
		return "", fmt.Errorf("create clone directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, cloneDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(cloneDir)
		return "", fmt.Errorf("%w: git clone failed: %s", ErrBadRepository, strings.TrimSpace(string(output)))
	}

	return filepath.Clean(cloneDir), nil
}
