package syncer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitTimeout bounds every subprocess call; git is best-effort here and
// must never stall a sync.
const gitTimeout = 10 * time.Second

// hasGit reports whether the repo root carries a .git directory.
func hasGit(root string) bool {
	info, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil && info.IsDir()
}

// gitHead returns the current HEAD commit, or "" when unavailable.
func gitHead(ctx context.Context, root string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "-C", root, "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Head returns the repo's current HEAD commit, or "" when the root is
// not a git repository or git is unavailable. The freshness gate uses
// this to compare the working tree against the indexed commit.
func Head(ctx context.Context, root string) string {
	if !hasGit(root) {
		return ""
	}
	return gitHead(ctx, root)
}

// DirtyWorkTree reports whether git sees uncommitted changes. Best
// effort: a missing git answers false.
func DirtyWorkTree(ctx context.Context, root string) bool {
	if !hasGit(root) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "-C", root, "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// gitChangedPaths lists paths git considers changed between the stored
// commit and the working tree, including untracked files. Returns nil
// on any failure; the manifest comparison is the arbiter either way.
func gitChangedPaths(ctx context.Context, root, sinceCommit string) map[string]bool {
	if sinceCommit == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	changed := make(map[string]bool)

	diff, err := exec.CommandContext(ctx, "git", "-C", root,
		"diff", "--name-only", sinceCommit, "HEAD").Output()
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(diff), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			changed[line] = true
		}
	}

	status, err := exec.CommandContext(ctx, "git", "-C", root,
		"status", "--porcelain").Output()
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(status), "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames show as "old -> new".
		if i := strings.Index(path, " -> "); i >= 0 {
			changed[path[:i]] = true
			path = path[i+4:]
		}
		changed[path] = true
	}
	return changed
}
