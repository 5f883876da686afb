// Package scanner discovers indexable files under a repository root,
// honoring gitignore rules and skipping binaries, oversized files, and
// bookkeeping directories.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxFileSize matches the extractor's 2 MiB ceiling.
const DefaultMaxFileSize int64 = 2 * 1024 * 1024

// matcherCacheSize bounds per-directory ignore matchers in long-lived
// daemons.
const matcherCacheSize = 256

// alwaysSkipDirs never contain indexable source.
var alwaysSkipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".llmc":        true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// SkipDirName reports whether a directory name is always excluded
// from scanning. The daemon's file watcher shares this filter so it
// never watches bookkeeping directories.
func SkipDirName(name string) bool {
	return alwaysSkipDirs[name] || strings.HasPrefix(name, ".")
}

// FileInfo is one discovered file, path relative to the root.
type FileInfo struct {
	Path    string
	AbsPath string
	Size    int64
	MTime   int64
}

// ScanResult carries either a file or a walk error.
type ScanResult struct {
	File FileInfo
	Err  error
}

// Options configure a scan.
type Options struct {
	MaxFileSize    int64
	FollowSymlinks bool
	// IncludeHidden keeps dotfiles; default skips them.
	IncludeHidden bool
}

// Scanner walks repositories. Safe for concurrent use.
type Scanner struct {
	matchers *lru.Cache[string, *ignoreMatcher]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignoreMatcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create ignore matcher cache: %w", err)
	}
	return &Scanner{matchers: cache}, nil
}

// Scan streams discovered files. The channel closes when the walk
// finishes or ctx cancels.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (<-chan ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, results)
	}()
	return results, nil
}

// ScanAll collects the full result set; convenience for the syncer.
func (s *Scanner) ScanAll(ctx context.Context, root string, opts Options) ([]FileInfo, error) {
	ch, err := s.Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for r := range ch {
		if r.Err != nil {
			return nil, r.Err
		}
		files = append(files, r.File)
	}
	return files, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts Options, results chan<- ScanResult) {
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := filepath.Base(path)

		if d.IsDir() {
			if alwaysSkipDirs[base] {
				return filepath.SkipDir
			}
			if !opts.IncludeHidden && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			if s.ignored(absRoot, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if !opts.IncludeHidden && strings.HasPrefix(base, ".") {
			return nil
		}
		if s.ignored(absRoot, rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		select {
		case results <- ScanResult{File: FileInfo{
			Path:    rel,
			AbsPath: path,
			Size:    info.Size(),
			MTime:   info.ModTime().Unix(),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// ignored checks the rel path against every .gitignore from the root
// down to the containing directory.
func (s *Scanner) ignored(absRoot, rel string, isDir bool) bool {
	dir := ""
	segments := strings.Split(rel, "/")
	for i := 0; i < len(segments); i++ {
		m := s.matcherFor(absRoot, dir)
		if m != nil {
			sub := strings.Join(segments[i:], "/")
			if m.Match(sub, isDir || i < len(segments)-1) {
				return true
			}
		}
		if i < len(segments)-1 {
			if dir == "" {
				dir = segments[i]
			} else {
				dir = dir + "/" + segments[i]
			}
		}
	}
	return false
}

func (s *Scanner) matcherFor(absRoot, relDir string) *ignoreMatcher {
	key := filepath.Join(absRoot, relDir)
	if m, ok := s.matchers.Get(key); ok {
		return m
	}
	m := loadIgnoreFile(filepath.Join(key, ".gitignore"))
	s.matchers.Add(key, m)
	return m
}

// isBinary sniffs the first 512 bytes for a NUL.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
