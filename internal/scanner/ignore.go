package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed gitignore line.
type ignoreRule struct {
	pattern string
	negate  bool
	dirOnly bool
	rooted  bool // pattern contains a slash: anchored to the .gitignore's dir
}

// ignoreMatcher evaluates one .gitignore file. Rules apply to paths
// relative to the directory holding the file; last match wins.
type ignoreMatcher struct {
	rules []ignoreRule
}

// loadIgnoreFile parses the file, returning nil when it is absent.
func loadIgnoreFile(path string) *ignoreMatcher {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var rules []ignoreRule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := ignoreRule{pattern: line}
		if strings.HasPrefix(r.pattern, "!") {
			r.negate = true
			r.pattern = r.pattern[1:]
		}
		if strings.HasSuffix(r.pattern, "/") {
			r.dirOnly = true
			r.pattern = strings.TrimSuffix(r.pattern, "/")
		}
		if strings.HasPrefix(r.pattern, "/") {
			r.rooted = true
			r.pattern = strings.TrimPrefix(r.pattern, "/")
		} else if strings.Contains(r.pattern, "/") {
			r.rooted = true
		}
		if r.pattern == "" {
			continue
		}
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil
	}
	return &ignoreMatcher{rules: rules}
}

// Match reports whether rel (slash-separated, relative to the matcher's
// directory) is ignored.
func (m *ignoreMatcher) Match(rel string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string) bool {
	if r.rooted {
		if ok, _ := filepath.Match(r.pattern, rel); ok {
			return true
		}
		// A rooted dir pattern also ignores everything beneath it.
		return strings.HasPrefix(rel, r.pattern+"/")
	}
	// Unrooted: match against every path segment suffix.
	segments := strings.Split(rel, "/")
	for i := range segments {
		if ok, _ := filepath.Match(r.pattern, segments[i]); ok {
			return true
		}
		sub := strings.Join(segments[i:], "/")
		if ok, _ := filepath.Match(r.pattern, sub); ok {
			return true
		}
	}
	return false
}
