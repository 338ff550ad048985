package fs

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"
)

// IgnoreFileName is the per-store ignore file read at the root of the
// physical store before a walk.
const IgnoreFileName = ".dvignore"

// DefaultIgnorePatterns are always applied regardless of config or .dvignore.
var DefaultIgnorePatterns = []string{".DS_Store", "Thumbs.db", IgnoreFileName}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against the relative path; false = basename only
}

// IgnoreMatcher checks logical store paths against a set of ignore patterns.
// Patterns without '/' match against the entry's basename only.
// Patterns with '/' match against the path relative to the store root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped. A leading '/' on a
// pattern anchors it at the store root.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimPrefix(raw, "/")
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// WithDefaults returns a matcher with DefaultIgnorePatterns and extra.
func WithDefaults(extra ...[]string) *IgnoreMatcher {
	all := append([]string(nil), DefaultIgnorePatterns...)
	for _, e := range extra {
		all = append(all, e...)
	}
	return NewIgnoreMatcher(all)
}

// Match reports whether the entry at the given logical path should be
// ignored. Leading slashes are ignored.
func (m *IgnoreMatcher) Match(p string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	relative := strings.TrimPrefix(p, "/")
	if relative == "" {
		return false
	}
	basename := path.Base(relative)

	for _, pat := range m.patterns {
		var matched bool
		var err error
		if pat.matchPath {
			matched, err = path.Match(pat.pattern, relative)
		} else {
			matched, err = path.Match(pat.pattern, basename)
		}
		if err != nil {
			// Bad pattern: skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Len returns the number of active patterns.
func (m *IgnoreMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// ParseIgnore reads ignore patterns, one per line.
func ParseIgnore(r io.Reader) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
