package targets

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns cover common dependency and generated-code
// directories when the repository carries no ignore file of its own.
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"*.min.js",
	"testdata/",
}

// IgnoreRules filters target paths with gitignore-style globs.
type IgnoreRules struct {
	matcher  *gitignore.GitIgnore
	patterns []string
}

// LoadIgnoreRules reads the ignore file inside repoRoot. A missing file
// falls back to the built-in defaults; an empty fileName disables filtering
// entirely.
func LoadIgnoreRules(repoRoot, fileName string) (*IgnoreRules, error) {
	if fileName == "" {
		return nil, nil
	}

	patterns := defaultIgnorePatterns
	data, err := os.ReadFile(filepath.Join(repoRoot, fileName))
	if err == nil {
		patterns = nil
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return NewIgnoreRules(patterns), nil
}

// NewIgnoreRules compiles the given gitignore-style patterns.
func NewIgnoreRules(patterns []string) *IgnoreRules {
	return &IgnoreRules{
		matcher:  gitignore.CompileIgnoreLines(patterns...),
		patterns: patterns,
	}
}

// Survives reports whether the repository-relative path passes the filter.
func (r *IgnoreRules) Survives(path string) bool {
	if r == nil || r.matcher == nil {
		return true
	}
	return !r.matcher.MatchesPath(path)
}

// Patterns returns the active pattern list, for logging.
func (r *IgnoreRules) Patterns() []string {
	if r == nil {
		return nil
	}
	return r.patterns
}
