package exclude

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/twinsync/internal/utils"
)

// FileName is the rule file at the root of each synchronized tree. It syncs
// like any other file.
const FileName = ".twinsyncignore"

var ErrInvalidPattern = errors.New("invalid exclusion pattern")

// PatternError points at the offending line of a rule file.
type PatternError struct {
	Source  string
	Line    int
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("%s:%d: invalid exclusion pattern %q", e.Source, e.Line, e.Pattern)
}

func (e *PatternError) Unwrap() error {
	return ErrInvalidPattern
}

type rule struct {
	raw      string
	glob     string
	dirOnly  bool
	anchored bool
}

// match checks one path prefix. Unanchored globs only look at the last segment.
func (r rule) match(prefix, base string) bool {
	target := base
	if r.anchored {
		target = prefix
	}
	ok, _ := doublestar.Match(r.glob, target)
	return ok
}

// Rules is an immutable compiled rule set.
type Rules struct {
	rules []rule
}

func Empty() *Rules {
	return &Rules{}
}

// Compile builds a rule set from in-memory patterns.
func Compile(source string, patterns ...string) (*Rules, error) {
	return Parse(strings.NewReader(strings.Join(patterns, "\n")), source)
}

// Parse reads one pattern per line. Blank lines and lines starting with '#'
// are ignored.
func Parse(r io.Reader, source string) (*Rules, error) {
	rs := &Rules{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ru, ok := compileRule(line)
		if !ok {
			return nil, &PatternError{Source: source, Line: lineNo, Pattern: line}
		}
		rs.rules = append(rs.rules, ru)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return rs, nil
}

func compileRule(line string) (rule, bool) {
	ru := rule{raw: line}

	glob := line
	if strings.HasSuffix(glob, "/") {
		ru.dirOnly = true
		glob = strings.TrimRight(glob, "/")
	}
	if strings.HasPrefix(glob, "/") {
		ru.anchored = true
		glob = strings.TrimLeft(glob, "/")
	}
	if strings.Contains(glob, "/") {
		ru.anchored = true
	}

	if glob == "" || !doublestar.ValidatePattern(glob) {
		return rule{}, false
	}
	ru.glob = glob
	return ru, true
}

// Load reads the rule file at the root of a tree. A missing file yields an
// empty rule set.
func Load(root string) (*Rules, error) {
	path := filepath.Join(root, FileName)

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Empty(), nil
	} else if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	rs, err := Parse(file, path)
	if err != nil {
		return nil, err
	}

	slog.Debug("exclusions loaded", "path", path, "rules", rs.Len())
	return rs, nil
}

// Match reports whether relPath, or any directory above it, is excluded.
func (rs *Rules) Match(relPath string, isDir bool) bool {
	if rs == nil || len(rs.rules) == 0 {
		return false
	}

	p := utils.NormalizeRelPath(relPath)
	if p == "" {
		return false
	}

	segments := strings.Split(p, "/")
	for i, base := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		segIsDir := isDir || i < len(segments)-1
		for _, ru := range rs.rules {
			if ru.dirOnly && !segIsDir {
				continue
			}
			if ru.match(prefix, base) {
				return true
			}
		}
	}
	return false
}

func (rs *Rules) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Patterns returns the patterns as written, in file order.
func (rs *Rules) Patterns() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.rules))
	for i, ru := range rs.rules {
		out[i] = ru.raw
	}
	return out
}

// Equal compares two rule sets pattern by pattern.
func (rs *Rules) Equal(other *Rules) bool {
	return slices.Equal(rs.Patterns(), other.Patterns())
}
