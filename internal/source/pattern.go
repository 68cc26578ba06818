package source

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile holds extra exclude patterns at the source root.
const IgnoreFile = ".docindexignore"

// pattern is a compiled gitignore-style path pattern.
type pattern struct {
	raw      string
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

func compilePattern(p string) (pattern, bool) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "#") {
		return pattern{}, false
	}

	out := pattern{raw: p}
	if strings.HasPrefix(p, "!") {
		out.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		out.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		out.anchored = true
		p = p[1:]
	}
	// "docs/hr" means "/docs/hr", not "**/docs/hr"
	if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		out.anchored = true
	}

	out.re = regexp.MustCompile("^" + globToRegex(p) + "$")
	return out, true
}

// match reports whether rel (slash separated) is matched by p. A directory
// pattern also matches everything below that directory.
func (p pattern) match(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")

	if p.anchored {
		for i := range parts {
			prefix := strings.Join(parts[:i+1], "/")
			if !p.re.MatchString(prefix) {
				continue
			}
			last := i == len(parts)-1
			if !last || !p.dirOnly || isDir {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !p.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if !last || !p.dirOnly || isDir {
			return true
		}
	}
	return !p.dirOnly && p.re.MatchString(rel)
}

// globToRegex translates '*', '?', '**' and character classes.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					sb.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				sb.WriteString(".*")
				i++
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			sb.WriteString(glob[i : i+end+1])
			i += end
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}

// Matcher applies ordered patterns; the last matching pattern wins, so
// "!keep.txt" can re-include a file excluded earlier.
type Matcher struct {
	patterns []pattern
}

// NewMatcher compiles patterns, skipping blanks and comments.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	m.Add(patterns...)
	return m
}

// Add appends patterns.
func (m *Matcher) Add(patterns ...string) {
	for _, raw := range patterns {
		if p, ok := compilePattern(raw); ok {
			m.patterns = append(m.patterns, p)
		}
	}
}

// AddFile appends the patterns of an ignore file. A missing file is fine.
func (m *Matcher) AddFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	return sc.Err()
}

// Match reports whether rel is matched.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	matched := false
	for _, p := range m.patterns {
		if p.match(rel, isDir) {
			matched = !p.negate
		}
	}
	return matched
}
