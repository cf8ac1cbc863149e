// Package globmatch implements the pure path-glob matcher used by the
// Restriction DSL: "*" within a single path segment, "**" across segments,
// with leading "./" normalized away from both pattern and path. Compiles to
// an anchored regular expression, the same strategy the teacher's
// pkg/boundary/perimeter.go uses for wildcard host matching (matchHost),
// generalized here to a multi-segment path grammar.
package globmatch

import (
	"regexp"
	"strings"
	"sync"
)

// normalize strips a single leading "./" segment, matching spec.md §4.2.
func normalize(s string) string {
	return strings.TrimPrefix(s, "./")
}

// compile turns a glob pattern into an anchored regular expression.
//
// "**" matches any sequence of characters, including "/".
// "*"  matches any sequence of characters within a single path segment
//      (it does not cross "/").
// Every other rune is matched literally.
func compile(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '*' {
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(runes[i])))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Matches reports whether path matches pattern under the glob grammar above.
// Both are normalized (leading "./" stripped) before matching.
func Matches(pattern, path string) (bool, error) {
	re, err := compile(normalize(pattern))
	if err != nil {
		return false, err
	}
	return re.MatchString(normalize(path)), nil
}

// Matcher memoizes compiled patterns so repeated evaluation against the same
// DRR set (e.g. inside the DRR evaluator's hot path) does not recompile a
// regular expression per action.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// NewMatcher returns a Matcher with an empty cache.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*regexp.Regexp)}
}

// Matches reports whether path matches pattern, using (and populating) the
// Matcher's compile cache.
func (m *Matcher) Matches(pattern, path string) (bool, error) {
	norm := normalize(pattern)

	m.mu.RLock()
	re, ok := m.cache[norm]
	m.mu.RUnlock()

	if !ok {
		var err error
		re, err = compile(norm)
		if err != nil {
			return false, err
		}
		m.mu.Lock()
		m.cache[norm] = re
		m.mu.Unlock()
	}

	return re.MatchString(normalize(path)), nil
}
