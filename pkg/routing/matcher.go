package routing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Matcher reports whether routing keys match a compiled binding pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile translates a binding pattern into a Matcher.
//
// Literal characters (the "." separator included) are escaped, "*" becomes
// one word and "#" becomes any run of words. A "#" word also absorbs its
// neighbouring separator so that it can match zero words: "orders.#"
// matches "orders". The expression is anchored at both ends.
func Compile(pattern string) (*Matcher, error) {
	words := collapseHashes(strings.Split(pattern, "."))

	var b strings.Builder
	b.WriteString("^")
	skipSep := false
	for i, w := range words {
		if w == "#" {
			switch {
			case len(words) == 1:
				b.WriteString(`.*`)
			case i == 0:
				b.WriteString(`(?:.*\.)?`)
				skipSep = true
			default:
				b.WriteString(`(?:\..*)?`)
			}
			continue
		}
		if i > 0 && !skipSep {
			b.WriteString(`\.`)
		}
		skipSep = false
		b.WriteString(translateWord(w))
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile routing pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// translateWord converts one word. Wildcards embedded in a longer word keep
// their character level meaning.
func translateWord(w string) string {
	if w == "*" {
		return `[^.]+`
	}
	var b strings.Builder
	for _, r := range w {
		switch r {
		case '*':
			b.WriteString(`[^.]+`)
		case '#':
			b.WriteString(`.*`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// collapseHashes folds runs of "#" words into one; "#.#" means the same as "#".
func collapseHashes(words []string) []string {
	out := words[:0:0]
	for _, w := range words {
		if w == "#" && len(out) > 0 && out[len(out)-1] == "#" {
			continue
		}
		out = append(out, w)
	}
	return out
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Matches reports whether routingKey matches the whole pattern.
func (m *Matcher) Matches(routingKey string) bool {
	return m.re.MatchString(routingKey)
}

// Pattern returns the binding pattern the matcher was compiled from.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// String implements fmt.Stringer.
func (m *Matcher) String() string {
	return m.pattern
}

var cache sync.Map // pattern -> *Matcher

// Match compiles pattern (memoising the result) and tests routingKey against it.
func Match(pattern, routingKey string) bool {
	if m, ok := cache.Load(pattern); ok {
		return m.(*Matcher).Matches(routingKey)
	}
	m, err := Compile(pattern)
	if err != nil {
		return false
	}
	actual, _ := cache.LoadOrStore(pattern, m)
	return actual.(*Matcher).Matches(routingKey)
}
