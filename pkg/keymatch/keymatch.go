// Package keymatch matches cache keys against invalidation patterns.
//
// Pattern syntax:
//   - Exact: "search:example.com" matches only that key
//   - Prefix: "search:*" matches any key starting with "search:"
//   - Glob: "*" matches any run of characters, "?" exactly one
//
// Compiled globs are kept in a sync.Map keyed by pattern; the set of patterns an
// operator sends is small, so the map is not bounded.
package keymatch

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrEmptyPattern is returned for an empty pattern.
var ErrEmptyPattern = errors.New("keymatch: pattern cannot be empty")

var compiled sync.Map // pattern -> *regexp.Regexp

// IsPattern reports whether s contains glob metacharacters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// Match reports whether key matches pattern.
//
// Complexity: O(len(prefix)) for exact and prefix patterns, O(len(key)) for globs
// after a one-time compile.
func Match(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, ErrEmptyPattern
	}
	if pattern == "*" || pattern == key {
		return true, nil
	}
	if !IsPattern(pattern) {
		return false, nil
	}
	if prefix, ok := prefixOf(pattern); ok {
		return strings.HasPrefix(key, prefix), nil
	}
	return compile(pattern).MatchString(key), nil
}

// Filter returns the keys matching pattern, preserving input order.
func Filter(pattern string, keys []string) ([]string, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	var out []string
	for _, k := range keys {
		ok, err := Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// prefixOf returns the literal prefix of a pattern whose only metacharacter is
// a trailing '*'.
func prefixOf(pattern string) (string, bool) {
	if !strings.HasSuffix(pattern, "*") {
		return "", false
	}
	prefix := pattern[:len(pattern)-1]
	if IsPattern(prefix) {
		return "", false
	}
	return prefix, true
}

func compile(pattern string) *regexp.Regexp {
	if re, ok := compiled.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}

	var b strings.Builder
	b.Grow(len(pattern) + 8)
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')

	// QuoteMeta guarantees a valid expression.
	re := regexp.MustCompile(b.String())
	actual, _ := compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}
