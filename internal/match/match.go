// Package match filters stream ids against glob-style patterns.
package match

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Set is a compiled group of patterns matched against stream ids.
// Patterns use '*' as a wildcard crossing any characters, so
// "telemetry:*" matches "telemetry:imu" but not "imu:telemetry".
type Set struct {
	patterns []string
	globs    []glob.Glob
}

// Compile builds a Set. An invalid pattern fails the whole set.
func Compile(patterns []string) (*Set, error) {
	s := &Set{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid stream pattern %q: %w", p, err)
		}
		s.globs = append(s.globs, g)
	}
	return s, nil
}

// Match reports whether the id matches at least one pattern.
func (s *Set) Match(id string) bool {
	for _, g := range s.globs {
		if g.Match(id) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no patterns.
func (s *Set) Empty() bool {
	return len(s.globs) == 0
}

// Patterns returns the source patterns the set was compiled from.
func (s *Set) Patterns() []string {
	return s.patterns
}

// Split partitions stream specs into literal ids and patterns. A spec
// containing '*' is a pattern; anything else names a stream directly.
// Blank specs are dropped.
func Split(specs []string) (ids, patterns []string) {
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		switch {
		case spec == "":
		case strings.Contains(spec, "*"):
			patterns = append(patterns, spec)
		default:
			ids = append(ids, spec)
		}
	}
	return ids, patterns
}
