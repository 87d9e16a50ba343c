package config

import (
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Patterns is a compiled set of glob-like dotted-key patterns, used to
// decide whether a remote or stored key is imported into an active
// Config (spec C2). Literal (wildcard-free) patterns are indexed by hash
// for O(1) membership; patterns containing '*' or '?' fall back to
// path.Match against each candidate key.
type Patterns struct {
	literal map[uint64]struct{}
	globs   []string
}

// ParsePatterns compiles a set of key patterns, e.g. as configured under
// a "config.patterns" list or derived from Config Manager prefixes.
func ParsePatterns(patterns []string) *Patterns {
	p := &Patterns{literal: make(map[uint64]struct{})}
	for _, pat := range patterns {
		if strings.ContainsAny(pat, "*?[") {
			p.globs = append(p.globs, pat)
		} else {
			p.literal[xxhash.Sum64String(pat)] = struct{}{}
		}
	}
	return p
}

// Match reports whether key is selected by the compiled pattern set.
func (p *Patterns) Match(key string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.literal[xxhash.Sum64String(key)]; ok {
		return true
	}
	for _, pat := range p.globs {
		if ok, err := path.Match(pat, key); err == nil && ok {
			return true
		}
	}
	return false
}
