// Package config implements the key/value configuration model: parsing,
// macro resolution, and build-error accumulation (spec C1).
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// ConfigKey is a single dotted-path configuration entry.
type ConfigKey struct {
	Key   string
	Value string
}

// BuildError is a non-fatal diagnostic surfaced to operators at startup.
type BuildError struct {
	Pattern string
	Message string
}

// Config is a flattened key/value configuration with an append-only list
// of build errors. Last write wins on duplicate keys; insertion order is
// irrelevant.
type Config struct {
	mu          sync.RWMutex
	keys        map[string]string
	buildErrors []BuildError
}

// New returns an empty Config.
func New() *Config {
	return &Config{keys: make(map[string]string)}
}

// Value returns the value for key, if present and non-empty-aware callers
// should check emptiness themselves (an explicitly empty value is a
// legitimate configured value, distinct from "absent").
func (c *Config) Value(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.keys[key]
	return v, ok
}

// Set inserts or overwrites a single key in-memory (does not persist).
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = value
}

// Keys returns a stable-ordered snapshot of all keys, for diagnostics and
// for round-tripping to a backing store.
func (c *Config) Keys() []ConfigKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConfigKey, 0, len(c.keys))
	for k, v := range c.keys {
		out = append(out, ConfigKey{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// NewBuildError records a non-fatal diagnostic. Parsing, macro
// resolution, and boot stages all funnel failures through here instead
// of aborting, per the degrade-don't-die policy.
func (c *Config) NewBuildError(pattern, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buildErrors = append(c.buildErrors, BuildError{Pattern: pattern, Message: message})
}

// BuildErrors returns a snapshot of all accumulated build errors.
func (c *Config) BuildErrors() []BuildError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BuildError, len(c.buildErrors))
	copy(out, c.buildErrors)
	return out
}

// Parse reads a TOML-shaped configuration document and flattens it into
// dotted-path keys. Parsing never panics: a malformed document becomes a
// build error, not a process failure, so that later boot stages can still
// report diagnostics on an otherwise-empty Config.
func (c *Config) Parse(text []byte) error {
	var tree map[string]interface{}
	if err := toml.Unmarshal(text, &tree); err != nil {
		c.NewBuildError("*", fmt.Sprintf("invalid configuration file: %v", err))
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	flatten("", tree, c.keys)
	return nil
}

// ParseFile reads and parses a configuration file from disk. I/O errors
// become a build error rather than a fatal abort so that boot can
// continue with an empty Config and still surface diagnostics.
func (c *Config) ParseFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.NewBuildError("*", fmt.Sprintf("could not read configuration file: %v", err))
		return
	}
	_ = c.Parse(data)
}

func flatten(prefix string, node interface{}, out map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []interface{}:
		for i, child := range v {
			key := fmt.Sprintf("%s.%d", prefix, i)
			flatten(key, child, out)
		}
	case string:
		out[prefix] = v
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}

// Marshal serializes the current key set into a flat TOML document of
// dotted keys.
func (c *Config) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flat := make(map[string]string, len(c.keys))
	for k, v := range c.keys {
		flat[k] = v
	}
	return toml.Marshal(flat)
}

// stripPrefix returns key without prefix and true when key starts with
// prefix (an empty prefix matches every key), or "" and false otherwise.
func stripPrefix(key, prefix string) (string, bool) {
	if prefix == "" {
		return key, true
	}
	if strings.HasPrefix(key, prefix) {
		return strings.TrimPrefix(key, prefix), true
	}
	return "", false
}
