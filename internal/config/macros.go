package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var macroPattern = regexp.MustCompile(`%\{(env|file|cfg):([^}]*)\}`)

// ResolveMacros substitutes %{env:NAME}, %{file:PATH}, and %{cfg:KEY}
// forms in every value. An unresolved macro (missing env var, unreadable
// file, unknown config key) becomes a build error; it never aborts
// resolution of the remaining keys.
func (c *Config) ResolveMacros() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.mu.RLock()
		v := c.keys[k]
		c.mu.RUnlock()

		if !strings.Contains(v, "%{") {
			continue
		}

		resolved := macroPattern.ReplaceAllStringFunc(v, func(match string) string {
			sub := macroPattern.FindStringSubmatch(match)
			kind, arg := sub[1], sub[2]
			out, err := c.resolveMacro(kind, arg)
			if err != nil {
				c.NewBuildError(k, fmt.Sprintf("unresolved macro %q: %v", match, err))
				return match
			}
			return out
		})

		c.mu.Lock()
		c.keys[k] = resolved
		c.mu.Unlock()
	}
}

func (c *Config) resolveMacro(kind, arg string) (string, error) {
	switch kind {
	case "env":
		v, ok := os.LookupEnv(arg)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", arg)
		}
		return v, nil
	case "file":
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case "cfg":
		v, ok := c.Value(arg)
		if !ok {
			return "", fmt.Errorf("config key %q not found", arg)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unknown macro kind %q", kind)
	}
}
