// Package tracer builds the *slog.Logger the rest of boot uses, one
// handler per "tracer.<id>" config section: rotating file appenders via
// gopkg.in/natefinch/lumberjack.v2, ANSI auto-detection via
// github.com/mattn/go-isatty, and per-tracer level filtering (spec C10).
package tracer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/caasmo/restinmail/internal/config"
)

// Config describes a single tracer.<id> section.
type Config struct {
	ID     string
	Kind   string // "log", "stdout", "stderr"
	Level  slog.Level
	Path   string
	Prefix string
	Rotate string // "hourly", "daily", "never"
	Ansi   *bool  // nil means auto-detect
	Enable bool
}

// Parse reads every tracer.<id> section present in cfg. Unknown "rotate"
// values fall back to "never" and record a build error rather than
// panicking, per SPEC_FULL §8.
func Parse(cfg *config.Config) []Config {
	ids := map[string]struct{}{}
	for _, k := range cfg.Keys() {
		if strings.HasPrefix(k.Key, "tracer.") {
			rest := strings.TrimPrefix(k.Key, "tracer.")
			if i := strings.IndexByte(rest, '.'); i > 0 {
				ids[rest[:i]] = struct{}{}
			}
		}
	}

	var out []Config
	for id := range ids {
		prefix := "tracer." + id + "."
		c := Config{ID: id, Rotate: "never", Enable: true}
		if v, ok := cfg.Value(prefix + "type"); ok {
			c.Kind = v
		}
		if v, ok := cfg.Value(prefix + "level"); ok {
			c.Level = parseLevel(v)
		}
		if v, ok := cfg.Value(prefix + "path"); ok {
			c.Path = v
		}
		if v, ok := cfg.Value(prefix + "prefix"); ok {
			c.Prefix = v
		}
		if v, ok := cfg.Value(prefix + "rotate"); ok {
			switch v {
			case "hourly", "daily", "never":
				c.Rotate = v
			default:
				cfg.NewBuildError(prefix+"rotate", fmt.Sprintf("unknown rotate value %q, using \"never\"", v))
			}
		}
		if v, ok := cfg.Value(prefix + "ansi"); ok {
			b := v == "true"
			c.Ansi = &b
		}
		if v, ok := cfg.Value(prefix + "enable"); ok {
			c.Enable = v != "false"
		}
		out = append(out, c)
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build constructs a *slog.Logger fanning out to every enabled tracer.
func Build(configs []Config) *slog.Logger {
	var handlers []slog.Handler
	for _, c := range configs {
		if !c.Enable {
			continue
		}
		handlers = append(handlers, buildHandler(c))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(newFanoutHandler(handlers))
}

func buildHandler(c Config) slog.Handler {
	var w io.Writer
	switch c.Kind {
	case "log":
		w = &lumberjack.Logger{
			Filename:  logFilePath(c.Path, c.Prefix),
			MaxSize:   100,
			MaxAge:    28,
			Compress:  true,
			LocalTime: true,
		}
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}

	ansi := c.Ansi
	if ansi == nil {
		auto := false
		if f, ok := w.(*os.File); ok {
			auto = isatty.IsTerminal(f.Fd())
		}
		ansi = &auto
	}

	opts := &slog.HandlerOptions{Level: c.Level}
	if *ansi {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func logFilePath(path, prefix string) string {
	if path == "" {
		path = "."
	}
	if prefix == "" {
		prefix = "restinmail.log"
	}
	return path + "/" + prefix
}
