package config

import (
	"os"
	"testing"
)

func TestParseFlattensNestedKeys(t *testing.T) {
	c := New()
	if err := c.Parse([]byte(`
[server.listener.smtp]
bind = "[::]:25"
protocol = "smtp"
`)); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, ok := c.Value("server.listener.smtp.bind"); !ok || v != "[::]:25" {
		t.Fatalf("got %q, %v", v, ok)
	}
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	c := New()
	_ = c.Parse([]byte("this is not { valid toml"))
	errs := c.BuildErrors()
	if len(errs) != 1 {
		t.Fatalf("expected one build error, got %d", len(errs))
	}
}

func TestLastWriteWins(t *testing.T) {
	c := New()
	c.Set("a.b", "1")
	c.Set("a.b", "2")
	if v, _ := c.Value("a.b"); v != "2" {
		t.Fatalf("expected 2, got %q", v)
	}
}

func TestResolveMacrosEnv(t *testing.T) {
	os.Setenv("RESTINMAIL_TEST_MACRO", "hello")
	defer os.Unsetenv("RESTINMAIL_TEST_MACRO")

	c := New()
	c.Set("some.key", "%{env:RESTINMAIL_TEST_MACRO}")
	c.ResolveMacros()

	if v, _ := c.Value("some.key"); v != "hello" {
		t.Fatalf("expected hello, got %q", v)
	}
}

func TestResolveMacrosUnresolvedBecomesBuildError(t *testing.T) {
	c := New()
	c.Set("some.key", "%{env:RESTINMAIL_DOES_NOT_EXIST}")
	c.ResolveMacros()

	if len(c.BuildErrors()) != 1 {
		t.Fatalf("expected one build error")
	}
	// the literal macro text is preserved, not dropped
	if v, _ := c.Value("some.key"); v != "%{env:RESTINMAIL_DOES_NOT_EXIST}" {
		t.Fatalf("got %q", v)
	}
}

func TestPatternsLiteralAndGlob(t *testing.T) {
	p := ParsePatterns([]string{"oauth.key", "queue.*"})
	if !p.Match("oauth.key") {
		t.Fatal("expected literal match")
	}
	if !p.Match("queue.quota.size.messages") {
		t.Fatal("expected glob match")
	}
	if p.Match("session.throttle.ip.key") {
		t.Fatal("unexpected match")
	}
}
