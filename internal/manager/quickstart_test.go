package manager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestQuickstartScaffoldsDirectoriesAndConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTINMAIL_ADMIN_PASSWORD", "correct-horse-battery-staple")

	if err := Quickstart(dir); err != nil {
		t.Fatalf("Quickstart: %v", err)
	}

	for _, sub := range []string{"etc", "data", "logs"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s/%s to exist", dir, sub)
		}
	}

	doc, err := os.ReadFile(filepath.Join(dir, "etc", "config.toml"))
	if err != nil {
		t.Fatalf("read config.toml: %v", err)
	}
	if strings.Contains(string(doc), "_P_") || strings.Contains(string(doc), "_S_") {
		t.Fatal("config.toml still contains unsubstituted placeholders")
	}
	if !strings.Contains(string(doc), dir) {
		t.Fatalf("config.toml does not reference scaffold directory %s", dir)
	}
	if !strings.Contains(string(doc), `user = "admin"`) {
		t.Fatal("config.toml missing fallback-admin user")
	}
}

func TestQuickstartGeneratesPasswordWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTINMAIL_ADMIN_PASSWORD", "")
	t.Setenv("STALWART_ADMIN_PASSWORD", "")

	if err := Quickstart(dir); err != nil {
		t.Fatalf("Quickstart: %v", err)
	}
	doc, err := os.ReadFile(filepath.Join(dir, "etc", "config.toml"))
	if err != nil {
		t.Fatalf("read config.toml: %v", err)
	}
	// sha512-crypt hashes start with the $6$ prefix.
	if !strings.Contains(string(doc), "$6$") {
		t.Fatal("config.toml admin secret does not look sha512-crypt hashed")
	}
}

func TestQuickstartHonorsUpstreamAdminPasswordEnvName(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTINMAIL_ADMIN_PASSWORD", "")
	t.Setenv("STALWART_ADMIN_PASSWORD", "correct-horse-battery-staple")

	if err := Quickstart(dir); err != nil {
		t.Fatalf("Quickstart: %v", err)
	}
	doc, err := os.ReadFile(filepath.Join(dir, "etc", "config.toml"))
	if err != nil {
		t.Fatalf("read config.toml: %v", err)
	}
	if !strings.Contains(string(doc), "$6$") {
		t.Fatal("config.toml admin secret does not look sha512-crypt hashed")
	}
}

func TestRandomAlphanumericLength(t *testing.T) {
	s, err := randomAlphanumeric(10)
	if err != nil {
		t.Fatalf("randomAlphanumeric: %v", err)
	}
	if len(s) != 10 {
		t.Fatalf("len = %d, want 10", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(quickstartAlphanumeric, r) {
			t.Fatalf("unexpected rune %q outside alphabet", r)
		}
	}
}
