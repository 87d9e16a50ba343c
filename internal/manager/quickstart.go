package manager

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/GehirnInc/crypt/sha512_crypt"
)

const quickstartAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const quickstartConfigTemplate = `[server.listener.smtp]
bind = "[::]:25"
protocol = "smtp"

[server.listener.submission]
bind = "[::]:587"
protocol = "smtp"

[server.listener.submissions]
bind = "[::]:465"
protocol = "smtp"
tls.implicit = true

[server.listener.imap]
bind = "[::]:143"
protocol = "imap"

[server.listener.imaptls]
bind = "[::]:993"
protocol = "imap"
tls.implicit = true

[server.listener.sieve]
bind = "[::]:4190"
protocol = "managesieve"

[server.listener.https]
protocol = "http"
bind = "[::]:443"
tls.implicit = true

[server.listener.http]
protocol = "http"
bind = "[::]:8080"

[storage]
data = "sqlite"
fts = "sqlite"
blob = "sqlite"
lookup = "sqlite"

[store.sqlite]
type = "sqlite"
path = "_P_/data/restinmail.db"

[tracer.log]
type = "log"
level = "info"
path = "_P_/logs"
prefix = "restinmail.log"
rotate = "daily"
ansi = false
enable = true

[authentication.fallback-admin]
user = "admin"
secret = "_S_"
`

// Quickstart scaffolds a fresh <dir>/{etc,data,logs} tree and writes a
// canned config.toml with a generated (or env-supplied) admin password,
// hashed with sha512-crypt (spec C9). Mirrors the teacher corpus's only
// password-hashing dependency, github.com/GehirnInc/crypt.
func Quickstart(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("quickstart: create %q: %w", dir, err)
	}
	for _, sub := range []string{"etc", "data", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("quickstart: create %s directory: %w", sub, err)
		}
	}

	adminPass := os.Getenv("RESTINMAIL_ADMIN_PASSWORD")
	if adminPass == "" {
		// STALWART_ADMIN_PASSWORD is the upstream name; honor it too so
		// an operator's existing deployment scripts keep working.
		adminPass = os.Getenv("STALWART_ADMIN_PASSWORD")
	}
	if adminPass == "" {
		generated, err := randomAlphanumeric(10)
		if err != nil {
			return fmt.Errorf("quickstart: generate admin password: %w", err)
		}
		adminPass = generated
	}

	hashed, err := sha512_crypt.New().Generate([]byte(adminPass), nil)
	if err != nil {
		return fmt.Errorf("quickstart: hash admin password: %w", err)
	}

	doc := quickstartConfigTemplate
	doc = strings.ReplaceAll(doc, "_P_", dir)
	doc = strings.ReplaceAll(doc, "_S_", hashed)

	configPath := filepath.Join(dir, "etc", "config.toml")
	if err := os.WriteFile(configPath, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("quickstart: write %q: %w", configPath, err)
	}

	fmt.Fprintf(os.Stderr, "Configuration file written to %s\n", configPath)
	fmt.Fprintf(os.Stderr, "Your administrator account is 'admin' with password '%s'.\n", adminPass)
	return nil
}

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(quickstartAlphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = quickstartAlphanumeric[idx.Int64()]
	}
	return string(out), nil
}
