// Package notify sends the boot pipeline's build-error digest to the
// configured report addresses. Grounded on the teacher's
// transitive dependency on github.com/domodwyer/mailyak/v3, the only
// mail-composition library anywhere in the corpus's dependency graph.
package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/domodwyer/mailyak/v3"

	"github.com/caasmo/restinmail/internal/config"
)

// Config is the report-notification configuration (spec's
// report.analysis.* keys).
type Config struct {
	Enable      bool
	SMTPHost    string
	SMTPPort    string
	Username    string
	Password    string
	From        string
	Addresses   []string
	Subject     string
}

// ParseConfig reads report.analysis.* keys from cfg.
func ParseConfig(cfg *config.Config) Config {
	out := Config{Subject: "restinmail: configuration build errors"}
	if v, ok := cfg.Value("report.analysis.enable"); ok {
		out.Enable = v == "true"
	}
	out.SMTPHost, _ = cfg.Value("report.analysis.smtp.host")
	out.SMTPPort, _ = cfg.Value("report.analysis.smtp.port")
	out.Username, _ = cfg.Value("report.analysis.smtp.username")
	out.Password, _ = cfg.Value("report.analysis.smtp.password")
	out.From, _ = cfg.Value("report.analysis.from")
	if v, ok := cfg.Value("report.analysis.addresses"); ok && v != "" {
		out.Addresses = strings.Split(v, ",")
	}
	return out
}

// Notifier sends build-error digests by mail.
type Notifier struct {
	cfg Config
}

// New returns a Notifier. NotifyBuildErrors is a no-op when cfg.Enable is false, so
// callers can construct one unconditionally during boot.
func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// NotifyBuildErrors sends a digest of the given build errors to every
// configured report address. Returns NotifyFailed on any SMTP error.
func (n *Notifier) NotifyBuildErrors(errs []config.BuildError) error {
	if !n.cfg.Enable || len(errs) == 0 || len(n.cfg.Addresses) == 0 {
		return nil
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}

	addr := n.cfg.SMTPHost + ":" + n.cfg.SMTPPort
	mail := mailyak.New(addr, auth)
	mail.From(n.cfg.From)
	mail.FromName("restinmail")
	mail.To(n.cfg.Addresses...)
	mail.Subject(n.cfg.Subject)

	var body strings.Builder
	fmt.Fprintf(&body, "%d configuration build error(s) detected at %s:\n\n", len(errs), time.Now().UTC().Format(time.RFC3339))
	for _, e := range errs {
		fmt.Fprintf(&body, "  - pattern=%q: %s\n", e.Pattern, e.Message)
	}
	mail.Plain().Set(body.String())

	if n.cfg.SMTPPort == "465" {
		mail.TLSConfig(&tls.Config{ServerName: n.cfg.SMTPHost})
	}

	if err := mail.Send(); err != nil {
		return &NotifyFailed{Cause: err}
	}
	return nil
}

// NotifyFailed wraps a delivery failure so callers can distinguish "the
// digest was sent and reported problems" from "the digest itself could
// not be delivered".
type NotifyFailed struct {
	Cause error
}

func (e *NotifyFailed) Error() string { return fmt.Sprintf("notify: send failed: %v", e.Cause) }
func (e *NotifyFailed) Unwrap() error { return e.Cause }
