package notify

import (
	"testing"

	"github.com/caasmo/restinmail/internal/config"
)

func TestParseConfigReadsReportKeys(t *testing.T) {
	cfg := config.New()
	cfg.Set("report.analysis.enable", "true")
	cfg.Set("report.analysis.smtp.host", "mail.example.com")
	cfg.Set("report.analysis.smtp.port", "465")
	cfg.Set("report.analysis.from", "ops@example.com")
	cfg.Set("report.analysis.addresses", "a@example.com,b@example.com")

	got := ParseConfig(cfg)
	if !got.Enable {
		t.Fatal("Enable = false, want true")
	}
	if got.SMTPHost != "mail.example.com" || got.SMTPPort != "465" {
		t.Fatalf("SMTPHost/Port = %q/%q, unexpected", got.SMTPHost, got.SMTPPort)
	}
	if len(got.Addresses) != 2 || got.Addresses[0] != "a@example.com" || got.Addresses[1] != "b@example.com" {
		t.Fatalf("Addresses = %v, unexpected", got.Addresses)
	}
}

func TestParseConfigDefaultsDisabled(t *testing.T) {
	cfg := config.New()
	got := ParseConfig(cfg)
	if got.Enable {
		t.Fatal("Enable = true, want false when unset")
	}
	if got.Subject == "" {
		t.Fatal("Subject should have a default even when unconfigured")
	}
}

func TestNotifyBuildErrorsNoOpWhenDisabled(t *testing.T) {
	n := New(Config{Enable: false})
	err := n.NotifyBuildErrors([]config.BuildError{{Pattern: "*", Message: "boom"}})
	if err != nil {
		t.Fatalf("NotifyBuildErrors = %v, want nil when disabled", err)
	}
}

func TestNotifyBuildErrorsNoOpWhenNoErrors(t *testing.T) {
	n := New(Config{Enable: true, Addresses: []string{"a@example.com"}})
	if err := n.NotifyBuildErrors(nil); err != nil {
		t.Fatalf("NotifyBuildErrors = %v, want nil with no errors", err)
	}
}

func TestNotifyBuildErrorsNoOpWhenNoAddresses(t *testing.T) {
	n := New(Config{Enable: true})
	err := n.NotifyBuildErrors([]config.BuildError{{Pattern: "*", Message: "boom"}})
	if err != nil {
		t.Fatalf("NotifyBuildErrors = %v, want nil with no addresses configured", err)
	}
}
