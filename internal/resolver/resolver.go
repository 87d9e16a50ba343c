// Package resolver parses the nameserver configuration used for DNS-01
// challenge validation and ACME health diagnostics, and runs a
// best-effort NS probe during boot. Resolution for mail delivery itself
// is out of scope; this package exists purely to catch a misconfigured
// resolver before the housekeeper's first ACME renewal attempt fails on
// it. Grounded on github.com/miekg/dns, the only DNS library in the
// corpus's dependency graph.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/caasmo/restinmail/internal/config"
)

// Config is the resolver configuration (spec's resolver.* keys).
type Config struct {
	Servers []string
	Timeout time.Duration
}

// ParseConfig reads resolver.* keys from cfg, defaulting to the system
// resolver's configuration when none are set.
func ParseConfig(cfg *config.Config) Config {
	out := Config{Timeout: 5 * time.Second}
	if v, ok := cfg.Value("resolver.timeout-ms"); ok {
		if d, err := time.ParseDuration(v + "ms"); err == nil {
			out.Timeout = d
		}
	}
	for i := 0; ; i++ {
		key := fmt.Sprintf("resolver.server.%d", i)
		v, ok := cfg.Value(key)
		if !ok {
			break
		}
		out.Servers = append(out.Servers, v)
	}
	if len(out.Servers) == 0 {
		if clientCfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
			for _, s := range clientCfg.Servers {
				out.Servers = append(out.Servers, s+":53")
			}
		}
	}
	return out
}

// ProbeFailed reports that no configured nameserver answered an NS
// query for probeDomain, a diagnostic-only signal surfaced as a build
// error rather than a fatal boot failure.
type ProbeFailed struct {
	Domain string
	Causes []error
}

func (e *ProbeFailed) Error() string {
	return fmt.Sprintf("resolver: no nameserver answered NS query for %q (%d servers tried)", e.Domain, len(e.Causes))
}

// Probe issues an NS query for probeDomain against every configured
// server in turn, succeeding as soon as one answers. It never blocks
// boot on DNS outages beyond cfg.Timeout per server.
func Probe(ctx context.Context, cfg Config, probeDomain string) error {
	if len(cfg.Servers) == 0 {
		return &ProbeFailed{Domain: probeDomain}
	}

	client := &dns.Client{Timeout: cfg.Timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(probeDomain), dns.TypeNS)

	var causes []error
	for _, server := range cfg.Servers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, _, err := client.ExchangeContext(ctx, msg, server)
		if err == nil {
			return nil
		}
		causes = append(causes, fmt.Errorf("%s: %w", server, err))
	}
	return &ProbeFailed{Domain: probeDomain, Causes: causes}
}
