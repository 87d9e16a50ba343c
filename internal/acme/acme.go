// Package acme implements the init(provider)/renew(provider) -> Duration
// contract the Housekeeper consumes (spec's AcmeProvider). It is a
// direct adaptation of the teacher's AcmeCertRenewal.go: the lego client
// setup, Cloudflare DNS-01 provider wiring, registration, and
// certificate-obtain flow are unchanged in shape; only the entry points
// (Init/Renew returning a next-renewal Duration instead of a job
// handler's error) and the persistence layer (secureconfig instead of a
// raw TOML blob write) differ.
package acme

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"
	"github.com/go-acme/lego/v4/registration"

	"github.com/caasmo/restinmail/internal/core"
	"github.com/caasmo/restinmail/internal/secureconfig"
)

const (
	certificateScope      = "acme_certificate"
	dnsProviderCloudflare = "cloudflare"

	// renewBeforeExpiryFraction controls how much of a certificate's
	// lifetime elapses before Init schedules its next renewal.
	renewBeforeExpiryFraction = 2.0 / 3.0
)

// DNSProviderConfig is a provider's DNS-01 credentials, keyed by
// provider name (e.g. "cloudflare").
type DNSProviderConfig struct {
	APIToken string
}

// ProviderConfig is the per-provider configuration the Housekeeper's
// AcmeProvider runtime needs beyond identity (spec's AcmeProvider
// (id, domains, …)).
type ProviderConfig struct {
	ID                    string
	Email                 string
	Domains               []string
	DNSProviders          map[string]DNSProviderConfig
	CADirectoryURL        string
	AccountPrivateKeyPEM  string
}

// storedCert mirrors the teacher's Cert TOML shape for persistence.
type storedCert struct {
	Identifier       string
	Domains          []string
	CertificateChain string
	PrivateKey       string
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// Runtime drives ACME issuance/renewal for one provider.
type Runtime struct {
	cfg    ProviderConfig
	secure *secureconfig.Store
	logger *slog.Logger
}

// NewRuntime builds a Runtime for one ACME provider.
func NewRuntime(cfg ProviderConfig, secure *secureconfig.Store, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, secure: secure, logger: logger.With("acme_provider", cfg.ID)}
}

// acmeUser implements lego's registration.User interface.
type acmeUser struct {
	Email        string
	Registration *registration.Resource
	PrivateKey   crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.PrivateKey }

// Init loads the persisted certificate, if any, and returns the delay
// until it should be renewed. A missing certificate renews immediately
// (delay 0), matching init(provider) -> renew_at from spec §1.
func (r *Runtime) Init(ctx context.Context) (time.Duration, error) {
	data, err := r.secure.Latest(ctx, scopeFor(r.cfg.ID))
	if err != nil {
		if err == secureconfig.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("acme: load stored certificate: %w", err)
	}

	var stored storedCert
	if err := toml.Unmarshal(data, &stored); err != nil {
		return 0, fmt.Errorf("acme: unmarshal stored certificate: %w", err)
	}

	return renewDelay(stored.IssuedAt, stored.ExpiresAt, time.Now()), nil
}

// renewDelay computes how long to wait before renewing a certificate
// issued at issuedAt and expiring at expiresAt, measured from now. It
// never returns a negative duration: a certificate already past its
// renewal point is due immediately.
func renewDelay(issuedAt, expiresAt, now time.Time) time.Duration {
	lifetime := expiresAt.Sub(issuedAt)
	renewAt := issuedAt.Add(time.Duration(float64(lifetime) * renewBeforeExpiryFraction))
	delay := renewAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Renew runs the full lego DNS-01 order/obtain/save flow and returns the
// delay until the next renewal.
func (r *Runtime) Renew(ctx context.Context) (time.Duration, error) {
	cfg := r.cfg

	r.logger.Info("ordering certificate", "domains", cfg.Domains)

	privKey, err := certcrypto.ParsePEMPrivateKey([]byte(cfg.AccountPrivateKeyPEM))
	if err != nil {
		return time.Hour, fmt.Errorf("acme: parse account private key: %w", err)
	}

	user := &acmeUser{Email: cfg.Email, PrivateKey: privKey}
	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = cfg.CADirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return time.Hour, fmt.Errorf("acme: create client: %w", err)
	}

	providerName := dnsProviderCloudflare
	providerCfg, ok := cfg.DNSProviders[providerName]
	if !ok {
		return time.Hour, fmt.Errorf("acme: DNS provider %q not configured", providerName)
	}

	var dnsProvider challenge.Provider
	switch providerName {
	case dnsProviderCloudflare:
		cfLegoCfg := cloudflare.NewDefaultConfig()
		cfLegoCfg.AuthToken = providerCfg.APIToken
		cfProvider, err := cloudflare.NewDNSProviderConfig(cfLegoCfg)
		if err != nil {
			return time.Hour, fmt.Errorf("acme: cloudflare provider: %w", err)
		}
		dnsProvider = cfProvider
	default:
		return time.Hour, fmt.Errorf("acme: unsupported DNS provider %q", providerName)
	}

	if err := client.Challenge.SetDNS01Provider(dnsProvider, dns01.AddDNSTimeout(10*time.Minute)); err != nil {
		return time.Hour, fmt.Errorf("acme: set DNS01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return time.Hour, fmt.Errorf("acme: register account %s: %w", user.Email, err)
		}
		user.Registration = reg
	}

	resource, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: cfg.Domains,
		Bundle:  true,
	})
	if err != nil {
		return time.Hour, fmt.Errorf("acme: obtain certificate for %v: %w", cfg.Domains, err)
	}

	stored, err := r.save(ctx, resource)
	if err != nil {
		return time.Hour, err
	}

	renewAt := renewDelay(stored.IssuedAt, stored.ExpiresAt, stored.IssuedAt)
	r.logger.Info("certificate renewed",
		"domains", cfg.Domains,
		"expires", humanize.Time(stored.ExpiresAt),
		"next_renewal", renewAt)
	return renewAt, nil
}

func (r *Runtime) save(ctx context.Context, resource *certificate.Resource) (storedCert, error) {
	block, _ := pem.Decode(resource.Certificate)
	if block == nil {
		return storedCert{}, fmt.Errorf("acme: decode PEM from obtained certificate chain")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return storedCert{}, fmt.Errorf("acme: parse obtained certificate: %w", err)
	}

	sc := storedCert{
		Identifier:       resource.Domain,
		Domains:          r.cfg.Domains,
		CertificateChain: string(resource.Certificate),
		PrivateKey:       string(resource.PrivateKey),
		IssuedAt:         cert.NotBefore.UTC(),
		ExpiresAt:        cert.NotAfter.UTC(),
	}

	data, err := toml.Marshal(sc)
	if err != nil {
		return storedCert{}, fmt.Errorf("acme: marshal certificate: %w", err)
	}

	desc := fmt.Sprintf("certificate for %s (expires %s)", strings.Join(r.cfg.Domains, ", "), sc.ExpiresAt.Format(time.RFC3339))
	if err := r.secure.Save(ctx, scopeFor(r.cfg.ID), data, "toml", desc); err != nil {
		return storedCert{}, fmt.Errorf("acme: persist certificate: %w", err)
	}
	return sc, nil
}

func scopeFor(providerID string) string { return certificateScope + "/" + providerID }

// ToCoreProvider projects a ProviderConfig into the minimal identity the
// core snapshot and Housekeeper need.
func ToCoreProvider(cfg ProviderConfig) core.AcmeProvider {
	return core.AcmeProvider{ID: cfg.ID, Domains: cfg.Domains}
}
