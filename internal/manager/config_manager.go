// Package manager implements the Config Manager (spec C4), the Boot
// Manager's staged pipeline (spec C5), and the Quickstart scaffolder
// (spec C9) — the glue wiring every other package together into a
// running server.
package manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-querystring/query"

	"github.com/caasmo/restinmail/internal/config"
	"github.com/caasmo/restinmail/internal/store"
)

// fetchParams is encoded as the query string on every remote config
// fetch, so the server can serve rule packs matched to this build
// without the client parsing version negotiation itself.
type fetchParams struct {
	SchemaVersion int    `url:"schema_version"`
	Channel       string `url:"channel,omitempty"`
}

// ConfigManager extends an in-memory Config with keys pulled from a
// backing store (spec's extend_config) or fetched from a remote URL
// (spec's fetch_external_config), and accumulates build errors on the
// same degrade-don't-die policy as Config itself.
type ConfigManager struct {
	cfg    *config.Config
	httpDo func(*http.Request) (*http.Response, error)
}

// NewConfigManager wraps cfg. httpClient may be nil, in which case
// http.DefaultClient is used.
func NewConfigManager(cfg *config.Config, httpClient *http.Client) *ConfigManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ConfigManager{cfg: cfg, httpDo: httpClient.Do}
}

// ExtendConfig imports every key from a Data store's persisted
// config_keys table that matches the given selection patterns, without
// overwriting keys already present locally (local config always takes
// precedence over a backing store's snapshot).
func (m *ConfigManager) ExtendConfig(ctx context.Context, data store.DataStore, patterns *config.Patterns) error {
	extender, ok := data.(interface {
		ExtendConfig(ctx context.Context, matches func(string) bool) (map[string]string, error)
	})
	if !ok {
		return nil
	}

	keys, err := extender.ExtendConfig(ctx, patterns.Match)
	if err != nil {
		m.cfg.NewBuildError("*", fmt.Sprintf("extend_config: %v", err))
		return err
	}
	for k, v := range keys {
		if _, present := m.cfg.Value(k); !present {
			m.cfg.Set(k, v)
		}
	}
	return nil
}

// FetchExternalConfig retrieves a TOML document from url and merges it
// into the Config, retrying transient failures with exponential backoff
// (cenkalti/backoff/v4) up to maxElapsed. A failure after all retries is
// recorded as a build error, never a fatal one: a reachable-but-stale
// remote config source must not prevent boot.
func (m *ConfigManager) FetchExternalConfig(ctx context.Context, rawURL string, maxElapsed time.Duration) error {
	fetchURL, err := appendFetchParams(rawURL, fetchParams{SchemaVersion: 1, Channel: "stable"})
	if err != nil {
		m.cfg.NewBuildError("*", fmt.Sprintf("fetch_external_config %q: build query: %v", rawURL, err))
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed
	bctx := backoff.WithContext(policy, ctx)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := m.httpDo(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("external config fetch: server error %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("external config fetch: unexpected status %d", resp.StatusCode))
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		m.cfg.NewBuildError("*", fmt.Sprintf("fetch_external_config %q: %v", rawURL, err))
		return err
	}

	return m.cfg.Parse(body)
}

// appendFetchParams merges params into rawURL's query string via
// google/go-querystring, preserving any query parameters rawURL already
// carries.
func appendFetchParams(rawURL string, params fetchParams) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	values, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	existing := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// Set inserts a single key directly, bypassing any extend/fetch path
// (spec's ConfigManager.set), used by the boot pipeline to seed
// generated secrets.
func (m *ConfigManager) Set(key, value string) {
	m.cfg.Set(key, value)
}
