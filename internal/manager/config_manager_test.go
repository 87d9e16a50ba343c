package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caasmo/restinmail/internal/config"
	"github.com/caasmo/restinmail/internal/store"
)

type fakeExtendingStore struct {
	keys map[string]string
	err  error
}

func (f *fakeExtendingStore) PurgeStore(ctx context.Context) error { return nil }

func (f *fakeExtendingStore) ExtendConfig(ctx context.Context, matches func(string) bool) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for k, v := range f.keys {
		if matches(k) {
			out[k] = v
		}
	}
	return out, nil
}

var _ store.DataStore = (*fakeExtendingStore)(nil)

func TestExtendConfigDoesNotOverwriteLocalKeys(t *testing.T) {
	cfg := config.New()
	cfg.Set("server.hostname", "local-value")

	ds := &fakeExtendingStore{keys: map[string]string{
		"server.hostname": "remote-value",
		"server.timezone": "UTC",
	}}

	m := NewConfigManager(cfg, nil)
	patterns := config.ParsePatterns([]string{"*"})
	if err := m.ExtendConfig(context.Background(), ds, patterns); err != nil {
		t.Fatalf("ExtendConfig: %v", err)
	}

	if v, _ := cfg.Value("server.hostname"); v != "local-value" {
		t.Fatalf("server.hostname = %q, want local value preserved", v)
	}
	if v, _ := cfg.Value("server.timezone"); v != "UTC" {
		t.Fatalf("server.timezone = %q, want imported value", v)
	}
}

func TestExtendConfigNoOpOnNonExtendingStore(t *testing.T) {
	cfg := config.New()
	m := NewConfigManager(cfg, nil)
	patterns := config.ParsePatterns([]string{"*"})

	if err := m.ExtendConfig(context.Background(), noExtendStore{}, patterns); err != nil {
		t.Fatalf("ExtendConfig on non-extending store: %v", err)
	}
}

type noExtendStore struct{}

func (noExtendStore) PurgeStore(ctx context.Context) error { return nil }

func TestFetchExternalConfigMergesOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[server]
hostname = "fetched.example.com"
`))
	}))
	defer srv.Close()

	cfg := config.New()
	m := NewConfigManager(cfg, srv.Client())

	if err := m.FetchExternalConfig(context.Background(), srv.URL, 2*time.Second); err != nil {
		t.Fatalf("FetchExternalConfig: %v", err)
	}
	if v, ok := cfg.Value("server.hostname"); !ok || v != "fetched.example.com" {
		t.Fatalf("server.hostname = %q, ok=%v, want fetched.example.com", v, ok)
	}
}

func TestFetchExternalConfigRecordsBuildErrorOnPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.New()
	m := NewConfigManager(cfg, srv.Client())

	if err := m.FetchExternalConfig(context.Background(), srv.URL, 2*time.Second); err == nil {
		t.Fatal("FetchExternalConfig = nil, want error on 404")
	}
	if len(cfg.BuildErrors()) == 0 {
		t.Fatal("expected a build error to be recorded on permanent fetch failure")
	}
}

func TestAppendFetchParamsPreservesExistingQuery(t *testing.T) {
	got, err := appendFetchParams("https://update.example.com/pack.toml?debug=1", fetchParams{SchemaVersion: 1, Channel: "stable"})
	if err != nil {
		t.Fatalf("appendFetchParams: %v", err)
	}
	if !strings.Contains(got, "debug=1") {
		t.Fatalf("appendFetchParams lost existing query param: %s", got)
	}
	if !strings.Contains(got, "schema_version=1") || !strings.Contains(got, "channel=stable") {
		t.Fatalf("appendFetchParams missing encoded params: %s", got)
	}
}

func TestFetchExternalConfigSendsSchemaVersionParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[server]
hostname = "fetched.example.com"
`))
	}))
	defer srv.Close()

	cfg := config.New()
	m := NewConfigManager(cfg, srv.Client())
	if err := m.FetchExternalConfig(context.Background(), srv.URL, 2*time.Second); err != nil {
		t.Fatalf("FetchExternalConfig: %v", err)
	}
	if !strings.Contains(gotQuery, "schema_version=1") {
		t.Fatalf("request query = %q, want schema_version=1", gotQuery)
	}
}

func TestSetInsertsKeyDirectly(t *testing.T) {
	cfg := config.New()
	m := NewConfigManager(cfg, nil)
	m.Set("oauth.key", "generated-secret")

	if v, ok := cfg.Value("oauth.key"); !ok || v != "generated-secret" {
		t.Fatalf("oauth.key = %q, ok=%v, want generated-secret", v, ok)
	}
}
