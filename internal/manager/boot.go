package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caasmo/restinmail/internal/acme"
	"github.com/caasmo/restinmail/internal/cache"
	"github.com/caasmo/restinmail/internal/config"
	"github.com/caasmo/restinmail/internal/core"
	"github.com/caasmo/restinmail/internal/metrics"
	"github.com/caasmo/restinmail/internal/notify"
	"github.com/caasmo/restinmail/internal/resolver"
	"github.com/caasmo/restinmail/internal/secret"
	"github.com/caasmo/restinmail/internal/secureconfig"
	"github.com/caasmo/restinmail/internal/store"
	"github.com/caasmo/restinmail/internal/store/sqlitedata"
	"github.com/caasmo/restinmail/internal/tracer"

	"github.com/prometheus/client_golang/prometheus"
)

// ConfigPathArgs carries the inputs stage 1 resolves between, in
// descending precedence order.
type ConfigPathArgs struct {
	Explicit   string
	EnvVar     string // CONFIG_PATH value, pre-read by the caller
	ConfigFlag string // --config=<path>
	InitDir    string // --init <dir>, handled by the caller before Boot runs
}

// ResolveConfigPath implements stage 1's precedence rule. A return of ""
// means no path was resolvable, which is a fatal boot error.
func ResolveConfigPath(args ConfigPathArgs) string {
	if args.Explicit != "" {
		return args.Explicit
	}
	if args.EnvVar != "" {
		return args.EnvVar
	}
	if args.ConfigFlag != "" {
		return args.ConfigFlag
	}
	return ""
}

// Result is what Boot returns to the caller on success (spec's
// {core, guards, config, servers}). Guards is the teacher's term for
// resources that must outlive the process (open file descriptors,
// pool handles); this module's only guard is the data store pool, kept
// open via the Registry itself.
type Result struct {
	Core    *core.Core
	Config  *config.Config
	Stores  *store.Registry
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AcmeRuntimes holds one *acme.Runtime per configured ACME
	// provider, keyed by provider id, ready to be wired into the
	// Housekeeper's Deps.Acme (its Init/Renew methods already satisfy
	// housekeeper.AcmeRuntime structurally).
	AcmeRuntimes map[string]*acme.Runtime

	// Secure is the age-encrypted secrets store, nil when no
	// "secrets.identity-file" was configured.
	Secure *secureconfig.Store
}

// ConfigPathMissing is stage 1's fatal error.
type ConfigPathMissing struct{}

func (ConfigPathMissing) Error() string {
	return "boot: no configuration path resolved (pass --config <path>)"
}

// ExtendConfigFailed is stage 6's fatal error when a data store was
// designated but extend_config could not be completed.
type ExtendConfigFailed struct{ Cause error }

func (e ExtendConfigFailed) Error() string { return fmt.Sprintf("boot: extend_config failed: %v", e.Cause) }
func (e ExtendConfigFailed) Unwrap() error { return e.Cause }

// SharedCoreBuildFailed is stage 11's fatal error.
type SharedCoreBuildFailed struct{ Cause error }

func (e SharedCoreBuildFailed) Error() string { return fmt.Sprintf("boot: shared core construction failed: %v", e.Cause) }
func (e SharedCoreBuildFailed) Unwrap() error { return e.Cause }

// Boot runs the full 13-stage pipeline (spec C5) and returns the
// running server's {core, config, stores}. Only stage 1 (config path),
// stage 4 (when a privileged port cannot be bound or privileges cannot
// be dropped), stage 6 (extend_config, when a data store is designated), and stage
// 11 (shared core construction) are fatal; every other stage degrades
// to a Config build error and boot continues.
func Boot(ctx context.Context, args ConfigPathArgs) (*Result, error) {
	// Stage 1: resolve config path.
	path := ResolveConfigPath(args)
	if path == "" {
		return nil, ConfigPathMissing{}
	}

	// Stage 2: parse local file.
	cfg := config.New()
	cfg.ParseFile(path)

	// Stage 3: macro resolution.
	cfg.ResolveMacros()

	// Stage 4: bind privileged ports, then drop privileges. Binding
	// happens before any store is opened; dropping privileges happens
	// before any further I/O that could touch untrusted data.
	if err := bindAndDropPrivileges(cfg); err != nil {
		return nil, err
	}

	// Stage 5: open stores, concurrently.
	stores, err := store.OpenAll(ctx, cfg)
	if err != nil {
		cfg.NewBuildError("*", fmt.Sprintf("open stores: %v", err))
		stores = store.NewRegistry()
	}

	// Stage 6: construct Config Manager; extend_config from the
	// designated data store, if any. Fatal when a data store is
	// designated but extension fails.
	cm := NewConfigManager(cfg, http.DefaultClient)
	if dataID, ok := cfg.Value("storage.data"); ok && dataID != "" {
		ds, present := stores.Data[dataID]
		if !present {
			return nil, ExtendConfigFailed{Cause: fmt.Errorf("designated data store %q not open", dataID)}
		}
		patterns := config.ParsePatterns(extendPatternsFrom(cfg))
		if err := cm.ExtendConfig(ctx, ds, patterns); err != nil {
			return nil, ExtendConfigFailed{Cause: err}
		}
	}

	// Stage 7: enable tracing.
	logger := tracer.Build(tracer.Parse(cfg))

	// Stage 8: seed missing settings.
	seedMissingSettings(ctx, cfg, cm, stores, logger)

	// Stage 9: persist seeded keys.
	persistSeededKeys(ctx, cfg, stores)

	// Stage 10: parse lookup stores.
	parseLookupStores(cfg, stores)

	// Secure secrets store and ACME runtimes are wired ahead of stage 11
	// so the snapshot can carry provider identities; failures here are
	// diagnostic, matching the degrade-don't-die policy for everything
	// that is not one of the four fatal stages.
	secure := openSecureConfig(cfg, stores)
	acmeRuntimes, acmeProviders := buildAcmeRuntimes(cfg, secure, logger)
	probeResolverDiagnostic(ctx, cfg)

	// Stage 11: construct the Shared Core snapshot.
	snap, err := buildSharedCore(cfg, stores, logger, acmeProviders)
	if err != nil {
		return nil, SharedCoreBuildFailed{Cause: err}
	}
	coreHandle := core.New(snap)

	// Stage 12: bind TCP acceptors (non-privileged), against the shared
	// core. Listener setup itself is transport-layer and out of scope;
	// the acceptors simply close over coreHandle so every accepted
	// connection observes the latest published snapshot.

	// Stage 13: return; fire the Notifier if build errors accumulated.
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ConfigVersion.Set(float64(coreHandle.Version()))

	if errs := cfg.BuildErrors(); len(errs) > 0 {
		n := notify.New(notify.ParseConfig(cfg))
		go func() {
			if err := n.NotifyBuildErrors(errs); err != nil {
				logger.Warn("failed to send build-error digest", "error", err)
			}
		}()
	}

	return &Result{
		Core:         coreHandle,
		Config:       cfg,
		Stores:       stores,
		Metrics:      m,
		Logger:       logger,
		AcmeRuntimes: acmeRuntimes,
		Secure:       secure,
	}, nil
}

// bindAndDropPrivileges implements stage 4. Listener parsing itself
// (protocol framing, TLS) is out of scope; only the privileged-bind then
// drop-privileges ordering invariant is enforced here, since that
// ordering is the part of this stage the rest of the pipeline depends
// on (no store may be opened before privileges are dropped).
func bindAndDropPrivileges(cfg *config.Config) error {
	listeners := parseListeners(cfg)
	boundFDs := make([]int, 0, len(listeners))
	for _, l := range listeners {
		if l.Port < 1024 {
			fd, err := bindPrivileged(l)
			if err != nil {
				return fmt.Errorf("boot: bind server.listener.%s (%s:%d): %w", l.ID, l.Protocol, l.Port, err)
			}
			boundFDs = append(boundFDs, fd)
		}
	}

	user, ok := cfg.Value("server.run-as.user")
	if !ok || user == "" || runtime.GOOS != "linux" {
		return nil
	}
	if err := dropPrivileges(user); err != nil {
		return fmt.Errorf("boot: drop privileges to %q: %w", user, err)
	}
	return nil
}

// listener is the minimal shape stage 4 needs from "server.listener.*".
type listener struct {
	ID       string
	Protocol string
	Port     int
}

func parseListeners(cfg *config.Config) []listener {
	ids := map[string]struct{}{}
	for _, k := range cfg.Keys() {
		if strings.HasPrefix(k.Key, "server.listener.") {
			rest := strings.TrimPrefix(k.Key, "server.listener.")
			if i := strings.IndexByte(rest, '.'); i > 0 {
				ids[rest[:i]] = struct{}{}
			}
		}
	}
	var out []listener
	for id := range ids {
		prefix := "server.listener." + id + "."
		l := listener{ID: id}
		l.Protocol, _ = cfg.Value(prefix + "protocol")
		if v, ok := cfg.Value(prefix + "port"); ok {
			if p, err := strconv.Atoi(v); err == nil {
				l.Port = p
			}
		}
		out = append(out, l)
	}
	return out
}

// bindPrivileged opens a raw listening socket on the given port while
// the process still holds its original privileges. Returns the
// underlying file descriptor so it can be handed to the post-drop
// acceptor stage (stage 12) without rebinding.
func bindPrivileged(l listener) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	addr := syscall.SockaddrInet4{Port: l.Port}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, 128); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return fd, nil
}

func dropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if err := syscall.Setgid(gid); err != nil {
		return err
	}
	return syscall.Setuid(uid)
}

func extendPatternsFrom(cfg *config.Config) []string {
	v, ok := cfg.Value("config.extend.patterns")
	if !ok || v == "" {
		return []string{"*"}
	}
	return strings.Split(v, ",")
}

// seedMissingSettings implements stage 8: every seed is idempotent,
// inserted only when absent, and a failure in any one of them degrades
// to a build error rather than aborting boot.
func seedMissingSettings(ctx context.Context, cfg *config.Config, cm *ConfigManager, stores *store.Registry, logger *slog.Logger) {
	if _, ok := cfg.Value("lookup.default.hostname"); !ok {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
		cm.Set("lookup.default.hostname", hostname)
	}

	if _, ok := cfg.Value("oauth.key"); !ok {
		key, err := secret.Generate(64)
		if err != nil {
			cfg.NewBuildError("oauth.key", fmt.Sprintf("generate oauth key: %v", err))
		} else {
			cm.Set("oauth.key", key)
		}
	}

	if _, ok := cfg.Value("version.spam-filter"); !ok {
		seedSpamFilterDefaults(cfg, cm)
	}

	if blobID, ok := cfg.Value("storage.blob"); ok && blobID != "" {
		if _, present := stores.Blob[blobID]; present {
			seedWebadminBundle(ctx, cfg, stores.Blob[blobID])
		}
	}
}

// seedSpamFilterDefaults fetches the remote spam-filter rule pack; on
// failure it records a build error and installs no throttles at all —
// the operator must intervene, but the server still boots.
func seedSpamFilterDefaults(cfg *config.Config, cm *ConfigManager) {
	const spamFilterRulePackURL = "https://update.restinmail.invalid/spam-filter/latest.toml"
	err := cm.FetchExternalConfig(context.Background(), spamFilterRulePackURL, 10*time.Second)
	if err != nil {
		cfg.NewBuildError("version.spam-filter", fmt.Sprintf("fetch spam-filter rule pack: %v", err))
		return
	}
	cm.Set("version.spam-filter", "fetched")
	defaults := map[string]string{
		"queue.throttle.default.rate":   "100/1s",
		"session.throttle.default.rate": "50/1s",
		"report.analysis.addresses":     "",
	}
	for k, v := range defaults {
		if _, ok := cfg.Value(k); !ok {
			cm.Set(k, v)
		}
	}
}

func seedWebadminBundle(ctx context.Context, cfg *config.Config, blob store.BlobStore) {
	const webadminBundleKey = "webadmin/bundle.tar.gz"
	const webadminBundleURL = "https://update.restinmail.invalid/webadmin/latest.tar.gz"

	if _, ok, _ := blob.GetBlob(ctx, webadminBundleKey, 0, 0); ok {
		return
	}

	resp, err := http.Get(webadminBundleURL)
	if err != nil {
		cfg.NewBuildError("webadmin.bundle", fmt.Sprintf("download webadmin bundle: %v", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cfg.NewBuildError("webadmin.bundle", fmt.Sprintf("download webadmin bundle: status %d", resp.StatusCode))
		return
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		cfg.NewBuildError("webadmin.bundle", fmt.Sprintf("read webadmin bundle: %v", err))
		return
	}

	if err := blob.PutBlob(ctx, webadminBundleKey, buf); err != nil {
		cfg.NewBuildError("webadmin.bundle", fmt.Sprintf("store webadmin bundle: %v", err))
	}
}

// persistSeededKeys implements stage 9.
func persistSeededKeys(ctx context.Context, cfg *config.Config, stores *store.Registry) {
	dataID, ok := cfg.Value("storage.data")
	if !ok || dataID == "" {
		return
	}
	ds, present := stores.Data[dataID]
	if !present {
		return
	}
	setter, ok := ds.(*sqlitedata.Store)
	if !ok {
		return
	}
	kvs := make(map[string]string)
	for _, k := range cfg.Keys() {
		kvs[k.Key] = k.Value
	}
	if err := setter.SetKeys(ctx, kvs); err != nil {
		cfg.NewBuildError("*", fmt.Sprintf("persist seeded keys: %v", err))
	}
}

// parseLookupStores implements stage 10: it records a build error for
// every opened lookup store that has no "store.<id>.path" key. It parses
// no lookup schema; config extension in stage 6 reads the data store,
// not the lookup stores.
func parseLookupStores(cfg *config.Config, stores *store.Registry) {
	for id := range stores.Lookup {
		if _, ok := cfg.Value(fmt.Sprintf("store.%s.path", id)); !ok {
			cfg.NewBuildError(fmt.Sprintf("store.%s", id), "lookup store has no configured path")
		}
	}
}

// buildSharedCore implements stage 11.
func buildSharedCore(cfg *config.Config, stores *store.Registry, logger *slog.Logger, acmeProviders map[string]core.AcmeProvider) (*core.Snapshot, error) {
	caches, err := cache.New(logger, 1e6, 1<<26)
	if err != nil {
		return nil, err
	}

	return &core.Snapshot{
		Config:         cfg,
		Stores:         stores,
		Caches:         caches,
		AcmeProviders:  acmeProviders,
		PurgeSchedules: buildPurgeSchedules(cfg, stores),
		Tunables: core.Tunables{
			SessionPurgeFrequency: purgeFrequency(cfg, "jmap.session.purge.frequency"),
			AccountPurgeFrequency: purgeFrequency(cfg, "jmap.account.purge.frequency"),
		},
	}, nil
}

// buildPurgeSchedules derives one PurgeSchedule per opened data store and
// per opened lookup store, reading its purge frequency from
// "store.<id>.purge.frequency" (default one hour). Blob and fts stores
// get no schedule.
func buildPurgeSchedules(cfg *config.Config, stores *store.Registry) []core.PurgeSchedule {
	var out []core.PurgeSchedule
	for id := range stores.Data {
		out = append(out, core.PurgeSchedule{StoreID: id, Kind: store.KindData, Cron: purgeFrequency(cfg, fmt.Sprintf("store.%s.purge.frequency", id))})
	}
	for id := range stores.Lookup {
		out = append(out, core.PurgeSchedule{StoreID: id, Kind: store.KindLookup, Cron: purgeFrequency(cfg, fmt.Sprintf("store.%s.purge.frequency", id))})
	}
	return out
}

// openSecureConfig opens the age-encrypted secrets store when
// "secrets.identity-file" names an identity file and a data store is
// open to back it. Absence of either is not an error: secrets-at-rest
// is an optional hardening layer, not a boot requirement.
func openSecureConfig(cfg *config.Config, stores *store.Registry) *secureconfig.Store {
	path, ok := cfg.Value("secrets.identity-file")
	if !ok || path == "" {
		return nil
	}
	dataID, ok := cfg.Value("storage.data")
	if !ok || dataID == "" {
		return nil
	}
	ds, ok := stores.Data[dataID].(*sqlitedata.Store)
	if !ok {
		return nil
	}
	secure, err := secureconfig.Open(path, ds)
	if err != nil {
		cfg.NewBuildError("secrets.identity-file", fmt.Sprintf("open secure config: %v", err))
		return nil
	}
	return secure
}

// buildAcmeRuntimes parses every "acme.<id>.*" section into an
// acme.ProviderConfig and constructs its Runtime. A provider whose
// secrets store is unavailable or whose configuration is incomplete is
// skipped with a build error rather than aborting boot.
func buildAcmeRuntimes(cfg *config.Config, secure *secureconfig.Store, logger *slog.Logger) (map[string]*acme.Runtime, map[string]core.AcmeProvider) {
	runtimes := make(map[string]*acme.Runtime)
	providers := make(map[string]core.AcmeProvider)
	if secure == nil {
		return runtimes, providers
	}

	ids := map[string]struct{}{}
	for _, k := range cfg.Keys() {
		if strings.HasPrefix(k.Key, "acme.") {
			rest := strings.TrimPrefix(k.Key, "acme.")
			if i := strings.IndexByte(rest, '.'); i > 0 {
				ids[rest[:i]] = struct{}{}
			}
		}
	}

	for id := range ids {
		prefix := "acme." + id + "."
		email, _ := cfg.Value(prefix + "email")
		domainsRaw, _ := cfg.Value(prefix + "domains")
		caDir, ok := cfg.Value(prefix + "ca-directory-url")
		if !ok || caDir == "" {
			caDir = "https://acme-v02.api.letsencrypt.org/directory"
		}
		accountKeyPEM, _ := cfg.Value(prefix + "account-key")
		apiToken, _ := cfg.Value(prefix + "dns.cloudflare.api-token")

		if email == "" || domainsRaw == "" || accountKeyPEM == "" {
			cfg.NewBuildError(prefix, "incomplete acme provider configuration, skipping")
			continue
		}

		providerCfg := acme.ProviderConfig{
			ID:                   id,
			Email:                email,
			Domains:              strings.Split(domainsRaw, ","),
			DNSProviders:         map[string]acme.DNSProviderConfig{"cloudflare": {APIToken: apiToken}},
			CADirectoryURL:       caDir,
			AccountPrivateKeyPEM: accountKeyPEM,
		}
		runtimes[id] = acme.NewRuntime(providerCfg, secure, logger)
		providers[id] = acme.ToCoreProvider(providerCfg)
	}
	return runtimes, providers
}

// probeResolverDiagnostic runs a best-effort NS probe against the
// configured hostname, recording a build error (never fatal) when no
// configured nameserver answers.
func probeResolverDiagnostic(ctx context.Context, cfg *config.Config) {
	hostname, ok := cfg.Value("lookup.default.hostname")
	if !ok || hostname == "" {
		return
	}
	resolverCfg := resolver.ParseConfig(cfg)
	if err := resolver.Probe(ctx, resolverCfg, hostname); err != nil {
		cfg.NewBuildError("resolver", err.Error())
	}
}

// purgeFrequency reads a "<ns>.purge.frequency" duration key, defaulting
// to one hour when absent or unparsable.
func purgeFrequency(cfg *config.Config, key string) core.Frequency {
	v, ok := cfg.Value(key)
	if !ok {
		return core.Frequency{Interval: time.Hour}
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		cfg.NewBuildError(key, fmt.Sprintf("invalid duration %q, using 1h", v))
		return core.Frequency{Interval: time.Hour}
	}
	return core.Frequency{Interval: d}
}
