package manager

import (
	"context"
	"testing"
	"time"

	"github.com/caasmo/restinmail/internal/config"
	"github.com/caasmo/restinmail/internal/store"
)

func TestResolveConfigPathPrecedence(t *testing.T) {
	cases := []struct {
		name string
		args ConfigPathArgs
		want string
	}{
		{"explicit wins over everything", ConfigPathArgs{Explicit: "/a", EnvVar: "/b", ConfigFlag: "/c"}, "/a"},
		{"env wins over flag", ConfigPathArgs{EnvVar: "/b", ConfigFlag: "/c"}, "/b"},
		{"flag used when nothing else set", ConfigPathArgs{ConfigFlag: "/c"}, "/c"},
		{"empty when nothing resolved", ConfigPathArgs{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveConfigPath(tc.args); got != tc.want {
				t.Fatalf("ResolveConfigPath(%+v) = %q, want %q", tc.args, got, tc.want)
			}
		})
	}
}

func TestParseListenersExtractsPortsAndProtocols(t *testing.T) {
	cfg := config.New()
	cfg.Set("server.listener.smtp.protocol", "smtp")
	cfg.Set("server.listener.smtp.port", "25")
	cfg.Set("server.listener.imap.protocol", "imap")
	cfg.Set("server.listener.imap.port", "143")

	listeners := parseListeners(cfg)
	if len(listeners) != 2 {
		t.Fatalf("len(listeners) = %d, want 2", len(listeners))
	}
	byID := map[string]listener{}
	for _, l := range listeners {
		byID[l.ID] = l
	}
	if byID["smtp"].Port != 25 || byID["smtp"].Protocol != "smtp" {
		t.Fatalf("smtp listener = %+v, unexpected", byID["smtp"])
	}
	if byID["imap"].Port != 143 || byID["imap"].Protocol != "imap" {
		t.Fatalf("imap listener = %+v, unexpected", byID["imap"])
	}
}

func TestExtendPatternsFromDefaultsToWildcard(t *testing.T) {
	cfg := config.New()
	got := extendPatternsFrom(cfg)
	if len(got) != 1 || got[0] != "*" {
		t.Fatalf("extendPatternsFrom(empty) = %v, want [\"*\"]", got)
	}
}

func TestExtendPatternsFromSplitsConfiguredList(t *testing.T) {
	cfg := config.New()
	cfg.Set("config.extend.patterns", "server.*,lookup.*")
	got := extendPatternsFrom(cfg)
	if len(got) != 2 || got[0] != "server.*" || got[1] != "lookup.*" {
		t.Fatalf("extendPatternsFrom = %v, unexpected", got)
	}
}

func TestPurgeFrequencyParsesDuration(t *testing.T) {
	cfg := config.New()
	cfg.Set("jmap.session.purge.frequency", "30m")
	got := purgeFrequency(cfg, "jmap.session.purge.frequency")
	if got.Interval != 30*time.Minute {
		t.Fatalf("Interval = %v, want 30m", got.Interval)
	}
}

func TestPurgeFrequencyDefaultsToOneHourWhenAbsent(t *testing.T) {
	cfg := config.New()
	got := purgeFrequency(cfg, "jmap.session.purge.frequency")
	if got.Interval != time.Hour {
		t.Fatalf("Interval = %v, want 1h default", got.Interval)
	}
}

func TestPurgeFrequencyRecordsBuildErrorOnUnparsableDuration(t *testing.T) {
	cfg := config.New()
	cfg.Set("jmap.session.purge.frequency", "not-a-duration")
	got := purgeFrequency(cfg, "jmap.session.purge.frequency")
	if got.Interval != time.Hour {
		t.Fatalf("Interval = %v, want 1h fallback", got.Interval)
	}
	if len(cfg.BuildErrors()) == 0 {
		t.Fatal("expected a build error for the unparsable duration")
	}
}

func TestBuildPurgeSchedulesCoversDataAndLookupStores(t *testing.T) {
	cfg := config.New()
	reg := store.NewRegistry()
	reg.Data["primary"] = noExtendStore{}
	reg.Lookup["dir"] = noExtendLookupStore{}

	got := buildPurgeSchedules(cfg, reg)
	if len(got) != 2 {
		t.Fatalf("len(schedules) = %d, want 2", len(got))
	}
	kinds := map[string]store.Kind{}
	for _, ps := range got {
		kinds[ps.StoreID] = ps.Kind
	}
	if kinds["primary"] != store.KindData {
		t.Fatalf("primary kind = %q, want data", kinds["primary"])
	}
	if kinds["dir"] != store.KindLookup {
		t.Fatalf("dir kind = %q, want lookup", kinds["dir"])
	}
}

type noExtendLookupStore struct{}

func (noExtendLookupStore) PurgeLookupStore(ctx context.Context) error { return nil }
