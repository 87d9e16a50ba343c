package housekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/caasmo/restinmail/internal/core"
)

type countingIndexer struct {
	proceed chan struct{}
	calls   int
}

func (c *countingIndexer) IndexQueued(ctx context.Context) error {
	c.calls++
	<-c.proceed
	return nil
}

func newTestScheduler(t *testing.T, indexer Indexer) *Scheduler {
	t.Helper()
	snap := &core.Snapshot{
		Tunables: core.Tunables{
			SessionPurgeFrequency: core.Frequency{Interval: time.Minute},
			AccountPurgeFrequency: core.Frequency{Interval: time.Minute},
		},
	}
	return New(Deps{Core: core.New(snap), Indexer: indexer})
}

// TestSchedulerIndexSingleFlight exercises spec §8 S3: a second index
// request arriving while a pass is already running collapses into the
// pending flag, and is served as soon as the in-flight pass completes,
// without ever running two passes concurrently.
func TestSchedulerIndexSingleFlight(t *testing.T) {
	proceed := make(chan struct{})
	idx := &countingIndexer{proceed: proceed}
	s := newTestScheduler(t, idx)
	ctx := context.Background()

	s.onIndexStart(ctx)
	if !s.indexBusy {
		t.Fatal("expected busy after first index start")
	}

	s.onIndexStart(ctx)
	if !s.indexPending {
		t.Fatal("expected pending after second index start while busy")
	}

	proceed <- struct{}{}
	ev := <-s.inbox
	if ev.Kind != EventIndexDone {
		t.Fatalf("expected index done event, got %+v", ev)
	}
	if idx.calls != 1 {
		t.Fatalf("expected exactly one in-flight index pass, got %d", idx.calls)
	}
	s.onIndexDone(ctx, ev.Err)

	if s.indexPending {
		t.Fatal("expected pending cleared once its pass started")
	}
	if !s.indexBusy {
		t.Fatal("expected busy to remain set for the collapsed pass")
	}

	proceed <- struct{}{}
	ev2 := <-s.inbox
	if idx.calls != 2 {
		t.Fatalf("expected the collapsed request to run a second pass, got %d calls", idx.calls)
	}
	s.onIndexDone(ctx, ev2.Err)

	if s.indexBusy {
		t.Fatal("expected busy cleared once no pending request remains")
	}
}

// TestSchedulerIndexNoPendingStopsAfterOnePass covers the simple case:
// no second request arrives, so exactly one pass runs.
func TestSchedulerIndexNoPendingStopsAfterOnePass(t *testing.T) {
	proceed := make(chan struct{}, 1)
	idx := &countingIndexer{proceed: proceed}
	s := newTestScheduler(t, idx)
	ctx := context.Background()

	s.onIndexStart(ctx)
	proceed <- struct{}{}
	ev := <-s.inbox
	s.onIndexDone(ctx, ev.Err)

	if s.indexBusy || s.indexPending {
		t.Fatalf("expected idle scheduler, got busy=%v pending=%v", s.indexBusy, s.indexPending)
	}
	if idx.calls != 1 {
		t.Fatalf("expected exactly one pass, got %d", idx.calls)
	}
}

type countingPurgeStore struct {
	done chan struct{}
}

func (c *countingPurgeStore) Purge(ctx context.Context, storeID string) error {
	close(c.done)
	return nil
}

// TestDispatchReschedulesBeforeSpawning verifies the invariant that a
// class is rescheduled before its work is spawned, so a slow purge can
// never skew the next fire time.
func TestDispatchReschedulesBeforeSpawning(t *testing.T) {
	store := &countingPurgeStore{done: make(chan struct{})}
	s := newTestScheduler(t, nil)
	s.deps.PurgeStore = store

	action := &Action{Due: time.Now(), Class: ActionClass{Kind: ClassStore, ID: "s1"}}
	s.dispatch(context.Background(), action)

	if s.queue.Len() != 1 {
		t.Fatalf("expected the store class rescheduled synchronously, got queue len %d", s.queue.Len())
	}

	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("expected purge to have been spawned")
	}
}

func TestSeedInitialScheduleQueuesSessionAndAccount(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.seedInitialSchedule(context.Background())

	if s.queue.Len() != 2 {
		t.Fatalf("expected session+account seeded, got %d entries", s.queue.Len())
	}
}

// TestHandlePurgeEventDoesNotTouchQueue covers the distinction between an
// ad-hoc Purge event and the periodic ClassStore dispatch: a Purge
// request runs the store's purge once and never schedules anything.
func TestHandlePurgeEventDoesNotTouchQueue(t *testing.T) {
	store := &countingPurgeStore{done: make(chan struct{})}
	s := newTestScheduler(t, nil)
	s.deps.PurgeStore = store

	if ok := s.handleEvent(context.Background(), Event{Kind: EventPurge, StoreID: "s1", PurgeOf: PurgeData}); !ok {
		t.Fatal("handleEvent(Purge) should not terminate the loop")
	}

	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("expected purge to have been spawned")
	}

	if s.queue.Len() != 0 {
		t.Fatalf("expected Purge to leave the queue untouched, got %d entries", s.queue.Len())
	}
}

type fakeAcmeRuntime struct {
	initDelay time.Duration
	initErr   error
}

func (f *fakeAcmeRuntime) Init(ctx context.Context) (time.Duration, error) {
	return f.initDelay, f.initErr
}

func (f *fakeAcmeRuntime) Renew(ctx context.Context) (time.Duration, error) {
	return f.initDelay, f.initErr
}

// TestHandleAcmeReloadPostsReschedulePerProvider covers spec's AcmeReload
// semantics: every configured provider is re-initialized, and each
// success posts its own AcmeReschedule back onto the inbox.
func TestHandleAcmeReloadPostsReschedulePerProvider(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.deps.Acme = map[string]AcmeRuntime{
		"a": &fakeAcmeRuntime{initDelay: time.Minute},
		"b": &fakeAcmeRuntime{initErr: context.Canceled},
	}

	if ok := s.handleEvent(context.Background(), Event{Kind: EventAcmeReload}); !ok {
		t.Fatal("handleEvent(AcmeReload) should not terminate the loop")
	}

	ev := <-s.inbox
	if ev.Kind != EventAcmeReschedule || ev.AcmeID != "a" {
		t.Fatalf("expected a reschedule for provider a, got %+v", ev)
	}

	select {
	case ev2 := <-s.inbox:
		t.Fatalf("expected no reschedule for the failing provider, got %+v", ev2)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestDispatchAcmeBumpsConfigVersionOnFailure covers spec §4.3.3: a
// renewal bumps config_version on both success and failure, since
// certificates are part of the published snapshot.
func TestDispatchAcmeBumpsConfigVersionOnFailure(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.deps.Acme = map[string]AcmeRuntime{
		"a": &fakeAcmeRuntime{initErr: context.Canceled},
	}
	before := s.deps.Core.Version()

	action := &Action{Due: time.Now(), Class: ActionClass{Kind: ClassAcme, ID: "a"}}
	s.dispatch(context.Background(), action)

	ev := <-s.inbox
	if ev.Kind != EventAcmeReschedule || ev.AcmeID != "a" {
		t.Fatalf("expected a reschedule after the failed renewal, got %+v", ev)
	}
	if s.deps.Core.Version() != before+1 {
		t.Fatalf("config version = %d, want %d after a failed renewal", s.deps.Core.Version(), before+1)
	}
}
