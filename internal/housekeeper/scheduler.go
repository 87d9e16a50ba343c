package housekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/caasmo/restinmail/internal/core"
)

// IPCChannelBuffer is the inbox channel's capacity, matching the Rust
// original's IPC_CHANNEL_BUFFER: large enough that a burst of
// self-reschedule events never blocks the loop that produces them.
const IPCChannelBuffer = 1024

// Action class kinds. Store and Acme classes carry an ID distinguishing
// which store/provider they belong to.
const (
	ClassSession       = "session"
	ClassAccount       = "account"
	ClassStore         = "store"
	ClassAcme          = "acme"
	ClassReloadLicense = "reload_license"
)

// PurgeKind names the kind of purge a Purge event requests, mirroring the
// Rust original's PurgeType enum (Data/Blobs/Lookup/Account). Only
// PurgeAccount changes the dispatch; for the other kinds the store
// capability purged is the one the store's PurgeSchedule designates.
type PurgeKind string

const (
	PurgeData    PurgeKind = "data"
	PurgeBlob    PurgeKind = "blob"
	PurgeLookup  PurgeKind = "lookup"
	PurgeAccount PurgeKind = "account"
)

// Event is one message delivered to the scheduler's inbox, outside the
// normal timer-driven Action dispatch: FTS index completion
// notifications, ad-hoc ACME/purge requests, and shutdown.
type Event struct {
	Kind string

	// StoreID/AcmeID disambiguate events that target a specific store
	// or ACME provider.
	StoreID string
	AcmeID  string
	Delay   time.Duration

	// PurgeOf is set on an EventPurge: PurgeAccount purges the session
	// caches (StoreID is ignored), any other value purges the store
	// named by StoreID.
	PurgeOf PurgeKind

	Err error
}

const (
	EventIndexStart     = "index_start"
	EventIndexDone      = "index_done"
	EventAcmeReload     = "acme_reload"
	EventAcmeReschedule = "acme_reschedule"
	EventPurge          = "purge"
	EventExit           = "exit"
)

// Indexer runs one full-text indexing pass over queued documents.
type Indexer interface {
	IndexQueued(ctx context.Context) error
}

// PurgeStore runs one purge pass for a given store/kind.
type PurgeStore interface {
	Purge(ctx context.Context, storeID string) error
}

// AcmeRuntime drives one ACME provider's init/renew lifecycle.
type AcmeRuntime interface {
	Init(ctx context.Context) (time.Duration, error)
	Renew(ctx context.Context) (time.Duration, error)
}

// SessionCache evicts idle sessions/tokens/rate limiters.
type SessionCache interface {
	Purge(ttl time.Duration)
}

// LicenseReloader rebuilds and republishes the core snapshot on a
// license change.
type LicenseReloader interface {
	ReloadLicense(ctx context.Context) error
}

// Deps bundles everything the Scheduler dispatches Action fires into.
// Core must be set. Any other field may be nil: the Session, Account and
// Store classes are still scheduled and rescheduled, and the work that
// needs the missing field is skipped when they fire; with Acme nil no
// Acme class is scheduled.
type Deps struct {
	Core *core.Core

	Acme map[string]AcmeRuntime

	PurgeStore PurgeStore
	Indexer    Indexer
	Sessions   SessionCache
	License    LicenseReloader

	Logger *slog.Logger
}

// Scheduler is the single-owner cooperative event loop multiplexing
// cron-like purges, ACME renewals, single-flight FTS indexing, cache
// eviction, and license reload (spec C8).
type Scheduler struct {
	queue *Queue
	inbox chan Event
	deps  Deps

	indexBusy    bool
	indexPending bool

	now func() time.Time
}

// New builds a Scheduler. Call Run to start its event loop; Run owns the
// Scheduler and must not be called concurrently from more than one
// goroutine.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		queue: NewQueue(),
		inbox: make(chan Event, IPCChannelBuffer),
		deps:  deps,
		now:   time.Now,
	}
}

// Inbox returns the channel external callers (e.g. the Config Manager on
// a license update, or a store's "new documents queued" hook) send
// Events on. Sends never block under normal load because the channel is
// generously buffered; a full channel blocks the sender, which is the
// intended back-pressure signal.
func (s *Scheduler) Inbox() chan<- Event { return s.inbox }

// QueueDepth reports the number of pending Actions, for metrics.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// seedInitialSchedule primes the queue from the current snapshot before
// the loop starts: one Session and Account purge action, one Store purge
// per configured purge schedule, one Acme action per provider (delay
// from that provider's Init), and a ReloadLicense action if an
// enterprise license is present.
func (s *Scheduler) seedInitialSchedule(ctx context.Context) {
	now := s.now()
	snap := s.deps.Core.Load()
	if snap == nil {
		return
	}

	s.queue.Schedule(ActionClass{Kind: ClassSession}, now.Add(snap.Tunables.SessionPurgeFrequency.TimeToNext()))
	s.queue.Schedule(ActionClass{Kind: ClassAccount}, now.Add(snap.Tunables.AccountPurgeFrequency.TimeToNext()))

	for _, ps := range snap.PurgeSchedules {
		s.queue.Schedule(ActionClass{Kind: ClassStore, ID: ps.StoreID}, now.Add(ps.Cron.TimeToNext()))
	}

	for id, runtime := range s.deps.Acme {
		delay := time.Hour
		if runtime != nil {
			if d, err := runtime.Init(ctx); err == nil {
				delay = d
			} else if s.deps.Logger != nil {
				s.deps.Logger.Error("acme init failed", "provider", id, "error", err)
			}
		}
		s.queue.Schedule(ActionClass{Kind: ClassAcme, ID: id}, now.Add(delay))
	}

	if snap.Enterprise != nil {
		s.queue.Schedule(ActionClass{Kind: ClassReloadLicense}, now.Add(snap.Enterprise.ExpiresIn()))
	}
}

// Run drives the event loop until ctx is cancelled or an Exit event is
// received. It spawns one initial FTS index pass to drain any backlog
// queued before the process started, seeds the initial schedule, then
// repeatedly races a timer set to the queue's next wake-up time against
// the inbox channel, exactly like the Rust original's
// tokio::time::timeout(wake_up_time, rx.recv()).
func (s *Scheduler) Run(ctx context.Context) {
	if s.deps.Indexer != nil {
		s.onIndexStart(ctx)
	}
	s.seedInitialSchedule(ctx)

	for {
		wake := s.queue.WakeUpTime(s.now())
		timer := time.NewTimer(wake)

		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev := <-s.inbox:
			timer.Stop()
			if !s.handleEvent(ctx, ev) {
				return
			}

		case <-timer.C:
			action, ok := s.queue.Pop()
			if !ok {
				continue
			}
			s.dispatch(ctx, action)
		}
	}
}

// handleEvent processes one inbox Event. Returns false if the loop
// should exit.
func (s *Scheduler) handleEvent(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventExit:
		return false

	case EventIndexStart:
		s.onIndexStart(ctx)

	case EventIndexDone:
		s.onIndexDone(ctx, ev.Err)

	case EventAcmeReload:
		s.spawnAcmeReload(ctx)

	case EventAcmeReschedule:
		s.queue.Schedule(ActionClass{Kind: ClassAcme, ID: ev.AcmeID}, s.now().Add(ev.Delay))

	case EventPurge:
		s.spawnPurge(ctx, ev)
	}
	return true
}

// spawnAcmeReload re-initializes every configured ACME provider (e.g.
// after a config reload changed providers) and posts an AcmeReschedule
// for each one that succeeds. Initialization failures are logged and
// otherwise ignored; that provider keeps whatever schedule it already
// has.
func (s *Scheduler) spawnAcmeReload(ctx context.Context) {
	providers := s.deps.Acme
	inbox := s.inbox
	go func() {
		for id, runtime := range providers {
			if runtime == nil {
				continue
			}
			delay, err := runtime.Init(ctx)
			if err != nil {
				if s.deps.Logger != nil {
					s.deps.Logger.Error("acme reload failed", "provider", id, "error", err)
				}
				continue
			}
			select {
			case inbox <- Event{Kind: EventAcmeReschedule, AcmeID: id, Delay: delay}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// spawnPurge runs one ad-hoc purge outside the queue: unlike the
// periodic ClassStore/ClassSession/ClassAccount dispatch, a Purge event
// never reschedules anything, it only runs once and logs its outcome.
func (s *Scheduler) spawnPurge(ctx context.Context, ev Event) {
	switch ev.PurgeOf {
	case PurgeAccount:
		if s.deps.Sessions == nil {
			return
		}
		sessions := s.deps.Sessions
		go sessions.Purge(0)

	default:
		if s.deps.PurgeStore == nil {
			return
		}
		storeID := ev.StoreID
		purger := s.deps.PurgeStore
		go func() {
			if err := purger.Purge(ctx, storeID); err != nil && s.deps.Logger != nil {
				s.deps.Logger.Error("purge failed", "store", storeID, "kind", ev.PurgeOf, "error", err)
			}
		}()
	}
}

// onIndexStart implements the single-flight index trigger: a request
// arriving while an index pass is already running collapses into the
// pending flag instead of starting a second concurrent pass, and no
// request is ever lost (spec §8 S3).
func (s *Scheduler) onIndexStart(ctx context.Context) {
	if s.indexBusy {
		s.indexPending = true
		return
	}
	s.indexBusy = true
	s.spawnIndex(ctx)
}

// onIndexDone clears the busy flag and, if a request arrived while the
// previous pass ran, immediately starts the next pass rather than
// waiting for another external trigger.
func (s *Scheduler) onIndexDone(ctx context.Context, runErr error) {
	if runErr != nil && s.deps.Logger != nil {
		s.deps.Logger.Error("fts indexing failed", "error", runErr)
	}
	if s.indexPending {
		s.indexPending = false
		s.spawnIndex(ctx)
		return
	}
	s.indexBusy = false
}

func (s *Scheduler) spawnIndex(ctx context.Context) {
	if s.deps.Indexer == nil {
		s.indexBusy = false
		return
	}
	indexer := s.deps.Indexer
	inbox := s.inbox
	go func() {
		err := indexer.IndexQueued(ctx)
		select {
		case inbox <- Event{Kind: EventIndexDone, Err: err}:
		case <-ctx.Done():
		}
	}()
}

// dispatch fires one Action whose due time has arrived: it reschedules
// the class's next occurrence BEFORE spawning the work itself, so a slow
// purge or renewal can never skew the next fire time (spec invariant).
func (s *Scheduler) dispatch(ctx context.Context, action *Action) {
	switch action.Class.Kind {
	case ClassSession:
		snap := s.deps.Core.Load()
		freq := time.Hour
		if snap != nil {
			freq = snap.Tunables.SessionPurgeFrequency.TimeToNext()
		}
		s.queue.Schedule(action.Class, s.now().Add(freq))
		if s.deps.Sessions != nil {
			go s.deps.Sessions.Purge(freq)
		}

	case ClassAccount:
		snap := s.deps.Core.Load()
		freq := time.Hour
		if snap != nil {
			freq = snap.Tunables.AccountPurgeFrequency.TimeToNext()
		}
		s.queue.Schedule(action.Class, s.now().Add(freq))

	case ClassStore:
		storeID := action.Class.ID
		freq := s.storeFrequency(storeID)
		s.queue.Schedule(action.Class, s.now().Add(freq))
		if s.deps.PurgeStore != nil {
			go func() {
				if err := s.deps.PurgeStore.Purge(ctx, storeID); err != nil && s.deps.Logger != nil {
					s.deps.Logger.Error("store purge failed", "store", storeID, "error", err)
				}
			}()
		}

	case ClassAcme:
		providerID := action.Class.ID
		runtime, ok := s.deps.Acme[providerID]
		// Reschedule a conservative fallback immediately; Renew's own
		// result supersedes it once the renewal completes.
		s.queue.Schedule(action.Class, s.now().Add(time.Hour))
		if ok && runtime != nil {
			inbox := s.inbox
			coreRef := s.deps.Core
			go func() {
				delay, err := runtime.Renew(ctx)
				if err != nil {
					if s.deps.Logger != nil {
						s.deps.Logger.Error("acme renewal failed", "provider", providerID, "error", err)
					}
					delay = time.Hour
				}

				// Certificates are part of the published snapshot on
				// both outcomes, so version-keyed caches and the
				// config_version gauge must observe the change.
				if coreRef != nil {
					if snap := coreRef.Load(); snap != nil {
						coreRef.Publish(snap)
					}
				}

				select {
				case inbox <- Event{Kind: EventAcmeReschedule, AcmeID: providerID, Delay: delay}:
				case <-ctx.Done():
				}
			}()
		}

	case ClassReloadLicense:
		if s.deps.License != nil {
			go func() {
				if err := s.deps.License.ReloadLicense(ctx); err != nil && s.deps.Logger != nil {
					s.deps.Logger.Error("license reload failed", "error", err)
				}
			}()
		}
		snap := s.deps.Core.Load()
		if snap != nil && snap.Enterprise != nil {
			s.queue.Schedule(action.Class, s.now().Add(snap.Enterprise.ExpiresIn()))
		}
	}
}

func (s *Scheduler) storeFrequency(storeID string) time.Duration {
	snap := s.deps.Core.Load()
	if snap == nil {
		return time.Hour
	}
	for _, ps := range snap.PurgeSchedules {
		if ps.StoreID == storeID {
			return ps.Cron.TimeToNext()
		}
	}
	return time.Hour
}
