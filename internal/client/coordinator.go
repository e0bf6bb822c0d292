package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

// Remote is the backend surface the coordinator talks to. The in-process
// simulator and the HTTP client both satisfy it.
type Remote interface {
	List(ctx context.Context, filter moodtrace.Filter) ([]moodtrace.Entry, error)
	Get(ctx context.Context, id string) (moodtrace.Entry, error)
	Create(ctx context.Context, category moodtrace.Category, level int, note string, timestamp int64) (moodtrace.Entry, error)
	Update(ctx context.Context, id string, fields moodtrace.EntryFields) (moodtrace.Entry, error)
	Delete(ctx context.Context, id string) error
	Today(ctx context.Context) ([]moodtrace.Entry, error)
	Stats(ctx context.Context, startDate, endDate int64) (moodtrace.Stats, error)
}

type CoordinatorOptions struct {
	Ledger *Ledger
	// Events, when set, is subscribed for invalidation and receives the
	// sync-complete event after a manual Sync.
	Events         *moodtrace.EventBus
	Logger         *zap.Logger
	FreshFor       time.Duration
	EvictAfter     time.Duration
	MaxReadRetries int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Now            func() time.Time
}

// Coordinator mediates between UI intents and the remote backend: it applies
// optimistic mutations to the ledger and query caches, reconciles or rolls
// them back on settlement, and invalidates derived queries so reads stay
// consistent with the authoritative store.
type Coordinator struct {
	remote         Remote
	ledger         *Ledger
	cache          *queryCache
	events         *moodtrace.EventBus
	unsubscribe    func()
	logger         *zap.Logger
	maxReadRetries int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

func NewCoordinator(remote Remote, opts CoordinatorOptions) (*Coordinator, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = NewLedger(LedgerOptions{Logger: opts.Logger})
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxReadRetries := opts.MaxReadRetries
	if maxReadRetries <= 0 {
		maxReadRetries = 3
	}
	retryBaseDelay := opts.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = 100 * time.Millisecond
	}
	retryMaxDelay := opts.RetryMaxDelay
	if retryMaxDelay <= 0 {
		retryMaxDelay = 2 * time.Second
	}
	co := &Coordinator{
		remote:         remote,
		ledger:         ledger,
		cache:          newQueryCache(opts.FreshFor, opts.EvictAfter, opts.Now),
		events:         opts.Events,
		logger:         logger,
		maxReadRetries: maxReadRetries,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
	}
	if co.events != nil {
		co.unsubscribe = co.events.Subscribe(co.HandleEvent)
	}
	return co, nil
}

// Close detaches the event subscription and waits for background refetches.
func (co *Coordinator) Close() {
	co.closeOnce.Do(func() {
		if co.unsubscribe != nil {
			co.unsubscribe()
		}
		co.wg.Wait()
	})
}

// Ledger exposes the read-model the UI consumes.
func (co *Coordinator) Ledger() *Ledger {
	return co.ledger
}

// HandleEvent is the single dispatcher: every realtime event, whether from
// the in-process bus or a websocket feed, lands here and recomputes cache
// validity.
func (co *Coordinator) HandleEvent(event moodtrace.Event) {
	switch event.Type {
	case moodtrace.EventCreated:
		if event.Entry != nil {
			co.ledger.IngestRealtime(*event.Entry)
		}
	case moodtrace.EventUpdated:
		if event.Entry != nil {
			co.ledger.Replace(*event.Entry)
		}
	case moodtrace.EventDeleted:
		if event.EntryID != "" {
			co.ledger.Remove(event.EntryID)
		}
	case moodtrace.EventSyncComplete:
		// Fall through to invalidation only.
	default:
		return
	}
	co.cache.invalidate(familyList)
	co.cache.invalidate(familyToday)
}

// List serves from cache when fresh, refreshes in the background when the
// freshness window lapsed, and fetches synchronously otherwise.
func (co *Coordinator) List(ctx context.Context, filter moodtrace.Filter) ([]moodtrace.Entry, error) {
	key := canonicalKey(familyList, filter)
	if entries, hit, fresh := co.cache.lookup(key); hit {
		if !fresh {
			co.refetchInBackground(key, familyList, filter)
		}
		return entries, nil
	}
	return co.fetchAndStore(ctx, key, familyList, filter)
}

// Today behaves like List for the local-calendar-day family.
func (co *Coordinator) Today(ctx context.Context) ([]moodtrace.Entry, error) {
	key := canonicalKey(familyToday, moodtrace.Filter{})
	if entries, hit, fresh := co.cache.lookup(key); hit {
		if !fresh {
			co.refetchInBackground(key, familyToday, moodtrace.Filter{})
		}
		return entries, nil
	}
	return co.fetchAndStore(ctx, key, familyToday, moodtrace.Filter{})
}

func (co *Coordinator) Get(ctx context.Context, id string) (moodtrace.Entry, error) {
	var entry moodtrace.Entry
	err := co.withReadRetry(ctx, func() error {
		var fetchErr error
		entry, fetchErr = co.remote.Get(ctx, id)
		return fetchErr
	})
	return entry, err
}

func (co *Coordinator) Stats(ctx context.Context, startDate, endDate int64) (moodtrace.Stats, error) {
	var stats moodtrace.Stats
	err := co.withReadRetry(ctx, func() error {
		var fetchErr error
		stats, fetchErr = co.remote.Stats(ctx, startDate, endDate)
		return fetchErr
	})
	return stats, err
}

// Create runs the optimistic mutation state machine: Initiate, In-flight,
// Resolve, Settle.
func (co *Coordinator) Create(ctx context.Context, category moodtrace.Category, level int, note string) (moodtrace.Entry, error) {
	if !moodtrace.ValidCategory(category) {
		return moodtrace.Entry{}, fmt.Errorf("%w: unknown category %q", moodtrace.ErrInvalidInput, category)
	}
	if level < moodtrace.MinLevel || level > moodtrace.MaxLevel {
		return moodtrace.Entry{}, fmt.Errorf("%w: level %d out of range", moodtrace.ErrInvalidInput, level)
	}

	// Initiate: optimistic ledger insert, snapshot the families we are
	// about to touch, supersede in-flight fetches.
	temp := co.ledger.AddPending(category, level, note)
	snapshot := co.snapshotFamilies()
	co.supersedeFamilies()
	co.cache.applyOptimisticInsert(familyList, temp)
	co.cache.applyOptimisticInsert(familyToday, temp)
	defer co.settle()

	// In-flight.
	confirmed, err := co.createWithRetry(ctx, category, level, note, temp.Timestamp)
	if err != nil {
		// Resolve-failure: restore caches, reject the pending entry.
		co.restoreFamilies(snapshot)
		co.ledger.Reject(temp.ID, userMessage("could not save mood entry", err))
		return moodtrace.Entry{}, err
	}

	// Resolve-success: swap temporary identity for the confirmed one.
	co.ledger.Confirm(temp.ID, confirmed)
	return confirmed, nil
}

func (co *Coordinator) Update(ctx context.Context, id string, fields moodtrace.EntryFields) (moodtrace.Entry, error) {
	if err := fields.Validate(); err != nil {
		return moodtrace.Entry{}, err
	}

	prev, existed := co.ledger.Get(id)
	snapshot := co.snapshotFamilies()
	co.supersedeFamilies()
	co.ledger.Patch(id, fields)
	co.cache.applyOptimisticPatch(familyList, id, fields)
	co.cache.applyOptimisticPatch(familyToday, id, fields)
	defer co.settle()

	confirmed, err := co.updateWithRetry(ctx, id, fields)
	if err != nil {
		co.restoreFamilies(snapshot)
		if existed {
			co.ledger.Replace(prev)
		}
		co.ledger.SetErr(userMessage("could not update mood entry", err))
		return moodtrace.Entry{}, err
	}

	co.ledger.Replace(confirmed)
	return confirmed, nil
}

func (co *Coordinator) Delete(ctx context.Context, id string) error {
	prev, position, existed := co.ledger.locate(id)
	snapshot := co.snapshotFamilies()
	co.supersedeFamilies()
	co.ledger.Remove(id)
	co.cache.applyOptimisticRemove(familyList, id)
	co.cache.applyOptimisticRemove(familyToday, id)
	defer co.settle()

	err := co.deleteWithRetry(ctx, id)
	if err != nil {
		co.restoreFamilies(snapshot)
		if existed {
			co.ledger.restoreEntry(prev, position)
		}
		co.ledger.SetErr(userMessage("could not delete mood entry", err))
		return err
	}
	return nil
}

// Sync refetches the authoritative list, replaces the ledger's confirmed
// set, and announces completion.
func (co *Coordinator) Sync(ctx context.Context) error {
	var entries []moodtrace.Entry
	err := co.withReadRetry(ctx, func() error {
		var fetchErr error
		entries, fetchErr = co.remote.List(ctx, moodtrace.Filter{})
		return fetchErr
	})
	if err != nil {
		return err
	}
	co.ledger.IngestFromRemote(entries)
	if co.events != nil {
		co.events.Publish(moodtrace.Event{Type: moodtrace.EventSyncComplete})
	} else {
		co.cache.invalidate(familyList)
		co.cache.invalidate(familyToday)
	}
	return nil
}

type familySnapshots struct {
	list  map[string]cachedResult
	today map[string]cachedResult
}

func (co *Coordinator) snapshotFamilies() familySnapshots {
	return familySnapshots{
		list:  co.cache.snapshot(familyList),
		today: co.cache.snapshot(familyToday),
	}
}

func (co *Coordinator) restoreFamilies(snapshot familySnapshots) {
	co.cache.restore(familyList, snapshot.list)
	co.cache.restore(familyToday, snapshot.today)
}

func (co *Coordinator) supersedeFamilies() {
	co.cache.bump(familyList)
	co.cache.bump(familyToday)
}

// settle always invalidates the affected families so the next read is fresh,
// regardless of mutation outcome.
func (co *Coordinator) settle() {
	co.cache.invalidate(familyList)
	co.cache.invalidate(familyToday)
}

func (co *Coordinator) fetchAndStore(ctx context.Context, key, family string, filter moodtrace.Filter) ([]moodtrace.Entry, error) {
	issuedAt := co.cache.generation(family)
	var entries []moodtrace.Entry
	err := co.withReadRetry(ctx, func() error {
		var fetchErr error
		if family == familyToday {
			entries, fetchErr = co.remote.Today(ctx)
		} else {
			entries, fetchErr = co.remote.List(ctx, filter)
		}
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	stored := co.cache.store(key, filter, entries, issuedAt)
	if !stored {
		// A mutation superseded this fetch; its result must not
		// overwrite optimistic state.
		co.logger.Debug("discarding superseded fetch", zap.String("key", key))
		return entries, nil
	}
	if family == familyList && isUnfiltered(filter) {
		co.ledger.IngestFromRemote(entries)
	}
	return entries, nil
}

func (co *Coordinator) refetchInBackground(key, family string, filter moodtrace.Filter) {
	co.wg.Add(1)
	go func() {
		defer co.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := co.fetchAndStore(ctx, key, family, filter); err != nil {
			co.logger.Debug("background refetch failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// withReadRetry retries transport failures with exponential backoff up to the
// configured bound. NotFound and validation failures surface immediately.
func (co *Coordinator) withReadRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !moodtrace.IsTransport(err) || attempt >= co.maxReadRetries {
			return err
		}
		if waitErr := waitWithContext(ctx, co.backoffDelay(attempt)); waitErr != nil {
			return err
		}
	}
}

// Mutations retry at most once on transport failure, then surface.
func (co *Coordinator) createWithRetry(ctx context.Context, category moodtrace.Category, level int, note string, timestamp int64) (moodtrace.Entry, error) {
	entry, err := co.remote.Create(ctx, category, level, note, timestamp)
	if err != nil && moodtrace.IsTransport(err) {
		if waitErr := waitWithContext(ctx, co.retryBaseDelay); waitErr != nil {
			return moodtrace.Entry{}, err
		}
		return co.remote.Create(ctx, category, level, note, timestamp)
	}
	return entry, err
}

func (co *Coordinator) updateWithRetry(ctx context.Context, id string, fields moodtrace.EntryFields) (moodtrace.Entry, error) {
	entry, err := co.remote.Update(ctx, id, fields)
	if err != nil && moodtrace.IsTransport(err) {
		if waitErr := waitWithContext(ctx, co.retryBaseDelay); waitErr != nil {
			return moodtrace.Entry{}, err
		}
		return co.remote.Update(ctx, id, fields)
	}
	return entry, err
}

func (co *Coordinator) deleteWithRetry(ctx context.Context, id string) error {
	err := co.remote.Delete(ctx, id)
	if err != nil && moodtrace.IsTransport(err) {
		if waitErr := waitWithContext(ctx, co.retryBaseDelay); waitErr != nil {
			return err
		}
		return co.remote.Delete(ctx, id)
	}
	return err
}

func (co *Coordinator) backoffDelay(attempt int) time.Duration {
	delay := co.retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= co.retryMaxDelay {
			return co.retryMaxDelay
		}
	}
	if delay > co.retryMaxDelay {
		return co.retryMaxDelay
	}
	return delay
}

func isUnfiltered(filter moodtrace.Filter) bool {
	return filter.StartDate == 0 && filter.EndDate == 0 &&
		len(filter.Categories) == 0 && len(filter.Levels) == 0
}

func userMessage(prefix string, err error) string {
	var apiErr *moodtrace.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("%s: %s", prefix, apiErr.Message)
	}
	if err != nil {
		return fmt.Sprintf("%s: %s", prefix, err.Error())
	}
	return prefix
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
