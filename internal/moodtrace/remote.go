package moodtrace

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// DelayStrategy models round-trip latency. Implementations must be safe for
// concurrent use.
type DelayStrategy interface {
	Delay() time.Duration
}

// UniformDelay draws uniformly from [Min, Max].
type UniformDelay struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniformDelay(min, max time.Duration) *UniformDelay {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &UniformDelay{
		Min: min,
		Max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *UniformDelay) Delay() time.Duration {
	if d == nil {
		return 0
	}
	span := d.Max - d.Min
	if span <= 0 {
		return d.Min
	}
	d.mu.Lock()
	offset := time.Duration(d.rng.Int63n(int64(span) + 1))
	d.mu.Unlock()
	return d.Min + offset
}

// ZeroDelay resolves immediately. Intended for tests.
type ZeroDelay struct{}

func (ZeroDelay) Delay() time.Duration { return 0 }

type SimulatorOptions struct {
	Delay DelayStrategy
	// FailureRate injects transport failures (status 0) with the given
	// probability in [0, 1]. Zero disables injection.
	FailureRate float64
	Rand        func() float64
}

// Simulator stands in for a network API over a RecordStore: it validates and
// filters like a backend would, injects latency before resolving, and
// publishes bus events after each durable mutation. Concurrent operations
// resolve independently; completion order is not tied to issuance order.
type Simulator struct {
	store       *RecordStore
	bus         *EventBus
	delay       DelayStrategy
	failureRate float64
	randFloat   func() float64
}

func NewSimulator(store *RecordStore, bus *EventBus, opts SimulatorOptions) *Simulator {
	delay := opts.Delay
	if delay == nil {
		delay = NewUniformDelay(100*time.Millisecond, 400*time.Millisecond)
	}
	randFloat := opts.Rand
	if randFloat == nil {
		randFloat = rand.Float64
	}
	failureRate := opts.FailureRate
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}
	return &Simulator{
		store:       store,
		bus:         bus,
		delay:       delay,
		failureRate: failureRate,
		randFloat:   randFloat,
	}
}

func (s *Simulator) await(ctx context.Context) error {
	delay := s.delay.Delay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return UnreachableError(ctx.Err())
		case <-timer.C:
		}
	}
	if s.failureRate > 0 && s.randFloat() < s.failureRate {
		return UnreachableError(errors.New("injected transport failure"))
	}
	return nil
}

func (s *Simulator) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if err := s.await(ctx); err != nil {
		return nil, err
	}
	return s.store.List(filter), nil
}

func (s *Simulator) Get(ctx context.Context, id string) (Entry, error) {
	if err := s.await(ctx); err != nil {
		return Entry{}, err
	}
	entry, err := s.store.Get(id)
	if err != nil {
		return Entry{}, NotFoundError(id)
	}
	return entry, nil
}

func (s *Simulator) Create(ctx context.Context, category Category, level int, note string, timestamp int64) (Entry, error) {
	if err := s.await(ctx); err != nil {
		return Entry{}, err
	}
	entry, err := s.store.Insert(category, level, note, timestamp)
	if err != nil {
		return Entry{}, err
	}
	s.publish(Event{Type: EventCreated, Entry: &entry, EntryID: entry.ID})
	return entry, nil
}

func (s *Simulator) Update(ctx context.Context, id string, fields EntryFields) (Entry, error) {
	if err := s.await(ctx); err != nil {
		return Entry{}, err
	}
	entry, err := s.store.Update(id, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, NotFoundError(id)
		}
		return Entry{}, err
	}
	s.publish(Event{Type: EventUpdated, Entry: &entry, EntryID: entry.ID})
	return entry, nil
}

func (s *Simulator) Delete(ctx context.Context, id string) error {
	if err := s.await(ctx); err != nil {
		return err
	}
	if err := s.store.Remove(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError(id)
		}
		return err
	}
	s.publish(Event{Type: EventDeleted, EntryID: id})
	return nil
}

func (s *Simulator) Today(ctx context.Context) ([]Entry, error) {
	if err := s.await(ctx); err != nil {
		return nil, err
	}
	return s.store.TodaysEntries(), nil
}

func (s *Simulator) Stats(ctx context.Context, startDate, endDate int64) (Stats, error) {
	if err := s.await(ctx); err != nil {
		return Stats{}, err
	}
	return s.store.Statistics(startDate, endDate), nil
}

func (s *Simulator) publish(event Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event)
}
