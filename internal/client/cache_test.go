package client

import (
	"testing"
	"time"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time { return f.current }

func (f *fakeClock) advance(d time.Duration) { f.current = f.current.Add(d) }

func TestCanonicalKeyNormalizesEquivalentFilters(t *testing.T) {
	a := canonicalKey(familyList, moodtrace.Filter{
		Categories: []moodtrace.Category{moodtrace.CategoryHappy, moodtrace.CategoryCalm},
		Levels:     []int{5, 3},
		StartDate:  10,
		EndDate:    20,
	})
	b := canonicalKey(familyList, moodtrace.Filter{
		Categories: []moodtrace.Category{moodtrace.CategoryCalm, moodtrace.CategoryHappy},
		Levels:     []int{3, 5},
		StartDate:  10,
		EndDate:    20,
	})
	if a != b {
		t.Fatalf("equivalent filters must share a key: %q vs %q", a, b)
	}

	c := canonicalKey(familyList, moodtrace.Filter{StartDate: 10, EndDate: 20})
	if a == c {
		t.Fatalf("different filters must not collide: %q", a)
	}
	if canonicalKey(familyToday, moodtrace.Filter{}) != familyToday {
		t.Fatalf("today family ignores filters")
	}
}

func TestCacheFreshnessWindow(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyList, moodtrace.Filter{})
	entries := []moodtrace.Entry{{ID: "mood_1", Category: moodtrace.CategoryCalm, Level: 3, Timestamp: 100}}

	if !cache.store(key, moodtrace.Filter{}, entries, cache.generation(familyList)) {
		t.Fatalf("store with current generation must succeed")
	}

	_, hit, fresh := cache.lookup(key)
	if !hit || !fresh {
		t.Fatalf("expected a fresh hit immediately after store, hit=%v fresh=%v", hit, fresh)
	}

	clock.advance(29 * time.Second)
	if _, _, fresh := cache.lookup(key); !fresh {
		t.Fatalf("result must stay fresh within the window")
	}

	clock.advance(2 * time.Second)
	got, hit, fresh := cache.lookup(key)
	if !hit || fresh {
		t.Fatalf("expected a stale hit past the window, hit=%v fresh=%v", hit, fresh)
	}
	if len(got) != 1 || got[0].ID != "mood_1" {
		t.Fatalf("stale hit still serves the cached entries")
	}
}

func TestCacheEvictsUnusedResults(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyList, moodtrace.Filter{})
	cache.store(key, moodtrace.Filter{}, nil, 0)

	clock.advance(5*time.Minute + time.Second)
	if _, hit, _ := cache.lookup(key); hit {
		t.Fatalf("result unused past the eviction horizon must be dropped")
	}
}

func TestCacheAccessExtendsEvictionNotFreshness(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyList, moodtrace.Filter{})
	cache.store(key, moodtrace.Filter{}, nil, 0)

	// Touch the slot every 4 minutes; it never crosses the eviction
	// horizon, but freshness lapses after the first 30s regardless.
	for i := 0; i < 3; i++ {
		clock.advance(4 * time.Minute)
		_, hit, fresh := cache.lookup(key)
		if !hit {
			t.Fatalf("touched slot must survive, round %d", i)
		}
		if fresh {
			t.Fatalf("access must not restore freshness, round %d", i)
		}
	}
}

func TestCacheStoreRejectsSupersededGeneration(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyList, moodtrace.Filter{})

	issuedAt := cache.generation(familyList)
	cache.bump(familyList)

	stale := []moodtrace.Entry{{ID: "mood_stale", Category: moodtrace.CategoryCalm, Level: 1, Timestamp: 1}}
	if cache.store(key, moodtrace.Filter{}, stale, issuedAt) {
		t.Fatalf("store issued against an old generation must be discarded")
	}
	if _, hit, _ := cache.lookup(key); hit {
		t.Fatalf("discarded store must leave no cached result")
	}

	if !cache.store(key, moodtrace.Filter{}, nil, cache.generation(familyList)) {
		t.Fatalf("store with the bumped generation must succeed")
	}
}

func TestCacheInvalidateMarksWholeFamily(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	keyA := canonicalKey(familyList, moodtrace.Filter{})
	keyB := canonicalKey(familyList, moodtrace.Filter{StartDate: 1})
	today := canonicalKey(familyToday, moodtrace.Filter{})
	cache.store(keyA, moodtrace.Filter{}, nil, 0)
	cache.store(keyB, moodtrace.Filter{StartDate: 1}, nil, 0)
	cache.store(today, moodtrace.Filter{}, nil, 0)

	cache.invalidate(familyList)

	if _, hit, _ := cache.lookup(keyA); hit {
		t.Fatalf("invalidated result must read as a miss")
	}
	if _, hit, _ := cache.lookup(keyB); hit {
		t.Fatalf("invalidation covers the whole family")
	}
	if _, hit, _ := cache.lookup(today); !hit {
		t.Fatalf("other families are untouched")
	}
}

func TestCacheOptimisticInsertHonorsFilters(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	matching := moodtrace.Filter{Categories: []moodtrace.Category{moodtrace.CategoryHappy}}
	other := moodtrace.Filter{Categories: []moodtrace.Category{moodtrace.CategoryTired}}
	keyMatch := canonicalKey(familyList, matching)
	keyOther := canonicalKey(familyList, other)
	cache.store(keyMatch, matching, nil, 0)
	cache.store(keyOther, other, nil, 0)

	entry := moodtrace.Entry{ID: "tmp_new", Category: moodtrace.CategoryHappy, Level: 4, Timestamp: 100}
	cache.applyOptimisticInsert(familyList, entry)

	got, _, _ := cache.lookup(keyMatch)
	if len(got) != 1 || got[0].ID != "tmp_new" {
		t.Fatalf("matching result must gain the optimistic entry, got %+v", got)
	}
	got, _, _ = cache.lookup(keyOther)
	if len(got) != 0 {
		t.Fatalf("non-matching result must stay unchanged, got %+v", got)
	}
}

func TestCacheSnapshotRestoreRollsBackOptimisticState(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyList, moodtrace.Filter{})
	original := []moodtrace.Entry{{ID: "mood_1", Category: moodtrace.CategoryCalm, Level: 3, Timestamp: 100}}
	cache.store(key, moodtrace.Filter{}, original, 0)

	captured := cache.snapshot(familyList)

	cache.applyOptimisticInsert(familyList, moodtrace.Entry{ID: "tmp_x", Category: moodtrace.CategoryHappy, Level: 5, Timestamp: 200})
	level := 1
	cache.applyOptimisticPatch(familyList, "mood_1", moodtrace.EntryFields{Level: &level})

	cache.restore(familyList, captured)

	got, hit, _ := cache.lookup(key)
	if !hit || len(got) != 1 {
		t.Fatalf("restore must reinstate the captured slot, got %+v", got)
	}
	if got[0].ID != "mood_1" || got[0].Level != 3 {
		t.Fatalf("restore must undo optimistic edits, got %+v", got[0])
	}
}

func TestCacheOptimisticRemoveAndPatch(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryCache(30*time.Second, 5*time.Minute, clock.now)
	key := canonicalKey(familyToday, moodtrace.Filter{})
	cache.store(key, moodtrace.Filter{}, []moodtrace.Entry{
		{ID: "mood_a", Category: moodtrace.CategoryCalm, Level: 3, Timestamp: 200},
		{ID: "mood_b", Category: moodtrace.CategoryHappy, Level: 4, Timestamp: 100},
	}, 0)

	note := "patched"
	cache.applyOptimisticPatch(familyToday, "mood_b", moodtrace.EntryFields{Note: &note})
	cache.applyOptimisticRemove(familyToday, "mood_a")

	got, _, _ := cache.lookup(key)
	if len(got) != 1 || got[0].ID != "mood_b" || got[0].Note != "patched" {
		t.Fatalf("unexpected cached state: %+v", got)
	}
}
