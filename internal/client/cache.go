package client

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

const (
	familyList  = "list"
	familyToday = "today"

	// DefaultFreshFor is how long a cached result is served without a
	// background refetch.
	DefaultFreshFor = 30 * time.Second
	// DefaultEvictAfter is how long an unused cached result survives.
	DefaultEvictAfter = 5 * time.Minute
)

type cachedResult struct {
	filter     moodtrace.Filter
	entries    []moodtrace.Entry
	fetchedAt  time.Time
	lastAccess time.Time
	generation int
	invalid    bool
}

// queryCache holds the last fetched page per canonical query descriptor.
// Each family carries a generation counter: mutations bump it so in-flight
// fetches issued against the old generation discard their results instead of
// overwriting optimistic state (last-writer-wins at the cache level).
type queryCache struct {
	mu          sync.Mutex
	results     map[string]*cachedResult
	generations map[string]int
	freshFor    time.Duration
	evictAfter  time.Duration
	now         func() time.Time
}

func newQueryCache(freshFor, evictAfter time.Duration, now func() time.Time) *queryCache {
	if freshFor <= 0 {
		freshFor = DefaultFreshFor
	}
	if evictAfter <= 0 {
		evictAfter = DefaultEvictAfter
	}
	if now == nil {
		now = time.Now
	}
	return &queryCache{
		results:     map[string]*cachedResult{},
		generations: map[string]int{},
		freshFor:    freshFor,
		evictAfter:  evictAfter,
		now:         now,
	}
}

// canonicalKey produces a stable descriptor for a filter so equivalent
// filters share a cache slot.
func canonicalKey(family string, filter moodtrace.Filter) string {
	if family == familyToday {
		return familyToday
	}
	categories := make([]string, 0, len(filter.Categories))
	for _, c := range filter.Categories {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	levels := append([]int{}, filter.Levels...)
	sort.Ints(levels)
	levelParts := make([]string, 0, len(levels))
	for _, l := range levels {
		levelParts = append(levelParts, fmt.Sprintf("%d", l))
	}
	return fmt.Sprintf("%s|s=%d|e=%d|c=%s|l=%s",
		family,
		filter.StartDate,
		filter.EndDate,
		strings.Join(categories, ","),
		strings.Join(levelParts, ","),
	)
}

func familyOf(key string) string {
	if idx := strings.Index(key, "|"); idx >= 0 {
		return key[:idx]
	}
	return key
}

func (c *queryCache) generation(family string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[family]
}

// bump supersedes every in-flight fetch for the family.
func (c *queryCache) bump(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[family]++
}

// lookup returns the cached entries and whether they are fresh. A hit
// refreshes the access time; expired slots are evicted lazily.
func (c *queryCache) lookup(key string) (entries []moodtrace.Entry, hit, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.evictLocked(now)
	result, ok := c.results[key]
	if !ok || result.invalid {
		return nil, false, false
	}
	result.lastAccess = now
	fresh = now.Sub(result.fetchedAt) < c.freshFor
	return append([]moodtrace.Entry{}, result.entries...), true, fresh
}

// store records a fetch result, unless the family generation moved since the
// fetch was issued (the result is stale relative to an optimistic mutation).
func (c *queryCache) store(key string, filter moodtrace.Filter, entries []moodtrace.Entry, issuedAtGeneration int) bool {
	family := familyOf(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[family] != issuedAtGeneration {
		return false
	}
	now := c.now()
	c.results[key] = &cachedResult{
		filter:     filter,
		entries:    append([]moodtrace.Entry{}, entries...),
		fetchedAt:  now,
		lastAccess: now,
		generation: issuedAtGeneration,
	}
	return true
}

// invalidate marks every result of the family stale so the next read
// refetches.
func (c *queryCache) invalidate(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, result := range c.results {
		if familyOf(key) == family {
			result.invalid = true
		}
	}
}

// applyOptimisticInsert prepends the entry into every cached result of the
// family whose filter matches it.
func (c *queryCache) applyOptimisticInsert(family string, entry moodtrace.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, result := range c.results {
		if familyOf(key) != family {
			continue
		}
		if family != familyToday && !result.filter.Matches(entry) {
			continue
		}
		result.entries = append([]moodtrace.Entry{entry}, result.entries...)
	}
}

// applyOptimisticRemove drops the id from every cached result of the family.
func (c *queryCache) applyOptimisticRemove(family, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, result := range c.results {
		if familyOf(key) != family {
			continue
		}
		for i := range result.entries {
			if result.entries[i].ID == id {
				result.entries = append(result.entries[:i], result.entries[i+1:]...)
				break
			}
		}
	}
}

// applyOptimisticPatch merges fields into the id in every cached result of
// the family.
func (c *queryCache) applyOptimisticPatch(family, id string, fields moodtrace.EntryFields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, result := range c.results {
		if familyOf(key) != family {
			continue
		}
		for i := range result.entries {
			if result.entries[i].ID != id {
				continue
			}
			if fields.Category != nil {
				result.entries[i].Category = *fields.Category
			}
			if fields.Level != nil {
				result.entries[i].Level = *fields.Level
			}
			if fields.Note != nil {
				result.entries[i].Note = *fields.Note
			}
			if fields.Timestamp != nil {
				result.entries[i].Timestamp = *fields.Timestamp
			}
			break
		}
	}
}

// snapshot captures the family's cached data for rollback.
func (c *queryCache) snapshot(family string) map[string]cachedResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	captured := map[string]cachedResult{}
	for key, result := range c.results {
		if familyOf(key) != family {
			continue
		}
		clone := *result
		clone.entries = append([]moodtrace.Entry{}, result.entries...)
		captured[key] = clone
	}
	return captured
}

// restore reinstates a previously captured family snapshot, dropping any
// slots created since.
func (c *queryCache) restore(family string, captured map[string]cachedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.results {
		if familyOf(key) == family {
			delete(c.results, key)
		}
	}
	for key, result := range captured {
		clone := result
		clone.entries = append([]moodtrace.Entry{}, result.entries...)
		c.results[key] = &clone
	}
}

func (c *queryCache) evictLocked(now time.Time) {
	for key, result := range c.results {
		if now.Sub(result.lastAccess) > c.evictAfter {
			delete(c.results, key)
		}
	}
}
