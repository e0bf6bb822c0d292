package moodtrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// persistedSnapshot is the mock-backend document: the full untrimmed entry
// list as the remote store would hold it.
type persistedSnapshot struct {
	Moods []Entry `json:"moods"`
}

// StateBackend persists the full store snapshot on every mutation.
type StateBackend interface {
	Load() (*persistedSnapshot, error)
	Save(state *persistedSnapshot) error
}

type stateBackendCloser interface {
	Close() error
}

type StoreOptions struct {
	StateFile    string
	StateBackend StateBackend
	Logger       *zap.Logger
	Now          func() time.Time
}

// RecordStore holds the canonical entry set. It is the single source of truth
// for confirmed entries; all mutations persist a snapshot before returning.
// Persistence is best effort: a failed save is logged and the in-memory
// mutation stands.
type RecordStore struct {
	mu           sync.RWMutex
	entries      []Entry
	stateBackend StateBackend
	logger       *zap.Logger
	now          func() time.Time
	closeOnce    sync.Once
}

func NewRecordStore() *RecordStore {
	return NewRecordStoreWithOptions(StoreOptions{})
}

func NewRecordStoreWithOptions(opts StoreOptions) *RecordStore {
	stateBackend := opts.StateBackend
	if stateBackend == nil && strings.TrimSpace(opts.StateFile) != "" {
		stateBackend = NewJSONFileStateBackend(opts.StateFile)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &RecordStore{
		entries:      []Entry{},
		stateBackend: stateBackend,
		logger:       logger,
		now:          now,
	}
	if err := s.loadFromBackend(); err != nil {
		logger.Warn("failed to load store snapshot", zap.Error(err))
	}
	return s
}

func (s *RecordStore) Close() {
	s.closeOnce.Do(func() {
		if closer, ok := s.stateBackend.(stateBackendCloser); ok {
			_ = closer.Close()
		}
	})
}

func (s *RecordStore) loadFromBackend() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry{}, snapshot.Moods...)
	sortEntriesDescending(s.entries)
	return nil
}

// Reload re-reads the snapshot from the backend, replacing in-memory state.
// Used by the document watcher when the backing file changed out of band.
func (s *RecordStore) Reload() error {
	return s.loadFromBackend()
}

func (s *RecordStore) persistLocked() {
	if s.stateBackend == nil {
		return
	}
	snapshot := &persistedSnapshot{Moods: append([]Entry{}, s.entries...)}
	if err := s.stateBackend.Save(snapshot); err != nil {
		s.logger.Warn("failed to persist store snapshot", zap.Error(err))
	}
}

// List returns entries matching filter, sorted descending by timestamp.
func (s *RecordStore) List(filter Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	sortEntriesDescending(result)
	return result
}

func (s *RecordStore) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, id)
}

// Insert assigns a permanent id, prepends the entry, and persists.
func (s *RecordStore) Insert(category Category, level int, note string, timestamp int64) (Entry, error) {
	if !ValidCategory(category) {
		return Entry{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	}
	if level < MinLevel || level > MaxLevel {
		return Entry{}, fmt.Errorf("%w: level %d out of range", ErrInvalidInput, level)
	}
	if timestamp == 0 {
		timestamp = s.now().UnixMilli()
	}
	entry := Entry{
		ID:        NewEntryID(),
		Category:  category,
		Level:     level,
		Note:      note,
		Timestamp: timestamp,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry{entry}, s.entries...)
	s.persistLocked()
	return entry, nil
}

// Update merges non-nil fields into the stored entry and persists.
func (s *RecordStore) Update(id string, fields EntryFields) (Entry, error) {
	if err := fields.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		if fields.Category != nil {
			s.entries[i].Category = *fields.Category
		}
		if fields.Level != nil {
			s.entries[i].Level = *fields.Level
		}
		if fields.Note != nil {
			s.entries[i].Note = *fields.Note
		}
		if fields.Timestamp != nil {
			s.entries[i].Timestamp = *fields.Timestamp
		}
		updated := s.entries[i]
		s.persistLocked()
		return updated, nil
	}
	return Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, id)
}

func (s *RecordStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		s.persistLocked()
		return nil
	}
	return fmt.Errorf("%w: entry %s", ErrNotFound, id)
}

// TodaysEntries returns entries within the local calendar day, descending.
func (s *RecordStore) TodaysEntries() []Entry {
	start, end := DayBounds(s.now())
	return s.List(Filter{StartDate: start, EndDate: end})
}

// Statistics aggregates entries in [startDate, endDate]. The average is 0 for
// an empty range.
func (s *RecordStore) Statistics(startDate, endDate int64) Stats {
	matched := s.List(Filter{StartDate: startDate, EndDate: endDate})
	stats := Stats{ByCategory: map[Category]int{}}
	total := 0
	for _, e := range matched {
		stats.Count++
		total += e.Level
		stats.ByCategory[e.Category]++
	}
	if stats.Count > 0 {
		stats.AverageLevel = float64(total) / float64(stats.Count)
	}
	return stats
}

// Count reports the total number of stored entries.
func (s *RecordStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortEntriesDescending(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedSnapshot, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedSnapshot) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}
