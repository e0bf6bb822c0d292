package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

// DefaultPersistLimit bounds how many entries the entries document keeps.
const DefaultPersistLimit = 500

// entriesDocument is the durable client-side document. Pending entries are
// never persisted; they do not survive a restart.
type entriesDocument struct {
	Entries    []moodtrace.Entry `json:"entries"`
	LastSyncAt int64             `json:"lastSyncAt,omitempty"`
}

type LedgerOptions struct {
	// DocumentPath is the entries document location. Empty disables
	// persistence.
	DocumentPath string
	PersistLimit int
	Logger       *zap.Logger
}

// Ledger is the client-visible merged view of confirmed and pending entries,
// and the single read-model the UI consumes. Most-recent-first ordering.
type Ledger struct {
	mu           sync.Mutex
	entries      []moodtrace.Entry
	pending      map[string]struct{}
	errMsg       string
	lastSyncAt   int64
	documentPath string
	persistLimit int
	logger       *zap.Logger
}

func NewLedger(opts LedgerOptions) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	persistLimit := opts.PersistLimit
	if persistLimit <= 0 {
		persistLimit = DefaultPersistLimit
	}
	l := &Ledger{
		entries:      []moodtrace.Entry{},
		pending:      map[string]struct{}{},
		documentPath: strings.TrimSpace(opts.DocumentPath),
		persistLimit: persistLimit,
		logger:       logger,
	}
	if err := l.loadDocument(); err != nil {
		logger.Warn("failed to load entries document", zap.Error(err))
	}
	return l
}

func (l *Ledger) loadDocument() error {
	if l.documentPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.documentPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var doc entriesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]moodtrace.Entry{}, doc.Entries...)
	l.lastSyncAt = doc.LastSyncAt
	return nil
}

// persistLocked writes the confirmed prefix of the ledger, best effort.
func (l *Ledger) persistLocked() {
	if l.documentPath == "" {
		return
	}
	confirmed := make([]moodtrace.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.IsPending() {
			continue
		}
		confirmed = append(confirmed, e)
		if len(confirmed) >= l.persistLimit {
			break
		}
	}
	doc := entriesDocument{Entries: confirmed, LastSyncAt: l.lastSyncAt}
	data, err := json.Marshal(doc)
	if err != nil {
		l.logger.Warn("failed to encode entries document", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.documentPath), 0o755); err != nil {
		l.logger.Warn("failed to prepare entries document directory", zap.Error(err))
		return
	}
	if err := writeFileAtomic(l.documentPath, data, 0o644); err != nil {
		l.logger.Warn("failed to persist entries document", zap.Error(err))
	}
}

// AddPending inserts a new entry with a temporary identity at the head and
// returns it.
func (l *Ledger) AddPending(category moodtrace.Category, level int, note string) moodtrace.Entry {
	entry := moodtrace.Entry{
		ID:        moodtrace.NewTempID(),
		Category:  category,
		Level:     level,
		Note:      note,
		Timestamp: moodtrace.NowMillis(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]moodtrace.Entry{entry}, l.entries...)
	l.pending[entry.ID] = struct{}{}
	return entry
}

// Patch merges non-nil fields into the entry, in place. Unknown ids are a
// no-op, never an error.
func (l *Ledger) Patch(id string, fields moodtrace.EntryFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID != id {
			continue
		}
		if fields.Category != nil {
			l.entries[i].Category = *fields.Category
		}
		if fields.Level != nil {
			l.entries[i].Level = *fields.Level
		}
		if fields.Note != nil {
			l.entries[i].Note = *fields.Note
		}
		if fields.Timestamp != nil {
			l.entries[i].Timestamp = *fields.Timestamp
		}
		l.persistLocked()
		return
	}
}

// Replace swaps the stored entry for the given id in place. Unknown ids are
// a no-op.
func (l *Ledger) Replace(entry moodtrace.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == entry.ID {
			l.entries[i] = entry
			l.persistLocked()
			return
		}
	}
}

func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(id)
	l.persistLocked()
}

func (l *Ledger) removeLocked(id string) {
	delete(l.pending, id)
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Confirm replaces the pending entry at tempID's position with the
// server-confirmed entry. Idempotent: once a temp id has been confirmed (or
// was never pending) the call is a no-op. If the confirmed id already arrived
// through the realtime path, the pending entry is dropped instead of
// duplicated.
func (l *Ledger) Confirm(tempID string, confirmed moodtrace.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[tempID]; !ok {
		return
	}
	delete(l.pending, tempID)

	alreadyPresent := false
	for i := range l.entries {
		if l.entries[i].ID == confirmed.ID {
			alreadyPresent = true
			break
		}
	}
	for i := range l.entries {
		if l.entries[i].ID != tempID {
			continue
		}
		if alreadyPresent {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
		} else {
			l.entries[i] = confirmed
		}
		l.persistLocked()
		return
	}
}

// Reject removes the pending entry and records a store-wide error message.
func (l *Ledger) Reject(tempID, errorMessage string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[tempID]; !ok {
		return
	}
	l.removeLocked(tempID)
	l.errMsg = errorMessage
	l.persistLocked()
}

// IngestFromRemote bulk-replaces the confirmed set after a list fetch,
// keeping pending entries at the head and stamping the sync time.
func (l *Ledger) IngestFromRemote(entries []moodtrace.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make([]moodtrace.Entry, 0, len(entries)+len(l.pending))
	for _, e := range l.entries {
		if e.IsPending() {
			merged = append(merged, e)
		}
	}
	merged = append(merged, entries...)
	l.entries = merged
	l.lastSyncAt = moodtrace.NowMillis()
	l.persistLocked()
}

// IngestRealtime inserts the entry at the head unless its id is already
// present (dedup guard against double delivery).
func (l *Ledger) IngestRealtime(entry moodtrace.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == entry.ID {
			return
		}
	}
	l.entries = append([]moodtrace.Entry{entry}, l.entries...)
	l.persistLocked()
}

// Entries returns a copy of the merged view, most recent first.
func (l *Ledger) Entries() []moodtrace.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]moodtrace.Entry{}, l.entries...)
}

func (l *Ledger) Get(id string) (moodtrace.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return moodtrace.Entry{}, false
}

// PendingCount reports how many entries still await confirmation.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) LastSyncAt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSyncAt
}

// Err returns the store-wide error message, empty when none.
func (l *Ledger) Err() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}

func (l *Ledger) SetErr(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errMsg = message
}

func (l *Ledger) ClearErr() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errMsg = ""
}

// restoreEntry reinserts a previously removed entry at its original position,
// used by delete rollback.
func (l *Ledger) restoreEntry(entry moodtrace.Entry, position int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if position < 0 || position > len(l.entries) {
		position = 0
	}
	l.entries = append(l.entries[:position], append([]moodtrace.Entry{entry}, l.entries[position:]...)...)
	l.persistLocked()
}

// locate returns a copy of the entry with id together with its index, under
// one lock acquisition so callers get a consistent snapshot for rollback.
func (l *Ledger) locate(id string) (moodtrace.Entry, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			return l.entries[i], i, true
		}
	}
	return moodtrace.Entry{}, -1, false
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
