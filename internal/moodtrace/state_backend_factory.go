package moodtrace

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedSnapshot
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedSnapshot, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneSnapshot(b.snapshot)
}

func (b *InMemoryStateBackend) Save(state *persistedSnapshot) error {
	if b == nil || state == nil {
		return nil
	}
	clone, err := cloneSnapshot(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = clone
	return nil
}

func cloneSnapshot(state *persistedSnapshot) (*persistedSnapshot, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone persistedSnapshot
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

type StateBackendFactory func(dsn string) (StateBackend, error)

var stateBackendRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StateBackendFactory
}{
	factories: map[string]StateBackendFactory{},
}

// RegisterStateBackendFactory installs a factory for an out-of-tree DSN scheme.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	stateBackendRegistry.mu.Lock()
	defer stateBackendRegistry.mu.Unlock()
	stateBackendRegistry.factories[scheme] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	stateBackendRegistry.mu.RLock()
	defer stateBackendRegistry.mu.RUnlock()
	factory, ok := stateBackendRegistry.factories[scheme]
	return factory, ok
}

// BuildStateBackendFromDSN selects a backend by DSN scheme. A bare path or
// file:// DSN maps to the JSON file backend; memory://, postgres:// and
// badger:// map to their respective backends.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupStateBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileStateBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(dsn)
	case "badger":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewBadgerStateBackend(path)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: dsn %q has no path", ErrInvalidInput, raw)
	}
	return path, nil
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
