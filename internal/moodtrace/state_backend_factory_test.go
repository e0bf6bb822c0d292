package moodtrace

import (
	"path/filepath"
	"testing"
)

func TestBuildStateBackendFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	backend, err := BuildStateBackendFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	fileBackend, ok := backend.(*JSONFileStateBackend)
	if !ok {
		t.Fatalf("expected JSON file backend, got %T", backend)
	}
	if fileBackend.Path != path {
		t.Fatalf("unexpected path: %q", fileBackend.Path)
	}
}

func TestBuildStateBackendFromDSNBarePath(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("data/state.json")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := backend.(*JSONFileStateBackend); !ok {
		t.Fatalf("expected JSON file backend for bare path, got %T", backend)
	}
}

func TestBuildStateBackendFromDSNMemory(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := backend.(*InMemoryStateBackend); !ok {
		t.Fatalf("expected in-memory backend, got %T", backend)
	}
}

func TestBuildStateBackendFromDSNUnsupportedScheme(t *testing.T) {
	if _, err := BuildStateBackendFromDSN("redis://localhost:6379"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestBuildStateBackendFromDSNEmpty(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("   ")
	if err != nil {
		t.Fatalf("empty dsn should not error: %v", err)
	}
	if backend != nil {
		t.Fatalf("empty dsn should yield nil backend")
	}
}

func TestRegisterStateBackendFactoryOverridesScheme(t *testing.T) {
	sentinel := NewInMemoryStateBackend()
	RegisterStateBackendFactory("custom", func(dsn string) (StateBackend, error) {
		return sentinel, nil
	})
	backend, err := BuildStateBackendFromDSN("custom://whatever")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if backend != StateBackend(sentinel) {
		t.Fatalf("expected registered factory to be used")
	}
}

func TestInMemoryBackendRoundTrip(t *testing.T) {
	backend := NewInMemoryStateBackend()
	if err := backend.Save(&persistedSnapshot{Moods: []Entry{{ID: "mood_a", Category: CategoryCalm, Level: 3, Timestamp: 100}}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	snapshot, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snapshot == nil || len(snapshot.Moods) != 1 || snapshot.Moods[0].ID != "mood_a" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	// Mutating the loaded copy must not leak into the stored snapshot.
	snapshot.Moods[0].Level = 5
	again, err := backend.Load()
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if again.Moods[0].Level != 3 {
		t.Fatalf("backend snapshot was mutated through a loaded copy")
	}
}

func TestBadgerBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBadgerStateBackend(dir)
	if err != nil {
		t.Fatalf("open badger backend: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := backend.(stateBackendCloser); ok {
			_ = closer.Close()
		}
	})

	empty, err := backend.Load()
	if err != nil {
		t.Fatalf("load on fresh backend failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil snapshot from fresh backend")
	}

	want := &persistedSnapshot{Moods: []Entry{{ID: "mood_b", Category: CategoryHappy, Level: 4, Timestamp: 200}}}
	if err := backend.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got == nil || len(got.Moods) != 1 || got.Moods[0].ID != "mood_b" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}
