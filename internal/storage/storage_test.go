package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"aidispatch/internal/core"
)

func exerciseStore(t *testing.T, store core.BlobStore) {
	t.Helper()
	ctx := context.Background()

	data, err := store.Load(ctx, core.StorageKeyStats)
	if err != nil || data != nil {
		t.Fatalf("missing key should load (nil, nil), got (%q, %v)", data, err)
	}

	if err := store.Save(ctx, core.StorageKeyStats, []byte(`{"totalCalls":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, core.StorageKeyStats, []byte(`{"totalCalls":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err = store.Load(ctx, core.StorageKeyStats)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"totalCalls":2}` {
		t.Errorf("Load = %q", data)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "data"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	exerciseStore(t, store)
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "../escape", "a/b", `a\b`} {
		if err := store.Save(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Save(%q) should fail", key)
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestOpen_FallsBackToFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), Options{RedisURL: "not-a-redis-url", DataDir: dir}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close() }()

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected file store, got %T", store)
	}
	if fs.Dir() != dir {
		t.Errorf("Dir = %s", fs.Dir())
	}
}

func TestOpen_SQLite(t *testing.T) {
	store, err := Open(context.Background(), Options{SQLitePath: filepath.Join(t.TempDir(), "s.db")}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("expected sqlite store, got %T", store)
	}
}

type fakeComponent struct {
	key      string
	state    string
	failLoad bool
}

func (f *fakeComponent) StateKey() string { return f.key }

func (f *fakeComponent) MarshalState() ([]byte, error) {
	return []byte(f.state), nil
}

func (f *fakeComponent) UnmarshalState(data []byte) error {
	if f.failLoad {
		return errors.New("corrupt")
	}
	f.state = string(data)
	return nil
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, string, []byte) error { return errors.New("disk full") }

func TestPersister_SaveRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &fakeComponent{key: "a", state: "alpha"}
	b := &fakeComponent{key: "b", state: "beta"}

	if err := NewPersister(store, nil, a, b).Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ra := &fakeComponent{key: "a"}
	rb := &fakeComponent{key: "b", failLoad: true, state: "default"}
	rc := &fakeComponent{key: "c", state: "untouched"}
	NewPersister(store, nil, ra, rb, rc).Restore(ctx)

	if ra.state != "alpha" {
		t.Errorf("a = %q", ra.state)
	}
	if rb.state != "default" {
		t.Errorf("corrupt blob should leave defaults, got %q", rb.state)
	}
	if rc.state != "untouched" {
		t.Errorf("missing blob should leave defaults, got %q", rc.state)
	}
}

func TestPersister_SaveFailureIsReported(t *testing.T) {
	p := NewPersister(failingStore{NewMemoryStore()}, nil, &fakeComponent{key: "a"}, &fakeComponent{key: "b"})
	err := p.Save(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
}

func TestPersister_RunSavesOnCancel(t *testing.T) {
	store := NewMemoryStore()
	c := &fakeComponent{key: "a", state: "final"}
	p := NewPersister(store, nil, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 0)
		close(done)
	}()
	cancel()
	<-done

	data, _ := store.Load(context.Background(), "a")
	if string(data) != "final" {
		t.Errorf("final save missing, got %q", data)
	}
}
