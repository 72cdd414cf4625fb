package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/cwygoda/printq/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "queue.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jobs, err := store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("LoadQueue() = %v, want empty", jobs)
	}

	settings, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("LoadSettings() = %v, want empty", settings)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveQueue(ctx, []string{"b", "a"}); err != nil {
		t.Fatalf("SaveQueue() error = %v", err)
	}
	err := store.SaveSettings(ctx, map[string]domain.DocumentSettings{
		"a": {Quantity: 2, IsA3: true},
		"b": {Quantity: -1},
	})
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	jobs, err := store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue() error = %v", err)
	}
	if !reflect.DeepEqual(jobs, []string{"b", "a"}) {
		t.Errorf("LoadQueue() = %v, want [b a]", jobs)
	}

	settings, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := map[string]domain.DocumentSettings{
		"a": {Quantity: 2, IsA3: true},
		"b": {Quantity: 1},
	}
	if !reflect.DeepEqual(settings, want) {
		t.Errorf("LoadSettings() = %v, want %v", settings, want)
	}

	// Settings are stored as flat records.
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	for _, field := range []string{`"isA3": true`, `"quantity": 2`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("state file missing %s:\n%s", field, data)
		}
	}
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveQueue(ctx, []string{"a"})
	store.SaveSettings(ctx, map[string]domain.DocumentSettings{"a": {Quantity: 1}})
	if err := store.ClearQueue(ctx); err != nil {
		t.Fatalf("ClearQueue() error = %v", err)
	}
	if err := store.ClearSettings(ctx); err != nil {
		t.Fatalf("ClearSettings() error = %v", err)
	}

	jobs, _ := store.LoadQueue(ctx)
	settings, _ := store.LoadSettings(ctx)
	if len(jobs) != 0 || len(settings) != 0 {
		t.Errorf("after clear: queue = %v, settings = %v", jobs, settings)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	ctx := context.Background()

	// Two stores on one file behave like two processes.
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer first.Close()
	second, err := Open(path)
	if err != nil {
		t.Fatalf("Open() second error = %v", err)
	}
	defer second.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := first
			if i%2 == 1 {
				store = second
			}
			errs <- store.AppendQueue(ctx, "doc")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("AppendQueue() error = %v", err)
		}
	}

	jobs, err := first.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue() error = %v", err)
	}
	if len(jobs) != 20 {
		t.Errorf("LoadQueue() has %d entries, want 20", len(jobs))
	}
}

func TestStore_LockTimeout(t *testing.T) {
	store := newTestStore(t)

	holder := flock.New(store.Path() + ".lock")
	ok, err := holder.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := store.SaveQueue(ctx, []string{"a"}); !errors.Is(err, ErrLocked) {
		t.Errorf("SaveQueue() error = %v, want ErrLocked", err)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write state file: %v", err)
	}

	if _, err := store.LoadQueue(context.Background()); err == nil {
		t.Error("LoadQueue() on corrupt file succeeded")
	}
}
