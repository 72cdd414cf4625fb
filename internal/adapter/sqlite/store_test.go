package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cwygoda/printq/internal/domain"
	"github.com/cwygoda/printq/internal/queue"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "queue.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_EmptyDatabase(t *testing.T) {
	store := setupTestStore(t)
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

func TestStore_SaveQueuePreservesOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := []string{"file:///c.pdf", "file:///a.pdf", "file:///b.pdf"}
	if err := store.SaveQueue(ctx, want); err != nil {
		t.Fatalf("SaveQueue() error = %v", err)
	}

	got, err := store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadQueue() = %v, want %v", got, want)
	}

	// Saving again replaces rather than appends.
	if err := store.SaveQueue(ctx, []string{"file:///b.pdf"}); err != nil {
		t.Fatalf("SaveQueue() error = %v", err)
	}
	got, _ = store.LoadQueue(ctx)
	if !reflect.DeepEqual(got, []string{"file:///b.pdf"}) {
		t.Errorf("LoadQueue() after replace = %v", got)
	}
}

func TestStore_AppendQueueKeepsDuplicates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.SaveQueue(ctx, []string{"a"})
	for _, id := range []string{"b", "a"} {
		if err := store.AppendQueue(ctx, id); err != nil {
			t.Fatalf("AppendQueue(%q) error = %v", id, err)
		}
	}

	got, _ := store.LoadQueue(ctx)
	want := []string{"a", "b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadQueue() = %v, want %v", got, want)
	}
}

func TestStore_SettingsAreNormalized(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	in := map[string]domain.DocumentSettings{
		"a": {Quantity: 3, IsA3: true},
		"b": {Quantity: 0},
		"c": {Quantity: -2, IsA3: true},
	}
	if err := store.SaveSettings(ctx, in); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := map[string]domain.DocumentSettings{
		"a": {Quantity: 3, IsA3: true},
		"b": {Quantity: 1},
		"c": {Quantity: 1, IsA3: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadSettings() = %v, want %v", got, want)
	}
}

func TestStore_LoadHealsLegacyRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO job_settings (identifier, quantity, is_a3) VALUES ('legacy', 0, 0)`,
	); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, _ := store.LoadSettings(ctx)
	if got["legacy"].Quantity != 1 {
		t.Errorf("LoadSettings() legacy quantity = %d, want 1", got["legacy"].Quantity)
	}
}

func TestStore_Clear(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.SaveQueue(ctx, []string{"a", "b"})
	store.SaveSettings(ctx, map[string]domain.DocumentSettings{"a": {Quantity: 2}})

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

func TestStore_SharedBetweenConnections(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer first.Close()
	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() second error = %v", err)
	}
	defer second.Close()

	first.SaveQueue(ctx, []string{"a"})
	second.AppendQueue(ctx, "b")

	got, _ := first.LoadQueue(ctx)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("LoadQueue() = %v, want [a b]", got)
	}
}

func TestStore_AppendsSurviveOpenQueue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	owner, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer owner.Close()
	producer, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() producer error = %v", err)
	}
	defer producer.Close()

	logger, _ := test.NewNullLogger()
	q := queue.New(owner, queue.WithLogger(logger))
	q.AddJob("/a.pdf")

	if err := producer.AppendQueue(ctx, "/b.pdf"); err != nil {
		t.Fatalf("AppendQueue() error = %v", err)
	}
	q.AddJob("/c.pdf")

	want := []string{"/a.pdf", "/b.pdf", "/c.pdf"}
	got, _ := owner.LoadQueue(ctx)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stored queue = %v, want %v", got, want)
	}
	q.Reload()
	if !reflect.DeepEqual(q.Jobs(), want) {
		t.Errorf("Jobs() after Reload = %v, want %v", q.Jobs(), want)
	}
}

func TestStore_CancelledContext(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SaveQueue(ctx, []string{"a"})
	if err == nil {
		t.Fatal("SaveQueue() with cancelled context succeeded")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SaveQueue() error = %v, want context.Canceled", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: retry"), true},
		{errors.New("no such table"), false},
	}

	for _, tt := range tests {
		if got := isBusy(tt.err); got != tt.want {
			t.Errorf("isBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
