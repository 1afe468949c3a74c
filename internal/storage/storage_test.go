package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/evrydayimruslin/ultralight/internal/config"
	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/scheduler"
	"github.com/evrydayimruslin/ultralight/internal/services"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.Config{DataDir: t.TempDir()}
	logger := slog.New(slog.DiscardHandler)

	s, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStoreDriver(t *testing.T) {
	s := testStore(t)
	if got := s.Driver(); got != "sqlite" {
		t.Errorf("Driver() = %q, want sqlite", got)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestFunctionRepository(t *testing.T) {
	s := testStore(t)
	repo := s.Functions()
	ctx := context.Background()

	fn := &function.Function{
		OwnerID:     "owner-1",
		Name:        "greeter",
		Description: "says hello",
		Code:        `__exports.greet = () => "hi";`,
		Permissions: []string{"storage:read", "storage:write"},
		EnvVars:     map[string]string{"GREETING": "hi"},
	}
	if err := repo.Create(ctx, fn); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fn.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := repo.Get(ctx, fn.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "greeter" || got.Code != fn.Code {
		t.Errorf("Get returned %+v", got)
	}
	if len(got.Permissions) != 2 || got.Permissions[0] != "storage:read" {
		t.Errorf("permissions round-trip failed: %v", got.Permissions)
	}
	if got.EnvVars["GREETING"] != "hi" {
		t.Errorf("env vars round-trip failed: %v", got.EnvVars)
	}

	byName, err := repo.GetByName(ctx, "owner-1", "greeter")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if byName.ID != fn.ID {
		t.Errorf("GetByName ID = %q, want %q", byName.ID, fn.ID)
	}

	if _, err := repo.GetByName(ctx, "owner-2", "greeter"); !errors.Is(err, function.ErrNotFound) {
		t.Errorf("GetByName for wrong owner: err = %v, want ErrNotFound", err)
	}

	fn.Description = "updated"
	fn.Permissions = []string{"ai:call"}
	if err := repo.Update(ctx, fn); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = repo.Get(ctx, fn.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Description != "updated" || len(got.Permissions) != 1 {
		t.Errorf("update not persisted: %+v", got)
	}

	list, err := repo.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List returned %d functions, want 1", len(list))
	}

	if err := repo.Delete(ctx, fn.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, fn.ID); !errors.Is(err, function.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, fn.ID); !errors.Is(err, function.ErrNotFound) {
		t.Errorf("Delete twice: err = %v, want ErrNotFound", err)
	}
}

func TestAppDataIsolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	appA := s.AppData("app-a")
	appB := s.AppData("app-b")

	if err := appA.Store(ctx, "shared-key", "from a"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := appB.Store(ctx, "shared-key", "from b"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	va, err := appA.Load(ctx, "shared-key")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if va != "from a" {
		t.Errorf("app-a sees %v, want \"from a\"", va)
	}

	vb, _ := appB.Load(ctx, "shared-key")
	if vb != "from b" {
		t.Errorf("app-b sees %v, want \"from b\"", vb)
	}

	keys, err := appB.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("app-b lists %d keys, want 1", len(keys))
	}
}

func TestAppDataStoreLoadRemove(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	data := s.AppData("app-1")

	// Absent key loads as nil, not error.
	v, err := data.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if v != nil {
		t.Errorf("Load missing = %v, want nil", v)
	}

	if err := data.Store(ctx, "user:1", map[string]any{"name": "ada", "age": float64(36)}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	// Overwrite is an upsert.
	if err := data.Store(ctx, "user:1", map[string]any{"name": "ada", "age": float64(37)}); err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}

	v, err = data.Load(ctx, "user:1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Load returned %T, want map", v)
	}
	if obj["age"] != float64(37) {
		t.Errorf("age = %v, want 37", obj["age"])
	}

	if err := data.Remove(ctx, "user:1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v, _ := data.Load(ctx, "user:1"); v != nil {
		t.Errorf("Load after remove = %v, want nil", v)
	}
	// Removing an absent key is not an error.
	if err := data.Remove(ctx, "user:1"); err != nil {
		t.Errorf("Remove absent key: %v", err)
	}
}

func TestAppDataQuery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	data := s.AppData("app-1")

	seed := map[string]any{
		"task:1": map[string]any{"status": "open", "priority": float64(3)},
		"task:2": map[string]any{"status": "done", "priority": float64(1)},
		"task:3": map[string]any{"status": "open", "priority": float64(2)},
		"note:1": map[string]any{"status": "open"},
	}
	if err := data.BatchStore(ctx, seed); err != nil {
		t.Fatalf("BatchStore: %v", err)
	}

	entries, err := data.Query(ctx, "task:", services.QueryOptions{
		Filter: map[string]any{"status": "open"},
		Sort:   "priority",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Query returned %d entries, want 2", len(entries))
	}
	if entries[0].Key != "task:3" || entries[1].Key != "task:1" {
		t.Errorf("sort order wrong: %q, %q", entries[0].Key, entries[1].Key)
	}
	if entries[0].UpdatedAt == nil {
		t.Error("UpdatedAt not populated")
	}

	limited, err := data.Query(ctx, "task:", services.QueryOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Query with pagination: %v", err)
	}
	if len(limited) != 1 || limited[0].Key != "task:2" {
		t.Errorf("pagination wrong: %+v", limited)
	}
}

func TestAppDataBatchOps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	data := s.AppData("app-1")

	if err := data.BatchStore(ctx, map[string]any{"a": float64(1), "b": float64(2), "c": float64(3)}); err != nil {
		t.Fatalf("BatchStore: %v", err)
	}

	loaded, err := data.BatchLoad(ctx, []string{"a", "c", "missing"})
	if err != nil {
		t.Fatalf("BatchLoad: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("BatchLoad returned %d entries, want 2 (absent keys omitted)", len(loaded))
	}
	if loaded["a"] != float64(1) || loaded["c"] != float64(3) {
		t.Errorf("BatchLoad values wrong: %v", loaded)
	}

	if err := data.BatchRemove(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("BatchRemove: %v", err)
	}
	keys, err := data.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "c" {
		t.Errorf("after BatchRemove: %v, want [c]", keys)
	}

	// Empty batches are no-ops.
	if err := data.BatchStore(ctx, nil); err != nil {
		t.Errorf("BatchStore(nil): %v", err)
	}
	if err := data.BatchRemove(ctx, nil); err != nil {
		t.Errorf("BatchRemove(nil): %v", err)
	}
}

func TestScheduleRepository(t *testing.T) {
	s := testStore(t)
	repo := s.Schedules()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	sched := &scheduler.Schedule{
		OwnerID:        "owner-1",
		FunctionID:     "fn-1",
		Name:           "nightly",
		CronExpression: "0 2 * * *",
		EntryPoint:     "run",
		Args:           []any{"cleanup", float64(10)},
		Enabled:        true,
		NextRunAt:      &past,
	}
	if err := repo.Create(ctx, sched); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CronExpression != "0 2 * * *" || len(got.Args) != 2 {
		t.Errorf("Get returned %+v", got)
	}

	due, err := repo.GetDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("GetDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != sched.ID {
		t.Fatalf("GetDue returned %d schedules", len(due))
	}

	next := time.Now().UTC().Add(time.Hour)
	if err := repo.RecordRun(ctx, sched.ID, "exec-123", next, ""); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	// Advanced past now, so no longer due.
	due, err = repo.GetDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("GetDue after RecordRun: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("GetDue after RecordRun returned %d schedules, want 0", len(due))
	}

	got, _ = repo.Get(ctx, sched.ID)
	if got.LastRunAt == nil {
		t.Error("LastRunAt not recorded")
	}

	// Disabled schedules are never due.
	got.Enabled = false
	earlier := time.Now().UTC().Add(-time.Hour)
	got.NextRunAt = &earlier
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	due, _ = repo.GetDue(ctx, time.Now().UTC())
	if len(due) != 0 {
		t.Errorf("disabled schedule returned as due")
	}

	if err := repo.Delete(ctx, sched.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrScheduleNotFound", err)
	}
}
