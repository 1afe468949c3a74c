package platform

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/evrydayimruslin/ultralight/internal/config"
	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/runtime"
	"github.com/evrydayimruslin/ultralight/internal/services"
	"github.com/evrydayimruslin/ultralight/internal/storage"
)

func testService(t *testing.T, cfg *config.Config) (*Service, *storage.Store) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{DataDir: t.TempDir()}
	}
	logger := slog.New(slog.DiscardHandler)

	store, err := storage.Open(cfg, logger)
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	svc := New(Deps{
		Runner:    runtime.NewRunner(runtime.WithLogger(logger)),
		Functions: store.Functions(),
		Store:     store,
		Memory:    services.NewInMemoryMemory(),
		Logger:    logger,
		Config:    cfg,
	})
	return svc, store
}

func createFunction(t *testing.T, store *storage.Store, fn *function.Function) *function.Function {
	t.Helper()
	if err := store.Functions().Create(context.Background(), fn); err != nil {
		t.Fatalf("creating function: %v", err)
	}
	return fn
}

func TestInvoke(t *testing.T) {
	svc, store := testService(t, nil)
	fn := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "greeter",
		Code:    `__exports.greet = function(name) { return "Hello " + name; };`,
	})

	inv, err := svc.Invoke(context.Background(), InvokeRequest{
		FunctionID: fn.ID,
		EntryPoint: "greet",
		Args:       []any{"World"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if inv.ExecutionID == "" {
		t.Error("empty execution id")
	}
	if inv.FunctionID != fn.ID {
		t.Errorf("function id = %q", inv.FunctionID)
	}
	if !inv.Result.Success || inv.Result.Result != "Hello World" {
		t.Errorf("result = %+v", inv.Result)
	}
}

func TestInvokeNotFound(t *testing.T) {
	svc, _ := testService(t, nil)

	_, err := svc.Invoke(context.Background(), InvokeRequest{
		FunctionID: "missing",
		EntryPoint: "run",
	})
	if !errors.Is(err, function.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestInvokeTooBusy(t *testing.T) {
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Runtime: config.RuntimeConfig{MaxConcurrentExecutions: 1},
	}
	svc, store := testService(t, cfg)
	fn := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "noop",
		Code:    `__exports.run = function() { return 1; };`,
	})

	// Saturate the execution slot.
	svc.sem <- struct{}{}
	defer func() { <-svc.sem }()

	_, err := svc.Invoke(context.Background(), InvokeRequest{
		FunctionID: fn.ID,
		EntryPoint: "run",
	})
	if !errors.Is(err, ErrTooBusy) {
		t.Errorf("err = %v, want ErrTooBusy", err)
	}
}

func TestInvokeAppDataIsolation(t *testing.T) {
	svc, store := testService(t, nil)
	writer := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "writer",
		Code:    `__exports.run = function() { app.store("shared", "from-writer"); return true; };`,
	})
	reader := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "reader",
		Code:    `__exports.run = function() { return app.load("shared"); };`,
	})

	if _, err := svc.Invoke(context.Background(), InvokeRequest{FunctionID: writer.ID, EntryPoint: "run"}); err != nil {
		t.Fatalf("writer: %v", err)
	}
	inv, err := svc.Invoke(context.Background(), InvokeRequest{FunctionID: reader.ID, EntryPoint: "run"})
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	// Each function sees only its own namespace.
	if inv.Result.Result != nil {
		t.Errorf("reader saw another app's data: %v", inv.Result.Result)
	}
}

func TestInvokeDefaultPermissions(t *testing.T) {
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Runtime: config.RuntimeConfig{DefaultPermissions: []string{"memory:write", "memory:read"}},
	}
	svc, store := testService(t, cfg)
	fn := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "memo",
		Code:    `__exports.run = function() { app.remember("k", "v"); return app.recall("k"); };`,
	})

	inv, err := svc.Invoke(context.Background(), InvokeRequest{FunctionID: fn.ID, EntryPoint: "run"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !inv.Result.Success || inv.Result.Result != "v" {
		t.Errorf("result = %+v", inv.Result)
	}
}

func TestInvokeDeclaredPermissionsWin(t *testing.T) {
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Runtime: config.RuntimeConfig{DefaultPermissions: []string{"memory:write"}},
	}
	svc, store := testService(t, cfg)
	// A declared permission set replaces the defaults entirely.
	fn := createFunction(t, store, &function.Function{
		OwnerID:     "owner-1",
		Name:        "limited",
		Code:        `__exports.run = function() { app.remember("k", "v"); };`,
		Permissions: []string{"storage:read"},
	})

	inv, err := svc.Invoke(context.Background(), InvokeRequest{FunctionID: fn.ID, EntryPoint: "run"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if inv.Result.Success {
		t.Fatal("expected permission failure")
	}
	if inv.Result.Error.Type != "PermissionDenied" {
		t.Errorf("error = %+v", inv.Result.Error)
	}
}

func TestScheduleInvokerReportsResultError(t *testing.T) {
	svc, store := testService(t, nil)
	fn := createFunction(t, store, &function.Function{
		OwnerID: "owner-1",
		Name:    "broken",
		Code:    `__exports.run = function() { throw new Error("boom"); };`,
	})

	invoker := NewScheduleInvoker(svc)
	executionID, err := invoker.Invoke(context.Background(), fn.ID, "run", nil, "owner-1")
	if executionID == "" {
		t.Error("execution id missing for a failed run")
	}
	if err == nil || !strings.Contains(err.Error(), "RuntimeError: boom") {
		t.Errorf("err = %v", err)
	}
}

func TestCallBaseURL(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir()}
	svc, _ := testService(t, cfg)
	if got := svc.callBaseURL(); got != "" {
		t.Errorf("base url without internal token = %q", got)
	}

	cfg = &config.Config{DataDir: t.TempDir()}
	cfg.Server.InternalToken = "tok"
	cfg.Server.ListenAddr = ":9090"
	svc, _ = testService(t, cfg)
	if got := svc.callBaseURL(); got != "http://127.0.0.1:9090/v1/internal/mcp" {
		t.Errorf("base url = %q", got)
	}

	cfg = &config.Config{DataDir: t.TempDir()}
	cfg.Server.InternalToken = "tok"
	cfg.Server.ListenAddr = "0.0.0.0:8080"
	svc, _ = testService(t, cfg)
	if got := svc.callBaseURL(); got != "http://0.0.0.0:8080/v1/internal/mcp" {
		t.Errorf("base url = %q", got)
	}
}
