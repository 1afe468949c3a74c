package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evrydayimruslin/ultralight/internal/services"
)

func testConfig() *RuntimeConfig {
	return &RuntimeConfig{
		AppID:       "app-1",
		OwnerID:     "owner-1",
		CallerID:    "app-1",
		ExecutionID: "exec-1",
		AppData:     services.NewInMemoryAppData(),
		EnvVars:     map[string]string{"API_URL": "https://api.example.com"},
	}
}

func run(t *testing.T, cfg *RuntimeConfig, code, fn string, args ...any) *ExecutionResult {
	t.Helper()
	cfg.Code = code
	r := NewRunner(WithLogger(slog.New(slog.DiscardHandler)))
	return r.Execute(context.Background(), cfg, fn, args)
}

func wantSuccess(t *testing.T, res *ExecutionResult) {
	t.Helper()
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Error.Type, res.Error.Message)
	}
}

func wantError(t *testing.T, res *ExecutionResult, errType string) *ErrorInfo {
	t.Helper()
	if res.Success {
		t.Fatalf("expected failure, got success with result %v", res.Result)
	}
	if res.Error == nil {
		t.Fatal("failed result has no error info")
	}
	if res.Error.Type != errType {
		t.Fatalf("error type = %s (%q), want %s", res.Error.Type, res.Error.Message, errType)
	}
	return res.Error
}

func TestExecuteSyncFunction(t *testing.T) {
	res := run(t, testConfig(), `__exports.greet = function(name) { return "Hello " + name; };`, "greet", "World")
	wantSuccess(t, res)
	if res.Result != "Hello World" {
		t.Errorf("result = %v, want Hello World", res.Result)
	}
	if res.DurationMs < 0 {
		t.Errorf("negative duration %d", res.DurationMs)
	}
}

func TestExecuteAsyncFunction(t *testing.T) {
	code := `__exports.run = async function() {
		await new Promise(function(resolve) { setTimeout(resolve, 10); });
		return "done";
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	if res.Result != "done" {
		t.Errorf("result = %v, want done", res.Result)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Code = `__exports.run = function() { return new Promise(function() {}); };`
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(WithLogger(slog.New(slog.DiscardHandler)))
	res := r.Execute(ctx, cfg, "run", nil)

	// A caller cancellation is not a Timeout; that type is reserved for the
	// execution deadline.
	info := wantError(t, res, ErrTypeRuntime)
	if info.Message != "execution cancelled" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteGlobalFunction(t *testing.T) {
	res := run(t, testConfig(), `function add(a, b) { return a + b; }`, "add", int64(2), int64(3))
	wantSuccess(t, res)
	if res.Result != int64(5) {
		t.Errorf("result = %v (%T), want 5", res.Result, res.Result)
	}
}

func TestExecuteEmptyCode(t *testing.T) {
	res := run(t, testConfig(), "", "run")
	info := wantError(t, res, ErrTypeValidation)
	if info.Message != "module code is empty" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteNoAppData(t *testing.T) {
	cfg := testConfig()
	cfg.AppData = nil
	res := run(t, cfg, `__exports.run = function() { return 1; };`, "run")
	info := wantError(t, res, ErrTypeServiceUnavailable)
	if info.Message != "app data service is not available" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteCompilationError(t *testing.T) {
	res := run(t, testConfig(), `function (`, "run")
	info := wantError(t, res, ErrTypeCompilation)
	if !strings.HasPrefix(info.Message, "compiling module:") {
		t.Errorf("message = %q", info.Message)
	}
	if strings.Contains(info.Message, "\n") {
		t.Errorf("message contains a newline: %q", info.Message)
	}
}

func TestExecuteFunctionNotFound(t *testing.T) {
	code := `__exports.beta = function() {}; __exports.alpha = function() {};`
	res := run(t, testConfig(), code, "gamma")
	info := wantError(t, res, ErrTypeValidation)
	want := `function "gamma" not found in module exports (available: alpha, beta)`
	if info.Message != want {
		t.Errorf("message = %q, want %q", info.Message, want)
	}
}

func TestExecuteNoExports(t *testing.T) {
	res := run(t, testConfig(), `var x = 1;`, "run")
	info := wantError(t, res, ErrTypeValidation)
	want := `function "run" not found: the module exports no functions`
	if info.Message != want {
		t.Errorf("message = %q, want %q", info.Message, want)
	}
}

func TestExecuteThrownTypeError(t *testing.T) {
	res := run(t, testConfig(), `__exports.run = function() { throw new TypeError("nope"); };`, "run")
	info := wantError(t, res, ErrTypeType)
	if info.Message != "nope" {
		t.Errorf("message = %q, want nope", info.Message)
	}
}

func TestExecuteThrownError(t *testing.T) {
	res := run(t, testConfig(), `__exports.run = function() { throw new Error("plain failure"); };`, "run")
	info := wantError(t, res, ErrTypeRuntime)
	if info.Message != "plain failure" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteRejectedPromise(t *testing.T) {
	res := run(t, testConfig(), `__exports.run = function() { return Promise.reject(new RangeError("out")); };`, "run")
	info := wantError(t, res, ErrTypeRuntime)
	if info.Message != "RangeError: out" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteConsoleCapture(t *testing.T) {
	code := `__exports.run = function() {
		console.log("plain", {a: 1}, 42);
		console.error("bad");
		return null;
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	if len(res.Logs) != 2 {
		t.Fatalf("got %d log entries, want 2", len(res.Logs))
	}
	if res.Logs[0].Level != "log" || res.Logs[0].Message != `plain {"a":1} 42` {
		t.Errorf("entry 0 = %s %q", res.Logs[0].Level, res.Logs[0].Message)
	}
	if res.Logs[1].Level != "error" || res.Logs[1].Message != "bad" {
		t.Errorf("entry 1 = %s %q", res.Logs[1].Level, res.Logs[1].Message)
	}
}

func TestExecuteTimerCallbackError(t *testing.T) {
	code := `__exports.run = async function() {
		setTimeout(function() { throw new Error("timer boom"); }, 5);
		await new Promise(function(resolve) { setTimeout(resolve, 30); });
		return true;
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	found := false
	for _, entry := range res.Logs {
		if entry.Level == "error" && strings.Contains(entry.Message, "uncaught error in timer callback:") {
			found = true
		}
	}
	if !found {
		t.Errorf("no timer error entry in logs: %+v", res.Logs)
	}
}

func TestExecuteEnvIsFrozen(t *testing.T) {
	code := `__exports.run = function() {
		app.env.API_URL = "mutated";
		app.env.INJECTED = "x";
		return { url: app.env.API_URL, keys: Object.keys(app.env).length };
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	out, ok := res.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", res.Result)
	}
	if out["url"] != "https://api.example.com" {
		t.Errorf("env value mutated: %v", out["url"])
	}
	if out["keys"] != int64(1) {
		t.Errorf("env gained keys: %v", out["keys"])
	}
}

func TestExecuteStorageRoundTrip(t *testing.T) {
	code := `__exports.run = function() {
		app.store("task:1", {priority: 3, status: "open"});
		app.store("task:2", {priority: 1, status: "open"});
		app.store("note:1", {text: "other"});
		var loaded = app.load("task:1");
		var keys = app.list("task:");
		var rows = app.query("task:", {sort: "priority"});
		var ordered = [];
		for (var i = 0; i < rows.length; i++) { ordered.push(rows[i].key); }
		app.remove("task:2");
		return {
			priority: loaded.priority,
			keys: keys.length,
			ordered: ordered,
			gone: app.load("task:2") === null,
		};
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	out := res.Result.(map[string]any)
	if out["priority"] != int64(3) {
		t.Errorf("priority = %v", out["priority"])
	}
	if out["keys"] != int64(2) {
		t.Errorf("keys = %v", out["keys"])
	}
	ordered, _ := out["ordered"].([]any)
	if len(ordered) != 2 || ordered[0] != "task:2" || ordered[1] != "task:1" {
		t.Errorf("ordered = %v", ordered)
	}
	if out["gone"] != true {
		t.Errorf("removed key still loads")
	}
}

func TestExecuteBatchStorage(t *testing.T) {
	code := `__exports.run = function() {
		app.batchStore({"a": 1, "b": 2});
		var loaded = app.batchLoad(["a", "b", "missing"]);
		app.batchRemove(["a", "b"]);
		return { a: loaded.a, hasMissing: "missing" in loaded, left: app.list("").length };
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	out := res.Result.(map[string]any)
	if out["a"] != int64(1) {
		t.Errorf("a = %v", out["a"])
	}
	if out["hasMissing"] != false {
		t.Errorf("absent key present in batch load result")
	}
	if out["left"] != int64(0) {
		t.Errorf("left = %v", out["left"])
	}
}

func TestExecuteMemoryPermissionDenied(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = services.NewInMemoryMemory()
	res := run(t, cfg, `__exports.run = function() { app.remember("k", 1); };`, "run")
	info := wantError(t, res, ErrTypePermissionDenied)
	if !strings.Contains(info.Message, PermMemoryWrite) {
		t.Errorf("message does not name the token: %q", info.Message)
	}
}

func TestExecuteMemoryUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Permissions = []string{PermMemoryRead, PermMemoryWrite}
	res := run(t, cfg, `__exports.run = function() { app.remember("k", 1); };`, "run")
	info := wantError(t, res, ErrTypeServiceUnavailable)
	if info.Message != "memory service is not available" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteMemoryRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Permissions = []string{PermMemoryRead, PermMemoryWrite}
	cfg.Memory = services.NewInMemoryMemory()
	code := `__exports.run = function() {
		app.remember("greeting", "hola");
		return app.recall("greeting");
	};`
	res := run(t, cfg, code, "run")
	wantSuccess(t, res)
	if res.Result != "hola" {
		t.Errorf("result = %v", res.Result)
	}
}

type fakeAI struct {
	resp   services.AIResponse
	err    error
	gotKey string
	gotReq services.AIRequest
	calls  int
}

func (f *fakeAI) Call(_ context.Context, req services.AIRequest, apiKey string) (*services.AIResponse, error) {
	f.calls++
	f.gotKey = apiKey
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	resp := f.resp
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

func TestExecuteAICall(t *testing.T) {
	ai := &fakeAI{resp: services.AIResponse{
		Content: "generated",
		Model:   "small-1",
		Usage:   services.AIUsage{InputTokens: 10, OutputTokens: 20, CostCents: 3.5},
	}}
	cfg := testConfig()
	cfg.Permissions = []string{PermAICall}
	cfg.AI = ai
	cfg.UserAPIKey = "key-abc"

	code := `__exports.run = function() {
		var res = app.ai("write a haiku", {model: "small-1", maxTokens: 64});
		return res.content + "/" + res.usage.costCents;
	};`
	res := run(t, cfg, code, "run")
	wantSuccess(t, res)
	if res.Result != "generated/3.5" {
		t.Errorf("result = %v", res.Result)
	}
	if res.AICostCents != 3.5 {
		t.Errorf("ai cost = %v, want 3.5", res.AICostCents)
	}
	if ai.gotKey != "key-abc" {
		t.Errorf("api key = %q", ai.gotKey)
	}
	if ai.gotReq.Prompt != "write a haiku" || ai.gotReq.MaxTokens != 64 {
		t.Errorf("request = %+v", ai.gotReq)
	}
}

func TestExecuteAIObjectRequest(t *testing.T) {
	ai := &fakeAI{resp: services.AIResponse{Content: "generated"}}
	cfg := testConfig()
	cfg.Permissions = []string{PermAICall}
	cfg.AI = ai

	code := `__exports.run = function() {
		var res = app.ai({prompt: "write a haiku", model: "small-1", system: "be brief", maxTokens: 64});
		return res.content;
	};`
	res := run(t, cfg, code, "run")
	wantSuccess(t, res)
	if res.Result != "generated" {
		t.Errorf("result = %v", res.Result)
	}
	want := services.AIRequest{Prompt: "write a haiku", Model: "small-1", System: "be brief", MaxTokens: 64}
	if ai.gotReq != want {
		t.Errorf("request = %+v, want %+v", ai.gotReq, want)
	}
}

func TestExecuteAIRejectsBadRequest(t *testing.T) {
	tests := []struct {
		name string
		call string
	}{
		{"numeric request", `app.ai(42)`},
		{"object without prompt", `app.ai({model: "small-1"})`},
		{"object with numeric prompt", `app.ai({prompt: 7})`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{}
			cfg := testConfig()
			cfg.Permissions = []string{PermAICall}
			cfg.AI = ai

			res := run(t, cfg, `__exports.run = function() { return `+tc.call+`; };`, "run")
			wantError(t, res, ErrTypeType)
			// A rejected request must never reach the model.
			if ai.calls != 0 {
				t.Errorf("model saw %d calls with request %+v", ai.calls, ai.gotReq)
			}
		})
	}
}

func TestExecuteAIPermissionDenied(t *testing.T) {
	cfg := testConfig()
	cfg.AI = &fakeAI{}
	res := run(t, cfg, `__exports.run = function() { return app.ai("hi"); };`, "run")
	info := wantError(t, res, ErrTypePermissionDenied)
	if !strings.Contains(info.Message, PermAICall) {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteAIErrorPromoted(t *testing.T) {
	cfg := testConfig()
	cfg.Permissions = []string{PermAICall}
	cfg.AI = &fakeAI{resp: services.AIResponse{Error: "model overloaded"}}
	res := run(t, cfg, `__exports.run = function() { return app.ai("hi"); };`, "run")
	info := wantError(t, res, ErrTypeRuntime)
	if info.Message != "ai call failed: model overloaded" {
		t.Errorf("message = %q", info.Message)
	}
	if res.AICostCents != 0 {
		t.Errorf("failed call accrued cost %v", res.AICostCents)
	}
}

type fakeLedger struct {
	ok         bool
	err        error
	balances   *services.Balances
	lastFrom   string
	lastTo     string
	lastAmount int64
}

func (f *fakeLedger) Transfer(_ context.Context, fromUser, toUser string, amountCents int64) (*services.Balances, bool, error) {
	f.lastFrom, f.lastTo, f.lastAmount = fromUser, toUser, amountCents
	return f.balances, f.ok, f.err
}

func chargeConfig(ledger services.LedgerService) *RuntimeConfig {
	cfg := testConfig()
	cfg.User = &User{ID: "user-9", Email: "u@example.com", Tier: "pro"}
	cfg.Ledger = ledger
	return cfg
}

func TestExecuteChargeSuccess(t *testing.T) {
	ledger := &fakeLedger{ok: true, balances: &services.Balances{From: 1500, To: 2500}}
	code := `__exports.run = function() { return app.charge(500, "subscription"); };`
	res := run(t, chargeConfig(ledger), code, "run")
	wantSuccess(t, res)
	out := res.Result.(map[string]any)
	if out["amountCents"] != int64(500) || out["fromBalance"] != int64(1500) || out["toBalance"] != int64(2500) {
		t.Errorf("result = %v", out)
	}
	if ledger.lastFrom != "user-9" || ledger.lastTo != "owner-1" || ledger.lastAmount != 500 {
		t.Errorf("transfer = %s -> %s %d", ledger.lastFrom, ledger.lastTo, ledger.lastAmount)
	}
}

func TestExecuteChargeInsufficientBalance(t *testing.T) {
	code := `__exports.run = function() { return app.charge(500, "subscription"); };`
	res := run(t, chargeConfig(&fakeLedger{ok: false}), code, "run")
	info := wantError(t, res, ErrTypeInsufficientBalance)
	if info.Message != "insufficient balance for a 500 cent charge" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteChargeTransferFailed(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("ledger down")}
	code := `__exports.run = function() { return app.charge(500, "subscription"); };`
	res := run(t, chargeConfig(ledger), code, "run")
	info := wantError(t, res, ErrTypeTransferFailed)
	if info.Message != "transfer failed: ledger down" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteChargeAnonymous(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger = &fakeLedger{ok: true}
	res := run(t, cfg, `__exports.run = function() { return app.charge(500, "x"); };`, "run")
	info := wantError(t, res, ErrTypePermissionDenied)
	if info.Message != "charge requires an authenticated caller" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteChargeBounds(t *testing.T) {
	for _, amount := range []int64{0, -5, 100_001} {
		code := fmt.Sprintf(`__exports.run = function() { return app.charge(%d, "x"); };`, amount)
		res := run(t, chargeConfig(&fakeLedger{ok: true}), code, "run")
		wantError(t, res, ErrTypeValidation)
	}
}

func TestExecuteChargeSelf(t *testing.T) {
	cfg := chargeConfig(&fakeLedger{ok: true})
	cfg.User.ID = cfg.OwnerID
	res := run(t, cfg, `__exports.run = function() { return app.charge(500, "x"); };`, "run")
	info := wantError(t, res, ErrTypeValidation)
	if info.Message != "cannot charge the app owner's own account" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteIdentityHelpers(t *testing.T) {
	cfg := testConfig()
	cfg.User = &User{ID: "user-9", DisplayName: "Ada"}
	code := `__exports.run = function() {
		return { authed: app.isAuthenticated(), name: app.requireAuth().displayName, id: app.user.id };
	};`
	res := run(t, cfg, code, "run")
	wantSuccess(t, res)
	out := res.Result.(map[string]any)
	if out["authed"] != true || out["name"] != "Ada" || out["id"] != "user-9" {
		t.Errorf("result = %v", out)
	}

	res = run(t, testConfig(), `__exports.run = function() { return app.requireAuth(); };`, "run")
	info := wantError(t, res, ErrTypePermissionDenied)
	if info.Message != "authentication required" {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteStdVisible(t *testing.T) {
	res := run(t, testConfig(), `__exports.run = function() { return std.uuid().length; };`, "run")
	wantSuccess(t, res)
	if res.Result != int64(36) {
		t.Errorf("uuid length = %v", res.Result)
	}
}

func TestExecuteRequireShims(t *testing.T) {
	code := `__exports.run = function() {
		var React = __require("react");
		var server = __require("react-dom/server");
		var node = React.createElement("p", {className: "x"}, "hi & bye");
		return server.renderToString(node);
	};`
	res := run(t, testConfig(), code, "run")
	wantSuccess(t, res)
	if res.Result != `<p class="x">hi &amp; bye</p>` {
		t.Errorf("rendered = %v", res.Result)
	}
}

func TestExecuteRequireUnknownModule(t *testing.T) {
	res := run(t, testConfig(), `__exports.run = function() { return __require("lodash"); };`, "run")
	info := wantError(t, res, ErrTypeRuntime)
	if !strings.Contains(info.Message, `module "lodash" is not available in the sandbox`) {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteResultTooLarge(t *testing.T) {
	code := `__exports.run = function() { return "x".repeat(6 * 1024 * 1024); };`
	res := run(t, testConfig(), code, "run")
	info := wantError(t, res, ErrTypeResultTooLarge)
	if !strings.Contains(info.Message, "exceeds") {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteFetchRequiresHTTPS(t *testing.T) {
	code := `__exports.run = async function() { return await fetch("http://example.com/x"); };`
	res := run(t, testConfig(), code, "run")
	info := wantError(t, res, ErrTypeValidation)
	if !strings.Contains(info.Message, "fetch requires HTTPS URLs") {
		t.Errorf("message = %q", info.Message)
	}
}

func TestExecuteFetchLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":"hi"}`)
	}))
	defer srv.Close()

	code := `__exports.run = async function(url) {
		var res = await fetch(url);
		var body = await res.json();
		return { status: res.status, ok: res.ok, echo: body.message };
	};`
	res := run(t, testConfig(), code, "run", srv.URL)
	wantSuccess(t, res)
	out := res.Result.(map[string]any)
	if out["status"] != int64(200) || out["ok"] != true || out["echo"] != "hi" {
		t.Errorf("result = %v", out)
	}
}

func TestExecuteFetchPost(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	code := `__exports.run = async function(url) {
		var res = await fetch(url, {method: "post", headers: {"X-Custom": "v1"}, body: "payload"});
		return res.status;
	};`
	res := run(t, testConfig(), code, "run", srv.URL)
	wantSuccess(t, res)
	if res.Result != int64(201) {
		t.Errorf("status = %v", res.Result)
	}
	if gotMethod != "POST" || gotBody != "payload" || gotHeader != "v1" {
		t.Errorf("server saw %s %q header %q", gotMethod, gotBody, gotHeader)
	}
}
