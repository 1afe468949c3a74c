package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Resource ceilings. These are deliberately constants, not configuration:
// every tenant gets the same budget.
const (
	maxConcurrentFetches = 20
	fetchTimeout         = 15 * time.Second
	maxResponseBytes     = 10 << 20 // declared-length check on fetch responses
	maxExecutionTime     = 30 * time.Second
	maxResultBytes       = 5 << 20
	maxTimerDelay        = 30 * time.Second
	minIntervalPeriod    = 100 * time.Millisecond
	jobQueueSize         = 1024
)

// Governor bounds every resource one invocation could otherwise exhaust:
// outbound fetch fan-out, per-call and total deadlines, response and result
// sizes, and the lifecycle of timers the function schedules. One Governor
// exists per invocation; the fetch ceiling is per-invocation by design.
//
// It also carries the invocation's event loop: a job queue drained on the
// engine goroutine. Async completions (timers, fetch) post jobs; nothing
// else ever touches the engine.
type Governor struct {
	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	timers   map[int64]*userTimer
	nextID   int64
	inflight int

	client *http.Client
}

type userTimer struct {
	timer    *time.Timer
	interval bool
	period   time.Duration
}

// NewGovernor creates a governor for one invocation.
func NewGovernor() *Governor {
	return &Governor{
		jobs:   make(chan func(), jobQueueSize),
		done:   make(chan struct{}),
		timers: make(map[int64]*userTimer),
		client: &http.Client{},
	}
}

// Jobs exposes the event-loop queue; the supervisor drains it on the
// engine goroutine while the invocation's promise is pending.
func (g *Governor) Jobs() <-chan func() { return g.jobs }

// post enqueues a job unless the invocation has already completed.
func (g *Governor) post(job func()) {
	select {
	case <-g.done:
	case g.jobs <- job:
	}
}

// Shutdown force-cancels every still-pending timer and interval and stops
// accepting jobs. Runs on every terminal state; a function must not be
// able to schedule work that outlives its own invocation.
func (g *Governor) Shutdown() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		for id, t := range g.timers {
			t.timer.Stop()
			delete(g.timers, id)
		}
		g.mu.Unlock()
		close(g.done)
	})
}

// PendingTimers reports how many timers/intervals are still live.
func (g *Governor) PendingTimers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// --- timers ---

// addTimeout schedules a one-shot callback. Delay is clamped to
// [0, maxTimerDelay].
func (g *Governor) addTimeout(fn func(), delayMs int64) int64 {
	delay := clampDelay(delayMs, 0)
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	ut := &userTimer{}
	ut.timer = time.AfterFunc(delay, func() {
		g.post(func() {
			if !g.take(id) {
				return
			}
			fn()
		})
	})
	g.timers[id] = ut
	g.mu.Unlock()
	return id
}

// addInterval schedules a repeating callback. Period is clamped up to
// minIntervalPeriod to prevent tight-loop scheduling abuse.
func (g *Governor) addInterval(fn func(), periodMs int64) int64 {
	period := clampDelay(periodMs, minIntervalPeriod)
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	ut := &userTimer{interval: true, period: period}
	ut.timer = time.AfterFunc(period, func() {
		g.post(func() {
			g.mu.Lock()
			_, live := g.timers[id]
			g.mu.Unlock()
			if !live {
				return
			}
			fn()
			// Reschedule only if the interval survived its own callback.
			g.mu.Lock()
			if t, still := g.timers[id]; still {
				t.timer.Reset(period)
			}
			g.mu.Unlock()
		})
	})
	g.timers[id] = ut
	g.mu.Unlock()
	return id
}

// clearTimer cancels a timeout or interval by handle.
func (g *Governor) clearTimer(id int64) {
	g.mu.Lock()
	if t, ok := g.timers[id]; ok {
		t.timer.Stop()
		delete(g.timers, id)
	}
	g.mu.Unlock()
}

// take removes a one-shot timer from the live set, reporting whether it
// was still registered (i.e. not cleared or shut down in the meantime).
func (g *Governor) take(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.timers[id]; !ok {
		return false
	}
	delete(g.timers, id)
	return true
}

func clampDelay(ms int64, min time.Duration) time.Duration {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxTimerDelay {
		d = maxTimerDelay
	}
	if d < min {
		d = min
	}
	return d
}

// installTimers wires setTimeout/setInterval/clearTimeout/clearInterval
// into the engine. Callback errors are reported through onError (they end
// up in the invocation's log, not the host's).
func (g *Governor) installTimers(vm *goja.Runtime, onError func(error)) error {
	wrap := func(callback goja.Callable) func() {
		return func() {
			if _, err := callback(goja.Undefined()); err != nil {
				onError(err)
			}
		}
	}

	if err := vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		callback, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout requires a function"))
		}
		return vm.ToValue(g.addTimeout(wrap(callback), call.Argument(1).ToInteger()))
	}); err != nil {
		return err
	}
	if err := vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		callback, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setInterval requires a function"))
		}
		return vm.ToValue(g.addInterval(wrap(callback), call.Argument(1).ToInteger()))
	}); err != nil {
		return err
	}
	clear := func(call goja.FunctionCall) goja.Value {
		g.clearTimer(call.Argument(0).ToInteger())
		return goja.Undefined()
	}
	if err := vm.Set("clearTimeout", clear); err != nil {
		return err
	}
	return vm.Set("clearInterval", clear)
}

// --- fetch ---

// fetchResponse is the buffered outcome handed back to the engine.
type fetchResponse struct {
	status     int
	statusText string
	headers    map[string]string
	body       []byte
}

// installFetch wires the gated fetch global. The returned promise rejects
// with a classified error on any gate or transport failure.
func (g *Governor) installFetch(vm *goja.Runtime, ctx context.Context) error {
	return vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		value := vm.ToValue(promise)

		rawURL := call.Argument(0).String()
		method, headers, body := fetchOptions(call.Argument(1))

		if err := g.admit(rawURL); err != nil {
			reject(err)
			return value
		}

		go func() {
			resp, err := g.doFetch(ctx, method, rawURL, headers, body)
			g.post(func() {
				if err != nil {
					reject(err)
					return
				}
				resolve(g.responseObject(vm, resp))
			})
		}()
		return value
	})
}

// admit applies the scheme and concurrency gates and reserves an
// in-flight slot.
func (g *Governor) admit(rawURL string) *Error {
	if err := checkScheme(rawURL); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight >= maxConcurrentFetches {
		return NewError(ErrTypeRuntime, "too many concurrent fetch calls (limit %d)", maxConcurrentFetches)
	}
	g.inflight++
	return nil
}

// checkScheme requires secure transport, with a loopback allowance for
// local development.
func checkScheme(rawURL string) *Error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return NewError(ErrTypeValidation, "invalid fetch URL %q", rawURL)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && isLoopback(u.Hostname()) {
		return nil
	}
	return NewError(ErrTypeValidation, "fetch requires HTTPS URLs (got %q)", rawURL)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// doFetch performs one gated outbound call under the per-call deadline.
func (g *Governor) doFetch(ctx context.Context, method, rawURL string, headers map[string]string, body string) (*fetchResponse, error) {
	defer func() {
		g.mu.Lock()
		g.inflight--
		g.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, rawURL, reqBody)
	if err != nil {
		return nil, NewError(ErrTypeValidation, "invalid fetch request: %s", err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, NewError(ErrTypeTimeout, "fetch to %s timed out after %s", rawURL, fetchTimeout)
		}
		return nil, NewError(ErrTypeRuntime, "fetch failed: %s", err.Error())
	}
	defer resp.Body.Close()

	// Declared-length check only; callers must treat it as best-effort.
	if resp.ContentLength > maxResponseBytes {
		return nil, NewError(ErrTypeRuntime,
			"fetch response too large: declared %d bytes exceeds the %d byte limit", resp.ContentLength, maxResponseBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, NewError(ErrTypeRuntime, "reading fetch response: %s", err.Error())
	}
	if len(data) > maxResponseBytes {
		return nil, NewError(ErrTypeRuntime, "fetch response exceeded the %d byte limit", maxResponseBytes)
	}

	flat := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		flat[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return &fetchResponse{
		status:     resp.StatusCode,
		statusText: http.StatusText(resp.StatusCode),
		headers:    flat,
		body:       data,
	}, nil
}

// responseObject builds the JS-visible response with text()/json()
// accessors over the buffered body. Must run on the engine goroutine.
func (g *Governor) responseObject(vm *goja.Runtime, resp *fetchResponse) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.status)
	_ = obj.Set("statusText", resp.statusText)
	_ = obj.Set("ok", resp.status >= 200 && resp.status < 300)
	_ = obj.Set("headers", resp.headers)
	body := string(resp.body)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		p, res, _ := vm.NewPromise()
		res(body)
		return vm.ToValue(p)
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		p, res, rej := vm.NewPromise()
		var parsed any
		if err := json.Unmarshal(resp.body, &parsed); err != nil {
			rej(NewError(ErrTypeValidation, "fetch response is not valid JSON: %s", err.Error()))
		} else {
			res(parsed)
		}
		return vm.ToValue(p)
	})
	return obj
}

// fetchOptions extracts {method, headers, body} from the optional second
// fetch argument.
func fetchOptions(v goja.Value) (method string, headers map[string]string, body string) {
	method = http.MethodGet
	headers = map[string]string{}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return
	}
	opts, ok := v.Export().(map[string]any)
	if !ok {
		return
	}
	if m, ok := opts["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if hs, ok := opts["headers"].(map[string]any); ok {
		for k, hv := range hs {
			headers[k] = fmt.Sprintf("%v", hv)
		}
	}
	if b, ok := opts["body"].(string); ok {
		body = b
	}
	return
}

// CheckResultSize enforces the serialized-result ceiling. Oversized
// payloads are discarded, not truncated.
func CheckResultSize(v any) *Error {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return NewError(ErrTypeValidation, "result is not JSON-serializable: %s", err.Error())
	}
	if len(data) > maxResultBytes {
		return NewError(ErrTypeResultTooLarge,
			"result size %d bytes exceeds the %d byte limit", len(data), maxResultBytes)
	}
	return nil
}
