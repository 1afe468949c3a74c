package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/evrydayimruslin/ultralight/internal/observability"
	"github.com/evrydayimruslin/ultralight/internal/stdlib"
)

// Runner executes sandboxed function invocations. It is stateless and safe
// for concurrent use; all per-invocation state lives in the engine,
// governor, and SDK created inside Execute.
type Runner struct {
	logger  *slog.Logger
	metrics *observability.MetricsCollector
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the host logger. Sandboxed console output never goes
// here; it is returned on the result.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute loads the bundled module from cfg, invokes the named function
// with args, and returns a structured result. It never returns an error:
// every failure mode is classified onto the result. The invocation runs
// in a fresh engine and is bounded by the global execution deadline.
func (r *Runner) Execute(ctx context.Context, cfg *RuntimeConfig, fnName string, args []any) *ExecutionResult {
	start := time.Now()
	console := newConsoleBuffer()

	finish := func(result any, errInfo *ErrorInfo, aiCost float64) *ExecutionResult {
		res := &ExecutionResult{
			Success:     errInfo == nil,
			Result:      result,
			Logs:        console.entries,
			DurationMs:  time.Since(start).Milliseconds(),
			AICostCents: aiCost,
			Error:       errInfo,
		}
		r.observe(cfg, fnName, res)
		return res
	}

	if cfg.Code == "" {
		return finish(nil, &ErrorInfo{Type: ErrTypeValidation, Message: "module code is empty"}, 0)
	}
	if cfg.AppData == nil {
		return finish(nil, &ErrorInfo{Type: ErrTypeServiceUnavailable, Message: "app data service is not available"}, 0)
	}

	ctx, cancel := context.WithTimeout(ctx, maxExecutionTime)
	defer cancel()

	gov := NewGovernor()
	defer gov.Shutdown()

	sdk := newSDK(ctx, cfg)
	defer sdk.close()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// The watchdog interrupts the engine when the deadline passes; the
	// interrupt surfaces as a classified timeout.
	watchdog := time.AfterFunc(time.Until(deadlineOf(ctx, start)), func() {
		vm.Interrupt("execution timed out")
	})
	defer watchdog.Stop()

	fail := func(err error, rejected goja.Value) *ExecutionResult {
		return finish(nil, classify(err, rejected), sdk.totalAICost())
	}

	if err := console.install(vm); err != nil {
		return fail(err, nil)
	}
	if err := installPrelude(vm, sdk); err != nil {
		return fail(err, nil)
	}
	if err := vm.Set("std", stdlib.New()); err != nil {
		return fail(err, nil)
	}
	if err := gov.installTimers(vm, func(err error) {
		console.appendMessage("error", "uncaught error in timer callback: "+firstLine(err.Error()))
	}); err != nil {
		return fail(err, nil)
	}
	if err := gov.installFetch(vm, ctx); err != nil {
		return fail(err, nil)
	}

	var execErr error
	var rejected goja.Value
	var exported any

	func() {
		// Engine callbacks into Go can panic; contain them as runtime
		// failures rather than taking down the host.
		defer func() {
			if rec := recover(); rec != nil {
				if err, ok := rec.(error); ok {
					execErr = err
					return
				}
				execErr = fmt.Errorf("%v", rec)
			}
		}()

		if execErr = evaluateModule(vm, cfg.Code); execErr != nil {
			return
		}

		fn, err := lookupFunction(vm, fnName)
		if err != nil {
			execErr = err
			return
		}

		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = vm.ToValue(a)
		}

		value, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			execErr = err
			return
		}

		// Async functions return a promise; drain the event loop until it
		// settles or the deadline interrupt fires.
		if promise, ok := value.Export().(*goja.Promise); ok {
			for promise.State() == goja.PromiseStatePending {
				select {
				case job := <-gov.Jobs():
					job()
				case <-ctx.Done():
					// Only the deadline is the function's fault; a caller
					// cancellation (client gone, shutdown) is not a timeout.
					if errors.Is(ctx.Err(), context.DeadlineExceeded) {
						execErr = &goja.InterruptedError{}
					} else {
						execErr = NewError(ErrTypeRuntime, "execution cancelled")
					}
					return
				}
			}
			if promise.State() == goja.PromiseStateRejected {
				rejected = promise.Result()
				return
			}
			value = promise.Result()
		}

		exported = exportValue(value)
	}()

	if execErr != nil || rejected != nil {
		return fail(execErr, rejected)
	}

	if err := CheckResultSize(exported); err != nil {
		return fail(err, nil)
	}

	return finish(exported, nil, sdk.totalAICost())
}

// deadlineOf returns the effective engine-interrupt deadline.
func deadlineOf(ctx context.Context, start time.Time) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return start.Add(maxExecutionTime)
}

// exportValue converts the engine return value to plain Go data.
func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (r *Runner) observe(cfg *RuntimeConfig, fnName string, res *ExecutionResult) {
	status := "success"
	errType := ""
	if res.Error != nil {
		status = "failure"
		errType = res.Error.Type
	}

	if r.metrics != nil {
		r.metrics.ExecutionsTotal.WithLabelValues(status, errType).Inc()
		r.metrics.ExecutionDuration.WithLabelValues(status).Observe(float64(res.DurationMs) / 1000)
		if res.AICostCents > 0 {
			r.metrics.AISpendCentsTotal.WithLabelValues(cfg.AppID).Add(res.AICostCents)
		}
	}

	attrs := []any{
		slog.String("app_id", cfg.AppID),
		slog.String("execution_id", cfg.ExecutionID),
		slog.String("function", fnName),
		slog.Int64("duration_ms", res.DurationMs),
	}
	if res.Error != nil {
		attrs = append(attrs, slog.String("error_type", res.Error.Type))
		r.logger.Warn("execution failed", attrs...)
		return
	}
	r.logger.Info("execution completed", attrs...)
}
