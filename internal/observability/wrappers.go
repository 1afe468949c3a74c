package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evrydayimruslin/ultralight/internal/services"
)

// InstrumentedAppData wraps a services.AppDataService with metrics and
// tracing. Every store operation issued by sandboxed code flows through
// here, so per-op latency and failure counts come for free.
type InstrumentedAppData struct {
	inner   services.AppDataService
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedAppData wraps an app data store with observability.
func NewInstrumentedAppData(inner services.AppDataService, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedAppData {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedAppData{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedAppData) Store(ctx context.Context, key string, value any) error {
	return s.record(ctx, "store", func(ctx context.Context) error {
		return s.inner.Store(ctx, key, value)
	})
}

func (s *InstrumentedAppData) Load(ctx context.Context, key string) (any, error) {
	var out any
	err := s.record(ctx, "load", func(ctx context.Context) error {
		var err error
		out, err = s.inner.Load(ctx, key)
		return err
	})
	return out, err
}

func (s *InstrumentedAppData) Remove(ctx context.Context, key string) error {
	return s.record(ctx, "remove", func(ctx context.Context) error {
		return s.inner.Remove(ctx, key)
	})
}

func (s *InstrumentedAppData) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.record(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = s.inner.List(ctx, prefix)
		return err
	})
	return out, err
}

func (s *InstrumentedAppData) Query(ctx context.Context, prefix string, opts services.QueryOptions) ([]services.Entry, error) {
	var out []services.Entry
	err := s.record(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = s.inner.Query(ctx, prefix, opts)
		return err
	})
	return out, err
}

func (s *InstrumentedAppData) BatchStore(ctx context.Context, entries map[string]any) error {
	return s.record(ctx, "batch_store", func(ctx context.Context) error {
		return s.inner.BatchStore(ctx, entries)
	})
}

func (s *InstrumentedAppData) BatchLoad(ctx context.Context, keys []string) (map[string]any, error) {
	var out map[string]any
	err := s.record(ctx, "batch_load", func(ctx context.Context) error {
		var err error
		out, err = s.inner.BatchLoad(ctx, keys)
		return err
	})
	return out, err
}

func (s *InstrumentedAppData) BatchRemove(ctx context.Context, keys []string) error {
	return s.record(ctx, "batch_remove", func(ctx context.Context) error {
		return s.inner.BatchRemove(ctx, keys)
	})
}

// record runs one store operation inside a span and observes its outcome.
func (s *InstrumentedAppData) record(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "store."+op,
			trace.WithAttributes(
				attribute.String("store.op", op),
			))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.StoreOperationsTotal.WithLabelValues(op, status).Inc()
		s.metrics.StoreOperationDuration.WithLabelValues(op).Observe(duration)
	}

	return err
}

// Compile-time interface check.
var _ services.AppDataService = (*InstrumentedAppData)(nil)
