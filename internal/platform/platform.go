// Package platform wires the function registry, storage, injected services,
// and the execution runtime into one invocation service. The HTTP gateway
// and the scheduler both submit invocations through it, so concurrency
// limits and service wiring are enforced in exactly one place.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evrydayimruslin/ultralight/internal/config"
	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/observability"
	"github.com/evrydayimruslin/ultralight/internal/runtime"
	"github.com/evrydayimruslin/ultralight/internal/services"
	"github.com/evrydayimruslin/ultralight/internal/storage"
)

// ErrTooBusy is returned when the concurrent execution limit is reached.
var ErrTooBusy = errors.New("too many concurrent executions")

// Service submits function invocations.
type Service struct {
	runner    *runtime.Runner
	functions function.Store
	store     *storage.Store
	memory    services.MemoryService
	ai        services.AIService
	ledger    services.LedgerService
	audit     services.AuditRecorder
	obs       *observability.Observability
	logger    *slog.Logger
	cfg       *config.Config

	// sem bounds concurrent executions across all tenants.
	sem chan struct{}
}

// Deps carries the collaborators a Service needs.
type Deps struct {
	Runner    *runtime.Runner
	Functions function.Store
	Store     *storage.Store
	Memory    services.MemoryService
	AI        services.AIService
	Ledger    services.LedgerService
	Audit     services.AuditRecorder
	Obs       *observability.Observability
	Logger    *slog.Logger
	Config    *config.Config
}

// New creates the invocation service.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:    deps.Runner,
		functions: deps.Functions,
		store:     deps.Store,
		memory:    deps.Memory,
		ai:        deps.AI,
		ledger:    deps.Ledger,
		audit:     deps.Audit,
		obs:       deps.Obs,
		logger:    logger,
		cfg:       deps.Config,
		sem:       make(chan struct{}, deps.Config.Runtime.Concurrency()),
	}
}

// InvokeRequest is one invocation submission.
type InvokeRequest struct {
	FunctionID string
	EntryPoint string
	Args       []any
	Caller     *runtime.User
	UserAPIKey string
}

// Invocation is the submitted invocation plus its result.
type Invocation struct {
	ExecutionID string
	FunctionID  string
	Result      *runtime.ExecutionResult
}

// Invoke loads the function, builds its capability surface, and executes
// it. Returns ErrTooBusy when the concurrency limit is saturated and
// function.ErrNotFound when the function does not exist; execution
// failures are reported on the result, not as errors.
func (s *Service) Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error) {
	fn, err := s.functions.Get(ctx, req.FunctionID)
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		return nil, ErrTooBusy
	}

	executionID := uuid.NewString()

	callerID := ""
	if req.Caller != nil {
		callerID = req.Caller.ID
	}

	permissions := fn.Permissions
	if len(permissions) == 0 {
		permissions = s.cfg.Runtime.DefaultPermissions
	}

	appData := s.store.AppData(fn.ID)
	if s.obs != nil {
		appData = observability.NewInstrumentedAppData(appData, s.obs.Metrics, s.obs.TracerOrNil())
	}

	rc := &runtime.RuntimeConfig{
		AppID:       fn.ID,
		OwnerID:     fn.OwnerID,
		CallerID:    callerID,
		ExecutionID: executionID,
		Code:        fn.Code,
		Permissions: permissions,
		UserAPIKey:  req.UserAPIKey,
		User:        req.Caller,
		EnvVars:     fn.EnvVars,
		AppData:     appData,
		Memory:      s.memory,
		AI:          s.ai,
		Ledger:      s.ledger,
		Audit:       s.audit,
		BaseURL:     s.callBaseURL(),
		AuthToken:   s.cfg.Server.InternalToken,
	}

	result := s.runner.Execute(ctx, rc, req.EntryPoint, req.Args)

	if s.obs != nil && s.obs.Anomaly != nil {
		if result.Success {
			s.obs.Anomaly.RecordSuccess(fn.ID)
		} else {
			s.obs.Anomaly.RecordError(fn.ID)
		}
		if result.AICostCents > 0 {
			s.obs.Anomaly.RecordAISpend(fn.ID, result.AICostCents)
		}
	}

	return &Invocation{
		ExecutionID: executionID,
		FunctionID:  fn.ID,
		Result:      result,
	}, nil
}

// callBaseURL is the address functions use for app.call. Inter-function
// calls loop back through the same gateway.
func (s *Service) callBaseURL() string {
	if s.cfg.Server.InternalToken == "" {
		return ""
	}
	addr := s.cfg.Server.Addr()
	if addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return fmt.Sprintf("http://%s/v1/internal/mcp", addr)
}

// Invoke (scheduler form) submits a scheduled run as an ordinary
// invocation with the schedule owner as caller.
func (s *Service) invokeScheduled(ctx context.Context, functionID, entryPoint string, args []any, callerID string) (string, error) {
	inv, err := s.Invoke(ctx, InvokeRequest{
		FunctionID: functionID,
		EntryPoint: entryPoint,
		Args:       args,
		Caller:     &runtime.User{ID: callerID},
	})
	if err != nil {
		return "", err
	}
	if inv.Result.Error != nil {
		return inv.ExecutionID, fmt.Errorf("%s: %s", inv.Result.Error.Type, inv.Result.Error.Message)
	}
	return inv.ExecutionID, nil
}

// ScheduleInvoker adapts the Service to the scheduler's Invoker interface.
type ScheduleInvoker struct {
	service *Service
}

// NewScheduleInvoker creates the scheduler adapter.
func NewScheduleInvoker(s *Service) *ScheduleInvoker {
	return &ScheduleInvoker{service: s}
}

func (si *ScheduleInvoker) Invoke(ctx context.Context, functionID, entryPoint string, args []any, callerID string) (string, error) {
	// A scheduled run must finish within the runtime's own deadline; give
	// it a little headroom for queueing.
	ctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	return si.service.invokeScheduled(ctx, functionID, entryPoint, args, callerID)
}
