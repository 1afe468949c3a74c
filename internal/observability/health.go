package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Per-check deadline; a hung database must not hold the readiness
// endpoint open indefinitely.
const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness checks for the platform's backing
// services (database, ledger, AI gateway).
type HealthChecker struct {
	checks map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status     string `json:"status"`            // "ok" or "fail"
	Message    string `json:"message,omitempty"` // Error message on failure.
	DurationMs int64  `json:"durationMs"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named readiness check. Registering the same name
// twice replaces the earlier check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks[name] = check
}

// CheckHealth returns liveness status. Always "ok" while the process runs;
// liveness must not depend on backing services or a crash-looping database
// would restart the whole runtime.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered check and returns aggregate readiness:
// "ok" only when all checks pass, "degraded" otherwise. Checks run in name
// order, each under its own timeout.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for _, name := range names {
		status.Checks[name] = h.runCheck(ctx, name)
		if status.Checks[name].Status != "ok" {
			status.Status = "degraded"
		}
	}
	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, name string) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := h.checks[name](checkCtx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
		return CheckResult{Status: "fail", Message: err.Error(), DurationMs: elapsed}
	}
	return CheckResult{Status: "ok", DurationMs: elapsed}
}
