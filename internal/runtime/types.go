// Package runtime implements the sandboxed execution runtime: it loads a
// bundled JavaScript module into a fresh embedded engine, builds the
// capability surface the function is allowed to touch, invokes one named
// function with caller arguments, and returns a structured result while
// enforcing permission and resource boundaries.
//
// Nothing is shared between invocations: each call gets its own engine,
// governor, timer set, and capability SDK, so one tenant's failing or
// hostile code cannot observe or destabilize another's.
package runtime

import (
	"github.com/evrydayimruslin/ultralight/internal/services"
)

// Permission tokens. Presence in RuntimeConfig.Permissions is the only
// authority check the capability layer performs.
const (
	PermStorageRead  = "storage:read"
	PermStorageWrite = "storage:write"
	PermMemoryRead   = "memory:read"
	PermMemoryWrite  = "memory:write"
	PermAICall       = "ai:call"
	PermAppCall      = "app:call"
)

// RuntimeConfig carries everything one invocation needs. It is created
// per request, owned exclusively by the supervisor for that call, and
// never mutated after construction.
type RuntimeConfig struct {
	AppID       string
	OwnerID     string
	CallerID    string
	ExecutionID string

	// Code is the bundled module text produced by the upstream bundler.
	Code string

	// Permissions is the set of capability tokens granted to this call.
	Permissions []string

	// UserAPIKey is the caller-owned key forwarded to the AI service.
	UserAPIKey string

	// User is the authenticated caller identity, nil when anonymous.
	User *User

	// EnvVars is an immutable key→value mapping exposed read-only as app.env.
	EnvVars map[string]string

	// Injected services. AppData is required; Memory may be nil (the
	// corresponding capabilities then fail with ServiceUnavailable).
	AppData services.AppDataService
	Memory  services.MemoryService
	AI      services.AIService
	Ledger  services.LedgerService
	Audit   services.AuditRecorder

	// BaseURL and AuthToken configure inter-function calls. Both must be
	// set for app.call to work.
	BaseURL   string
	AuthToken string
}

// HasPermission reports whether the capability token was granted.
func (c *RuntimeConfig) HasPermission(token string) bool {
	for _, p := range c.Permissions {
		if p == token {
			return true
		}
	}
	return false
}

// User is the authenticated caller identity.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Tier        string `json:"tier"`
}

// ExecutionResult is the structured outcome of one invocation.
// Stack traces are deliberately never included.
type ExecutionResult struct {
	Success     bool       `json:"success"`
	Result      any        `json:"result"`
	Logs        []LogEntry `json:"logs"`
	DurationMs  int64      `json:"durationMs"`
	AICostCents float64    `json:"aiCostCents"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the surfaced error: a taxonomy type plus message, nothing else.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// LogEntry is one captured console call. Ordering is invocation order;
// execution is single-threaded per call so there is no concurrent order
// to preserve.
type LogEntry struct {
	Time    string `json:"time"` // ISO-8601
	Level   string `json:"level"`
	Message string `json:"message"`
}
