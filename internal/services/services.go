// Package services defines the injected backends the runtime delegates to:
// per-app key/value data, optional long-term memory, AI invocation, and the
// payment ledger. The runtime owns none of this state: every durable side
// effect flows through one of these interfaces, which keeps the sandbox
// itself stateless between invocations.
package services

import (
	"context"
	"time"
)

// AppDataService is the per-app key/value store. Implementations are
// responsible for tenant isolation; the runtime passes caller-chosen keys
// through unmodified and performs no permission checks on data access.
type AppDataService interface {
	Store(ctx context.Context, key string, value any) error
	Load(ctx context.Context, key string) (any, error) // nil when absent
	Remove(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Query(ctx context.Context, prefix string, opts QueryOptions) ([]Entry, error)
	BatchStore(ctx context.Context, entries map[string]any) error
	BatchLoad(ctx context.Context, keys []string) (map[string]any, error)
	BatchRemove(ctx context.Context, keys []string) error
}

// QueryOptions refines a prefix query.
type QueryOptions struct {
	Filter map[string]any // Exact-match filters on top-level value fields.
	Sort   string         // Field name; "-" prefix for descending.
	Limit  int
	Offset int
}

// Entry is one result row from Query.
type Entry struct {
	Key       string     `json:"key"`
	Value     any        `json:"value"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// MemoryService is the optional long-term memory backend.
type MemoryService interface {
	Remember(ctx context.Context, key string, value any) error
	Recall(ctx context.Context, key string) (any, error) // nil when absent
}

// AIService invokes a model on behalf of sandboxed code. Implementations
// may report failures as data (the Error field) rather than returning an
// error; the capability layer promotes those to thrown errors.
type AIService interface {
	Call(ctx context.Context, req AIRequest, apiKey string) (*AIResponse, error)
}

// AIRequest is the model invocation payload.
type AIRequest struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	System    string `json:"system,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// AIResponse is the model invocation result.
type AIResponse struct {
	Content string  `json:"content"`
	Model   string  `json:"model"`
	Usage   AIUsage `json:"usage"`
	Error   string  `json:"error,omitempty"`
}

// AIUsage reports token consumption and billed cost.
type AIUsage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostCents    float64 `json:"costCents"`
}

// LedgerService performs atomic balance transfers between users.
type LedgerService interface {
	// Transfer debits fromUser and credits toUser atomically.
	// ok=false (with nil error) signals insufficient balance.
	Transfer(ctx context.Context, fromUser, toUser string, amountCents int64) (balances *Balances, ok bool, err error)
}

// Balances reports post-transfer balances.
type Balances struct {
	From int64 `json:"fromBalance"`
	To   int64 `json:"toBalance"`
}

// AuditRecorder receives best-effort audit events. Failures must never
// affect the operation being audited.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	Time        time.Time `json:"time"`
	Action      string    `json:"action"`
	AppID       string    `json:"app_id"`
	ExecutionID string    `json:"execution_id"`
	UserID      string    `json:"user_id"`
	Detail      string    `json:"detail,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
}
