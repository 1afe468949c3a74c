package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/evrydayimruslin/ultralight/internal/services"
)

// Charge bounds in cents.
const (
	minChargeCents = 1
	maxChargeCents = 100_000
)

// SDK is the capability surface exposed to sandboxed code as the `app`
// global. Every method re-checks its permission token on entry; the
// sandbox holds no ambient authority. Exported fields and methods are
// JS-visible through the field-name mapper; unexported ones are the
// supervisor's private channel.
type SDK struct {
	// User is the authenticated caller, or null.
	User *User `json:"user"`

	// Env is replaced by a frozen object at install time; the field keeps
	// the data available for that installation step.
	Env map[string]string `json:"env"`

	cfg *RuntimeConfig
	ctx context.Context

	mu     sync.Mutex
	aiCost float64

	mcpOnce   sync.Once
	mcpClient *mcpclient.Client
	mcpErr    error
}

func newSDK(ctx context.Context, cfg *RuntimeConfig) *SDK {
	env := cfg.EnvVars
	if env == nil {
		env = map[string]string{}
	}
	return &SDK{User: cfg.User, Env: env, cfg: cfg, ctx: ctx}
}

// totalAICost reports the accumulated AI spend for this invocation.
func (s *SDK) totalAICost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiCost
}

// close releases the lazily created inter-function client.
func (s *SDK) close() {
	if s.mcpClient != nil {
		_ = s.mcpClient.Close()
	}
}

// --- storage (app.store / app.load / ...) ---
//
// Data access carries no permission gate: the backing store is already
// scoped to this app, and isolation is the store's contract.

func (s *SDK) Store(key string, value any) error {
	return s.cfg.AppData.Store(s.ctx, key, value)
}

func (s *SDK) Load(key string) (any, error) {
	return s.cfg.AppData.Load(s.ctx, key)
}

func (s *SDK) Remove(key string) error {
	return s.cfg.AppData.Remove(s.ctx, key)
}

func (s *SDK) List(prefix string) ([]string, error) {
	return s.cfg.AppData.List(s.ctx, prefix)
}

func (s *SDK) Query(prefix string, opts map[string]any) ([]services.Entry, error) {
	return s.cfg.AppData.Query(s.ctx, prefix, queryOptions(opts))
}

func (s *SDK) BatchStore(entries map[string]any) error {
	return s.cfg.AppData.BatchStore(s.ctx, entries)
}

func (s *SDK) BatchLoad(keys []string) (map[string]any, error) {
	return s.cfg.AppData.BatchLoad(s.ctx, keys)
}

func (s *SDK) BatchRemove(keys []string) error {
	return s.cfg.AppData.BatchRemove(s.ctx, keys)
}

func queryOptions(opts map[string]any) services.QueryOptions {
	var out services.QueryOptions
	if opts == nil {
		return out
	}
	if f, ok := opts["filter"].(map[string]any); ok {
		out.Filter = f
	}
	if sortField, ok := opts["sort"].(string); ok {
		out.Sort = sortField
	}
	if limit, ok := opts["limit"].(int64); ok {
		out.Limit = int(limit)
	}
	if offset, ok := opts["offset"].(int64); ok {
		out.Offset = int(offset)
	}
	return out
}

// --- memory (app.remember / app.recall) ---

func (s *SDK) Remember(key string, value any) error {
	if !s.cfg.HasPermission(PermMemoryWrite) {
		return permissionDenied(PermMemoryWrite)
	}
	if s.cfg.Memory == nil {
		return serviceUnavailable("memory")
	}
	return s.cfg.Memory.Remember(s.ctx, key, value)
}

func (s *SDK) Recall(key string) (any, error) {
	if !s.cfg.HasPermission(PermMemoryRead) {
		return nil, permissionDenied(PermMemoryRead)
	}
	if s.cfg.Memory == nil {
		return nil, serviceUnavailable("memory")
	}
	return s.cfg.Memory.Recall(s.ctx, key)
}

// --- AI (app.ai) ---

// Ai invokes the configured model with the caller's own API key and
// accumulates the billed cost on the invocation. The request is a single
// object ({prompt, model, system, maxTokens}) or, equivalently, a prompt
// string followed by an options object.
func (s *SDK) Ai(request any, opts map[string]any) (map[string]any, error) {
	if !s.cfg.HasPermission(PermAICall) {
		return nil, permissionDenied(PermAICall)
	}
	if s.cfg.AI == nil {
		return nil, serviceUnavailable("ai")
	}

	req, err := aiRequest(request, opts)
	if err != nil {
		return nil, err
	}

	resp, err := s.cfg.AI.Call(s.ctx, req, s.cfg.UserAPIKey)
	if err != nil {
		return nil, NewError(ErrTypeRuntime, "ai call failed: %s", err.Error())
	}
	// Some backends report failures as data; promote them to errors so
	// sandboxed code sees a single failure path.
	if resp.Error != "" {
		return nil, NewError(ErrTypeRuntime, "ai call failed: %s", resp.Error)
	}

	s.mu.Lock()
	s.aiCost += resp.Usage.CostCents
	s.mu.Unlock()

	return map[string]any{
		"content": resp.Content,
		"model":   resp.Model,
		"usage": map[string]any{
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
			"costCents":    resp.Usage.CostCents,
		},
	}, nil
}

// aiRequest normalizes both ai() call shapes into one request. Anything
// other than a string prompt or a request object is rejected rather than
// coerced, so a mistyped call never reaches the model.
func aiRequest(request any, opts map[string]any) (services.AIRequest, error) {
	var req services.AIRequest
	switch v := request.(type) {
	case string:
		req.Prompt = v
	case map[string]any:
		prompt, ok := v["prompt"].(string)
		if !ok {
			return req, NewError(ErrTypeType, "ai request prompt must be a string")
		}
		req.Prompt = prompt
		opts = v
	default:
		return req, NewError(ErrTypeType, "ai request must be a prompt string or a request object")
	}
	if opts != nil {
		if m, ok := opts["model"].(string); ok {
			req.Model = m
		}
		if sys, ok := opts["system"].(string); ok {
			req.System = sys
		}
		if mt, ok := opts["maxTokens"].(int64); ok {
			req.MaxTokens = int(mt)
		}
	}
	return req, nil
}

// --- inter-function calls (app.call) ---

// Call invokes a named function of another hosted app through the
// platform's tool endpoint. The wire format is a standard tools/call
// round trip.
func (s *SDK) Call(targetID, functionName string, args map[string]any) (any, error) {
	if !s.cfg.HasPermission(PermAppCall) {
		return nil, permissionDenied(PermAppCall)
	}
	if s.cfg.BaseURL == "" || s.cfg.AuthToken == "" {
		return nil, serviceUnavailable("app call")
	}

	client, err := s.callClient()
	if err != nil {
		return nil, NewError(ErrTypeRuntime, "connecting to app call endpoint: %s", err.Error())
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = "invoke"
	callReq.Params.Arguments = map[string]any{
		"function":   targetID,
		"entryPoint": functionName,
		"args":       args,
		"caller":     s.cfg.CallerID,
	}

	result, err := client.CallTool(s.ctx, callReq)
	if err != nil {
		return nil, NewError(ErrTypeRuntime, "app call to %s failed: %s", targetID, firstLine(err.Error()))
	}

	text := textContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "app call to " + targetID + " failed"
		}
		return nil, NewError(ErrTypeRuntime, "%s", firstLine(text))
	}

	// Results are JSON when the callee returned structured data; fall back
	// to the raw text otherwise.
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}
	return text, nil
}

// callClient lazily connects and initializes the tool client once per
// invocation.
func (s *SDK) callClient() (*mcpclient.Client, error) {
	s.mcpOnce.Do(func() {
		client, err := mcpclient.NewStreamableHttpClient(s.cfg.BaseURL,
			transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + s.cfg.AuthToken,
			}),
		)
		if err != nil {
			s.mcpErr = err
			return
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{Name: "ultralight", Version: "0.1.0"}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		if _, err := client.Initialize(s.ctx, initReq); err != nil {
			_ = client.Close()
			s.mcpErr = err
			return
		}
		s.mcpClient = client
	})
	return s.mcpClient, s.mcpErr
}

func textContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// --- payments (app.charge) ---

// Charge debits the authenticated caller and credits the app owner.
// The audit record is best-effort and never blocks the transfer result.
func (s *SDK) Charge(amountCents int64, reason string) (map[string]any, error) {
	if s.cfg.User == nil {
		return nil, NewError(ErrTypePermissionDenied, "charge requires an authenticated caller")
	}
	if s.cfg.Ledger == nil {
		return nil, serviceUnavailable("ledger")
	}
	if amountCents < minChargeCents || amountCents > maxChargeCents {
		return nil, NewError(ErrTypeValidation,
			"charge amount must be between %d and %d cents (got %d)", minChargeCents, maxChargeCents, amountCents)
	}
	if s.cfg.User.ID == s.cfg.OwnerID {
		return nil, NewError(ErrTypeValidation, "cannot charge the app owner's own account")
	}

	balances, ok, err := s.cfg.Ledger.Transfer(s.ctx, s.cfg.User.ID, s.cfg.OwnerID, amountCents)
	if err != nil {
		return nil, NewError(ErrTypeTransferFailed, "transfer failed: %s", firstLine(err.Error()))
	}
	if !ok {
		return nil, NewError(ErrTypeInsufficientBalance, "insufficient balance for a %d cent charge", amountCents)
	}

	if s.cfg.Audit != nil {
		event := services.AuditEvent{
			Time:        time.Now().UTC(),
			Action:      "charge",
			AppID:       s.cfg.AppID,
			ExecutionID: s.cfg.ExecutionID,
			UserID:      s.cfg.User.ID,
			Detail:      reason,
			AmountCents: amountCents,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.cfg.Audit.Record(ctx, event)
		}()
	}

	out := map[string]any{"amountCents": amountCents}
	if balances != nil {
		out["fromBalance"] = balances.From
		out["toBalance"] = balances.To
	}
	return out, nil
}

// --- identity helpers ---

// IsAuthenticated reports whether the call carries a verified identity.
func (s *SDK) IsAuthenticated() bool { return s.cfg.User != nil }

// RequireAuth returns the caller or throws when the call is anonymous.
func (s *SDK) RequireAuth() (*User, error) {
	if s.cfg.User == nil {
		return nil, NewError(ErrTypePermissionDenied, "authentication required")
	}
	return s.cfg.User, nil
}
