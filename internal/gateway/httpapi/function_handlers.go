package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/platform"
	"github.com/evrydayimruslin/ultralight/internal/runtime"
)

// **** Function request/response types ****

// FunctionRequest is the JSON body for POST/PUT /v1/functions.
type FunctionRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Code        string            `json:"code"`
	Permissions []string          `json:"permissions,omitempty"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
}

// FunctionResponse is the JSON response for function endpoints.
// Code is included; only the owner can read their functions.
type FunctionResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Code        string            `json:"code"`
	Permissions []string          `json:"permissions"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func toFunctionResponse(fn *function.Function) FunctionResponse {
	return FunctionResponse{
		ID:          fn.ID,
		Name:        fn.Name,
		Description: fn.Description,
		Code:        fn.Code,
		Permissions: fn.Permissions,
		EnvVars:     fn.EnvVars,
		CreatedAt:   fn.CreatedAt,
		UpdatedAt:   fn.UpdatedAt,
	}
}

// **** Handlers ****

func (g *Gateway) handleFunctionCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req FunctionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	fn := &function.Function{
		OwnerID:     userID,
		Name:        req.Name,
		Description: req.Description,
		Code:        req.Code,
		Permissions: req.Permissions,
		EnvVars:     req.EnvVars,
	}
	if err := fn.Validate(); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	if err := g.functions.Create(c.Context(), fn); err != nil {
		g.logger.Error("function creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create function")
	}

	g.logger.Info("function created",
		slog.String("function_id", fn.ID),
		slog.String("owner_id", userID),
		slog.String("name", fn.Name),
	)
	return c.JSON(http.StatusCreated, toFunctionResponse(fn))
}

func (g *Gateway) handleFunctionList(c *okapi.Context) error {
	userID := c.GetString("userID")

	fns, err := g.functions.List(c.Context(), userID)
	if err != nil {
		g.logger.Error("function list failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to list functions")
	}

	resp := make([]FunctionResponse, len(fns))
	for i := range fns {
		resp[i] = toFunctionResponse(&fns[i])
	}
	return c.OK(resp)
}

// ownedFunction loads the function and enforces ownership. Functions owned
// by other users are reported as not found, never as forbidden.
func (g *Gateway) ownedFunction(c *okapi.Context, userID string) (*function.Function, error) {
	return g.ownedFunctionByID(c, userID, c.Param("id"))
}

func (g *Gateway) ownedFunctionByID(c *okapi.Context, userID, id string) (*function.Function, error) {
	fn, err := g.functions.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, function.ErrNotFound) {
			return nil, c.JSON(http.StatusNotFound, okapi.M{"error": "function not found"})
		}
		g.logger.Error("function load failed", slog.String("error", err.Error()))
		return nil, c.AbortInternalServerError("failed to load function")
	}
	if fn.OwnerID != userID {
		return nil, c.JSON(http.StatusNotFound, okapi.M{"error": "function not found"})
	}
	return fn, nil
}

func (g *Gateway) handleFunctionGet(c *okapi.Context) error {
	fn, err := g.ownedFunction(c, c.GetString("userID"))
	if err != nil {
		return err
	}
	return c.OK(toFunctionResponse(fn))
}

func (g *Gateway) handleFunctionUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	fn, err := g.ownedFunction(c, userID)
	if err != nil {
		return err
	}

	var req FunctionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	fn.Name = req.Name
	fn.Description = req.Description
	fn.Code = req.Code
	fn.Permissions = req.Permissions
	fn.EnvVars = req.EnvVars
	if err := fn.Validate(); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	if err := g.functions.Update(c.Context(), fn); err != nil {
		g.logger.Error("function update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to update function")
	}
	return c.OK(toFunctionResponse(fn))
}

func (g *Gateway) handleFunctionDelete(c *okapi.Context) error {
	userID := c.GetString("userID")

	fn, err := g.ownedFunction(c, userID)
	if err != nil {
		return err
	}

	if err := g.functions.Delete(c.Context(), fn.ID); err != nil {
		g.logger.Error("function delete failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to delete function")
	}

	g.logger.Info("function deleted",
		slog.String("function_id", fn.ID),
		slog.String("owner_id", userID),
	)
	return c.OK(okapi.M{"status": "deleted"})
}

// **** Invocation ****

// InvokeRequest is the JSON body for POST /v1/functions/{id}/invoke.
type InvokeRequest struct {
	Function string `json:"function"`         // Entry point name within the module.
	Args     []any  `json:"args,omitempty"`   // Positional arguments.
	APIKey   string `json:"apiKey,omitempty"` // Caller-owned key forwarded to the AI service.
}

// InvokeResponse is the JSON response for an invocation. Failures are
// reported on the embedded result, not as HTTP errors.
type InvokeResponse struct {
	ExecutionID string             `json:"executionId"`
	Success     bool               `json:"success"`
	Result      any                `json:"result"`
	Logs        []runtime.LogEntry `json:"logs"`
	DurationMs  int64              `json:"durationMs"`
	AICostCents float64            `json:"aiCostCents,omitempty"`
	Error       *runtime.ErrorInfo `json:"error,omitempty"`
}

func (g *Gateway) handleInvoke(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req InvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Function == "" {
		return c.AbortBadRequest("function is required")
	}

	inv, err := g.service.Invoke(c.Context(), platform.InvokeRequest{
		FunctionID: c.Param("id"),
		EntryPoint: req.Function,
		Args:       req.Args,
		Caller:     &runtime.User{ID: userID},
		UserAPIKey: req.APIKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, function.ErrNotFound):
			return c.JSON(http.StatusNotFound, okapi.M{"error": "function not found"})
		case errors.Is(err, platform.ErrTooBusy):
			return c.AbortServiceUnavailable("too many concurrent executions")
		default:
			g.logger.Error("invocation submission failed",
				slog.String("function_id", c.Param("id")),
				slog.String("error", err.Error()),
			)
			return c.AbortInternalServerError("invocation failed")
		}
	}

	res := inv.Result
	return c.OK(InvokeResponse{
		ExecutionID: inv.ExecutionID,
		Success:     res.Success,
		Result:      res.Result,
		Logs:        res.Logs,
		DurationMs:  res.DurationMs,
		AICostCents: res.AICostCents,
		Error:       res.Error,
	})
}
