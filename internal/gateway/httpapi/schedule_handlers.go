package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/evrydayimruslin/ultralight/internal/scheduler"
	"github.com/evrydayimruslin/ultralight/internal/storage"
)

// **** Schedule request/response types ****

// ScheduleRequest is the JSON body for POST/PUT /v1/schedules.
type ScheduleRequest struct {
	Name           string `json:"name"`
	FunctionID     string `json:"functionId"`
	CronExpression string `json:"cronExpression"`
	EntryPoint     string `json:"entryPoint"`
	Args           []any  `json:"args,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"` // Pointer to distinguish absent from false.
}

// ScheduleResponse is the JSON response for schedule endpoints.
type ScheduleResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	FunctionID     string     `json:"functionId"`
	CronExpression string     `json:"cronExpression"`
	EntryPoint     string     `json:"entryPoint"`
	Args           []any      `json:"args,omitempty"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toScheduleResponse(s *scheduler.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:             s.ID,
		Name:           s.Name,
		FunctionID:     s.FunctionID,
		CronExpression: s.CronExpression,
		EntryPoint:     s.EntryPoint,
		Args:           s.Args,
		Enabled:        s.Enabled,
		NextRunAt:      s.NextRunAt,
		LastRunAt:      s.LastRunAt,
		LastError:      s.LastError,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// **** Handlers ****

func (g *Gateway) handleScheduleCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	// The schedule must name a function the caller owns.
	fn, err := g.ownedFunctionByID(c, userID, req.FunctionID)
	if err != nil {
		return err
	}

	nextRun, err := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
	if err != nil {
		return c.AbortBadRequest(fmt.Sprintf("invalid cronExpression: %v", err))
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := &scheduler.Schedule{
		OwnerID:        userID,
		FunctionID:     fn.ID,
		Name:           req.Name,
		CronExpression: req.CronExpression,
		EntryPoint:     req.EntryPoint,
		Args:           req.Args,
		Enabled:        enabled,
		NextRunAt:      &nextRun,
	}
	if err := sched.Validate(); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	if err := g.schedules.Create(c.Context(), sched); err != nil {
		g.logger.Error("schedule creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create schedule")
	}

	g.logger.Info("schedule created",
		slog.String("schedule_id", sched.ID),
		slog.String("owner_id", userID),
		slog.String("cron_expression", sched.CronExpression),
	)
	return c.JSON(http.StatusCreated, toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleList(c *okapi.Context) error {
	userID := c.GetString("userID")

	schedules, err := g.schedules.List(c.Context(), userID)
	if err != nil {
		g.logger.Error("schedule list failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to list schedules")
	}

	resp := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		resp[i] = toScheduleResponse(&schedules[i])
	}
	return c.OK(resp)
}

// ownedSchedule loads the schedule and enforces ownership.
func (g *Gateway) ownedSchedule(c *okapi.Context, userID string) (*scheduler.Schedule, error) {
	sched, err := g.schedules.Get(c.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrScheduleNotFound) {
			return nil, c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		g.logger.Error("schedule load failed", slog.String("error", err.Error()))
		return nil, c.AbortInternalServerError("failed to load schedule")
	}
	if sched.OwnerID != userID {
		return nil, c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
	}
	return sched, nil
}

func (g *Gateway) handleScheduleGet(c *okapi.Context) error {
	sched, err := g.ownedSchedule(c, c.GetString("userID"))
	if err != nil {
		return err
	}
	return c.OK(toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	sched, err := g.ownedSchedule(c, userID)
	if err != nil {
		return err
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	if req.CronExpression != "" && req.CronExpression != sched.CronExpression {
		nextRun, err := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
		if err != nil {
			return c.AbortBadRequest(fmt.Sprintf("invalid cronExpression: %v", err))
		}
		sched.CronExpression = req.CronExpression
		sched.NextRunAt = &nextRun
	}
	if req.Name != "" {
		sched.Name = req.Name
	}
	if req.EntryPoint != "" {
		sched.EntryPoint = req.EntryPoint
	}
	if req.Args != nil {
		sched.Args = req.Args
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}

	if err := g.schedules.Update(c.Context(), sched); err != nil {
		g.logger.Error("schedule update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to update schedule")
	}
	return c.OK(toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleDelete(c *okapi.Context) error {
	userID := c.GetString("userID")

	sched, err := g.ownedSchedule(c, userID)
	if err != nil {
		return err
	}

	if err := g.schedules.Delete(c.Context(), sched.ID); err != nil {
		g.logger.Error("schedule delete failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to delete schedule")
	}
	return c.OK(okapi.M{"status": "deleted"})
}
