// Package scheduler implements cron-style scheduled function invocations.
// It polls the database for due schedules and submits them as ordinary
// invocations through the runtime.
//
// Core invariant: scheduled execution is NOT privileged execution.
// A schedule runs with exactly the permissions of the function it names,
// as the user who created the schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/evrydayimruslin/ultralight/internal/config"
)

// Schedule is one recurring invocation of a hosted function.
type Schedule struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	FunctionID     string            `json:"functionId"`
	Name           string            `json:"name"`
	CronExpression string            `json:"cronExpression"`
	EntryPoint     string            `json:"entryPoint"`
	Args           []any             `json:"args,omitempty"`
	Enabled        bool              `json:"enabled"`
	NextRunAt      *time.Time        `json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time        `json:"lastRunAt,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ScheduleStore is the persistence interface for schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context, ownerID string) ([]Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id string) error
	GetDue(ctx context.Context, now time.Time) ([]Schedule, error)
	RecordRun(ctx context.Context, id string, executionID string, nextRunAt time.Time, errMsg string) error
}

// StoreFactory creates a ScheduleStore from a *gorm.DB.
// Used to create transaction-scoped stores without importing the storage package.
type StoreFactory func(db *gorm.DB) ScheduleStore

// Invoker submits one function invocation on behalf of a schedule.
type Invoker interface {
	Invoke(ctx context.Context, functionID, entryPoint string, args []any, callerID string) (executionID string, err error)
}

// Scheduler polls for due schedules and fires them.
// It runs as a background goroutine in serve mode.
type Scheduler struct {
	store        ScheduleStore
	storeFactory StoreFactory
	db           *gorm.DB // For transaction wrapping around GetDue + RecordRun.
	invoker      Invoker
	metrics      *Metrics
	logger       *slog.Logger
	config       *config.SchedulerConfig

	parser cron.Parser
}

// New creates a Scheduler.
func New(
	store ScheduleStore,
	storeFactory StoreFactory,
	db *gorm.DB,
	invoker Invoker,
	metrics *Metrics,
	logger *slog.Logger,
	cfg *config.SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		store:        store,
		storeFactory: storeFactory,
		db:           db,
		invoker:      invoker,
		metrics:      metrics,
		logger:       logger,
		config:       cfg,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "scheduler started",
			slog.String("poll_interval", s.config.PollInterval().String()),
			slog.Int("max_concurrent", s.config.MaxConcurrent()),
		)

		// Recover missed runs on startup.
		s.recoverMissedRuns(ctx)

		ticker := time.NewTicker(s.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs a single poll cycle: claim due schedules, then fire them.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()

	claimed, err := s.claimDue(ctx, start.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed",
			slog.String("error", err.Error()),
		)
	}
	if len(claimed) > 0 {
		s.logger.InfoContext(ctx, "schedules due",
			slog.Int("count", len(claimed)),
		)
		s.fireAll(ctx, claimed)
	}

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// claimDue selects due schedules and advances next_run_at inside one short
// transaction (SELECT FOR UPDATE SKIP LOCKED on postgres), so a concurrent
// instance cannot claim the same run and no row lock is held while
// invocations execute. The claimed copies carry the advanced run time for
// the outcome record.
func (s *Scheduler) claimDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	var claimed []Schedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := s.storeFactory(tx)

		due, err := txStore.GetDue(ctx, now)
		if err != nil {
			return fmt.Errorf("polling due schedules: %w", err)
		}

		for i := range due {
			sched := due[i]
			nextRun := s.computeNextRun(sched.CronExpression)
			if err := txStore.RecordRun(ctx, sched.ID, "", nextRun, ""); err != nil {
				return fmt.Errorf("claiming schedule %s: %w", sched.ID, err)
			}
			sched.NextRunAt = &nextRun
			claimed = append(claimed, sched)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// fireAll runs the claimed schedules with bounded concurrency.
func (s *Scheduler) fireAll(ctx context.Context, claimed []Schedule) {
	sem := make(chan struct{}, s.config.MaxConcurrent())
	var wg sync.WaitGroup

	for i := range claimed {
		sem <- struct{}{}
		wg.Add(1)

		go func(sc Schedule) {
			defer wg.Done()
			defer func() { <-sem }()
			s.fire(ctx, &sc)
		}(claimed[i])
	}

	wg.Wait()
}

// fire submits a single claimed invocation and records its outcome.
// NextRunAt was already advanced at claim time; the outcome record repeats
// it together with the execution result.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule) {
	s.logger.InfoContext(ctx, "firing schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("name", sched.Name),
		slog.String("function_id", sched.FunctionID),
		slog.String("entry_point", sched.EntryPoint),
	)

	if s.metrics != nil {
		s.metrics.RunsFired.Inc()
	}

	// Invoke as the schedule creator's identity; the function's own
	// permission set applies unchanged.
	executionID, err := s.invoker.Invoke(ctx, sched.FunctionID, sched.EntryPoint, sched.Args, sched.OwnerID)

	nextRun := s.computeNextRun(sched.CronExpression)
	if sched.NextRunAt != nil {
		nextRun = *sched.NextRunAt
	}

	var errMsg string
	if err != nil {
		errMsg = err.Error()
		s.logger.ErrorContext(ctx, "scheduled invocation failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", errMsg),
		)
		if s.metrics != nil {
			s.metrics.RunsFailed.Inc()
		}
	} else if s.metrics != nil {
		s.metrics.RunsSucceeded.Inc()
	}

	if recordErr := s.store.RecordRun(ctx, sched.ID, executionID, nextRun, errMsg); recordErr != nil {
		s.logger.ErrorContext(ctx, "failed to record scheduled run",
			slog.String("schedule_id", sched.ID),
			slog.String("error", recordErr.Error()),
		)
	}
}

// recoverMissedRuns finds schedules whose NextRunAt is in the past and
// fires the ones still inside the missed window. Handles crash recovery.
// Like tick, claiming happens in a short transaction and the invocations
// run after commit.
func (s *Scheduler) recoverMissedRuns(ctx context.Context) {
	now := time.Now().UTC()
	window := now.Add(-s.config.MissedRunWindow())

	var claimed []Schedule
	var missedCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := s.storeFactory(tx)
		due, err := txStore.GetDue(ctx, now)
		if err != nil {
			return err
		}

		for i := range due {
			sched := due[i]
			nextRun := s.computeNextRun(sched.CronExpression)
			if sched.NextRunAt != nil && sched.NextRunAt.Before(window) {
				// Too old; skip and advance to the next valid time.
				_ = txStore.RecordRun(ctx, sched.ID, "", nextRun, "skipped: outside missed run window")
				if s.metrics != nil {
					s.metrics.RunsMissed.Inc()
				}
				missedCount++
				continue
			}
			if err := txStore.RecordRun(ctx, sched.ID, "", nextRun, ""); err != nil {
				return fmt.Errorf("claiming schedule %s: %w", sched.ID, err)
			}
			sched.NextRunAt = &nextRun
			claimed = append(claimed, sched)
		}
		return nil
	})

	if err != nil {
		s.logger.ErrorContext(ctx, "failed to recover missed schedules",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(claimed) > 0 {
		s.fireAll(ctx, claimed)
	}
	if len(claimed) > 0 || missedCount > 0 {
		s.logger.InfoContext(ctx, "recovered missed schedules",
			slog.Int("fired", len(claimed)),
			slog.Int("skipped", missedCount),
		)
	}
}

// computeNextRun parses the cron expression and returns the next run time after now.
func (s *Scheduler) computeNextRun(expr string) time.Time {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		s.logger.Error("invalid cron expression", slog.String("expr", expr), slog.String("error", err.Error()))
		return time.Now().UTC().Add(24 * time.Hour)
	}
	return sched.Next(time.Now().UTC())
}

// ComputeNextRunFrom computes the next run time from a given reference time.
// Exported for use by the HTTP API when creating/updating schedules.
func ComputeNextRunFrom(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// Validate checks a schedule before it is persisted.
func (sc *Schedule) Validate() error {
	if sc.FunctionID == "" {
		return fmt.Errorf("schedule function id is required")
	}
	if sc.EntryPoint == "" {
		return fmt.Errorf("schedule entry point is required")
	}
	if sc.OwnerID == "" {
		return fmt.Errorf("schedule owner is required")
	}
	if _, err := ComputeNextRunFrom(sc.CronExpression, time.Now().UTC()); err != nil {
		return err
	}
	return nil
}
