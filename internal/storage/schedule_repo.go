package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evrydayimruslin/ultralight/internal/scheduler"
)

// ErrScheduleNotFound is returned when a schedule does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleRepository implements scheduler.ScheduleStore on GORM.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a schedule repository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

var _ scheduler.ScheduleStore = (*ScheduleRepository)(nil)

func (r *ScheduleRepository) Create(ctx context.Context, s *scheduler.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	model, err := scheduleToModel(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*scheduler.Schedule, error) {
	var model ScheduleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("loading schedule: %w", err)
	}
	return scheduleFromModel(&model)
}

func (r *ScheduleRepository) List(ctx context.Context, ownerID string) ([]scheduler.Schedule, error) {
	var models []ScheduleModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	schedules := make([]scheduler.Schedule, 0, len(models))
	for i := range models {
		s, err := scheduleFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, nil
}

func (r *ScheduleRepository) Update(ctx context.Context, s *scheduler.Schedule) error {
	s.UpdatedAt = time.Now().UTC()

	model, err := scheduleToModel(s)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"name":            model.Name,
			"cron_expression": model.CronExpression,
			"entry_point":     model.EntryPoint,
			"args":            model.Args,
			"enabled":         model.Enabled,
			"next_run_at":     model.NextRunAt,
			"updated_at":      model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("updating schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&ScheduleModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// GetDue returns enabled schedules whose next run time has passed. On
// PostgreSQL the rows are locked with FOR UPDATE SKIP LOCKED so multiple
// instances never fire the same schedule twice; SQLite serializes writers
// on its own.
func (r *ScheduleRepository) GetDue(ctx context.Context, now time.Time) ([]scheduler.Schedule, error) {
	query := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at ASC")

	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var models []ScheduleModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding due schedules: %w", err)
	}

	schedules := make([]scheduler.Schedule, 0, len(models))
	for i := range models {
		s, err := scheduleFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, nil
}

// RecordRun stores the outcome of one fired run and advances NextRunAt.
func (r *ScheduleRepository) RecordRun(ctx context.Context, id string, executionID string, nextRunAt time.Time, errMsg string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at":       now,
			"last_execution_id": executionID,
			"last_error":        errMsg,
			"next_run_at":       nextRunAt.UTC(),
			"updated_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("recording schedule run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func scheduleToModel(s *scheduler.Schedule) (*ScheduleModel, error) {
	args, err := json.Marshal(s.Args)
	if err != nil {
		return nil, fmt.Errorf("encoding schedule args: %w", err)
	}
	return &ScheduleModel{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		FunctionID:     s.FunctionID,
		Name:           s.Name,
		CronExpression: s.CronExpression,
		EntryPoint:     s.EntryPoint,
		Args:           string(args),
		Enabled:        s.Enabled,
		NextRunAt:      s.NextRunAt,
		LastRunAt:      s.LastRunAt,
		LastError:      s.LastError,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}

func scheduleFromModel(m *ScheduleModel) (*scheduler.Schedule, error) {
	s := &scheduler.Schedule{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		FunctionID:     m.FunctionID,
		Name:           m.Name,
		CronExpression: m.CronExpression,
		EntryPoint:     m.EntryPoint,
		Enabled:        m.Enabled,
		NextRunAt:      m.NextRunAt,
		LastRunAt:      m.LastRunAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Args != "" && m.Args != "null" {
		if err := json.Unmarshal([]byte(m.Args), &s.Args); err != nil {
			return nil, fmt.Errorf("decoding schedule args: %w", err)
		}
	}
	return s, nil
}
