package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evrydayimruslin/ultralight/internal/function"
)

// FunctionRepository implements function.Store on GORM.
type FunctionRepository struct {
	db *gorm.DB
}

// NewFunctionRepository creates a function repository.
func NewFunctionRepository(db *gorm.DB) *FunctionRepository {
	return &FunctionRepository{db: db}
}

var _ function.Store = (*FunctionRepository)(nil)

func (r *FunctionRepository) Create(ctx context.Context, fn *function.Function) error {
	if fn.ID == "" {
		fn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fn.CreatedAt = now
	fn.UpdatedAt = now

	model, err := functionToModel(fn)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating function: %w", err)
	}
	return nil
}

func (r *FunctionRepository) Get(ctx context.Context, id string) (*function.Function, error) {
	var model FunctionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, function.ErrNotFound
		}
		return nil, fmt.Errorf("loading function: %w", err)
	}
	return functionFromModel(&model)
}

func (r *FunctionRepository) GetByName(ctx context.Context, ownerID, name string) (*function.Function, error) {
	var model FunctionModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, function.ErrNotFound
		}
		return nil, fmt.Errorf("loading function by name: %w", err)
	}
	return functionFromModel(&model)
}

func (r *FunctionRepository) List(ctx context.Context, ownerID string) ([]function.Function, error) {
	var models []FunctionModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing functions: %w", err)
	}

	fns := make([]function.Function, 0, len(models))
	for i := range models {
		fn, err := functionFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		fns = append(fns, *fn)
	}
	return fns, nil
}

func (r *FunctionRepository) Update(ctx context.Context, fn *function.Function) error {
	fn.UpdatedAt = time.Now().UTC()

	model, err := functionToModel(fn)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&FunctionModel{}).
		Where("id = ?", fn.ID).
		Updates(map[string]any{
			"name":        model.Name,
			"description": model.Description,
			"code":        model.Code,
			"permissions": model.Permissions,
			"env_vars":    model.EnvVars,
			"updated_at":  model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("updating function: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return function.ErrNotFound
	}
	return nil
}

func (r *FunctionRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&FunctionModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting function: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return function.ErrNotFound
	}
	return nil
}

func functionToModel(fn *function.Function) (*FunctionModel, error) {
	perms, err := json.Marshal(fn.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encoding permissions: %w", err)
	}
	envVars, err := json.Marshal(fn.EnvVars)
	if err != nil {
		return nil, fmt.Errorf("encoding env vars: %w", err)
	}
	return &FunctionModel{
		ID:          fn.ID,
		OwnerID:     fn.OwnerID,
		Name:        fn.Name,
		Description: fn.Description,
		Code:        fn.Code,
		Permissions: string(perms),
		EnvVars:     string(envVars),
		CreatedAt:   fn.CreatedAt,
		UpdatedAt:   fn.UpdatedAt,
	}, nil
}

func functionFromModel(m *FunctionModel) (*function.Function, error) {
	fn := &function.Function{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Name:        m.Name,
		Description: m.Description,
		Code:        m.Code,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Permissions != "" {
		if err := json.Unmarshal([]byte(m.Permissions), &fn.Permissions); err != nil {
			return nil, fmt.Errorf("decoding permissions: %w", err)
		}
	}
	if m.EnvVars != "" {
		if err := json.Unmarshal([]byte(m.EnvVars), &fn.EnvVars); err != nil {
			return nil, fmt.Errorf("decoding env vars: %w", err)
		}
	}
	return fn, nil
}
