package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evrydayimruslin/ultralight/internal/services"
)

// AppDataRepository implements services.AppDataService for one app.
// Every query carries the app ID, so a function can never reach another
// app's rows regardless of the keys it chooses.
type AppDataRepository struct {
	db    *gorm.DB
	appID string
}

// NewAppDataRepository creates a key/value repository scoped to appID.
func NewAppDataRepository(db *gorm.DB, appID string) *AppDataRepository {
	return &AppDataRepository{db: db, appID: appID}
}

var _ services.AppDataService = (*AppDataRepository)(nil)

// appScope restricts a query to this repository's app.
func (r *AppDataRepository) appScope(db *gorm.DB) *gorm.DB {
	return db.Where("app_id = ?", r.appID)
}

func (r *AppDataRepository) Store(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for key %q: %w", key, err)
	}

	row := AppDataModel{
		AppID:     r.appID,
		Key:       key,
		Value:     string(encoded),
		UpdatedAt: time.Now().UTC(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing key %q: %w", key, err)
	}
	return nil
}

func (r *AppDataRepository) Load(ctx context.Context, key string) (any, error) {
	var row AppDataModel
	err := r.db.WithContext(ctx).Scopes(r.appScope).
		Where("key = ?", key).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading key %q: %w", key, err)
	}
	return decodeValue(row.Value, key)
}

func (r *AppDataRepository) Remove(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Scopes(r.appScope).
		Where("key = ?", key).
		Delete(&AppDataModel{}).Error
	if err != nil {
		return fmt.Errorf("removing key %q: %w", key, err)
	}
	return nil
}

func (r *AppDataRepository) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&AppDataModel{}).
		Scopes(r.appScope).
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("listing keys with prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// Query fetches the prefix rows and applies filter/sort/pagination in Go,
// shared with the in-memory backend, so both backends return identical
// results for the same data.
func (r *AppDataRepository) Query(ctx context.Context, prefix string, opts services.QueryOptions) ([]services.Entry, error) {
	var rows []AppDataModel
	err := r.db.WithContext(ctx).Scopes(r.appScope).
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying keys with prefix %q: %w", prefix, err)
	}

	entries := make([]services.Entry, 0, len(rows))
	for i := range rows {
		value, err := decodeValue(rows[i].Value, rows[i].Key)
		if err != nil {
			return nil, err
		}
		updatedAt := rows[i].UpdatedAt
		entries = append(entries, services.Entry{
			Key:       rows[i].Key,
			Value:     value,
			UpdatedAt: &updatedAt,
		})
	}
	return services.ApplyQuery(entries, opts), nil
}

func (r *AppDataRepository) BatchStore(ctx context.Context, entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]AppDataModel, 0, len(entries))
	for key, value := range entries {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding value for key %q: %w", key, err)
		}
		rows = append(rows, AppDataModel{
			AppID:     r.appID,
			Key:       key,
			Value:     string(encoded),
			UpdatedAt: now,
		})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("storing %d keys: %w", len(rows), err)
	}
	return nil
}

func (r *AppDataRepository) BatchLoad(ctx context.Context, keys []string) (map[string]any, error) {
	result := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var rows []AppDataModel
	err := r.db.WithContext(ctx).Scopes(r.appScope).
		Where("key IN ?", keys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading %d keys: %w", len(keys), err)
	}

	for i := range rows {
		value, err := decodeValue(rows[i].Value, rows[i].Key)
		if err != nil {
			return nil, err
		}
		result[rows[i].Key] = value
	}
	return result, nil
}

func (r *AppDataRepository) BatchRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Scopes(r.appScope).
		Where("key IN ?", keys).
		Delete(&AppDataModel{}).Error
	if err != nil {
		return fmt.Errorf("removing %d keys: %w", len(keys), err)
	}
	return nil
}

func decodeValue(raw, key string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decoding value for key %q: %w", key, err)
	}
	return value, nil
}
