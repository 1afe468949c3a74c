package storage

import (
	"time"

	"gorm.io/gorm"
)

// FunctionModel is the database row for a hosted function.
// Permissions and EnvVars are stored as JSON text so both backends share
// one schema.
type FunctionModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	OwnerID     string `gorm:"size:64;not null;index;uniqueIndex:idx_functions_owner_name"`
	Name        string `gorm:"size:128;not null;uniqueIndex:idx_functions_owner_name"`
	Description string `gorm:"size:1024"`
	Code        string `gorm:"type:text;not null"`
	Permissions string `gorm:"type:text"`
	EnvVars     string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (FunctionModel) TableName() string { return "functions" }

// AppDataModel is one key/value pair in an app's data store. The
// composite primary key (app_id, key) is the isolation boundary.
type AppDataModel struct {
	AppID     string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:512"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (AppDataModel) TableName() string { return "app_data" }

// ScheduleModel is the database row for a recurring invocation.
type ScheduleModel struct {
	ID              string     `gorm:"primaryKey;size:36"`
	OwnerID         string     `gorm:"size:64;not null;index"`
	FunctionID      string     `gorm:"size:36;not null;index"`
	Name            string     `gorm:"size:128"`
	CronExpression  string     `gorm:"size:128;not null"`
	EntryPoint      string     `gorm:"size:128;not null"`
	Args            string     `gorm:"type:text"`
	Enabled         bool       `gorm:"not null;default:true;index:idx_schedules_due"`
	NextRunAt       *time.Time `gorm:"index:idx_schedules_due"`
	LastRunAt       *time.Time
	LastExecutionID string         `gorm:"size:36"`
	LastError       string         `gorm:"size:2048"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

func (ScheduleModel) TableName() string { return "schedules" }
