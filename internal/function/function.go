// Package function defines the hosted function registry: the bundled
// module, its granted permissions, and its environment.
package function

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a function does not exist.
var ErrNotFound = errors.New("function not found")

// Function is one hosted app: a bundled JavaScript module plus the
// authority and environment it runs with.
type Function struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Code        string            `json:"code"`
	Permissions []string          `json:"permissions"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Store persists hosted functions.
type Store interface {
	Create(ctx context.Context, fn *Function) error
	Get(ctx context.Context, id string) (*Function, error)
	GetByName(ctx context.Context, ownerID, name string) (*Function, error)
	List(ctx context.Context, ownerID string) ([]Function, error)
	Update(ctx context.Context, fn *Function) error
	Delete(ctx context.Context, id string) error
}

// knownPermissions is the set of capability tokens the runtime enforces.
var knownPermissions = map[string]bool{
	"storage:read":  true,
	"storage:write": true,
	"memory:read":   true,
	"memory:write":  true,
	"ai:call":       true,
	"app:call":      true,
}

// Validate checks a function before it is persisted.
func (f *Function) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("function name is required")
	}
	if f.OwnerID == "" {
		return fmt.Errorf("function owner is required")
	}
	if strings.TrimSpace(f.Code) == "" {
		return fmt.Errorf("function code is required")
	}
	for _, p := range f.Permissions {
		if !knownPermissions[p] {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}
