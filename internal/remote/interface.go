// Package remote provides the client contract for the remote task service.
//
// The sync engine only depends on the Service interface; the HTTP client in
// this package is one implementation of it.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the service does not know the requested task
// id. Callers treat it as "nothing to sync for this id", not as a failure.
var ErrNotFound = errors.New("remote task not found")

// Task is the remote service's view of a task.
type Task struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTaskFields are the fields accepted when creating a remote task.
type NewTaskFields struct {
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Service is the sync engine's view of the remote task service.
type Service interface {
	// GetTask fetches a single task by id, completed or not. Returns
	// ErrNotFound (possibly wrapped) for unknown ids.
	GetTask(ctx context.Context, id string) (*Task, error)

	// GetTasks lists active tasks only; the service omits completed items
	// from bulk listings, which is why the change detector fetches linked
	// tasks individually.
	GetTasks(ctx context.Context) ([]*Task, error)

	// CloseTask marks a task completed.
	CloseTask(ctx context.Context, id string) error

	// CreateTask creates a new task and returns it with its assigned id.
	CreateTask(ctx context.Context, fields NewTaskFields) (*Task, error)

	// TranslateID resolves a legacy numeric id to its canonical form.
	TranslateID(ctx context.Context, legacyID string) (string, error)
}
