package api

import (
	"context"
	"time"

	"todo-api/account"
	"todo-api/domain"
)

// TaskService exposes the task access and ordering operations to handlers.
type TaskService interface {
	ListMine(ctx context.Context, caller domain.Caller) ([]domain.Task, error)
	ListForUser(ctx context.Context, targetUserID string) ([]domain.Task, error)
	Get(ctx context.Context, caller domain.Caller, id int) (domain.Task, error)
	Create(ctx context.Context, caller domain.Caller, input domain.Task) (domain.Task, error)
	Assign(ctx context.Context, caller domain.Caller, targetUserID string, input domain.Task) (domain.Task, error)
	Update(ctx context.Context, caller domain.Caller, id int, input domain.Task) error
	Delete(ctx context.Context, caller domain.Caller, id int) error
	ToggleCompletion(ctx context.Context, caller domain.Caller, id int) error
	DeleteCompleted(ctx context.Context, caller domain.Caller) error
	ReorderMany(ctx context.Context, caller domain.Caller, entries []domain.ReorderEntry) error
	ReorderSingle(ctx context.Context, caller domain.Caller, id, position int) error
	CompletedCount(ctx context.Context, caller domain.Caller) (int, error)
	UncompletedCount(ctx context.Context, caller domain.Caller) (int, error)
	Completed(ctx context.Context, caller domain.Caller) ([]domain.Task, error)
	Uncompleted(ctx context.Context, caller domain.Caller) ([]domain.Task, error)
	DueOn(ctx context.Context, caller domain.Caller, date time.Time) ([]domain.Task, error)
	ByPriority(ctx context.Context, caller domain.Caller) ([]domain.Task, error)
}

// AccountService exposes registration, login and profile operations to
// handlers.
type AccountService interface {
	Register(ctx context.Context, name, email, password string) (domain.User, error)
	Login(ctx context.Context, email, password string) (string, domain.User, error)
	CurrentUser(ctx context.Context, id string) (domain.User, error)
	UpdateProfile(ctx context.Context, id string, update account.ProfileUpdate) error
	Users(ctx context.Context) ([]domain.User, error)
	User(ctx context.Context, id string) (domain.User, error)
}

// Authenticator is implemented by types able to resolve the caller identity
// from an Authorization header.
type Authenticator interface {
	CallerFromAuthHeader(string) (domain.Caller, error)
}

// Deduper prevents reprocessing of replayed create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing
	// fails so the caller may retry.
	Remove(ctx context.Context, userID, key string) error
}
