// Package todo implements the task access and ordering rules sitting between
// the HTTP boundary and the persisted store. Every operation receives the
// caller identity explicitly so the package stays independent of any request
// machinery.
package todo

import (
	"context"
	"errors"
	"time"

	"todo-api/domain"
)

var (
	// ErrNotFound is returned when a task does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("task not found")
	// ErrForbidden is returned when the caller is not allowed to touch the
	// task.
	ErrForbidden = errors.New("forbidden")
)

// Store abstracts task persistence for the service.
type Store interface {
	// GetTask looks a task up by id alone.
	GetTask(ctx context.Context, id int) (domain.Task, error)
	// GetTaskForOwner looks a task up by id scoped to its owner.
	GetTaskForOwner(ctx context.Context, id int, ownerID string) (domain.Task, error)
	// ListByOwner returns the owner's tasks ascending by position.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error)
	// ListForAdmin returns the owner's tasks ascending by the admin sort order.
	ListForAdmin(ctx context.Context, ownerID string) ([]domain.Task, error)
	// ListByCompletion returns the owner's completed tasks descending by
	// creation time, or uncompleted tasks ascending by position.
	ListByCompletion(ctx context.Context, ownerID string, completed bool) ([]domain.Task, error)
	// ListDueOn returns the owner's tasks due within [day, day+24h).
	ListDueOn(ctx context.Context, ownerID string, day time.Time) ([]domain.Task, error)
	// ListPrioritized returns the owner's tasks with a set priority,
	// ascending by priority value.
	ListPrioritized(ctx context.Context, ownerID string) ([]domain.Task, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	CountByCompletion(ctx context.Context, ownerID string, completed bool) (int, error)
	// InsertTask persists a new task and fills in its store-assigned id.
	InsertTask(ctx context.Context, t *domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	// DeleteTask removes the task by id. The owner id only identifies whose
	// cached views must be invalidated; the delete itself is keyed by id.
	DeleteTask(ctx context.Context, id int, ownerID string) error
	// SetPosition updates the position of the task identified by (id, owner)
	// and reports whether such a task existed.
	SetPosition(ctx context.Context, id int, ownerID string, position int) (bool, error)
}

// Service enforces ownership and admin-assignment rules and keeps the manual
// ordering fields coherent.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// canModify is the write-path authorization rule, applied identically to
// update and delete: admin-assigned tasks are off limits to non-admins even
// when they own them; otherwise admins may touch anything and owners may
// touch their own tasks.
func canModify(t domain.Task, caller domain.Caller) bool {
	if t.AdminAssigned() && !caller.IsAdmin {
		return false
	}
	if caller.IsAdmin {
		return true
	}
	return t.UserID == caller.UserID
}

// ListMine returns all of the caller's tasks ascending by position.
func (s *Service) ListMine(ctx context.Context, caller domain.Caller) ([]domain.Task, error) {
	return s.store.ListByOwner(ctx, caller.UserID)
}

// ListForUser returns the target user's tasks ascending by the admin sort
// order. The boundary restricts this to admins.
func (s *Service) ListForUser(ctx context.Context, targetUserID string) ([]domain.Task, error) {
	return s.store.ListForAdmin(ctx, targetUserID)
}

// Get returns a single task. Owners see their own tasks; admins see any task.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id int) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.UserID != caller.UserID && !caller.IsAdmin {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

// Create persists a self-service task for the caller. The owner field of the
// input is ignored, creation appends to the end of the caller's list, and the
// task is never marked admin-assigned.
func (s *Service) Create(ctx context.Context, caller domain.Caller, input domain.Task) (domain.Task, error) {
	count, err := s.store.CountByOwner(ctx, caller.UserID)
	if err != nil {
		return domain.Task{}, err
	}
	input.ID = 0
	input.UserID = caller.UserID
	input.AssignedBy = ""
	input.CreatedAt = s.now()
	input.Position = count
	input.Order = 0
	if err := s.store.InsertTask(ctx, &input); err != nil {
		return domain.Task{}, err
	}
	return input, nil
}

// Assign creates a task on behalf of targetUserID and records the assigning
// admin. Missing category defaults to "General", an unset or zero priority
// defaults to 1, and the task always starts uncompleted. The boundary
// restricts this to admins.
func (s *Service) Assign(ctx context.Context, caller domain.Caller, targetUserID string, input domain.Task) (domain.Task, error) {
	count, err := s.store.CountByOwner(ctx, targetUserID)
	if err != nil {
		return domain.Task{}, err
	}
	input.ID = 0
	input.UserID = targetUserID
	input.AssignedBy = caller.UserID
	input.CreatedAt = s.now().UTC()
	input.Position = count
	input.Order = count
	input.IsCompleted = false
	if input.Category == "" {
		input.Category = "General"
	}
	if input.Priority == nil || *input.Priority == 0 {
		p := 1
		input.Priority = &p
	}
	if err := s.store.InsertTask(ctx, &input); err != nil {
		return domain.Task{}, err
	}
	return input, nil
}

// Update overwrites the mutable fields of a task. Ownership, the assigning
// admin, the creation time and the admin sort order are never overwritten.
func (s *Service) Update(ctx context.Context, caller domain.Caller, id int, input domain.Task) error {
	existing, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(existing, caller) {
		return ErrForbidden
	}
	existing.Title = input.Title
	existing.Category = input.Category
	existing.IsCompleted = input.IsCompleted
	existing.DueDate = input.DueDate
	existing.Priority = input.Priority
	existing.Position = input.Position
	return s.store.UpdateTask(ctx, existing)
}

// Delete removes a task under the same authorization rule as Update.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id int) error {
	existing, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(existing, caller) {
		return ErrForbidden
	}
	return s.store.DeleteTask(ctx, id, existing.UserID)
}

// ToggleCompletion flips IsCompleted on one of the caller's own tasks. There
// is no admin override on this path.
func (s *Service) ToggleCompletion(ctx context.Context, caller domain.Caller, id int) error {
	t, err := s.store.GetTaskForOwner(ctx, id, caller.UserID)
	if err != nil {
		return err
	}
	t.IsCompleted = !t.IsCompleted
	return s.store.UpdateTask(ctx, t)
}

// DeleteCompleted removes the caller's completed tasks one by one. The loop
// is deliberately not atomic: a storage fault mid-way leaves earlier deletes
// in place, and tasks the caller may not delete are skipped.
func (s *Service) DeleteCompleted(ctx context.Context, caller domain.Caller) error {
	completed, err := s.store.ListByCompletion(ctx, caller.UserID, true)
	if err != nil {
		return err
	}
	for _, t := range completed {
		err := s.Delete(ctx, caller, t.ID)
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReorderMany applies caller-supplied positions to the caller's tasks.
// Entries referencing tasks the caller does not own are silently skipped and
// the operation still succeeds; positions are written as given, without
// renormalization.
func (s *Service) ReorderMany(ctx context.Context, caller domain.Caller, entries []domain.ReorderEntry) error {
	for _, e := range entries {
		if _, err := s.store.SetPosition(ctx, e.ID, caller.UserID, e.Position); err != nil {
			return err
		}
	}
	return nil
}

// ReorderSingle moves one of the caller's tasks to a new position.
func (s *Service) ReorderSingle(ctx context.Context, caller domain.Caller, id, position int) error {
	ok, err := s.store.SetPosition(ctx, id, caller.UserID, position)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// CompletedCount returns how many of the caller's tasks are completed.
func (s *Service) CompletedCount(ctx context.Context, caller domain.Caller) (int, error) {
	return s.store.CountByCompletion(ctx, caller.UserID, true)
}

// UncompletedCount returns how many of the caller's tasks are still pending.
func (s *Service) UncompletedCount(ctx context.Context, caller domain.Caller) (int, error) {
	return s.store.CountByCompletion(ctx, caller.UserID, false)
}

// Completed returns the caller's completed tasks, newest first.
func (s *Service) Completed(ctx context.Context, caller domain.Caller) ([]domain.Task, error) {
	return s.store.ListByCompletion(ctx, caller.UserID, true)
}

// Uncompleted returns the caller's pending tasks ascending by position.
func (s *Service) Uncompleted(ctx context.Context, caller domain.Caller) ([]domain.Task, error) {
	return s.store.ListByCompletion(ctx, caller.UserID, false)
}

// DueOn returns the caller's tasks due on the given calendar day. The
// time-of-day component of date is ignored.
func (s *Service) DueOn(ctx context.Context, caller domain.Caller, date time.Time) ([]domain.Task, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return s.store.ListDueOn(ctx, caller.UserID, day)
}

// ByPriority returns the caller's tasks that have a priority set, lowest
// value first.
func (s *Service) ByPriority(ctx context.Context, caller domain.Caller) ([]domain.Task, error) {
	return s.store.ListPrioritized(ctx, caller.UserID)
}
