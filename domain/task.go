package domain

import "time"

// Task is a single to-do item owned by exactly one user.
type Task struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"isCompleted"`
	UserID      string     `json:"userId"`
	AssignedBy  string     `json:"assignedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Position    int        `json:"position"`
	Order       int        `json:"order"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// AdminAssigned reports whether the task was created by an admin on behalf
// of its owner. Such tasks can only be modified or deleted by admins.
func (t Task) AdminAssigned() bool {
	return t.AssignedBy != ""
}

// ReorderEntry pairs a task id with its new manual-sort position.
type ReorderEntry struct {
	ID       int `json:"id"`
	Position int `json:"position"`
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	UserID  string
	IsAdmin bool
}
