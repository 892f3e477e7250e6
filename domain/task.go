package domain

import (
	"strings"
	"time"
)

// Status is the column a task sits in.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Statuses lists every valid status in column order.
var Statuses = []Status{StatusNotStarted, StatusInProgress, StatusCompleted}

// ParseStatus returns the status named by s. Matching is exact.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return Status(s), nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Task represents a single board item.
type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of t so that pointer fields are not shared.
func (t Task) Clone() Task {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// TaskDraft carries the fields of a task that is about to be created.
type TaskDraft struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Validate checks the draft before it is sent anywhere.
func (d TaskDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	if !d.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// TaskPatch carries partial updates for a task. Nil fields are untouched.
type TaskPatch struct {
	Name        *string    `json:"name,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Empty reports whether the patch names no field at all.
func (p TaskPatch) Empty() bool {
	return p.Name == nil && p.Status == nil && p.Description == nil && p.DueDate == nil
}

// Validate rejects patches that would break task invariants.
func (p TaskPatch) Validate() error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return ErrEmptyName
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// ApplyTo writes the patched fields onto t and returns the result.
func (p TaskPatch) ApplyTo(t Task) Task {
	t = t.Clone()
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Description != nil {
		d := *p.Description
		t.Description = &d
	}
	if p.DueDate != nil {
		d := Day(*p.DueDate)
		t.DueDate = &d
	}
	return t
}

// Restore copies the fields named by p from pre onto t. It is the inverse of
// ApplyTo given the task as it was before the patch.
func (p TaskPatch) Restore(t, pre Task) Task {
	t = t.Clone()
	pre = pre.Clone()
	if p.Name != nil {
		t.Name = pre.Name
	}
	if p.Status != nil {
		t.Status = pre.Status
	}
	if p.Description != nil {
		t.Description = pre.Description
	}
	if p.DueDate != nil {
		t.DueDate = pre.DueDate
	}
	return t
}

// Day truncates ts to the start of its UTC calendar day.
func Day(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDueDate accepts an RFC3339 instant or a bare YYYY-MM-DD date.
func ParseDueDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Day(ts), nil
	}
	ts, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
