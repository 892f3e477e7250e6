package domain

import "errors"

var (
	// ErrInvalidStatus is returned for a status outside the three columns.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrEmptyName is returned when a task name is blank.
	ErrEmptyName = errors.New("task name must not be empty")
	// ErrEmptyPatch is returned for an edit that names no field.
	ErrEmptyPatch = errors.New("task update had no fields")
	// ErrUnknownTask indicates the task id is not in the collection.
	ErrUnknownTask = errors.New("task not found")
	// ErrUnknownMutation indicates the pending mutation was already settled
	// or discarded by a snapshot load.
	ErrUnknownMutation = errors.New("unknown mutation")
	// ErrStaleBoard indicates the active board changed while an operation was
	// in flight.
	ErrStaleBoard = errors.New("board changed while operation was in flight")
	// ErrNoBoard is returned when no board is open.
	ErrNoBoard = errors.New("no board selected")
)

// ErrRolledBack wraps a persistence failure after the optimistic change it
// guarded has been undone.
var ErrRolledBack = errors.New("change rolled back")
