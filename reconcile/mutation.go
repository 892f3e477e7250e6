package reconcile

import "board-sync/domain"

// Kind identifies what a local mutation does.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindEdit
	KindDelete
	KindMove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	case KindMove:
		return "move"
	default:
		return "unknown"
	}
}

// Mutation is a locally initiated change. Moves are edits restricted to the
// status field.
type Mutation struct {
	Kind   Kind
	TaskID string
	Patch  domain.TaskPatch
	Draft  domain.TaskDraft
}

func Create(d domain.TaskDraft) Mutation {
	return Mutation{Kind: KindCreate, Draft: d}
}

func Edit(taskID string, p domain.TaskPatch) Mutation {
	return Mutation{Kind: KindEdit, TaskID: taskID, Patch: p}
}

func Delete(taskID string) Mutation {
	return Mutation{Kind: KindDelete, TaskID: taskID}
}

func Move(taskID string, s domain.Status) Mutation {
	return Mutation{Kind: KindMove, TaskID: taskID, Patch: domain.TaskPatch{Status: &s}}
}

func (m Mutation) validate() error {
	switch m.Kind {
	case KindCreate:
		return m.Draft.Validate()
	case KindEdit:
		return m.Patch.Validate()
	case KindMove:
		if m.Patch.Status == nil || m.Patch.Name != nil || m.Patch.Description != nil || m.Patch.DueDate != nil {
			return domain.ErrInvalidStatus
		}
		return m.Patch.Validate()
	case KindDelete:
		return nil
	}
	return domain.ErrEmptyPatch
}

// pending is an applied but unsettled mutation. pre is the task as the server
// is believed to hold it, used to restore the patched fields on rollback.
type pending struct {
	id       string
	seq      uint64
	mutation Mutation
	pre      domain.Task
	index    int
	settled  bool
}

// overlap returns the fields of b that a also names.
func overlap(a, b domain.TaskPatch) domain.TaskPatch {
	var out domain.TaskPatch
	if a.Name != nil {
		out.Name = b.Name
	}
	if a.Status != nil {
		out.Status = b.Status
	}
	if a.Description != nil {
		out.Description = b.Description
	}
	if a.DueDate != nil {
		out.DueDate = b.DueDate
	}
	return out
}
