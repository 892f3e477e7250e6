package domain

const (
	EventCreate = "create"
	EventEdit   = "edit"
	EventDelete = "delete"

	ResourceTask  = "task"
	ResourceBoard = "board"
)

// Field names carried in the key of a change event.
const (
	FieldName        = "name"
	FieldStatus      = "status"
	FieldDueDate     = "dueDate"
	FieldDescription = "description"
)

// ChangeEvent is a decoded push notification describing a change made by
// another client.
type ChangeEvent struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}
