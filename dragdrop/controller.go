// Package dragdrop turns a pointer drag over the board columns into a status
// move.
package dragdrop

import (
	"context"
	"errors"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/reconcile"
)

// ErrNoGesture is returned by End when no drag is in progress.
var ErrNoGesture = errors.New("no drag in progress")

// Board is what the controller needs from the open board.
type Board interface {
	Task(ctx context.Context, id string) (domain.Task, bool, error)
	Submit(ctx context.Context, m reconcile.Mutation) error
}

// Outcome reports how a gesture ended.
type Outcome int

const (
	// OutcomeDiscarded means the drop target was not a column.
	OutcomeDiscarded Outcome = iota
	// OutcomeUnchanged means the task was dropped on its own column.
	OutcomeUnchanged
	OutcomeMoved
	// OutcomeRolledBack means the service rejected the move and the previous
	// status was restored.
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeMoved:
		return "moved"
	case OutcomeRolledBack:
		return "rolled_back"
	default:
		return "discarded"
	}
}

// Gesture is the drag in progress. Task is a detached copy for rendering
// the dragged card.
type Gesture struct {
	TaskID string
	Task   domain.Task
}

var columnTitles = map[string]domain.Status{
	"not started": domain.StatusNotStarted,
	"in progress": domain.StatusInProgress,
	"done":        domain.StatusCompleted,
}

// ResolveColumn maps a drop target to a status. Both status names and
// column titles are accepted, ignoring case.
func ResolveColumn(target string) (domain.Status, bool) {
	t := strings.TrimSpace(target)
	if s, err := domain.ParseStatus(strings.ToUpper(t)); err == nil {
		return s, true
	}
	s, ok := columnTitles[strings.ToLower(t)]
	return s, ok
}

// Controller tracks at most one drag at a time.
type Controller struct {
	board Board
	log   log.FieldLogger

	mu     sync.Mutex
	active *Gesture
}

func NewController(b Board, logger log.FieldLogger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{board: b, log: logger}
}

// Start begins dragging taskID, replacing any gesture already in progress.
func (c *Controller) Start(ctx context.Context, taskID string) (Gesture, error) {
	t, ok, err := c.board.Task(ctx, taskID)
	if err != nil {
		return Gesture{}, err
	}
	if !ok {
		return Gesture{}, domain.ErrUnknownTask
	}
	g := Gesture{TaskID: taskID, Task: t.Clone()}
	c.mu.Lock()
	c.active = &g
	c.mu.Unlock()
	return g, nil
}

// Cancel abandons the current gesture.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

// End drops the dragged task on target.
func (c *Controller) End(ctx context.Context, target string) (Outcome, error) {
	c.mu.Lock()
	g := c.active
	c.active = nil
	c.mu.Unlock()
	if g == nil {
		return OutcomeDiscarded, ErrNoGesture
	}

	logger := c.log.WithFields(log.Fields{"task_id": g.TaskID, "target": target})
	status, ok := ResolveColumn(target)
	if !ok {
		logger.Debug("Drop outside any column")
		return OutcomeDiscarded, nil
	}

	// Compare against the live task, not the copy taken at drag start.
	current, ok, err := c.board.Task(ctx, g.TaskID)
	if err != nil {
		return OutcomeDiscarded, err
	}
	if !ok {
		logger.Debug("Dragged task is gone")
		return OutcomeDiscarded, nil
	}
	if current.Status == status {
		return OutcomeUnchanged, nil
	}

	err = c.board.Submit(ctx, reconcile.Move(g.TaskID, status))
	switch {
	case err == nil:
		logger.WithField("status", status).Info("Task moved")
		return OutcomeMoved, nil
	case errors.Is(err, domain.ErrRolledBack):
		return OutcomeRolledBack, err
	default:
		return OutcomeDiscarded, err
	}
}
