// Package reconcile merges the board snapshot, local optimistic mutations and
// remote change events into one task collection.
//
// A Reconciler is not safe for concurrent use. It is owned by a single loop
// goroutine which applies every operation in order, so the last writer by
// application order wins per field.
package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Column is one status column of the board view.
type Column struct {
	Status domain.Status `json:"status"`
	Tasks  []domain.Task `json:"tasks"`
}

// View is an immutable projection of the reconciled state.
type View struct {
	BoardID string        `json:"boardId"`
	Board   *domain.Board `json:"board,omitempty"`
	Tasks   []domain.Task `json:"tasks"`
	Columns []Column      `json:"columns"`
	Pending int           `json:"pending"`
}

// Reconciler owns the authoritative task collection of one board.
type Reconciler struct {
	boardID string
	board   *domain.Board
	// tasks is replaced, never modified in place, so views can share it.
	tasks   []domain.Task
	pending map[string]*pending
	seq     uint64

	log   log.FieldLogger
	now   func() time.Time
	newID func() string
}

// New returns an empty Reconciler with no board selected.
func New(logger log.FieldLogger) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{
		pending: map[string]*pending{},
		log:     logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// BoardID returns the active board.
func (r *Reconciler) BoardID() string { return r.boardID }

// Reset switches to boardID with empty state and forgets every pending
// mutation of the previous board.
func (r *Reconciler) Reset(boardID string) {
	r.boardID = boardID
	r.board = nil
	r.tasks = nil
	r.pending = map[string]*pending{}
}

// LoadSnapshot replaces the whole state with a freshly fetched board.
func (r *Reconciler) LoadSnapshot(board domain.Board, tasks []domain.Task) {
	r.Reset(board.ID)
	b := board
	r.board = &b

	seen := make(map[string]struct{}, len(tasks))
	next := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup || t.ID == "" {
			r.log.WithField("task", t.ID).Warn("snapshot contained duplicate or empty task id")
			continue
		}
		if !t.Status.Valid() {
			r.log.WithFields(log.Fields{"task": t.ID, "status": t.Status}).Warn("snapshot task has unknown status, skipping")
			continue
		}
		if t.BoardID == "" {
			t.BoardID = board.ID
		}
		seen[t.ID] = struct{}{}
		next = append(next, normalize(t))
	}
	r.tasks = next
}

// Task returns the task with id.
func (r *Reconciler) Task(id string) (domain.Task, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.tasks[i], true
	}
	return domain.Task{}, false
}

// View projects the current state.
func (r *Reconciler) View() View {
	v := View{BoardID: r.boardID, Tasks: r.tasks, Pending: len(r.pending)}
	if r.board != nil {
		b := *r.board
		v.Board = &b
	}
	if v.Tasks == nil {
		v.Tasks = []domain.Task{}
	}
	v.Columns = make([]Column, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		col := Column{Status: s, Tasks: []domain.Task{}}
		for _, t := range r.tasks {
			if t.Status == s {
				col.Tasks = append(col.Tasks, t)
			}
		}
		v.Columns = append(v.Columns, col)
	}
	return v
}

// Apply makes m visible immediately and returns the id under which it must be
// confirmed or rolled back. Creates only register a pending record: the task
// appears once the server returns it.
func (r *Reconciler) Apply(m Mutation) (string, error) {
	if r.boardID == "" {
		return "", domain.ErrNoBoard
	}
	if err := m.validate(); err != nil {
		return "", err
	}
	r.seq++
	p := &pending{id: r.newID(), seq: r.seq, mutation: m}

	switch m.Kind {
	case KindEdit, KindMove:
		i := r.indexOf(m.TaskID)
		if i < 0 {
			return "", domain.ErrUnknownTask
		}
		p.pre = r.tasks[i]
		r.replaceAt(i, m.Patch.ApplyTo(r.tasks[i]))
	case KindDelete:
		i := r.indexOf(m.TaskID)
		if i < 0 {
			return "", domain.ErrUnknownTask
		}
		p.pre = r.tasks[i]
		p.index = i
		r.removeAt(i)
	}
	r.pending[p.id] = p
	r.log.WithFields(log.Fields{"mutation": p.id, "kind": m.Kind, "task": m.TaskID}).Debug("optimistic mutation applied")
	return p.id, nil
}

// Confirm settles a mutation with the record returned by the server. Edits,
// moves and creates adopt the server record; fields still covered by other
// outstanding mutations of the same task keep their speculative values.
func (r *Reconciler) Confirm(id string, server *domain.Task) error {
	p, ok := r.pending[id]
	if !ok {
		return domain.ErrUnknownMutation
	}
	delete(r.pending, id)

	if p.mutation.Kind == KindDelete || server == nil {
		return nil
	}
	if server.BoardID != "" && server.BoardID != r.boardID {
		return domain.ErrStaleBoard
	}
	canonical := normalize(*server)
	if canonical.BoardID == "" {
		canonical.BoardID = r.boardID
	}
	canonical = r.overlayPending(canonical)

	i := r.indexOf(canonical.ID)
	switch {
	case i >= 0:
		r.replaceAt(i, canonical)
	case p.mutation.Kind == KindCreate:
		r.insertAt(len(r.tasks), canonical)
	default:
		// Deleted remotely while the edit was in flight.
		r.log.WithField("task", canonical.ID).Debug("confirmed edit for a task that is gone")
	}
	return nil
}

// Rollback restores the fields the mutation touched to their captured
// pre-image. A delete is undone by reinserting the task where it was unless
// the task was settled by a remote delete in the meantime.
func (r *Reconciler) Rollback(id string) error {
	p, ok := r.pending[id]
	if !ok {
		return domain.ErrUnknownMutation
	}
	delete(r.pending, id)
	logger := r.log.WithFields(log.Fields{"mutation": id, "kind": p.mutation.Kind, "task": p.mutation.TaskID})

	switch p.mutation.Kind {
	case KindEdit, KindMove:
		i := r.indexOf(p.mutation.TaskID)
		if i < 0 {
			logger.Debug("rollback target is gone")
			return nil
		}
		restored := p.mutation.Patch.Restore(r.tasks[i], p.pre)
		// Later mutations on the same fields stay visible, and their
		// pre-images now refer to what the server actually holds.
		for _, q := range r.pendingFor(p.mutation.TaskID) {
			if q.seq < p.seq || (q.mutation.Kind != KindEdit && q.mutation.Kind != KindMove) {
				continue
			}
			shared := overlap(p.mutation.Patch, q.mutation.Patch)
			if shared.Empty() {
				continue
			}
			q.pre = shared.Restore(q.pre, p.pre)
			restored = shared.ApplyTo(restored)
		}
		r.replaceAt(i, restored)
	case KindDelete:
		if p.settled || r.indexOf(p.mutation.TaskID) >= 0 {
			logger.Debug("delete rollback skipped, task already settled")
			return nil
		}
		r.insertAt(min(p.index, len(r.tasks)), p.pre)
	}
	logger.Info("optimistic mutation rolled back")
	return nil
}

// ApplyRemote folds a change event from another client into the state. It
// reports whether anything changed. Unknown keys and resources are ignored.
func (r *Reconciler) ApplyRemote(ev domain.ChangeEvent) bool {
	logger := r.log.WithFields(log.Fields{"type": ev.Type, "resource": ev.Resource, "id": ev.ID, "key": ev.Key})
	switch ev.Resource {
	case domain.ResourceTask:
		switch ev.Type {
		case domain.EventDelete:
			return r.remoteDelete(ev.ID)
		case domain.EventEdit:
			return r.remoteEdit(ev, logger)
		case domain.EventCreate:
			return r.remoteCreate(ev, logger)
		}
	case domain.ResourceBoard:
		if r.board == nil || ev.ID != r.board.ID {
			return false
		}
		// Only the board name changes by push; board deletes are left to the
		// next snapshot load so pending mutations keep their records.
		switch {
		case ev.Type == domain.EventEdit && ev.Key == domain.FieldName:
			if ev.Value == "" || ev.Value == r.board.Name {
				return false
			}
			b := *r.board
			b.Name = ev.Value
			r.board = &b
			return true
		}
	}
	logger.Debug("ignoring notification")
	return false
}

func (r *Reconciler) remoteDelete(id string) bool {
	for _, p := range r.pendingFor(id) {
		p.settled = true
	}
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.removeAt(i)
	return true
}

func (r *Reconciler) remoteEdit(ev domain.ChangeEvent, logger log.FieldLogger) bool {
	patch, ok := patchFromEvent(ev)
	if !ok {
		logger.WithField("value", ev.Value).Debug("unusable edit ignored")
		return false
	}
	for _, p := range r.pendingFor(ev.ID) {
		switch {
		case p.mutation.Kind == KindDelete:
			// A rolled back delete brings the task back as the server holds it.
			p.pre = setField(p.pre, ev.Key, patch)
		case !overlap(p.mutation.Patch, patch).Empty():
			p.pre = setField(p.pre, ev.Key, patch)
		}
	}
	i := r.indexOf(ev.ID)
	if i < 0 {
		logger.Debug("edit for unknown task ignored")
		return false
	}
	r.replaceAt(i, setField(r.tasks[i], ev.Key, patch))
	return true
}

func (r *Reconciler) remoteCreate(ev domain.ChangeEvent, logger log.FieldLogger) bool {
	if r.boardID == "" || r.indexOf(ev.ID) >= 0 {
		logger.Debug("duplicate or boardless create ignored")
		return false
	}
	now := r.now().UTC()
	t := domain.Task{
		ID:        ev.ID,
		BoardID:   r.boardID,
		Status:    domain.StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if patch, ok := patchFromEvent(ev); ok {
		t = setField(t, ev.Key, patch)
	}
	r.insertAt(len(r.tasks), t)
	return true
}

// patchFromEvent converts a single-field event to a patch, rejecting values
// that would break the task invariants.
func patchFromEvent(ev domain.ChangeEvent) (domain.TaskPatch, bool) {
	var p domain.TaskPatch
	switch ev.Key {
	case domain.FieldName:
		if ev.Value == "" {
			return p, false
		}
		v := ev.Value
		p.Name = &v
	case domain.FieldStatus:
		s, err := domain.ParseStatus(ev.Value)
		if err != nil {
			return p, false
		}
		p.Status = &s
	case domain.FieldDescription:
		v := ev.Value
		p.Description = &v
	case domain.FieldDueDate:
		if ev.Value == "" {
			p.DueDate = &time.Time{}
			break
		}
		d, err := domain.ParseDueDate(ev.Value)
		if err != nil {
			return p, false
		}
		p.DueDate = &d
	default:
		return p, false
	}
	return p, true
}

// setField applies a single-field patch; empty description and zero due date
// clear the field.
func setField(t domain.Task, key string, p domain.TaskPatch) domain.Task {
	t = p.ApplyTo(t)
	switch key {
	case domain.FieldDescription:
		if *p.Description == "" {
			t.Description = nil
		}
	case domain.FieldDueDate:
		if p.DueDate.IsZero() {
			t.DueDate = nil
		}
	}
	return t
}

// overlayPending reapplies outstanding edits of t.ID in application order.
func (r *Reconciler) overlayPending(t domain.Task) domain.Task {
	for _, p := range r.pendingFor(t.ID) {
		if p.mutation.Kind == KindEdit || p.mutation.Kind == KindMove {
			p.pre = p.mutation.Patch.Restore(p.pre, t)
			t = p.mutation.Patch.ApplyTo(t)
		}
	}
	return t
}

// pendingFor lists outstanding mutations of a task in application order.
func (r *Reconciler) pendingFor(taskID string) []*pending {
	var out []*pending
	for _, p := range r.pending {
		if p.mutation.TaskID == taskID && taskID != "" {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *pending) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

func (r *Reconciler) indexOf(id string) int {
	return slices.IndexFunc(r.tasks, func(t domain.Task) bool { return t.ID == id })
}

func (r *Reconciler) replaceAt(i int, t domain.Task) {
	next := slices.Clone(r.tasks)
	next[i] = t
	r.tasks = next
}

func (r *Reconciler) removeAt(i int) {
	next := make([]domain.Task, 0, len(r.tasks)-1)
	next = append(next, r.tasks[:i]...)
	r.tasks = append(next, r.tasks[i+1:]...)
}

func (r *Reconciler) insertAt(i int, t domain.Task) {
	next := make([]domain.Task, 0, len(r.tasks)+1)
	next = append(next, r.tasks[:i]...)
	next = append(next, t)
	r.tasks = append(next, r.tasks[i:]...)
}

func normalize(t domain.Task) domain.Task {
	t = t.Clone()
	if t.DueDate != nil {
		d := domain.Day(*t.DueDate)
		t.DueDate = &d
	}
	return t
}
