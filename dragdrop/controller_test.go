package dragdrop

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"board-sync/domain"
	"board-sync/reconcile"
)

type fakeBoard struct {
	tasks     map[string]domain.Task
	submitted []reconcile.Mutation
	fail      error
}

func (f *fakeBoard) Task(ctx context.Context, id string) (domain.Task, bool, error) {
	t, ok := f.tasks[id]
	return t, ok, nil
}

func (f *fakeBoard) Submit(ctx context.Context, m reconcile.Mutation) error {
	f.submitted = append(f.submitted, m)
	if f.fail != nil {
		return f.fail
	}
	t := f.tasks[m.TaskID]
	f.tasks[m.TaskID] = m.Patch.ApplyTo(t)
	return nil
}

func newBoard() *fakeBoard {
	return &fakeBoard{tasks: map[string]domain.Task{
		"t1": {ID: "t1", Name: "Write", Status: domain.StatusNotStarted},
	}}
}

func TestResolveColumn(t *testing.T) {
	cases := map[string]domain.Status{
		"NOT_STARTED":  domain.StatusNotStarted,
		"in_progress":  domain.StatusInProgress,
		"Done":         domain.StatusCompleted,
		" In Progress": domain.StatusInProgress,
		"not started":  domain.StatusNotStarted,
		"COMPLETED":    domain.StatusCompleted,
	}
	for in, want := range cases {
		got, ok := ResolveColumn(in)
		if !ok || got != want {
			t.Fatalf("ResolveColumn(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "trash", "DONE_ISH"} {
		if _, ok := ResolveColumn(in); ok {
			t.Fatalf("expected %q to be unresolved", in)
		}
	}
}

func TestDropOnOtherColumnMoves(t *testing.T) {
	b := newBoard()
	c := NewController(b, nil)
	g, err := c.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if g.Task.Name != "Write" {
		t.Fatalf("unexpected gesture copy: %+v", g)
	}
	out, err := c.End(context.Background(), "In progress")
	if err != nil || out != OutcomeMoved {
		t.Fatalf("expected moved, got %s %v", out, err)
	}
	if len(b.submitted) != 1 || b.submitted[0].Kind != reconcile.KindMove || *b.submitted[0].Patch.Status != domain.StatusInProgress {
		t.Fatalf("unexpected mutation: %+v", b.submitted)
	}
}

func TestDropOnSameColumnIssuesNothing(t *testing.T) {
	b := newBoard()
	c := NewController(b, nil)
	if _, err := c.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := c.End(context.Background(), "NOT_STARTED")
	if err != nil || out != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %s %v", out, err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("expected no mutation, got %+v", b.submitted)
	}
}

func TestDropOutsideColumnsDiscards(t *testing.T) {
	b := newBoard()
	c := NewController(b, nil)
	if _, err := c.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := c.End(context.Background(), "sidebar")
	if err != nil || out != OutcomeDiscarded || len(b.submitted) != 0 {
		t.Fatalf("expected discard, got %s %v %+v", out, err, b.submitted)
	}
	if _, err := c.End(context.Background(), "Done"); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("gesture should be consumed, got %v", err)
	}
}

func TestRejectedMoveReportsRollback(t *testing.T) {
	b := newBoard()
	b.fail = fmt.Errorf("%w: %w", domain.ErrRolledBack, errors.New("status 500"))
	c := NewController(b, nil)
	if _, err := c.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := c.End(context.Background(), "Done")
	if out != OutcomeRolledBack || !errors.Is(err, domain.ErrRolledBack) {
		t.Fatalf("expected rollback, got %s %v", out, err)
	}
}

func TestCancelAndUnknownTask(t *testing.T) {
	b := newBoard()
	c := NewController(b, nil)
	if _, err := c.Start(context.Background(), "missing"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := c.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Cancel()
	if _, err := c.End(context.Background(), "Done"); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture after cancel, got %v", err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("cancelled drag submitted %+v", b.submitted)
	}
}

// Moving through a real session restores the prior status when the service
// rejects it.
func TestMoveThroughReconcilerRollsBack(t *testing.T) {
	rec := reconcile.New(nil)
	rec.LoadSnapshot(domain.Board{ID: "b1"}, []domain.Task{{ID: "t1", Name: "Write", Status: domain.StatusInProgress}})
	b := &reconcilingBoard{rec: rec, err: errors.New("status 409")}
	c := NewController(b, nil)
	if _, err := c.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, _ := c.End(context.Background(), "Done")
	if out != OutcomeRolledBack {
		t.Fatalf("expected rollback, got %s", out)
	}
	if !b.sawOptimistic {
		t.Fatalf("move was not visible before the service answered")
	}
	task, _ := rec.Task("t1")
	if task.Status != domain.StatusInProgress {
		t.Fatalf("expected prior status restored, got %s", task.Status)
	}
}

type reconcilingBoard struct {
	rec           *reconcile.Reconciler
	err           error
	sawOptimistic bool
}

func (r *reconcilingBoard) Task(ctx context.Context, id string) (domain.Task, bool, error) {
	t, ok := r.rec.Task(id)
	return t, ok, nil
}

func (r *reconcilingBoard) Submit(ctx context.Context, m reconcile.Mutation) error {
	id, err := r.rec.Apply(m)
	if err != nil {
		return err
	}
	t, _ := r.rec.Task(m.TaskID)
	r.sawOptimistic = t.Status == *m.Patch.Status
	if r.err != nil {
		_ = r.rec.Rollback(id)
		return fmt.Errorf("%w: %w", domain.ErrRolledBack, r.err)
	}
	return nil
}
