// Package board drives one open board: it loads the snapshot, keeps the live
// channel pointed at the board and routes local edits through the
// reconciler before persisting them.
//
// Every state change runs on the goroutine started by Run. Network calls
// happen off that goroutine and post their results back to it.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"board-sync/channel"
	"board-sync/domain"
	"board-sync/reconcile"
)

// Persistence is the subset of the board service the session calls.
type Persistence interface {
	GetBoard(ctx context.Context, boardID, token string) (domain.Board, error)
	ListTasks(ctx context.Context, boardID, token string, pageSize int) ([]domain.Task, error)
	CreateTask(ctx context.Context, boardID, token string, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID, taskID, token string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID, token string) error
}

// Live keeps one push subscription open.
type Live interface {
	Connect(ctx context.Context, boardID, token string, sub channel.Subscriber)
	Close()
}

// View is what renderers see.
type View struct {
	reconcile.View
	Connection string `json:"connection"`
	Loading    bool   `json:"loading"`
	Error      string `json:"error,omitempty"`
}

// Session owns the reconciler of the open board.
type Session struct {
	store    Persistence
	live     Live
	log      log.FieldLogger
	pageSize int

	ops     chan func()
	stopped chan struct{}
	stop    sync.Once
	openMu  sync.Mutex
	broker  *viewBroker

	// loop state
	rec     *reconcile.Reconciler
	gen     uint64
	boardID string
	token   string
	loading bool
	loadErr error
	conn    domain.ConnectionState
}

// New wires a session. pageSize is forwarded to task listing.
func New(store Persistence, live Live, logger log.FieldLogger, pageSize int) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		store:    store,
		live:     live,
		log:      logger,
		pageSize: pageSize,
		ops:      make(chan func()),
		stopped:  make(chan struct{}),
		broker:   newViewBroker(),
		rec:      reconcile.New(logger),
	}
}

// Run processes operations until ctx is done. It must be running before any
// other method is called.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		case op := <-s.ops:
			op()
		}
	}
}

// Close stops the loop and the live channel.
func (s *Session) Close() {
	s.shutdown()
}

func (s *Session) shutdown() {
	s.stop.Do(func() {
		close(s.stopped)
		s.live.Close()
	})
}

var errClosed = errors.New("board session closed")

// post hands fn to the loop without waiting for it to run.
func (s *Session) post(ctx context.Context, fn func()) error {
	select {
	case <-s.stopped:
		return errClosed
	default:
	}
	select {
	case s.ops <- fn:
		return nil
	case <-s.stopped:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := s.post(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return errClosed
	}
}

// Open switches to boardID. Pending mutations of the previous board are
// dropped, the live channel is re-pointed and a fresh snapshot is loaded.
// An empty board or token closes the channel and leaves the view empty.
func (s *Session) Open(ctx context.Context, boardID, token string) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	var gen uint64
	ready := boardID != "" && token != ""
	if err := s.do(ctx, func() {
		s.gen++
		gen = s.gen
		s.boardID, s.token = boardID, token
		s.rec.Reset(boardID)
		s.loading = ready
		s.loadErr = nil
		if ready {
			s.conn = domain.Connecting
		} else {
			s.conn = domain.Disconnected
		}
		s.publish()
	}); err != nil {
		return err
	}

	// Connect waits for the previous reader, which may be posting to the
	// loop, so it is never called from the loop.
	s.live.Connect(context.Background(), boardID, token, &sink{s: s, gen: gen})
	if !ready {
		return domain.ErrNoBoard
	}

	var (
		b     domain.Board
		tasks []domain.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		b, err = s.store.GetBoard(gctx, boardID, token)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = s.store.ListTasks(gctx, boardID, token, s.pageSize)
		return err
	})
	loadErr := g.Wait()

	stale := false
	if err := s.do(context.WithoutCancel(ctx), func() {
		if s.gen != gen {
			stale = true
			return
		}
		s.loading = false
		if loadErr != nil {
			s.loadErr = loadErr
		} else {
			s.rec.LoadSnapshot(b, tasks)
		}
		s.publish()
	}); err != nil {
		return err
	}
	if stale {
		return domain.ErrStaleBoard
	}
	if loadErr != nil {
		s.log.WithError(loadErr).WithField("board_id", boardID).Warn("Failed to load board")
		return fmt.Errorf("load board %s: %w", boardID, loadErr)
	}
	s.log.WithFields(log.Fields{"board_id": boardID, "tasks": len(tasks)}).Info("Board loaded")
	return nil
}

// Reload fetches the open board again.
func (s *Session) Reload(ctx context.Context) error {
	var boardID, token string
	if err := s.do(ctx, func() { boardID, token = s.boardID, s.token }); err != nil {
		return err
	}
	if boardID == "" {
		return domain.ErrNoBoard
	}
	return s.Open(ctx, boardID, token)
}

// View returns the current view.
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.view() })
	return v, err
}

// Task returns one task of the reconciled collection.
func (s *Session) Task(ctx context.Context, id string) (t domain.Task, ok bool, err error) {
	err = s.do(ctx, func() { t, ok = s.rec.Task(id) })
	return t, ok, err
}

// Subscribe returns a channel receiving the current view and every later
// one. Slow readers only see the latest view. cancel must be called once
// the reader is done.
func (s *Session) Subscribe(ctx context.Context) (<-chan View, func(), error) {
	ch := s.broker.subscribe()
	if err := s.do(ctx, func() { offer(ch, s.view()) }); err != nil {
		s.broker.unsubscribe(ch)
		return nil, nil, err
	}
	return ch, func() { s.broker.unsubscribe(ch) }, nil
}

// CreateTask adds a task. It appears once the service confirms it.
func (s *Session) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	var created domain.Task
	err := s.mutate(ctx, reconcile.Create(draft), func(ctx context.Context, boardID, token string) (*domain.Task, error) {
		t, err := s.store.CreateTask(ctx, boardID, token, draft)
		created = t
		return &t, err
	})
	return created, err
}

// EditTask applies patch locally and persists it.
func (s *Session) EditTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	var updated domain.Task
	err := s.mutate(ctx, reconcile.Edit(taskID, patch), func(ctx context.Context, boardID, token string) (*domain.Task, error) {
		t, err := s.store.UpdateTask(ctx, boardID, taskID, token, patch)
		updated = t
		return &t, err
	})
	return updated, err
}

// DeleteTask removes a task locally and persists the removal.
func (s *Session) DeleteTask(ctx context.Context, taskID string) error {
	return s.Submit(ctx, reconcile.Delete(taskID))
}

// Submit applies any mutation and persists it.
func (s *Session) Submit(ctx context.Context, m reconcile.Mutation) error {
	switch m.Kind {
	case reconcile.KindCreate:
		_, err := s.CreateTask(ctx, m.Draft)
		return err
	case reconcile.KindDelete:
		return s.mutate(ctx, m, func(ctx context.Context, boardID, token string) (*domain.Task, error) {
			return nil, s.store.DeleteTask(ctx, boardID, m.TaskID, token)
		})
	default:
		return s.mutate(ctx, m, func(ctx context.Context, boardID, token string) (*domain.Task, error) {
			t, err := s.store.UpdateTask(ctx, boardID, m.TaskID, token, m.Patch)
			return &t, err
		})
	}
}

type persistFunc func(ctx context.Context, boardID, token string) (*domain.Task, error)

func (s *Session) mutate(ctx context.Context, m reconcile.Mutation, persist persistFunc) error {
	var (
		id, boardID, token string
		gen                uint64
		applyErr           error
	)
	if err := s.do(ctx, func() {
		if s.boardID == "" || s.loading || s.loadErr != nil {
			applyErr = domain.ErrNoBoard
			return
		}
		id, applyErr = s.rec.Apply(m)
		if applyErr != nil {
			return
		}
		gen, boardID, token = s.gen, s.boardID, s.token
		s.publish()
	}); err != nil {
		return err
	}
	if applyErr != nil {
		return applyErr
	}

	server, callErr := persist(ctx, boardID, token)

	stale := false
	if err := s.do(context.WithoutCancel(ctx), func() {
		if s.gen != gen {
			stale = true
			return
		}
		if callErr != nil {
			_ = s.rec.Rollback(id)
		} else {
			_ = s.rec.Confirm(id, server)
		}
		s.publish()
	}); err != nil {
		return err
	}

	logger := s.log.WithFields(log.Fields{"board_id": boardID, "task_id": m.TaskID, "kind": m.Kind.String()})
	switch {
	case stale:
		logger.Debug("Dropped result for a board that is no longer open")
		if callErr != nil {
			return callErr
		}
		return domain.ErrStaleBoard
	case callErr != nil:
		logger.WithError(callErr).Warn("Change rolled back")
		return fmt.Errorf("%w: %w", domain.ErrRolledBack, callErr)
	}
	logger.Debug("Change confirmed")
	return nil
}

// view and publish run on the loop.
func (s *Session) view() View {
	v := View{
		View:       s.rec.View(),
		Connection: s.conn.String(),
		Loading:    s.loading,
	}
	if s.loadErr != nil {
		v.Error = s.loadErr.Error()
	}
	return v
}

func (s *Session) publish() {
	s.broker.notify(s.view())
}

// sink receives channel callbacks for one Open generation.
type sink struct {
	s   *Session
	gen uint64
}

func (k *sink) OnEvent(ev domain.ChangeEvent) {
	_ = k.s.post(context.Background(), func() {
		if k.s.gen != k.gen {
			return
		}
		if k.s.rec.ApplyRemote(ev) {
			k.s.publish()
		}
	})
}

func (k *sink) OnConnectionChange(connected bool) {
	_ = k.s.post(context.Background(), func() {
		if k.s.gen != k.gen {
			return
		}
		if connected {
			k.s.conn = domain.Connected
		} else {
			k.s.conn = domain.Disconnected
		}
		k.s.publish()
	})
}
