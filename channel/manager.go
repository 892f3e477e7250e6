// Package channel maintains the live push-notification link of the board that
// is currently open.
package channel

import (
	"context"
	"sync"

	"github.com/fasthttp/websocket"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/notify"
)

// Subscriber receives decoded events and connection state changes. Calls are
// made from a single goroutine per link, in arrival order.
// Subscriber receives the events of the active link. Implementations must be
// comparable, typically pointers.
type Subscriber interface {
	OnEvent(ev domain.ChangeEvent)
	OnConnectionChange(connected bool)
}

// Conn is a receive-only transport connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens transport connections scoped to one board.
type Dialer interface {
	Dial(ctx context.Context, boardID, token string) (Conn, error)
}

type identity struct {
	boardID string
	token   string
}

type link struct {
	id     identity
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	sub    Subscriber
	conn   Conn
	closed bool
}

func (l *link) subscriber() Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sub
}

// setSubscriber reports whether sub replaced a different subscriber.
func (l *link) setSubscriber(sub Subscriber) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == sub {
		return false
	}
	l.sub = sub
	return true
}

func (l *link) attach(c Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conn = c
	return true
}

// shutdown closes the link and waits for its reader to stop.
func (l *link) shutdown() {
	if l == nil {
		return
	}
	l.cancel()
	l.mu.Lock()
	l.closed = true
	c := l.conn
	l.mu.Unlock()
	if c != nil {
		c.Close()
	}
	<-l.done
}

// Manager owns at most one live link, keyed by board and credential.
type Manager struct {
	dialer Dialer
	log    log.FieldLogger

	// connectMu serialises Connect and Close so teardown of the previous
	// link always completes before the next dial starts.
	connectMu sync.Mutex

	mu     sync.Mutex
	active *link
	state  domain.ConnectionState
}

// NewManager creates a Manager dialing through d.
func NewManager(d Dialer, logger log.FieldLogger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{dialer: d, log: logger}
}

// Connect makes sure exactly one link for (boardID, token) is open. A link
// for the same pair that is connecting or connected is kept and handed to
// sub; if it is already connected sub is told so right away. An empty
// board or token tears down whatever is open and reports disconnected.
// The link lives until Close, the next Connect for another pair, a transport
// failure, or cancellation of ctx.
func (m *Manager) Connect(ctx context.Context, boardID, token string, sub Subscriber) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if boardID == "" || token == "" {
		m.detach().shutdown()
		m.log.WithField("board", boardID).Debug("live channel not opened: board or token missing")
		if sub != nil {
			sub.OnConnectionChange(false)
		}
		return
	}

	id := identity{boardID: boardID, token: token}
	m.mu.Lock()
	if cur := m.active; cur != nil && cur.id == id {
		connected := m.state == domain.Connected
		m.mu.Unlock()
		replaced := cur.setSubscriber(sub)
		m.log.WithField("board", boardID).Debug("live channel already open")
		if replaced && connected {
			sub.OnConnectionChange(true)
		}
		return
	}
	m.mu.Unlock()

	if prev := m.detach(); prev != nil {
		m.log.WithField("board", prev.id.boardID).Info("closing live channel before opening a new one")
		prev.shutdown()
	}

	linkCtx, cancel := context.WithCancel(ctx)
	l := &link{id: id, sub: sub, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.active = l
	m.state = domain.Connecting
	m.mu.Unlock()

	go m.run(linkCtx, l)
}

// Close tears down the active link, if any. A later Connect opens a fresh one.
func (m *Manager) Close() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.detach().shutdown()
}

// State reports the state of the active link.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) detach() *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = nil
	m.state = domain.Disconnected
	return prev
}

func (m *Manager) markConnected(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != l {
		return false
	}
	m.state = domain.Connected
	return true
}

// finish forgets l if it is still the active link so that the same pair can
// be connected again after a transport failure.
func (m *Manager) finish(l *link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == l {
		m.active = nil
		m.state = domain.Disconnected
	}
}

func (m *Manager) run(ctx context.Context, l *link) {
	defer close(l.done)
	defer func() { l.subscriber().OnConnectionChange(false) }()
	defer m.finish(l)

	logger := m.log.WithField("board", l.id.boardID)
	conn, err := m.dialer.Dial(ctx, l.id.boardID, l.id.token)
	if err != nil {
		logger.WithError(err).Warn("live channel dial failed")
		return
	}
	if !l.attach(conn) {
		conn.Close()
		return
	}
	defer conn.Close()
	if !m.markConnected(l) {
		return
	}
	logger.Info("live channel opened")
	l.subscriber().OnConnectionChange(true)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("live channel closed")
			} else {
				logger.WithError(err).Warn("live channel lost")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, ok := notify.Decode(string(data))
		if !ok {
			logger.WithField("raw", string(data)).Debug("dropping malformed notification")
			continue
		}
		logger.WithFields(log.Fields{"type": ev.Type, "resource": ev.Resource, "id": ev.ID, "key": ev.Key}).Debug("notification received")
		l.subscriber().OnEvent(ev)
	}
}
