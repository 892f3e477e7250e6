package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"board-sync/domain"
)

type fakeConn struct {
	frames    chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan string, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, errors.New("connection reset")
		}
		return websocket.TextMessage, []byte(f), nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialCall struct {
	boardID string
	token   string
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []dialCall
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, boardID, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dialCall{boardID, token})
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	states []bool
}

func (r *recorder) OnEvent(ev domain.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnConnectionChange(connected bool) {
	r.mu.Lock()
	r.states = append(r.states, connected)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]domain.ChangeEvent, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChangeEvent(nil), r.events...), append([]bool(nil), r.states...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectSamePairOpensOnce(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	m.Connect(context.Background(), "b1", "tok", rec)
	m.Connect(context.Background(), "b1", "tok", rec)

	if n := d.dials(); n != 1 {
		t.Fatalf("expected 1 dial, got %d", n)
	}
	_, states := rec.snapshot()
	if len(states) != 1 || !states[0] {
		t.Fatalf("expected a single connected notification, got %v", states)
	}
}

func TestConnectSamePairHandsLinkToNewSubscriber(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	first, second := &recorder{}, &recorder{}

	m.Connect(context.Background(), "b1", "tok", first)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	m.Connect(context.Background(), "b1", "tok", second)

	if n := d.dials(); n != 1 {
		t.Fatalf("expected 1 dial, got %d", n)
	}
	_, states := second.snapshot()
	if len(states) != 1 || !states[0] {
		t.Fatalf("expected new subscriber to learn the link is connected, got %v", states)
	}

	d.conn(0).frames <- "type=edit;resource=task;id=1;key=name;value=later"
	waitFor(t, func() bool {
		evs, _ := second.snapshot()
		return len(evs) == 1
	})
	if evs, _ := first.snapshot(); len(evs) != 0 {
		t.Fatalf("replaced subscriber still received %+v", evs)
	}

	m.Close()
	_, states = second.snapshot()
	if len(states) != 2 || states[1] {
		t.Fatalf("expected disconnect on the new subscriber, got %v", states)
	}
}

func TestConnectDifferentBoardClosesPrevious(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	first := &recorder{}
	second := &recorder{}

	m.Connect(context.Background(), "b1", "tok", first)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	prev := d.conn(0)

	m.Connect(context.Background(), "b2", "tok", second)
	if !prev.isClosed() {
		t.Fatal("previous connection must be closed before the new dial returns")
	}
	waitFor(t, func() bool { return m.State() == domain.Connected })
	if n := d.dials(); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
	_, states := first.snapshot()
	if len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("expected connected then disconnected on first link, got %v", states)
	}
}

func TestConnectDifferentTokenReconnects(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok-a", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	m.Connect(context.Background(), "b1", "tok-b", rec)
	waitFor(t, func() bool { return d.dials() == 2 && m.State() == domain.Connected })
	if !d.conn(0).isClosed() {
		t.Fatal("expected first connection closed")
	}
}

func TestConnectWithoutTokenTearsDown(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	m.Connect(context.Background(), "b1", "", rec)

	if m.State() != domain.Disconnected {
		t.Fatalf("expected disconnected, got %v", m.State())
	}
	if !d.conn(0).isClosed() {
		t.Fatal("expected connection closed")
	}
	_, states := rec.snapshot()
	if states[len(states)-1] {
		t.Fatalf("expected last state disconnected, got %v", states)
	}

	// A later valid call opens a fresh link.
	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	if n := d.dials(); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
	m.Close()
}

func TestEventsForwardedInOrderAndMalformedDropped(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	c := d.conn(0)
	c.frames <- "type=edit;resource=task;id=1;key=name;value=first"
	c.frames <- "not a notification"
	c.frames <- "type=edit;resource=task;id=1;key=status"
	c.frames <- "type=delete;resource=task;id=2;key=all"

	waitFor(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) == 3
	})
	evs, _ := rec.snapshot()
	if evs[0].Value != "first" || evs[1].Key != "status" || evs[2].Type != "delete" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestTransportFailureAllowsReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil)
	defer m.Close()
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return m.State() == domain.Connected })
	close(d.conn(0).frames)
	waitFor(t, func() bool { return m.State() == domain.Disconnected })

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool { return d.dials() == 2 && m.State() == domain.Connected })
}

func TestDialFailureReportsDisconnected(t *testing.T) {
	d := &fakeDialer{err: errors.New("refused")}
	m := NewManager(d, nil)
	rec := &recorder{}

	m.Connect(context.Background(), "b1", "tok", rec)
	waitFor(t, func() bool {
		_, states := rec.snapshot()
		return len(states) == 1
	})
	_, states := rec.snapshot()
	if states[0] {
		t.Fatal("expected disconnected notification")
	}
	if m.State() != domain.Disconnected {
		t.Fatalf("expected disconnected, got %v", m.State())
	}
}

func TestWebsocketDialerReceivesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	gotPath := make(chan string, 1)
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`type=create;resource=task;id=7;key=name;value=Write\=docs`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	m := NewManager(NewWebsocketDialer("ws"+strings.TrimPrefix(srv.URL, "http")), nil)
	defer m.Close()
	rec := &recorder{}
	m.Connect(context.Background(), "b1", "header.payload.sig", rec)

	waitFor(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) == 1
	})
	evs, states := rec.snapshot()
	if evs[0].ID != "7" || evs[0].Value != "Write=docs" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
	if len(states) == 0 || !states[0] {
		t.Fatalf("expected connected, got %v", states)
	}
	if p := <-gotPath; p != "/ws/board/b1" {
		t.Fatalf("unexpected path %s", p)
	}
	if a := <-gotAuth; a != "Bearer header.payload.sig" {
		t.Fatalf("unexpected auth header %s", a)
	}
}
