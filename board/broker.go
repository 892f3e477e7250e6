package board

import "sync"

// viewBroker fans views out to renderers. Each subscriber holds at most one
// undelivered view; a newer view replaces it.
type viewBroker struct {
	mu   sync.Mutex
	subs map[chan View]struct{}
}

func newViewBroker() *viewBroker {
	return &viewBroker{subs: make(map[chan View]struct{})}
}

func (b *viewBroker) subscribe() chan View {
	ch := make(chan View, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *viewBroker) unsubscribe(ch chan View) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *viewBroker) notify(v View) {
	b.mu.Lock()
	for ch := range b.subs {
		offer(ch, v)
	}
	b.mu.Unlock()
}

func offer(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
