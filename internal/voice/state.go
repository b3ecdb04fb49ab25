package voice

import "sync"

// State is the observable voice session state.
type State struct {
	Listening  bool   `json:"listening"`
	Speaking   bool   `json:"speaking"`
	Supported  bool   `json:"supported"`
	Transcript string `json:"transcript"`
}

// watchers fans state snapshots out to subscribers. Each subscriber channel
// holds only the latest state; slow readers skip intermediate ones.
type watchers struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan State
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[int]chan State)}
}

func (w *watchers) add(initial State) (<-chan State, func()) {
	ch := make(chan State, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- initial
	id := w.next
	w.next++
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if sub, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(sub)
			}
		})
	}
}

func (w *watchers) publish(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (w *watchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}
