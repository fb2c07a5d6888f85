package engine

import "sync"

// hub 一对多分发；订阅者跟不上时丢弃并计数，从不阻塞采集
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	size   int
	closed bool
	copyFn func(T) T
	onDrop func()
}

func newHub[T any](size int, copyFn func(T) T, onDrop func()) *hub[T] {
	return &hub[T]{subs: make(map[int]chan T), size: size, copyFn: copyFn, onDrop: onDrop}
}

func (h *hub[T]) subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan T, h.size)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		out := v
		if h.copyFn != nil {
			out = h.copyFn(v)
		}
		select {
		case ch <- out:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
