package diagnostics

import "time"

// sample 一次轮询收到的 10 Hz 样本数
type sample struct {
	at time.Time
	n  int
}

// window 定长环形缓冲，满了覆盖最旧的元素
type window struct {
	data       []sample
	head, size int
}

func newWindow(n int) *window {
	if n < 2 {
		n = 2
	}
	return &window{data: make([]sample, n)}
}

func (w *window) Len() int { return w.size }

func (w *window) Push(s sample) {
	if w.size == len(w.data) {
		w.head = (w.head + 1) % len(w.data)
		w.size--
	}
	w.data[(w.head+w.size)%len(w.data)] = s
	w.size++
}

// At 第 i 个元素，0 为最旧
func (w *window) At(i int) sample {
	return w.data[(w.head+i)%len(w.data)]
}

func (w *window) PopFront() {
	if w.size == 0 {
		return
	}
	w.head = (w.head + 1) % len(w.data)
	w.size--
}

func (w *window) Reset() {
	w.head, w.size = 0, 0
}
