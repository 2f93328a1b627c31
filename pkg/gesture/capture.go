package gesture

import "sync"

// Window fans a document-level pointer-up out to the gestures currently holding a capture.
type Window struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]func(PointerUp)
}

// NewWindow constructs an empty window.
func NewWindow() *Window {
	return &Window{subs: make(map[uint64]func(PointerUp))}
}

// Capture subscribes fn to pointer-up until the returned capture is released.
func (w *Window) Capture(fn func(PointerUp)) *Capture {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	id := w.next
	w.subs[id] = fn
	return &Capture{window: w, id: id}
}

// DispatchUp delivers a pointer-up to every active capture.
func (w *Window) DispatchUp(ev PointerUp) {
	w.mu.Lock()
	fns := make([]func(PointerUp), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Active returns the number of live captures.
func (w *Window) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *Window) release(id uint64) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// Capture is a scoped pointer-up subscription.
type Capture struct {
	window *Window
	id     uint64
	once   sync.Once
}

// Release unsubscribes. Calling it more than once is a no-op.
func (c *Capture) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() { c.window.release(c.id) })
}
