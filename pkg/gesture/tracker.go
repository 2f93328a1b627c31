package gesture

// Tracker owns one gesture state and its window capture.
type Tracker struct {
	state      State
	thresholds Thresholds
	window     *Window
	capture    *Capture
}

// NewTracker builds a tracker. window may be nil when no document-level fallback exists.
func NewTracker(window *Window, th Thresholds) *Tracker {
	return &Tracker{state: Idle{}, thresholds: th.normalize(), window: window}
}

// State returns the current gesture state.
func (t *Tracker) State() State {
	return t.state
}

// Down starts a gesture and acquires the window capture; onGlobalUp is invoked if the
// pointer is released outside the element.
func (t *Tracker) Down(ev PointerDown, onGlobalUp func(PointerUp)) {
	next, _ := Reduce(t.state, ev, t.thresholds)
	if _, wasIdle := t.state.(Idle); wasIdle {
		if _, nowIdle := next.(Idle); !nowIdle && t.window != nil && onGlobalUp != nil {
			t.capture = t.window.Capture(onGlobalUp)
		}
	}
	t.state = next
}

// Move advances an active gesture.
func (t *Tracker) Move(ev PointerMove) {
	t.state, _ = Reduce(t.state, ev, t.thresholds)
}

// Up resolves the gesture and releases the capture.
func (t *Tracker) Up(ev PointerUp) Outcome {
	next, out := Reduce(t.state, ev, t.thresholds)
	t.state = next
	t.releaseCapture()
	return out
}

// Close drops any in-flight gesture and its capture.
func (t *Tracker) Close() {
	t.state = Idle{}
	t.releaseCapture()
}

func (t *Tracker) releaseCapture() {
	if t.capture != nil {
		t.capture.Release()
		t.capture = nil
	}
}
