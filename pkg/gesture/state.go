// Package gesture classifies pointer sequences as clicks or drags.
//
// A gesture is an explicit state value advanced by Reduce. Pressing empty grid space starts a
// create drag immediately; pressing a block waits in PendingPress until either the pointer is
// released (a click) or the movement thresholds are crossed (a move drag).
package gesture

import (
	"math"
	"time"
)

// Point is a pointer position in client pixels.
type Point struct {
	X float64
	Y float64
}

// Sub returns p - o.
func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Target identifies the block under a press and where inside it the pointer grabbed.
type Target struct {
	BlockID string
	// Grab is the pointer offset relative to the block's top-left corner.
	Grab Point
}

// Thresholds controls drag promotion.
type Thresholds struct {
	Distance     float64
	SlowDistance float64
	Hold         time.Duration
}

// DefaultThresholds promotes after 5px, or after 150ms with more than 2px of travel.
var DefaultThresholds = Thresholds{Distance: 5, SlowDistance: 2, Hold: 150 * time.Millisecond}

func (t Thresholds) normalize() Thresholds {
	if t.Distance <= 0 {
		t.Distance = DefaultThresholds.Distance
	}
	if t.SlowDistance <= 0 {
		t.SlowDistance = DefaultThresholds.SlowDistance
	}
	if t.Hold <= 0 {
		t.Hold = DefaultThresholds.Hold
	}
	return t
}

// Crossed reports whether a press that travelled delta over elapsed becomes a drag.
func (t Thresholds) Crossed(delta Point, elapsed time.Duration) bool {
	t = t.normalize()
	dx, dy := math.Abs(delta.X), math.Abs(delta.Y)
	if dx > t.Distance || dy > t.Distance {
		return true
	}
	return elapsed > t.Hold && (dx > t.SlowDistance || dy > t.SlowDistance)
}

// State is one of Idle, PendingPress, DraggingCreate or DraggingMove.
type State interface {
	isState()
}

// Idle means no pointer is pressed.
type Idle struct{}

// PendingPress is a press on a block whose intent is not yet known.
type PendingPress struct {
	Origin Point
	At     time.Time
	Target Target
}

// DraggingCreate is a drag across empty grid space.
type DraggingCreate struct {
	Origin  Point
	Current Point
	Moved   bool
}

// DraggingMove is a drag of an existing block.
type DraggingMove struct {
	Origin  Point
	Current Point
	Target  Target
}

func (Idle) isState()           {}
func (PendingPress) isState()   {}
func (DraggingCreate) isState() {}
func (DraggingMove) isState()   {}

// Event is one of PointerDown, PointerMove or PointerUp.
type Event interface {
	isEvent()
}

// PointerDown starts an interaction. Target is nil when the press hit empty grid space.
type PointerDown struct {
	Pos    Point
	At     time.Time
	Target *Target
}

// PointerMove reports the pointer position while pressed.
type PointerMove struct {
	Pos Point
	At  time.Time
}

// PointerUp ends an interaction.
type PointerUp struct {
	Pos Point
	At  time.Time
}

func (PointerDown) isEvent() {}
func (PointerMove) isEvent() {}
func (PointerUp) isEvent()   {}

// Outcome is one of None, Click, CreateDone or MoveDone.
type Outcome interface {
	isOutcome()
}

// None means the event did not finish a gesture.
type None struct{}

// Click is a press released before any drag threshold was crossed.
type Click struct {
	Target Target
}

// CreateDone finishes a create drag.
type CreateDone struct {
	Origin Point
	End    Point
	Moved  bool
}

// MoveDone finishes a move drag.
type MoveDone struct {
	Target Target
	Origin Point
	End    Point
}

func (None) isOutcome()       {}
func (Click) isOutcome()      {}
func (CreateDone) isOutcome() {}
func (MoveDone) isOutcome()   {}

// Reduce advances state by one event. It is pure.
func Reduce(state State, ev Event, th Thresholds) (State, Outcome) {
	if state == nil {
		state = Idle{}
	}
	switch e := ev.(type) {
	case PointerDown:
		if _, idle := state.(Idle); !idle {
			return state, None{}
		}
		if e.Target == nil {
			return DraggingCreate{Origin: e.Pos, Current: e.Pos}, None{}
		}
		return PendingPress{Origin: e.Pos, At: e.At, Target: *e.Target}, None{}

	case PointerMove:
		switch s := state.(type) {
		case PendingPress:
			if th.Crossed(e.Pos.Sub(s.Origin), e.At.Sub(s.At)) {
				return DraggingMove{Origin: s.Origin, Current: e.Pos, Target: s.Target}, None{}
			}
			return s, None{}
		case DraggingCreate:
			s.Current = e.Pos
			s.Moved = true
			return s, None{}
		case DraggingMove:
			s.Current = e.Pos
			return s, None{}
		}
		return state, None{}

	case PointerUp:
		switch s := state.(type) {
		case PendingPress:
			if th.Crossed(e.Pos.Sub(s.Origin), e.At.Sub(s.At)) {
				return Idle{}, MoveDone{Target: s.Target, Origin: s.Origin, End: e.Pos}
			}
			return Idle{}, Click{Target: s.Target}
		case DraggingCreate:
			end := e.Pos
			moved := s.Moved || end != s.Origin
			return Idle{}, CreateDone{Origin: s.Origin, End: end, Moved: moved}
		case DraggingMove:
			return Idle{}, MoveDone{Target: s.Target, Origin: s.Origin, End: e.Pos}
		}
		return Idle{}, None{}
	}
	return state, None{}
}
