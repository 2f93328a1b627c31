package gesture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func press(target string) PointerDown {
	return PointerDown{Pos: Point{X: 100, Y: 100}, At: t0, Target: &Target{BlockID: target, Grab: Point{Y: 10}}}
}

func TestReducePressReleaseIsClick(t *testing.T) {
	state, out := Reduce(Idle{}, press("b1"), DefaultThresholds)
	require.IsType(t, PendingPress{}, state)
	require.IsType(t, None{}, out)

	state, out = Reduce(state, PointerMove{Pos: Point{X: 103, Y: 104}, At: t0.Add(50 * time.Millisecond)}, DefaultThresholds)
	require.IsType(t, PendingPress{}, state)

	state, out = Reduce(state, PointerUp{Pos: Point{X: 103, Y: 104}, At: t0.Add(100 * time.Millisecond)}, DefaultThresholds)
	assert.Equal(t, Idle{}, state)
	click, ok := out.(Click)
	require.True(t, ok)
	assert.Equal(t, "b1", click.Target.BlockID)
}

func TestReduceDistancePromotesToMove(t *testing.T) {
	state, _ := Reduce(Idle{}, press("b1"), DefaultThresholds)
	state, _ = Reduce(state, PointerMove{Pos: Point{X: 100, Y: 106}, At: t0.Add(10 * time.Millisecond)}, DefaultThresholds)
	require.IsType(t, DraggingMove{}, state)

	state, out := Reduce(state, PointerUp{Pos: Point{X: 100, Y: 160}, At: t0.Add(time.Second)}, DefaultThresholds)
	assert.Equal(t, Idle{}, state)
	done, ok := out.(MoveDone)
	require.True(t, ok)
	assert.Equal(t, Point{X: 100, Y: 160}, done.End)
	assert.Equal(t, 10.0, done.Target.Grab.Y)
}

func TestReduceSlowPressPromotesAfterHold(t *testing.T) {
	state, _ := Reduce(Idle{}, press("b1"), DefaultThresholds)
	state, _ = Reduce(state, PointerMove{Pos: Point{X: 103, Y: 100}, At: t0.Add(100 * time.Millisecond)}, DefaultThresholds)
	require.IsType(t, PendingPress{}, state, "3px before the hold stays pending")

	state, _ = Reduce(state, PointerMove{Pos: Point{X: 103, Y: 100}, At: t0.Add(200 * time.Millisecond)}, DefaultThresholds)
	require.IsType(t, DraggingMove{}, state)
}

func TestReduceSlowPressWithinTwoPixelsStaysClick(t *testing.T) {
	state, _ := Reduce(Idle{}, press("b1"), DefaultThresholds)
	state, _ = Reduce(state, PointerMove{Pos: Point{X: 102, Y: 102}, At: t0.Add(time.Second)}, DefaultThresholds)
	require.IsType(t, PendingPress{}, state)
	_, out := Reduce(state, PointerUp{Pos: Point{X: 102, Y: 102}, At: t0.Add(time.Second)}, DefaultThresholds)
	assert.IsType(t, Click{}, out)
}

func TestReduceEmptyGridStartsCreate(t *testing.T) {
	state, _ := Reduce(Idle{}, PointerDown{Pos: Point{Y: 540}, At: t0}, DefaultThresholds)
	require.IsType(t, DraggingCreate{}, state)

	state, _ = Reduce(state, PointerMove{Pos: Point{Y: 600}, At: t0}, DefaultThresholds)
	_, out := Reduce(state, PointerUp{Pos: Point{Y: 620}, At: t0}, DefaultThresholds)
	done, ok := out.(CreateDone)
	require.True(t, ok)
	assert.True(t, done.Moved)
	assert.Equal(t, 540.0, done.Origin.Y)
	assert.Equal(t, 620.0, done.End.Y)
}

func TestReduceIgnoresSecondPressAndStrayUp(t *testing.T) {
	state, _ := Reduce(Idle{}, press("b1"), DefaultThresholds)
	next, _ := Reduce(state, press("b2"), DefaultThresholds)
	assert.Equal(t, state, next)

	idle, out := Reduce(Idle{}, PointerUp{}, DefaultThresholds)
	assert.Equal(t, Idle{}, idle)
	assert.IsType(t, None{}, out)
}
