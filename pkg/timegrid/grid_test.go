package timegrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelToMinutesSnapsAndClamps(t *testing.T) {
	g := DefaultGrid
	for y := -200.0; y <= 2000; y += 3.7 {
		m := g.PixelToMinutes(y, 0, 0)
		require.Zero(t, m%Quantum, "y=%v", y)
		require.GreaterOrEqual(t, m, 0)
		require.LessOrEqual(t, m, MaxStartMinutes)
	}
}

func TestPixelToMinutesAccountsForScrollAndContainer(t *testing.T) {
	g := DefaultGrid
	// 9:00 sits at 540px; container starts at 100px and is scrolled by 500px.
	assert.Equal(t, 540, g.PixelToMinutes(140, 100, 500))
	// 7px past 9:00 rounds back to 9:00, 8px rounds to 9:15.
	assert.Equal(t, 540, g.PixelToMinutes(547, 0, 0))
	assert.Equal(t, 555, g.PixelToMinutes(548, 0, 0))
	assert.Equal(t, MaxStartMinutes, g.PixelToMinutes(1439, 0, 0))
}

func TestMinutesToPixelsAndHeight(t *testing.T) {
	g := Grid{PixelsPerHour: 80}
	assert.Equal(t, 120.0, g.MinutesToPixels(90))
	assert.Equal(t, 28.0, g.BlockHeight(10))
	assert.Equal(t, 80.0, g.BlockHeight(60))
	assert.Equal(t, 60.0, DefaultGrid.BlockHeight(60))
}

func TestDensityThresholds(t *testing.T) {
	assert.False(t, ShowSubtitle(45))
	assert.True(t, ShowSubtitle(46))
	assert.False(t, ShowDescription(70))
	assert.True(t, ShowDescription(71))
}

func TestAtMinutesKeepsDayAndLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	day := time.Date(2025, 3, 10, 22, 45, 0, 0, loc)
	at := AtMinutes(day, 555)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 15, 0, 0, loc), at)
	assert.Equal(t, 555, MinutesOfDay(at))
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), StartOfDay(day))
}
