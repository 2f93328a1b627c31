package timegrid

import (
	"math"
	"time"
)

const (
	// Quantum is the snapping granularity in minutes for every drag interaction.
	Quantum = 15
	// MinutesPerDay is the length of a day column.
	MinutesPerDay = 24 * 60
	// MaxStartMinutes is the latest snapped start inside a day column.
	MaxStartMinutes = MinutesPerDay - Quantum

	subtitleThreshold    = 45
	descriptionThreshold = 70
)

// Grid describes the vertical scale of a day column.
type Grid struct {
	PixelsPerHour  float64
	MinBlockHeight float64
}

// DefaultGrid matches the 60px/hour timeline with 28px minimum blocks.
var DefaultGrid = Grid{PixelsPerHour: 60, MinBlockHeight: 28}

// Normalize fills zero fields with defaults.
func (g Grid) Normalize() Grid {
	if g.PixelsPerHour <= 0 {
		g.PixelsPerHour = DefaultGrid.PixelsPerHour
	}
	if g.MinBlockHeight <= 0 {
		g.MinBlockHeight = DefaultGrid.MinBlockHeight
	}
	return g
}

// PixelToMinutes maps a pointer Y coordinate to a minute-of-day value snapped to the
// nearest quantum and clamped to [0, MaxStartMinutes].
func (g Grid) PixelToMinutes(clientY, containerTop, scrollOffset float64) int {
	g = g.Normalize()
	offset := clientY - containerTop + scrollOffset
	raw := offset / g.PixelsPerHour * 60
	return clampMinutes(SnapMinutes(raw))
}

// MinutesToPixels returns the vertical offset of a minute-of-day value.
func (g Grid) MinutesToPixels(minutes float64) float64 {
	g = g.Normalize()
	return minutes / 60 * g.PixelsPerHour
}

// BlockHeight returns the rendered height for a duration, never below MinBlockHeight.
func (g Grid) BlockHeight(durationMinutes float64) float64 {
	g = g.Normalize()
	return math.Max(durationMinutes/60*g.PixelsPerHour, g.MinBlockHeight)
}

// SnapMinutes rounds a raw minute value to the nearest quantum.
func SnapMinutes(raw float64) int {
	return int(math.Round(raw/Quantum)) * Quantum
}

// SnapOffset snaps a signed pixel offset, expressed in minutes, to the quantum without clamping.
func (g Grid) SnapOffset(pixels float64) int {
	g = g.Normalize()
	return SnapMinutes(pixels / g.PixelsPerHour * 60)
}

// ShowSubtitle reports whether a block is tall enough to render its time range.
func ShowSubtitle(height float64) bool {
	return height > subtitleThreshold
}

// ShowDescription reports whether a block is tall enough to render a description preview.
func ShowDescription(height float64) bool {
	return height > descriptionThreshold
}

// MinutesOfDay returns the minute-of-day of t in its own location.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AtMinutes anchors a minute-of-day value on the calendar day of day.
func AtMinutes(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, day.Location())
}

func clampMinutes(m int) int {
	if m < 0 {
		return 0
	}
	if m > MaxStartMinutes {
		return MaxStartMinutes
	}
	return m
}
