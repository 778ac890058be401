// Package curve turns sparse price samples into a visually smooth line.
//
// Everything here is pure: no state, no side effects.
package curve

import (
	"math"
	"slices"
	"time"

	"github.com/tickrace/price-engine/internal/model"
)

// MinDeltaMs is the floor applied to a frame delta before normalisation.
const MinDeltaMs = 8.0

// MaxDeltaRatio caps the normalised delta to absorb lag spikes.
const MaxDeltaRatio = 2.0

// Lerp returns the linear interpolation between a and b at t.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// CatmullRom evaluates the uniform Catmull-Rom basis through p0..p3 at t.
// The curve passes through p1 at t=0 and p2 at t=1.
//
// The basis is evaluated on offsets from p1 so a flat window returns p1
// exactly.
func CatmullRom(p0, p1, p2, p3, t float64) float64 {
	a, b, c := p0-p1, p2-p1, p3-p1
	t2 := t * t
	t3 := t2 * t
	return p1 + 0.5*((b-a)*t+
		(2*a+4*b-c)*t2+
		(-a-3*b+c)*t3)
}

// BuildSmooth inserts subdivisions interpolated points between each interior
// pair of points. Original points are preserved in order. The first and last
// pairs are emitted as-is since there is no data to interpolate past.
//
// With fewer than 4 points the input is returned unchanged.
func BuildSmooth(points []model.PriceSample, subdivisions int) []model.PriceSample {
	if len(points) < 4 || subdivisions <= 0 {
		return slices.Clone(points)
	}

	n := len(points)
	out := make([]model.PriceSample, 0, n+(n-3)*subdivisions)
	out = append(out, points[0], points[1])

	for i := 0; i < n-3; i++ {
		p0, p1, p2, p3 := points[i], points[i+1], points[i+2], points[i+3]
		for k := 1; k <= subdivisions; k++ {
			t := float64(k) / float64(subdivisions+1)
			out = append(out, model.PriceSample{
				Time:  Lerp(p1.Time, p2.Time, t),
				Value: CatmullRom(p0.Value, p1.Value, p2.Value, p3.Value, t),
			})
		}
		out = append(out, p2)
	}

	return append(out, points[n-1])
}

// NormalizeDelta converts a frame delta into a ratio of the nominal frame
// interval, floored at MinDeltaMs and capped at MaxDeltaRatio.
func NormalizeDelta(deltaMs, frameMs float64) float64 {
	if frameMs <= 0 || math.IsNaN(deltaMs) {
		return 1
	}
	return math.Min(math.Max(deltaMs, MinDeltaMs)/frameMs, MaxDeltaRatio)
}

// SeedFlat returns count identical points at price, spaced by spacing and
// ending at now.
func SeedFlat(price float64, count int, spacing time.Duration, now time.Time) []model.PriceSample {
	if count <= 0 {
		return nil
	}
	end := Seconds(now)
	step := spacing.Seconds()
	points := make([]model.PriceSample, 0, count)
	for i := count - 1; i >= 0; i-- {
		points = append(points, model.PriceSample{
			Time:  end - float64(i)*step,
			Value: price,
		})
	}
	return points
}

// Seconds converts a wall-clock time into fractional unix seconds.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
