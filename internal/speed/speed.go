// Package speed selects how aggressively the displayed price may move toward
// its target, based on how large the last real price jump was.
package speed

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// WarmupFloor is the minimum warmup factor returned right after a new target.
const WarmupFloor = 0.2

var (
	ErrNoTiers    = errors.New("speed: at least one tier is required")
	ErrTierOrder  = errors.New("speed: tier thresholds must be strictly ascending")
	ErrTierSpeeds = errors.New("speed: tier speeds must not decrease")
)

// Profile is the interpolation aggressiveness for one tier.
type Profile struct {
	// LerpFactor is the per-frame fraction of the remaining gap to close.
	LerpFactor float64 `toml:"lerp_factor" json:"lerp_factor"`

	// MaxStep is the largest per-frame move, as a ratio of the target price.
	MaxStep float64 `toml:"max_step" json:"max_step"`
}

// Tier applies Profile to every change ratio strictly below Below.
type Tier struct {
	Name    string  `toml:"name"`
	Below   float64 `toml:"below"`
	Profile Profile `toml:"profile"`
}

// Tiers is ordered by ascending threshold. The last tier catches everything.
type Tiers []Tier

// DefaultTiers returns the four-tier table: tiny (<0.01%), small (<0.1%),
// medium (<1%) and large.
func DefaultTiers() Tiers {
	return Tiers{
		{Name: "tiny", Below: 0.0001, Profile: Profile{LerpFactor: 0.0001, MaxStep: 0.000002}},
		{Name: "small", Below: 0.001, Profile: Profile{LerpFactor: 0.0003, MaxStep: 0.000005}},
		{Name: "medium", Below: 0.01, Profile: Profile{LerpFactor: 0.001, MaxStep: 0.00002}},
		{Name: "large", Below: math.Inf(1), Profile: Profile{LerpFactor: 0.003, MaxStep: 0.00006}},
	}
}

// Select returns the profile for changeRatio = |lastJump| / target.
// NaN and negative ratios fall into the first tier.
func (t Tiers) Select(changeRatio float64) Profile {
	if len(t) == 0 {
		return Profile{}
	}
	if math.IsNaN(changeRatio) || changeRatio < 0 {
		return t[0].Profile
	}
	for _, tier := range t {
		if changeRatio < tier.Below {
			return tier.Profile
		}
	}
	return t[len(t)-1].Profile
}

// Name returns the tier name selected for changeRatio.
func (t Tiers) Name(changeRatio float64) string {
	if len(t) == 0 {
		return ""
	}
	if math.IsNaN(changeRatio) || changeRatio < 0 {
		return t[0].Name
	}
	for _, tier := range t {
		if changeRatio < tier.Below {
			return tier.Name
		}
	}
	return t[len(t)-1].Name
}

// Validate checks that larger change ratios never select slower profiles.
func (t Tiers) Validate() error {
	if len(t) == 0 {
		return ErrNoTiers
	}
	for i := 1; i < len(t); i++ {
		prev, cur := t[i-1], t[i]
		if !(cur.Below > prev.Below) {
			return fmt.Errorf("%w: %s (%v) after %s (%v)", ErrTierOrder, cur.Name, cur.Below, prev.Name, prev.Below)
		}
		if cur.Profile.LerpFactor < prev.Profile.LerpFactor || cur.Profile.MaxStep < prev.Profile.MaxStep {
			return fmt.Errorf("%w: %s is slower than %s", ErrTierSpeeds, cur.Name, prev.Name)
		}
	}
	return nil
}

// Easing maps progress in [0, 1] onto [0, 1].
type Easing func(t float64) float64

// EaseInOutCubic accelerates until halfway then decelerates.
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// EaseInOutQuart is a steeper variant of EaseInOutCubic.
func EaseInOutQuart(t float64) float64 {
	if t < 0.5 {
		return 8 * t * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 4)/2
}

// Warmup returns a factor in [WarmupFloor, 1] for the time elapsed since the
// last target update. A nil ease uses EaseInOutCubic.
func Warmup(elapsed, duration time.Duration, ease Easing) float64 {
	if duration <= 0 {
		return 1
	}
	if ease == nil {
		ease = EaseInOutCubic
	}
	progress := float64(elapsed) / float64(duration)
	progress = math.Max(0, math.Min(progress, 1))
	return WarmupFloor + (1-WarmupFloor)*ease(progress)
}
