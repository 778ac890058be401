package animation

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/tickrace/price-engine/internal/speed"
)

// Config holds the engine tunables.
type Config struct {
	FrameInterval time.Duration // nominal frame spacing, 1/60 s
	MaxPoints     int           // rendered history cap
	SeedPoints    int           // flat points seeded on a market switch
	SeedSpacing   time.Duration
	Subdivisions  int // spline points inserted per interior pair

	DirectionMomentum float64 // inertia of the smoothed direction, in (0, 1]
	WarmupDuration    time.Duration
	LerpCap           float64 // hard ceiling on the per-frame lerp fraction

	// MicroVolatility is the heartbeat amplitude as a ratio of the target
	// price. Zero disables it and makes frames fully deterministic.
	MicroVolatility float64

	SoftConvergenceThreshold float64 // relative gap below which the gentle approach is used
	SoftConvergenceStep      float64
	OvershootCorrection      float64

	Tiers speed.Tiers

	// Seed feeds the heartbeat RNG. Empty uses the current time.
	Seed string
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		FrameInterval:            time.Second / 60,
		MaxPoints:                900,
		SeedPoints:               61,
		SeedSpacing:              16 * time.Millisecond,
		Subdivisions:             4,
		DirectionMomentum:        0.995,
		WarmupDuration:           3 * time.Second,
		LerpCap:                  0.01,
		MicroVolatility:          0.00001,
		SoftConvergenceThreshold: 0.0001,
		SoftConvergenceStep:      0.15,
		OvershootCorrection:      0.3,
		Tiers:                    speed.DefaultTiers(),
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []string
	if c.FrameInterval <= 0 {
		errs = append(errs, "frame interval must be positive")
	}
	if c.MaxPoints < 4 {
		errs = append(errs, "max points must be at least 4")
	}
	if c.SeedPoints < 1 || c.SeedPoints > c.MaxPoints {
		errs = append(errs, "seed points must be between 1 and max points")
	}
	if c.Subdivisions < 0 {
		errs = append(errs, "subdivisions must not be negative")
	}
	if c.DirectionMomentum <= 0 || c.DirectionMomentum > 1 {
		errs = append(errs, "direction momentum must be in (0, 1]")
	}
	if c.LerpCap <= 0 || c.LerpCap > 1 {
		errs = append(errs, "lerp cap must be in (0, 1]")
	}
	if c.MicroVolatility < 0 {
		errs = append(errs, "micro volatility must not be negative")
	}
	if c.SoftConvergenceStep < 0 || c.OvershootCorrection < 0 || c.OvershootCorrection > 1 {
		errs = append(errs, "convergence factors out of range")
	}
	if err := c.Tiers.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New("animation: invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

// newRNG seeds math/rand from a string so runs can be reproduced.
func newRNG(seed string) *rand.Rand {
	if seed == "" {
		seed = fmt.Sprint(time.Now().UnixNano())
	}
	h := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(h[:8]))))
}
