// Package animation turns a bursty stream of raw prices into one smoothly
// moving display price per frame.
//
// The engine animates a single market at a time. Switch resets it to a flat
// line at the new market's price; Enqueue buffers raw samples; Frame advances
// the display price by one bounded step and hands the smoothed curve to a
// Surface.
package animation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tickrace/price-engine/internal/curve"
	"github.com/tickrace/price-engine/internal/format"
	"github.com/tickrace/price-engine/internal/model"
	"github.com/tickrace/price-engine/internal/speed"
)

var (
	// ErrSurfaceUnavailable is returned by a Surface that cannot render yet.
	// The engine skips rendering for that frame and keeps animating.
	ErrSurfaceUnavailable = errors.New("animation: render surface unavailable")

	ErrInvalidPrice   = errors.New("animation: price must be positive and finite")
	ErrMarketMismatch = errors.New("animation: sample is for another market")
	ErrNotStarted     = errors.New("animation: no market selected")
)

// Surface receives the rendered curve. It is typically a chart widget or a
// broadcaster that forwards frames to one.
type Surface interface {
	SetCurve(market string, points []model.PriceSample) error
	SetPrecision(market string, precision int) error
}

// Phase is the engine's lifecycle state for the current market.
type Phase string

const (
	ColdStart Phase = "COLD_START"
	Steady    Phase = "STEADY"
)

// FrameResult describes one advanced frame.
type FrameResult struct {
	Market     string  `json:"market"`
	Display    float64 `json:"display"`
	Target     float64 `json:"target"`
	DeltaRatio float64 `json:"delta_ratio"`
	// MaxStep is the largest move this frame was allowed, in price units.
	MaxStep  float64 `json:"max_step"`
	Tier     string  `json:"tier"`
	Rendered bool    `json:"rendered"`
}

// State is a read-only copy of the engine's animation state.
type State struct {
	Market           string
	Phase            Phase
	Display          float64
	Target           float64
	Pending          int
	Direction        float64
	JumpMagnitude    float64
	LastTargetUpdate time.Time
	LastFrame        time.Time
	Points           []model.PriceSample
}

type state struct {
	market           string
	phase            Phase
	display          float64
	target           float64
	pending          []float64
	lastTargetUpdate time.Time
	lastFrame        time.Time
	direction        float64
	jump             float64
	points           []model.PriceSample
	precision        int
}

// Engine is safe for concurrent use; Frame, Enqueue and Switch serialise on
// an internal mutex so a frame never observes a half-applied market switch.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	surface Surface
	logger  *slog.Logger
	st      state
}

// New creates an engine. surface may be nil, in which case frames are
// computed but never rendered.
func New(cfg Config, surface Surface, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		rng:     newRNG(cfg.Seed),
		surface: surface,
		logger:  logger.With(slog.String("component", "animation")),
		st:      state{precision: -1},
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// Switch resets the engine to market at price. All pending samples and
// rendered points from the previous market are discarded.
func (e *Engine) Switch(market string, price float64, now time.Time) error {
	if !validPrice(price) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.st.market
	e.st = state{
		market:           market,
		phase:            ColdStart,
		display:          price,
		target:           price,
		lastTargetUpdate: now,
		points:           curve.SeedFlat(price, e.cfg.SeedPoints, e.cfg.SeedSpacing, now),
		precision:        -1,
	}

	e.logger.Info("market switched", "from", prev, "to", market, "price", price)
	e.render()
	return nil
}

// Enqueue buffers a raw price for market. Only the newest buffered price is
// used by the next frame.
func (e *Engine) Enqueue(market string, price float64) error {
	if !validPrice(price) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.market == "" {
		return ErrNotStarted
	}
	if market != e.st.market {
		return fmt.Errorf("%w: got %s, animating %s", ErrMarketMismatch, market, e.st.market)
	}
	e.st.pending = append(e.st.pending, price)
	return nil
}

// Frame advances the display price by one frame at now.
func (e *Engine) Frame(now time.Time) (FrameResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	if st.market == "" {
		return FrameResult{}, ErrNotStarted
	}

	if st.lastFrame.IsZero() {
		st.lastFrame = now
	}
	deltaMs := float64(now.Sub(st.lastFrame)) / float64(time.Millisecond)
	st.lastFrame = now
	dr := curve.NormalizeDelta(deltaMs, float64(e.cfg.FrameInterval)/float64(time.Millisecond))

	if n := len(st.pending); n > 0 {
		newTarget := st.pending[n-1]
		if jump := math.Abs(newTarget - st.target); jump > 0 {
			st.jump = jump
		}
		st.target = newTarget
		st.lastTargetUpdate = now
		st.pending = st.pending[:0]
	}

	res := e.step(dr, now)
	st.phase = Steady

	st.points = append(st.points, model.PriceSample{Time: curve.Seconds(now), Value: st.display})
	if over := len(st.points) - e.cfg.MaxPoints; over > 0 {
		st.points = append(st.points[:0], st.points[over:]...)
	}

	res.Rendered = e.render()
	return res, nil
}

// step computes the next display price. Caller holds e.mu.
func (e *Engine) step(dr float64, now time.Time) FrameResult {
	st := &e.st
	cfg := e.cfg
	display, target := st.display, st.target

	diff := target - display
	absDiff := math.Abs(diff)

	raw := 1.0
	if diff < 0 {
		raw = -1
	}
	prev := st.direction
	if prev == 0 {
		prev = raw
	}
	st.direction = curve.Lerp(prev, raw, 1-cfg.DirectionMomentum)

	// Jump magnitude is fixed per target; it does not shrink as the gap closes.
	jump := st.jump
	if jump == 0 {
		jump = absDiff
	}
	ratio := jump / target
	profile := cfg.Tiers.Select(ratio)

	warm := speed.Warmup(now.Sub(st.lastTargetUpdate), cfg.WarmupDuration, speed.EaseInOutCubic)
	eased := math.Min(profile.LerpFactor*dr*warm, cfg.LerpCap)
	next := curve.Lerp(display, target, eased)

	micro := e.micro(st.direction, target, dr)
	next += micro

	maxStep := target * profile.MaxStep * dr
	next = clampStep(display, next, maxStep)

	if absDiff < target*cfg.SoftConvergenceThreshold {
		next = display + diff*cfg.SoftConvergenceStep*dr + micro*0.5
	}

	// Crossed the target relative to where this frame started.
	if (next-target)*(display-target) < 0 {
		next = curve.Lerp(next, target, cfg.OvershootCorrection)
	}

	// Soft convergence and the overshoot blend may not exceed the frame bound.
	next = clampStep(display, next, maxStep)

	if !validPrice(next) {
		e.logger.Warn("discarded invalid display price", "market", st.market, "candidate", next)
		next = display
	}
	st.display = next

	return FrameResult{
		Market:     st.market,
		Display:    next,
		Target:     target,
		DeltaRatio: dr,
		MaxStep:    maxStep,
		Tier:       cfg.Tiers.Name(ratio),
	}
}

// micro returns the aesthetic heartbeat offset, biased toward direction.
func (e *Engine) micro(direction, target, dr float64) float64 {
	if e.cfg.MicroVolatility == 0 {
		return 0
	}
	hb := (e.rng.Float64() - 0.5) * 2
	biased := hb*0.3 + direction*math.Abs(hb)*0.7
	return biased * e.cfg.MicroVolatility * target * math.Sqrt(dr)
}

func clampStep(from, to, maxStep float64) float64 {
	step := to - from
	if math.Abs(step) <= maxStep {
		return to
	}
	return from + math.Copysign(maxStep, step)
}

// render pushes the smoothed curve, and the precision when it changed, to the
// surface. Caller holds e.mu. Returns false when rendering was skipped.
func (e *Engine) render() bool {
	if e.surface == nil {
		return false
	}
	st := &e.st

	if err := e.surface.SetCurve(st.market, curve.BuildSmooth(st.points, e.cfg.Subdivisions)); err != nil {
		if !errors.Is(err, ErrSurfaceUnavailable) {
			e.logger.Warn("render failed", "market", st.market, "err", err)
		}
		return false
	}

	if p := format.Precision(st.display); p != st.precision {
		if err := e.surface.SetPrecision(st.market, p); err != nil {
			if !errors.Is(err, ErrSurfaceUnavailable) {
				e.logger.Warn("set precision failed", "market", st.market, "err", err)
			}
			return true
		}
		st.precision = p
	}
	return true
}

// Market returns the market being animated.
func (e *Engine) Market() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.market
}

// DisplayPrice returns the current display price and whether a market is
// selected.
func (e *Engine) DisplayPrice() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.display, e.st.market != ""
}

// Curve returns the smoothed version of the rendered points.
func (e *Engine) Curve() []model.PriceSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return curve.BuildSmooth(e.st.points, e.cfg.Subdivisions)
}

// Snapshot returns a copy of the animation state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st
	return State{
		Market:           st.market,
		Phase:            st.phase,
		Display:          st.display,
		Target:           st.target,
		Pending:          len(st.pending),
		Direction:        st.direction,
		JumpMagnitude:    st.jump,
		LastTargetUpdate: st.lastTargetUpdate,
		LastFrame:        st.lastFrame,
		Points:           append([]model.PriceSample{}, st.points...),
	}
}
