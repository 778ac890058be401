package feed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/tickrace/price-engine/internal/model"
)

// PriceFloor is the lowest price the simulator will produce.
const PriceFloor = 0.01

const (
	simStartup        = 2 * time.Second
	counterForceRatio = 0.6
	counterForceGain  = 0.15
)

// Volatility shapes one market's random walk.
type Volatility struct {
	Base        float64 // acceleration scale, as a ratio of price
	Trend       float64 // trend strength, as a ratio of price
	Friction    float64 // velocity retained per step
	MaxVelocity float64 // velocity clamp, as a ratio of price
}

var volatilities = map[string]Volatility{
	"BTC": {Base: 0.00025, Trend: 0.00006, Friction: 0.998, MaxVelocity: 0.0008},
	"ETH": {Base: 0.00022, Trend: 0.00005, Friction: 0.9975, MaxVelocity: 0.0007},
	"SOL": {Base: 0.00028, Trend: 0.00007, Friction: 0.997, MaxVelocity: 0.0009},
}

// VolatilityFor returns the walk parameters for symbol. Unlisted symbols use
// SOL's.
func VolatilityFor(symbol string) Volatility {
	if v, ok := volatilities[symbol]; ok {
		return v
	}
	return volatilities["SOL"]
}

// Walker is a single market's momentum random walk.
type Walker struct {
	vol      Volatility
	rng      *rand.Rand
	price    float64
	velocity float64
	trend    float64
}

// NewWalker starts a walk at price.
func NewWalker(price float64, vol Volatility, rng *rand.Rand) *Walker {
	return &Walker{vol: vol, rng: rng, price: price}
}

// Price returns the current price.
func (w *Walker) Price() float64 { return w.price }

// Step advances the walk once. sinceStart ramps volatility in quadratically
// over the first two seconds.
func (w *Walker) Step(sinceStart time.Duration) float64 {
	v := w.vol
	ramp := 1.0
	if sinceStart < simStartup {
		r := float64(sinceStart) / float64(simStartup)
		ramp = r * r
	}

	w.trend = (w.rng.Float64() - 0.5) * 0.015 * ramp

	maxVel := w.price * v.MaxVelocity

	// Random impulse, stronger when already moving fast.
	velFactor := 0.0
	if maxVel > 0 {
		velFactor = math.Min(math.Abs(w.velocity)/maxVel, 1)
	}
	w.velocity += (w.rng.Float64() - 0.5) * w.price * v.Base * (0.3 + velFactor*0.4) * ramp

	w.velocity += (w.rng.Float64() - 0.5) * w.price * v.Base * ramp
	w.velocity += w.trend * w.price * v.Trend * ramp * 0.5

	if threshold := maxVel * counterForceRatio; math.Abs(w.velocity) > threshold {
		excess := math.Abs(w.velocity) - threshold
		w.velocity -= math.Copysign(excess*counterForceGain, w.velocity)
	}

	w.velocity *= v.Friction
	w.velocity = math.Max(-maxVel, math.Min(maxVel, w.velocity))

	w.price += w.velocity
	if w.price < PriceFloor {
		w.price = PriceFloor
		w.velocity = math.Abs(w.velocity)
	}
	return w.price
}

// SimSource emits a random walk for every configured market.
type SimSource struct {
	markets  []model.Market
	interval time.Duration
	seed     string
}

// NewSimSource creates a simulator starting each market at its base price.
// An empty seed uses the current time.
func NewSimSource(markets []model.Market, interval time.Duration, seed string) *SimSource {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &SimSource{markets: markets, interval: interval, seed: seed}
}

func (s *SimSource) Name() string { return "sim" }

// Run emits one sample per market every interval.
func (s *SimSource) Run(ctx context.Context, emit Emit) error {
	walkers := make([]*Walker, len(s.markets))
	for i, m := range s.markets {
		walkers[i] = NewWalker(m.BasePrice, VolatilityFor(m.Symbol), seededRNG(s.seed, m.Symbol))
	}

	start := time.Now()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			for i, w := range walkers {
				emit(Sample{Market: s.markets[i].Symbol, Price: w.Step(elapsed), Timestamp: now})
			}
		}
	}
}

func seededRNG(seed, symbol string) *rand.Rand {
	if seed == "" {
		seed = fmt.Sprint(time.Now().UnixNano())
	}
	h := sha256.Sum256([]byte(seed + ":" + symbol))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(h[:8]))))
}
