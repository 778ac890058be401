package animation

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/tickrace/price-engine/internal/model"
)

type fakeSurface struct {
	unavailable bool
	curves      [][]model.PriceSample
	precisions  []int
}

func (s *fakeSurface) SetCurve(_ string, points []model.PriceSample) error {
	if s.unavailable {
		return ErrSurfaceUnavailable
	}
	s.curves = append(s.curves, points)
	return nil
}

func (s *fakeSurface) SetPrecision(_ string, p int) error {
	if s.unavailable {
		return ErrSurfaceUnavailable
	}
	s.precisions = append(s.precisions, p)
	return nil
}

func deterministic() Config {
	cfg := DefaultConfig()
	cfg.MicroVolatility = 0
	cfg.Seed = "test"
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeSurface) {
	t.Helper()
	surface := &fakeSurface{}
	e, err := New(cfg, surface, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, surface
}

var t0 = time.Unix(1700000000, 0)

func frameAt(i int) time.Time {
	return t0.Add(time.Duration(i) * time.Second / 60)
}

func TestSwitch_SeedsFlatLine(t *testing.T) {
	e, surface := newTestEngine(t, deterministic())

	if err := e.Switch("SOL", 130.52, t0); err != nil {
		t.Fatalf("switch: %v", err)
	}
	st := e.Snapshot()
	if st.Phase != ColdStart {
		t.Errorf("expected COLD_START, got %s", st.Phase)
	}
	if st.Display != 130.52 || st.Target != 130.52 {
		t.Errorf("expected display=target=130.52, got %v/%v", st.Display, st.Target)
	}
	if len(st.Points) != 61 {
		t.Errorf("expected 61 seed points, got %d", len(st.Points))
	}
	if len(surface.curves) != 1 {
		t.Fatalf("expected seed curve rendered, got %d renders", len(surface.curves))
	}
	if len(surface.precisions) != 1 || surface.precisions[0] != 2 {
		t.Errorf("expected precision 2 for 130.52, got %v", surface.precisions)
	}
}

func TestSwitch_RejectsInvalidPrice(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := e.Switch("SOL", p, t0); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("price %v: expected ErrInvalidPrice, got %v", p, err)
		}
	}
}

func TestColdStart_NoStalePointsAfterSwitch(t *testing.T) {
	e, surface := newTestEngine(t, deterministic())
	e.Switch("BTC", 95400, t0)
	for i := 1; i <= 30; i++ {
		e.Enqueue("BTC", 95400+float64(i)*10)
		e.Frame(frameAt(i))
	}
	e.Enqueue("BTC", 99999)

	at := frameAt(31)
	e.Switch("SOL", 130.52, at)
	if d, _ := e.DisplayPrice(); d != 130.52 {
		t.Fatalf("expected display 130.52 right after switch, got %v", d)
	}

	res, err := e.Frame(at)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if res.Display != 130.52 {
		t.Errorf("expected frame-zero display 130.52, got %v", res.Display)
	}
	if e.Snapshot().Pending != 0 {
		t.Error("pending samples from the previous market should be discarded")
	}

	first := surface.curves[len(surface.curves)-1]
	for _, p := range first {
		if p.Value != 130.52 {
			t.Fatalf("old market point leaked into new curve: %v", p)
		}
	}
}

func TestEnqueue_Rejections(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	if err := e.Enqueue("SOL", 1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	e.Switch("SOL", 130, t0)
	if err := e.Enqueue("BTC", 95000); !errors.Is(err, ErrMarketMismatch) {
		t.Errorf("expected ErrMarketMismatch, got %v", err)
	}
	if err := e.Enqueue("SOL", math.NaN()); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if err := e.Enqueue("SOL", -3); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestFrame_LastWriteWins(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)
	e.Enqueue("SOL", 101)
	e.Enqueue("SOL", 105)
	e.Enqueue("SOL", 102)

	res, _ := e.Frame(frameAt(1))
	if res.Target != 102 {
		t.Errorf("expected target 102, got %v", res.Target)
	}
	st := e.Snapshot()
	if st.JumpMagnitude != 2 {
		t.Errorf("expected jump 2 from old target, got %v", st.JumpMagnitude)
	}
	if st.Pending != 0 {
		t.Errorf("expected queue cleared, got %d", st.Pending)
	}
}

func TestFrame_BoundedUnderLargeJump(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)
	e.Enqueue("SOL", 150)

	before, _ := e.DisplayPrice()
	for i := 1; i <= 600; i++ {
		res, err := e.Frame(frameAt(i))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if step := math.Abs(res.Display - before); step > res.MaxStep*(1+1e-9) {
			t.Fatalf("frame %d moved %v, bound %v", i, step, res.MaxStep)
		}
		if res.Display < before {
			t.Fatalf("frame %d moved away from target: %v -> %v", i, before, res.Display)
		}
		before = res.Display
	}
	if before <= 100 || before >= 150 {
		t.Errorf("expected display strictly between 100 and 150, got %v", before)
	}
}

func TestFrame_BoundedWithMicroVolatility(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = "bounded"
	e, _ := newTestEngine(t, cfg)
	e.Switch("ETH", 3250, t0)

	before, _ := e.DisplayPrice()
	prices := []float64{3250.5, 3249, 3300, 3100, 3250.01, 3250}
	for i := 1; i <= 900; i++ {
		if i%15 == 0 {
			e.Enqueue("ETH", prices[(i/15)%len(prices)])
		}
		// Irregular frame spacing, including a lag spike.
		now := t0.Add(time.Duration(i*17) * time.Millisecond)
		if i == 400 {
			now = now.Add(time.Second)
		}
		res, _ := e.Frame(now)
		if step := math.Abs(res.Display - before); step > res.MaxStep*(1+1e-9) {
			t.Fatalf("frame %d moved %v, bound %v", i, step, res.MaxStep)
		}
		if !(res.Display > 0) || math.IsInf(res.Display, 0) {
			t.Fatalf("frame %d produced invalid display %v", i, res.Display)
		}
		before = res.Display
	}
}

func TestFrame_DeltaRatio(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)

	res, _ := e.Frame(t0)
	if want := 8 / (1000.0 / 60); math.Abs(res.DeltaRatio-want) > 1e-9 {
		t.Errorf("first frame: expected %v, got %v", want, res.DeltaRatio)
	}
	res, _ = e.Frame(t0.Add(5 * time.Second))
	if res.DeltaRatio != 2 {
		t.Errorf("lag spike: expected 2, got %v", res.DeltaRatio)
	}
}

func TestFrame_JumpMagnitudePersists(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)
	e.Enqueue("SOL", 110)
	e.Frame(frameAt(1))

	for i := 2; i < 120; i++ {
		res, _ := e.Frame(frameAt(i))
		if res.Tier != "large" {
			t.Fatalf("frame %d: expected large tier throughout, got %s", i, res.Tier)
		}
	}
	if got := e.Snapshot().JumpMagnitude; got != 10 {
		t.Errorf("expected jump magnitude fixed at 10, got %v", got)
	}

	// A repeat of the same target does not reset it.
	e.Enqueue("SOL", 110)
	e.Frame(frameAt(121))
	if got := e.Snapshot().JumpMagnitude; got != 10 {
		t.Errorf("expected jump magnitude still 10, got %v", got)
	}
}

func TestFrame_SoftConvergence(t *testing.T) {
	cfg := deterministic()
	e, _ := newTestEngine(t, cfg)
	e.Switch("SOL", 100, t0)
	e.Enqueue("SOL", 100.005) // 0.005% gap, inside the convergence band

	var last FrameResult
	for i := 1; i <= 600; i++ {
		last, _ = e.Frame(frameAt(i))
	}
	if math.Abs(last.Display-100.005) > 1e-6 {
		t.Errorf("expected convergence to 100.005, got %v", last.Display)
	}
	if last.Display > 100.005 {
		t.Errorf("display overshot target: %v", last.Display)
	}
}

func TestFrame_NeverAssignsTargetDirectly(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)
	e.Enqueue("SOL", 120)
	res, _ := e.Frame(frameAt(1))
	if res.Display == 120 {
		t.Error("display jumped straight to target")
	}
}

func TestFrame_SurfaceUnavailable(t *testing.T) {
	e, surface := newTestEngine(t, deterministic())
	e.Switch("SOL", 100, t0)
	surface.unavailable = true

	e.Enqueue("SOL", 101)
	res, err := e.Frame(frameAt(1))
	if err != nil {
		t.Fatalf("unavailable surface should not fail the frame: %v", err)
	}
	if res.Rendered {
		t.Error("frame should report not rendered")
	}
	if res.Target != 101 {
		t.Errorf("sample should still be applied, target %v", res.Target)
	}

	surface.unavailable = false
	res, _ = e.Frame(frameAt(2))
	if !res.Rendered {
		t.Error("frame should render once the surface is back")
	}
}

func TestFrame_PointsCapped(t *testing.T) {
	cfg := deterministic()
	cfg.MaxPoints = 100
	cfg.SeedPoints = 61
	e, _ := newTestEngine(t, cfg)
	e.Switch("SOL", 100, t0)

	for i := 1; i <= 200; i++ {
		e.Frame(frameAt(i))
	}
	st := e.Snapshot()
	if len(st.Points) != 100 {
		t.Fatalf("expected 100 points, got %d", len(st.Points))
	}
	if st.Points[99].Time <= st.Points[0].Time {
		t.Error("points should stay in time order after eviction")
	}
	if st.Phase != Steady {
		t.Errorf("expected STEADY after frames, got %s", st.Phase)
	}
}

func TestFrame_PrecisionOnlyOnChange(t *testing.T) {
	e, surface := newTestEngine(t, deterministic())
	e.Switch("SOL", 100.0005, t0)
	for i := 1; i <= 10; i++ {
		e.Frame(frameAt(i))
	}
	if len(surface.precisions) != 1 {
		t.Errorf("expected precision sent once, got %v", surface.precisions)
	}
}

func TestFrame_NotStarted(t *testing.T) {
	e, _ := newTestEngine(t, deterministic())
	if _, err := e.Frame(t0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestFrame_Deterministic(t *testing.T) {
	run := func() []float64 {
		cfg := DefaultConfig()
		cfg.Seed = "repeat"
		e, _ := newTestEngine(t, cfg)
		e.Switch("BTC", 95400, t0)
		var out []float64
		for i := 1; i <= 100; i++ {
			if i%10 == 0 {
				e.Enqueue("BTC", 95400+float64(i))
			}
			res, _ := e.Frame(frameAt(i))
			out = append(out, res.Display)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("frame %d differs with same seed: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	bad := DefaultConfig()
	bad.LerpCap = 0
	bad.MaxPoints = 2
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
	if _, err := New(bad, nil, nil); err == nil {
		t.Error("New should reject invalid config")
	}
}
