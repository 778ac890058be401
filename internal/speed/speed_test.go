package speed

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestSelect_Tiers(t *testing.T) {
	tiers := DefaultTiers()
	tests := []struct {
		ratio float64
		name  string
	}{
		{0, "tiny"},
		{0.00005, "tiny"},
		{0.0001, "small"},
		{0.0005, "small"},
		{0.005, "medium"},
		{0.01, "large"},
		{0.5, "large"},
		{math.NaN(), "tiny"},
		{-1, "tiny"},
		{math.Inf(1), "large"},
	}
	for _, tt := range tests {
		if got := tiers.Name(tt.ratio); got != tt.name {
			t.Errorf("ratio %v: expected %s, got %s", tt.ratio, tt.name, got)
		}
	}
}

func TestSelect_Monotonic(t *testing.T) {
	tiers := DefaultTiers()
	prev := tiers.Select(0)
	for ratio := 0.0; ratio < 0.1; ratio += 0.00001 {
		p := tiers.Select(ratio)
		if p.LerpFactor < prev.LerpFactor || p.MaxStep < prev.MaxStep {
			t.Fatalf("profile decreased at ratio %v: %+v after %+v", ratio, p, prev)
		}
		prev = p
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultTiers().Validate(); err != nil {
		t.Fatalf("default tiers should validate, got %v", err)
	}

	if err := (Tiers{}).Validate(); !errors.Is(err, ErrNoTiers) {
		t.Errorf("expected ErrNoTiers, got %v", err)
	}

	unordered := DefaultTiers()
	unordered[1].Below = unordered[0].Below
	if err := unordered.Validate(); !errors.Is(err, ErrTierOrder) {
		t.Errorf("expected ErrTierOrder, got %v", err)
	}

	slower := DefaultTiers()
	slower[2].Profile.MaxStep = 0
	if err := slower.Validate(); !errors.Is(err, ErrTierSpeeds) {
		t.Errorf("expected ErrTierSpeeds, got %v", err)
	}
}

func TestWarmup_Bounds(t *testing.T) {
	d := 3 * time.Second
	if got := Warmup(0, d, EaseInOutCubic); got != WarmupFloor {
		t.Errorf("expected %v at start, got %v", WarmupFloor, got)
	}
	if got := Warmup(d, d, EaseInOutCubic); got != 1 {
		t.Errorf("expected 1 at end, got %v", got)
	}
	if got := Warmup(10*d, d, EaseInOutCubic); got != 1 {
		t.Errorf("expected 1 past end, got %v", got)
	}
	if got := Warmup(-time.Second, d, nil); got != WarmupFloor {
		t.Errorf("negative elapsed should clamp to floor, got %v", got)
	}
	if got := Warmup(d/2, d, nil); math.Abs(got-0.6) > 1e-12 {
		t.Errorf("expected 0.6 halfway, got %v", got)
	}
}

func TestWarmup_NonDecreasing(t *testing.T) {
	d := 3 * time.Second
	prev := 0.0
	for ms := 0; ms <= 3500; ms += 10 {
		w := Warmup(time.Duration(ms)*time.Millisecond, d, EaseInOutQuart)
		if w < prev {
			t.Fatalf("warmup decreased at %dms: %v < %v", ms, w, prev)
		}
		if w < WarmupFloor || w > 1 {
			t.Fatalf("warmup out of range at %dms: %v", ms, w)
		}
		prev = w
	}
}

func TestEasing_Midpoints(t *testing.T) {
	if got := EaseInOutCubic(0.5); got != 0.5 {
		t.Errorf("cubic(0.5): expected 0.5, got %v", got)
	}
	if got := EaseInOutQuart(0.5); got != 0.5 {
		t.Errorf("quart(0.5): expected 0.5, got %v", got)
	}
}
