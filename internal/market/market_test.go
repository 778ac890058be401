package market

import (
	"errors"
	"testing"

	"github.com/tickrace/price-engine/internal/model"
)

func TestParseSymbol_Valid(t *testing.T) {
	tests := map[string]string{
		"SOL":      "SOL",
		"sol":      "SOL",
		" btc ":    "BTC",
		"ETH-USD":  "ETH",
		"BTC/USDT": "BTC",
		"sol-usdc": "SOL",
	}
	for in, want := range tests {
		got, err := ParseSymbol(in)
		if err != nil {
			t.Errorf("ParseSymbol(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSymbol(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestParseSymbol_Invalid(t *testing.T) {
	for _, in := range []string{"", "S", "SOL-EUR", "SOL--USD", "S O L", "SOLANAAAAAAA"} {
		if _, err := ParseSymbol(in); !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("ParseSymbol(%q): expected ErrInvalidSymbol, got %v", in, err)
		}
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := r.Get("sol-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.BasePrice != 130.52 {
		t.Errorf("expected SOL base 130.52, got %v", m.BasePrice)
	}

	syms := r.Symbols()
	if len(syms) != 3 || syms[0] != BTC || syms[1] != ETH || syms[2] != SOL {
		t.Errorf("expected [BTC ETH SOL], got %v", syms)
	}
	if !r.Has(DefaultMarket) {
		t.Error("default market should be registered")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	r, _ := NewRegistry(Defaults()...)
	if _, err := r.Get("DOGE"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestRegistry_RejectsBadPrice(t *testing.T) {
	_, err := NewRegistry(model.Market{Symbol: "SUI", BasePrice: 0})
	if !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}
