package game_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/game"
	"github.com/tickrace/price-engine/internal/market"
	"github.com/tickrace/price-engine/internal/model"
)

func do(t *testing.T, env *testEnv, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

// --- Market tests ---

func TestListMarkets(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "GET", "/api/v1/markets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	markets := decode[[]game.MarketView](t, w)
	if len(markets) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(markets))
	}
	selected := 0
	for _, m := range markets {
		if m.Selected {
			selected++
			if m.Symbol != market.SOL {
				t.Errorf("expected SOL selected, got %s", m.Symbol)
			}
		}
	}
	if selected != 1 {
		t.Errorf("expected exactly one selected market, got %d", selected)
	}
}

func TestGetMarket(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "GET", "/api/v1/markets/eth-usd", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	m := decode[game.MarketView](t, w)
	if m.Symbol != market.ETH || m.BasePrice != 3250 {
		t.Errorf("expected ETH at 3250, got %s at %v", m.Symbol, m.BasePrice)
	}
	if m.CreatedAt.IsZero() {
		t.Error("expected created_at from the store")
	}
	if m.LastPrice != nil {
		t.Errorf("expected no last price yet, got %v", *m.LastPrice)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	env := newTestEnv(t)

	if w := do(t, env, "GET", "/api/v1/markets/DOGE", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown market, got %d", w.Code)
	}
	if w := do(t, env, "GET", "/api/v1/markets/a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed symbol, got %d", w.Code)
	}
}

func TestSelectMarket(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "POST", "/api/v1/markets/select", game.SelectMarketRequest{Market: "btc"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if m := decode[game.MarketView](t, w); m.Symbol != market.BTC || !m.Selected {
		t.Errorf("expected BTC selected, got %+v", m)
	}

	w = do(t, env, "GET", "/api/v1/price", nil)
	p := decode[game.PriceView](t, w)
	if p.Market != market.BTC || p.Display != 95400 {
		t.Errorf("expected BTC at 95400, got %s at %v", p.Market, p.Display)
	}
	if p.Formatted != "95,400.0" || p.Precision != 1 {
		t.Errorf("expected 95,400.0 with precision 1, got %q / %d", p.Formatted, p.Precision)
	}
}

func TestSelectMarket_Errors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body any
		code int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing market", game.SelectMarketRequest{}, http.StatusBadRequest},
		{"unknown market", game.SelectMarketRequest{Market: "XRP"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, env, "POST", "/api/v1/markets/select", tc.body); w.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
		})
	}
}

// --- Price and curve tests ---

func TestGetCurve(t *testing.T) {
	env := newTestEnv(t)
	env.runFrames(t, 3)

	w := do(t, env, "GET", "/api/v1/curve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[struct {
		Market string              `json:"market"`
		Points []model.PriceSample `json:"points"`
	}](t, w)
	if body.Market != market.SOL {
		t.Errorf("expected SOL, got %s", body.Market)
	}
	// 61 seed points + 3 frames, smoothed with 4 subdivisions.
	if want := 64 + 61*4; len(body.Points) != want {
		t.Errorf("expected %d points, got %d", want, len(body.Points))
	}
}

// --- Bet config tests ---

func TestBetConfig_GetDefaults(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "GET", "/api/v1/bet-config", nil)
	cfg := decode[game.BetConfigResponse](t, w)
	if !cfg.Amount.Equal(decimal.NewFromInt(100)) || cfg.Leverage != 10 || cfg.DurationSeconds != 10 {
		t.Errorf("expected 100 @ 10x for 10s, got %s @ %dx for %vs", cfg.Amount, cfg.Leverage, cfg.DurationSeconds)
	}
	if len(cfg.Leverages) != 5 || len(cfg.DurationOptions) != 5 {
		t.Errorf("expected 5 leverage and 5 duration options, got %v / %v", cfg.Leverages, cfg.DurationOptions)
	}
}

func TestBetConfig_PutPartial(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "PUT", "/api/v1/bet-config", `{"leverage": 100}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cfg := decode[game.BetConfigResponse](t, w)
	if cfg.Leverage != 100 || !cfg.Amount.Equal(decimal.NewFromInt(100)) || cfg.DurationSeconds != 10 {
		t.Errorf("expected only leverage to change, got %+v", cfg.BetConfigBody)
	}
	if got := env.session.BetConfig(); got.Leverage != 100 || got.Duration != 10*time.Second {
		t.Errorf("expected session bet config updated, got %+v", got)
	}
}

func TestBetConfig_PutInvalid(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"leverage not offered", `{"leverage": 3}`},
		{"duration not offered", `{"duration_seconds": 12}`},
		{"amount too large", `{"amount": "10001"}`},
		{"amount zero", `{"amount": 0}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, env, "PUT", "/api/v1/bet-config", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if got := env.session.BetConfig(); got.Leverage != 10 {
		t.Errorf("expected bet config untouched, got %+v", got)
	}
}

// --- Wager tests ---

func TestPlaceWager(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "POST", "/api/v1/wagers", game.PlaceWagerRequest{Direction: model.Up})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	wager := decode[model.Wager](t, w)
	if wager.Direction != model.Up || wager.Result != model.Pending || wager.EntryPrice != 130.52 {
		t.Errorf("unexpected wager %+v", wager)
	}

	w = do(t, env, "GET", "/api/v1/wagers/active", nil)
	if active := decode[[]model.Wager](t, w); len(active) != 1 || active[0].ID != wager.ID {
		t.Errorf("expected the wager to be active, got %+v", active)
	}

	w = do(t, env, "GET", "/api/v1/ledger", nil)
	led := decode[model.PlayerLedger](t, w)
	if !led.Balance.Equal(decimal.NewFromInt(4900)) {
		t.Errorf("expected balance 4900, got %s", led.Balance)
	}
}

func TestPlaceWager_InvalidDirection(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env, "POST", "/api/v1/wagers", `{"direction":"SIDEWAYS"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "UP or DOWN") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestPlaceWager_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)

	if w := do(t, env, "PUT", "/api/v1/bet-config", `{"amount": "6000"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := do(t, env, "POST", "/api/v1/wagers", game.PlaceWagerRequest{Direction: model.Down})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "insufficient funds") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestLedger_HistoryAfterSettlement(t *testing.T) {
	env := newTestEnv(t)

	for _, dir := range []model.Direction{model.Up, model.Down} {
		if w := do(t, env, "POST", "/api/v1/wagers", game.PlaceWagerRequest{Direction: dir}); w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		env.clock.Advance(time.Second)
	}
	env.clock.Advance(10 * time.Second)
	env.session.Sweep(env.clock.Now())

	w := do(t, env, "GET", "/api/v1/ledger", nil)
	led := decode[model.PlayerLedger](t, w)
	if len(led.ActiveWagers) != 0 || len(led.History) != 2 {
		t.Fatalf("expected 0 active and 2 settled, got %d / %d", len(led.ActiveWagers), len(led.History))
	}
	// Newest first.
	if led.History[0].ID != "w2" || led.History[1].ID != "w1" {
		t.Errorf("expected history [w2 w1], got [%s %s]", led.History[0].ID, led.History[1].ID)
	}
}
