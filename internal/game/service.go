package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/ledger"
	"github.com/tickrace/price-engine/internal/limits"
	"github.com/tickrace/price-engine/internal/market"
	"github.com/tickrace/price-engine/internal/model"
	"github.com/tickrace/price-engine/internal/store"
)

// Service exposes a Session over HTTP.
type Service struct {
	session  *Session
	store    store.Store
	registry *market.Registry
}

// NewService creates the HTTP handlers for session.
func NewService(session *Session, st store.Store, registry *market.Registry) *Service {
	return &Service{session: session, store: st, registry: registry}
}

// Routes mounts the API under r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{symbol}", s.GetMarket)
	r.Post("/markets/select", s.SelectMarket)
	r.Get("/price", s.GetPrice)
	r.Get("/curve", s.GetCurve)
	r.Get("/bet-config", s.GetBetConfig)
	r.Put("/bet-config", s.PutBetConfig)
	r.Post("/wagers", s.PlaceWager)
	r.Get("/wagers/active", s.ActiveWagers)
	r.Get("/ledger", s.GetLedger)
}

// --- Request/Response types ---

// MarketView is a market with its last raw price, if any.
type MarketView struct {
	model.Market
	LastPrice *float64 `json:"last_price,omitempty"`
	Selected  bool     `json:"selected"`
}

// SelectMarketRequest is the JSON body for POST /markets/select.
type SelectMarketRequest struct {
	Market string `json:"market"`
}

// BetConfigBody is the JSON form of BetConfig.
type BetConfigBody struct {
	Amount          decimal.Decimal `json:"amount"`
	Leverage        int             `json:"leverage"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// BetConfigResponse also lists the allowed options.
type BetConfigResponse struct {
	BetConfigBody
	Leverages       []int           `json:"leverages"`
	DurationOptions []float64       `json:"duration_options"`
	MinAmount       decimal.Decimal `json:"min_amount"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
}

// PlaceWagerRequest is the JSON body for POST /wagers.
type PlaceWagerRequest struct {
	Direction model.Direction `json:"direction"`
}

// --- HTTP Handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	selected := s.session.Market()
	markets := s.registry.List()
	out := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, s.marketView(r.Context(), m, selected))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMarket handles GET /api/v1/markets/{symbol}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The store holds created_at; the registry is authoritative otherwise.
	if stored, err := s.store.GetMarket(r.Context(), m.Symbol); err == nil {
		m.CreatedAt = stored.CreatedAt
	}
	writeJSON(w, http.StatusOK, s.marketView(r.Context(), m, s.session.Market()))
}

func (s *Service) marketView(ctx context.Context, m model.Market, selected string) MarketView {
	v := MarketView{Market: m, Selected: m.Symbol == selected}
	if p, ok := s.session.LastRawPrice(m.Symbol); ok {
		v.LastPrice = &p
	} else if lp, err := s.store.LastPrice(ctx, m.Symbol); err == nil {
		v.LastPrice = &lp.Price
	}
	return v
}

// SelectMarket handles POST /api/v1/markets/select
func (s *Service) SelectMarket(w http.ResponseWriter, r *http.Request) {
	var req SelectMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Market == "" {
		writeError(w, "market is required", http.StatusBadRequest)
		return
	}

	m, err := s.session.SwitchMarket(r.Context(), req.Market)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(r.Context(), m, m.Symbol))
}

// GetPrice handles GET /api/v1/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := s.session.Price()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetCurve handles GET /api/v1/curve
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"market": s.session.Market(),
		"points": s.session.Curve(),
	})
}

// GetBetConfig handles GET /api/v1/bet-config
func (s *Service) GetBetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.betConfigResponse())
}

// PutBetConfig handles PUT /api/v1/bet-config. Omitted fields keep their
// current value.
func (s *Service) PutBetConfig(w http.ResponseWriter, r *http.Request) {
	cur := s.session.BetConfig()
	body := BetConfigBody{
		Amount:          cur.Amount,
		Leverage:        cur.Leverage,
		DurationSeconds: cur.Duration.Seconds(),
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	next := BetConfig{
		Amount:   body.Amount,
		Leverage: body.Leverage,
		Duration: time.Duration(body.DurationSeconds * float64(time.Second)),
	}
	if err := s.session.SetBetConfig(next); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.betConfigResponse())
}

func (s *Service) betConfigResponse() BetConfigResponse {
	bet := s.session.BetConfig()
	lim := s.session.Limits()
	durations := make([]float64, 0, len(lim.Durations))
	for _, d := range lim.Durations {
		durations = append(durations, d.Seconds())
	}
	return BetConfigResponse{
		BetConfigBody: BetConfigBody{
			Amount:          bet.Amount,
			Leverage:        bet.Leverage,
			DurationSeconds: bet.Duration.Seconds(),
		},
		Leverages:       lim.Leverages,
		DurationOptions: durations,
		MinAmount:       lim.MinAmount,
		MaxAmount:       lim.MaxAmount,
	}
}

// PlaceWager handles POST /api/v1/wagers
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Direction.Valid() {
		writeError(w, "direction must be UP or DOWN", http.StatusBadRequest)
		return
	}

	wager, err := s.session.PlaceWager(req.Direction)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

// ActiveWagers handles GET /api/v1/wagers/active
func (s *Service) ActiveWagers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Ledger().ActiveWagers)
}

// GetLedger handles GET /api/v1/ledger
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Ledger())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ErrNoPrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, market.ErrInvalidSymbol),
		errors.Is(err, limits.ErrInvalidAmount),
		errors.Is(err, limits.ErrAmountOutOfRange),
		errors.Is(err, limits.ErrInvalidLeverage),
		errors.Is(err, limits.ErrInvalidDuration),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidLeverage),
		errors.Is(err, ledger.ErrInvalidDuration),
		errors.Is(err, ledger.ErrInvalidDirection),
		errors.Is(err, ledger.ErrInvalidEntryPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
