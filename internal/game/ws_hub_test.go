package game

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/animation"
	"github.com/tickrace/price-engine/internal/model"
)

func startHub(t *testing.T) *WSHub {
	t.Helper()
	h := NewWSHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func dialHub(t *testing.T, h *WSHub, want int) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, h.Clients())
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func pts(values ...float64) []model.PriceSample {
	out := make([]model.PriceSample, len(values))
	for i, v := range values {
		out[i] = model.PriceSample{Time: float64(i), Value: v}
	}
	return out
}

func TestWSHub_UnavailableWithoutClients(t *testing.T) {
	h := startHub(t)

	if err := h.SetCurve("SOL", pts(1, 2)); !errors.Is(err, animation.ErrSurfaceUnavailable) {
		t.Errorf("expected ErrSurfaceUnavailable from SetCurve, got %v", err)
	}
	if err := h.SetPrecision("SOL", 2); !errors.Is(err, animation.ErrSurfaceUnavailable) {
		t.Errorf("expected ErrSurfaceUnavailable from SetPrecision, got %v", err)
	}
}

func TestWSHub_FullCurveThenPoints(t *testing.T) {
	h := startHub(t)
	h.fullEvery = time.Hour
	conn := dialHub(t, h, 1)

	if err := h.SetCurve("SOL", pts(130, 131)); err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, conn)
	if msg.Type != MsgCurve || msg.Market != "SOL" || len(msg.Points) != 2 {
		t.Fatalf("expected full SOL curve on join, got %+v", msg)
	}

	if err := h.SetCurve("SOL", pts(130, 131, 132)); err != nil {
		t.Fatal(err)
	}
	msg = readMsg(t, conn)
	if msg.Type != MsgPoint || msg.Point == nil || msg.Point.Value != 132 || len(msg.Points) != 0 {
		t.Fatalf("expected only the newest point, got %+v", msg)
	}

	if err := h.SetCurve("BTC", pts(95400)); err != nil {
		t.Fatal(err)
	}
	if msg = readMsg(t, conn); msg.Type != MsgCurve || msg.Market != "BTC" {
		t.Fatalf("expected full curve on market change, got %+v", msg)
	}
}

func TestWSHub_PeriodicFullCurve(t *testing.T) {
	h := startHub(t)
	h.fullEvery = 30 * time.Millisecond
	conn := dialHub(t, h, 1)

	h.SetCurve("SOL", pts(1))
	if msg := readMsg(t, conn); msg.Type != MsgCurve {
		t.Fatalf("expected curve, got %s", msg.Type)
	}
	h.SetCurve("SOL", pts(1, 2))
	if msg := readMsg(t, conn); msg.Type != MsgPoint {
		t.Fatalf("expected point, got %s", msg.Type)
	}

	time.Sleep(40 * time.Millisecond)
	h.SetCurve("SOL", pts(1, 2, 3))
	if msg := readMsg(t, conn); msg.Type != MsgCurve || len(msg.Points) != 3 {
		t.Fatalf("expected the full curve to be resent, got %+v", msg)
	}
}

func TestWSHub_NewClientGetsFullCurveWithPrecision(t *testing.T) {
	h := startHub(t)
	h.fullEvery = time.Hour
	first := dialHub(t, h, 1)

	h.SetCurve("SOL", pts(130))
	readMsg(t, first)
	h.SetPrecision("SOL", 2)
	if msg := readMsg(t, first); msg.Type != MsgPrecision || msg.Precision == nil || *msg.Precision != 2 {
		t.Fatalf("expected precision 2, got %+v", msg)
	}

	second := dialHub(t, h, 2)
	h.SetCurve("SOL", pts(130, 131))
	msg := readMsg(t, second)
	if msg.Type != MsgCurve || msg.Precision == nil || *msg.Precision != 2 {
		t.Fatalf("expected full curve with precision 2 for the new client, got %+v", msg)
	}
}

func TestWSHub_MarketChangeDropsPrecision(t *testing.T) {
	h := startHub(t)
	conn := dialHub(t, h, 1)

	h.SetCurve("BTC", pts(95400))
	readMsg(t, conn)
	h.SetPrecision("BTC", 1)
	readMsg(t, conn)

	h.SetCurve("SOL", pts(130.52))
	msg := readMsg(t, conn)
	if msg.Type != MsgCurve || msg.Market != "SOL" {
		t.Fatalf("expected SOL curve, got %+v", msg)
	}
	if msg.Precision != nil {
		t.Errorf("expected no precision on the new market's first curve, got %d", *msg.Precision)
	}
}

func TestWSHub_WagerEvents(t *testing.T) {
	h := startHub(t)
	a := dialHub(t, h, 1)
	b := dialHub(t, h, 2)

	price := 131.0
	w := model.Wager{
		ID:         "w1",
		Market:     "SOL",
		Direction:  model.Up,
		Amount:     decimal.NewFromInt(100),
		EntryPrice: 130.52,
		Result:     model.Pending,
	}
	h.WagerPlaced(w)
	w.Result = model.Win
	w.OutcomePrice = &price
	h.WagerSettled(w)

	for _, conn := range []*websocket.Conn{a, b} {
		placed := readMsg(t, conn)
		if placed.Type != MsgWagerPlaced || placed.Wager == nil || placed.Wager.EntryPrice != 130.52 {
			t.Errorf("expected wager_placed at 130.52, got %+v", placed)
		}
		settled := readMsg(t, conn)
		if settled.Type != MsgWagerSettled || settled.Wager == nil || settled.Wager.Result != model.Win {
			t.Errorf("expected wager_settled WIN, got %+v", settled)
		}
	}
}

func TestWSHub_ClientDisconnect(t *testing.T) {
	h := startHub(t)
	conn := dialHub(t, h, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected client to be removed, still %d", h.Clients())
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.SetCurve("SOL", pts(1)); !errors.Is(err, animation.ErrSurfaceUnavailable) {
		t.Errorf("expected ErrSurfaceUnavailable after the last client left, got %v", err)
	}
}
