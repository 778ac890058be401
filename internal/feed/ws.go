package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// priceInfoEvent is both the subscribe method and the event name of
	// upstream price pushes.
	priceInfoEvent = "ezmodePriceInfo"

	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	handshakeTimeout = 15 * time.Second
)

// WSSource subscribes to an upstream index-price WebSocket.
type WSSource struct {
	url     string
	backoff backoff
	logger  *slog.Logger
}

// NewWSSource creates a source for url. Reconnects back off from minDelay
// to maxDelay.
func NewWSSource(url string, minDelay, maxDelay time.Duration, logger *slog.Logger) *WSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		url:     url,
		backoff: newBackoff(minDelay, maxDelay),
		logger:  logger.With(slog.String("component", "ws_feed")),
	}
}

func (w *WSSource) Name() string { return "ws" }

// Run connects and re-connects until ctx is cancelled.
func (w *WSSource) Run(ctx context.Context, emit Emit) error {
	return reconnect(ctx, w.Name(), w.backoff, w.logger, func(ctx context.Context) (bool, error) {
		return w.runConnection(ctx, emit)
	})
}

// runConnection reports whether the handshake succeeded, along with the
// error that ended the connection.
func (w *WSSource) runConnection(ctx context.Context, emit Emit) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]string{"method": priceInfoEvent}); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}
	w.logger.Info("upstream subscribed", "url", w.url)

	for {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		// Engine.IO keep-alive ping.
		if bytes.Equal(data, []byte("2")) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("3")); err != nil {
				return true, err
			}
			continue
		}

		samples, err := ParsePriceInfo(data, time.Now())
		if err != nil {
			w.logger.Debug("unparseable upstream message", "err", err)
			continue
		}
		for _, s := range samples {
			emit(s)
		}
	}
}

type priceInfo struct {
	IndexPrice float64 `json:"indexPrice"`
	Timestamp  float64 `json:"timestamp"` // seconds
}

type priceInfoEnvelope struct {
	Event string               `json:"event"`
	Data  map[string]priceInfo `json:"data"`
}

var errNotPriceInfo = errors.New("feed: not a price info message")

// ParsePriceInfo decodes one upstream message into samples. It accepts the
// bare JSON envelope and the Socket.IO framing 42["message", {...}].
// Entries without a positive indexPrice are skipped. A missing timestamp
// falls back to now.
func ParsePriceInfo(data []byte, now time.Time) ([]Sample, error) {
	payload := bytes.TrimLeft(data, "0123456789")
	if len(payload) > 0 && payload[0] == '[' {
		var frame []json.RawMessage
		if err := json.Unmarshal(payload, &frame); err != nil {
			return nil, err
		}
		if len(frame) == 0 {
			return nil, errNotPriceInfo
		}
		payload = frame[len(frame)-1]
	}

	var env priceInfoEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Event != priceInfoEvent {
		return nil, errNotPriceInfo
	}

	out := make([]Sample, 0, len(env.Data))
	for sym, info := range env.Data {
		if !(info.IndexPrice > 0) || math.IsInf(info.IndexPrice, 0) {
			continue
		}
		ts := now
		if info.Timestamp > 0 {
			sec, frac := math.Modf(info.Timestamp)
			ts = time.Unix(int64(sec), int64(frac*1e9))
		}
		out = append(out, Sample{Market: sym, Price: info.IndexPrice, Timestamp: ts})
	}
	return out, nil
}
