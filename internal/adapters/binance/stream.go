package binance

// stream.go — live spot prices over the combined trade websocket.
//
// One connection carries every subscribed symbol. The reader goroutine
// keeps the last trade per asset under a mutex; readers never block on the
// socket. Reconnects use capped exponential backoff and the loop only exits
// on context cancellation.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultStreamBase = "wss://stream.binance.com:9443"

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	readDeadline  = 90 * time.Second // Binance pings every ~20s
)

// tick is the last observed trade of an asset.
type tick struct {
	price float64
	at    time.Time
}

// combinedMessage wraps every event on a combined stream.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeEvent is the payload of <symbol>@trade.
type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // ms epoch
}

// Stream maintains live spot prices for a fixed set of assets.
type Stream struct {
	base   string
	assets []string
	dial   func(ctx context.Context, url string) (*websocket.Conn, error)

	mu    sync.RWMutex
	ticks map[string]tick // asset → last trade
}

// NewStream creates the stream for the given assets. base empty means
// production. Run must be started for prices to flow.
func NewStream(base string, assets []string) *Stream {
	if base == "" {
		base = defaultStreamBase
	}
	return &Stream{
		base:   base,
		assets: assets,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
		ticks: make(map[string]tick),
	}
}

// Run connects and consumes trades until the context is cancelled.
func (s *Stream) Run(ctx context.Context) {
	url := s.streamURL()
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx, url)
		if err != nil {
			slog.Warn("spot stream connect failed", "err", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		slog.Info("spot stream connected", "assets", strings.Join(s.assets, ","))
		backoff = reconnectBase

		if err := s.consume(ctx, conn); err != nil && ctx.Err() == nil {
			slog.Warn("spot stream dropped, reconnecting", "err", err)
		}
		conn.Close()
	}
}

// consume reads trades until the connection breaks or the context ends.
func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) error {
	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg combinedMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		var trade tradeEvent
		if err := json.Unmarshal(msg.Data, &trade); err != nil || trade.EventType != "trade" {
			continue
		}

		price, err := strconv.ParseFloat(trade.Price, 64)
		if err != nil || price <= 0 {
			continue
		}

		asset := strings.TrimSuffix(strings.ToUpper(trade.Symbol), quoteSuffix)
		s.mu.Lock()
		s.ticks[asset] = tick{
			price: price,
			at:    time.UnixMilli(trade.TradeTime).UTC(),
		}
		s.mu.Unlock()
	}
}

// Last returns the last observed price of an asset, if any.
func (s *Stream) Last(asset string) (price float64, at time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[asset]
	return t.price, t.at, ok
}

// streamURL builds the combined stream URL for all assets.
func (s *Stream) streamURL() string {
	streams := make([]string, len(s.assets))
	for i, asset := range s.assets {
		streams[i] = strings.ToLower(Symbol(asset)) + "@trade"
	}
	return s.base + "/stream?streams=" + strings.Join(streams, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
