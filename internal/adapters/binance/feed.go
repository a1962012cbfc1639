package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// streamMaxAge es cuánto puede envejecer el último trade del stream antes
// de caer al ticker REST.
const streamMaxAge = 5 * time.Second

// SpotFeed implementa ports.SpotFeed combinando el websocket (precio vivo)
// con el REST client (strike y volatilidad horarios, fallback de precio).
type SpotFeed struct {
	stream *Stream
	rest   *RESTClient
	now    func() time.Time
}

// NewSpotFeed crea el feed. stream puede ser nil (modo solo-REST, útil en
// tests y en el flag -once).
func NewSpotFeed(stream *Stream, rest *RESTClient) *SpotFeed {
	return &SpotFeed{stream: stream, rest: rest, now: time.Now}
}

// Observe construye la observación spot de un activo: precio actual,
// strike de la vela en curso y volatilidad anualizada.
func (f *SpotFeed) Observe(ctx context.Context, asset string) (domain.SpotObservation, error) {
	strike, vol, err := f.rest.HourlyStats(ctx, asset)
	if err != nil {
		return domain.SpotObservation{}, fmt.Errorf("binance.Observe %s: %w", asset, err)
	}

	price, observedAt, err := f.spot(ctx, asset)
	if err != nil {
		return domain.SpotObservation{}, fmt.Errorf("binance.Observe %s: %w", asset, err)
	}

	return domain.SpotObservation{
		Asset:       asset,
		Price:       price,
		StrikePrice: strike,
		Volatility:  vol,
		ObservedAt:  observedAt,
	}, nil
}

// spot devuelve el precio del stream si está fresco; si no, consulta el
// ticker REST.
func (f *SpotFeed) spot(ctx context.Context, asset string) (float64, time.Time, error) {
	now := f.now().UTC()

	if f.stream != nil {
		if price, at, ok := f.stream.Last(asset); ok && now.Sub(at) <= streamMaxAge {
			return price, at, nil
		}
	}

	price, err := f.rest.TickerPrice(ctx, asset)
	if err != nil {
		return 0, time.Time{}, err
	}
	return price, now, nil
}
