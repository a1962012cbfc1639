package domain

import (
	"errors"
	"fmt"
	"time"
)

// Errores de validación de datos de mercado.
var (
	// ErrStaleSnapshot indica que la observación supera el umbral de frescura.
	ErrStaleSnapshot = errors.New("snapshot stale")
	// ErrCrossedBook indica un book no monótono (bid > ask).
	ErrCrossedBook = errors.New("crossed book")
)

// MarketSnapshot es la foto inmutable de un activo en un tick de evaluación.
// Combina la observación spot del venue de referencia con los quotes del
// mercado binario horario. Se construye una vez por activo por tick y nunca
// se muta después.
type MarketSnapshot struct {
	Asset    string // identificador del activo ("BTC", "ETH")
	MarketID string // condition id del mercado horario en el venue

	SpotPrice   float64 // precio spot de referencia
	StrikePrice float64 // strike del contrato horario (open de la vela)

	TimeToExpirySec int     // segundos hasta resolución; 0 = expirado
	Volatility      float64 // volatilidad anualizada (ej: 0.55 = 55%)

	// Quotes del mercado binario, en [0,1]. UpBid+DownBid puede quedar por
	// encima o por debajo de 1.0 — ese desequilibrio es lo que explota la
	// estrategia de arbitraje.
	UpBid   float64
	UpAsk   float64
	DownBid float64
	DownAsk float64

	// Shares disponibles en el best ask de cada lado.
	UpDepth   float64
	DownDepth float64

	ObservedAt time.Time
}

// Validate comprueba que el snapshot es coherente: precios positivos,
// quotes en rango y books monótonos. Un snapshot inválido debe descartar
// el tick para ese activo sin mutar estado.
func (s MarketSnapshot) Validate() error {
	if s.Asset == "" {
		return fmt.Errorf("snapshot: missing asset")
	}
	if s.SpotPrice <= 0 || s.StrikePrice <= 0 {
		return fmt.Errorf("snapshot %s: non-positive prices (spot=%.2f strike=%.2f)",
			s.Asset, s.SpotPrice, s.StrikePrice)
	}
	if s.TimeToExpirySec < 0 {
		return fmt.Errorf("snapshot %s: negative time to expiry", s.Asset)
	}
	if s.Volatility < 0 {
		return fmt.Errorf("snapshot %s: negative volatility", s.Asset)
	}
	for _, q := range []float64{s.UpBid, s.UpAsk, s.DownBid, s.DownAsk} {
		if q < 0 || q > 1 {
			return fmt.Errorf("snapshot %s: quote out of [0,1]", s.Asset)
		}
	}
	if s.UpBid > s.UpAsk || s.DownBid > s.DownAsk {
		return fmt.Errorf("snapshot %s: %w", s.Asset, ErrCrossedBook)
	}
	return nil
}

// Stale devuelve true si la observación es más vieja que maxAge.
func (s MarketSnapshot) Stale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.ObservedAt) > maxAge
}

// Expired devuelve true si el contrato ya venció.
func (s MarketSnapshot) Expired() bool {
	return s.TimeToExpirySec == 0
}

// UpSpread devuelve el spread del lado UP (ask - bid).
func (s MarketSnapshot) UpSpread() float64 {
	return s.UpAsk - s.UpBid
}

// DownSpread devuelve el spread del lado DOWN (ask - bid).
func (s MarketSnapshot) DownSpread() float64 {
	return s.DownAsk - s.DownBid
}

// AskFor devuelve el best ask del lado pedido.
func (s MarketSnapshot) AskFor(side Side) float64 {
	if side == SideDown {
		return s.DownAsk
	}
	return s.UpAsk
}

// BidFor devuelve el best bid del lado pedido.
func (s MarketSnapshot) BidFor(side Side) float64 {
	if side == SideDown {
		return s.DownBid
	}
	return s.UpBid
}

// SpreadFor devuelve el spread del lado pedido.
func (s MarketSnapshot) SpreadFor(side Side) float64 {
	if side == SideDown {
		return s.DownSpread()
	}
	return s.UpSpread()
}

// SpotObservation es la observación cruda del venue de referencia.
// El builder la combina con MarketQuote para formar el snapshot.
type SpotObservation struct {
	Asset       string
	Price       float64
	StrikePrice float64 // open de la vela horaria en curso
	Volatility  float64 // anualizada, calculada sobre las últimas velas
	ObservedAt  time.Time
}

// MarketQuote son los quotes del mercado binario horario de un activo.
type MarketQuote struct {
	Asset      string
	MarketID   string
	UpBid      float64
	UpAsk      float64
	DownBid    float64
	DownAsk    float64
	UpDepth    float64 // shares en el best ask UP
	DownDepth  float64 // shares en el best ask DOWN
	ExpiresAt  time.Time
	ObservedAt time.Time
}

// BuildSnapshot fusiona una observación spot y un quote de mercado en un
// MarketSnapshot. El time-to-expiry se calcula contra now; nunca negativo.
func BuildSnapshot(spot SpotObservation, quote MarketQuote, now time.Time) MarketSnapshot {
	tte := int(quote.ExpiresAt.Sub(now).Seconds())
	if tte < 0 {
		tte = 0
	}

	// La observación más vieja de las dos manda para el check de frescura.
	observed := spot.ObservedAt
	if quote.ObservedAt.Before(observed) {
		observed = quote.ObservedAt
	}

	return MarketSnapshot{
		Asset:           spot.Asset,
		MarketID:        quote.MarketID,
		SpotPrice:       spot.Price,
		StrikePrice:     spot.StrikePrice,
		TimeToExpirySec: tte,
		Volatility:      spot.Volatility,
		UpBid:           quote.UpBid,
		UpAsk:           quote.UpAsk,
		DownBid:         quote.DownBid,
		DownAsk:         quote.DownAsk,
		UpDepth:         quote.UpDepth,
		DownDepth:       quote.DownDepth,
		ObservedAt:      observed,
	}
}
