package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// NameTrend identifica la estrategia de seguimiento de tendencia.
const NameTrend = "trend"

// TrendClass es la clasificación de momentum de la ventana de spot.
type TrendClass string

const (
	TrendBullish TrendClass = "BULLISH"
	TrendBearish TrendClass = "BEARISH"
	TrendNeutral TrendClass = "NEUTRAL"
)

// TrendConfig configura la estrategia de tendencia.
type TrendConfig struct {
	Enabled            bool    `yaml:"enabled"`
	TrendPeriodSeconds int     `yaml:"trend_period_seconds"` // ventana del rolling window
	MinTrendStrength   float64 `yaml:"min_trend_strength"`   // % de desvío sobre la media
	BetAmountUSDC      float64 `yaml:"bet_amount_usdc"`
	HedgeRatio         float64 `yaml:"hedge_ratio"` // hedge parcial opcional
}

// Validate comprueba los parámetros.
func (c TrendConfig) Validate() error {
	if c.TrendPeriodSeconds <= 0 {
		return fmt.Errorf("trend: trend_period_seconds must be positive: %d", c.TrendPeriodSeconds)
	}
	if c.MinTrendStrength <= 0 {
		return fmt.Errorf("trend: min_trend_strength must be positive: %.4f", c.MinTrendStrength)
	}
	if c.BetAmountUSDC <= 0 {
		return fmt.Errorf("trend: bet_amount_usdc must be positive: %.2f", c.BetAmountUSDC)
	}
	if c.HedgeRatio < 0 || c.HedgeRatio > 1 {
		return fmt.Errorf("trend: hedge_ratio must be in [0,1]: %.2f", c.HedgeRatio)
	}
	return nil
}

// spotSample es un punto de la ventana de precios.
type spotSample struct {
	at    time.Time
	price float64
}

// Trend clasifica el momentum de corto plazo del spot con una media móvil
// sobre trend_period_seconds y entra en la dirección de la tendencia solo
// si la fuerza supera el mínimo. Opcionalmente emite un hedge parcial.
type Trend struct {
	cfg     TrendConfig
	period  time.Duration
	windows map[string][]spotSample // asset → ventana de precios
	now     func() time.Time
}

// NewTrend crea la estrategia. La ventana de precios es por instancia.
func NewTrend(cfg TrendConfig) *Trend {
	return &Trend{
		cfg:     cfg,
		period:  time.Duration(cfg.TrendPeriodSeconds) * time.Second,
		windows: make(map[string][]spotSample),
		now:     time.Now,
	}
}

// Name implementa Strategy.
func (s *Trend) Name() string {
	return NameTrend
}

// Classify devuelve la clasificación y la fuerza (% de desvío del último
// precio sobre la media de la ventana) del momentum actual del activo.
func (s *Trend) Classify(asset string) (TrendClass, float64) {
	window := s.windows[asset]
	if len(window) < 2 {
		return TrendNeutral, 0
	}

	var sum float64
	for _, sample := range window {
		sum += sample.price
	}
	ma := sum / float64(len(window))
	last := window[len(window)-1].price

	strength := math.Abs(last/ma-1) * 100
	if strength < s.cfg.MinTrendStrength {
		return TrendNeutral, strength
	}
	if last > ma {
		return TrendBullish, strength
	}
	return TrendBearish, strength
}

// Evaluate implementa Strategy. Cada llamada alimenta la ventana con el
// spot del snapshot antes de clasificar.
func (s *Trend) Evaluate(_ context.Context, snap domain.MarketSnapshot, fair domain.FairValue, view domain.ContextView) (*domain.TradeSignal, error) {
	s.record(snap.Asset, snap.SpotPrice)

	if snap.Expired() || view.HasExposure(snap.MarketID) {
		return nil, nil
	}

	class, strength := s.Classify(snap.Asset)
	if class == TrendNeutral {
		return nil, nil
	}

	side := domain.SideUp
	if class == TrendBearish {
		side = domain.SideDown
	}
	ask := snap.AskFor(side)
	if ask <= 0 || ask >= 1 {
		return nil, nil
	}

	shares := s.cfg.BetAmountUSDC / ask

	fairSide := fair.Up
	if side == domain.SideDown {
		fairSide = fair.Down
	}

	return &domain.TradeSignal{
		Strategy:   NameTrend,
		Asset:      snap.Asset,
		MarketID:   snap.MarketID,
		Direction:  directionFor(side),
		Size:       shares,
		LimitPrice: ask,
		Reason: fmt.Sprintf("%s momentum %.3f%% over %ds window → %s",
			class, strength, s.cfg.TrendPeriodSeconds, side),
		Confidence:     fairSide,
		EdgePct:        domain.Edge(fairSide, ask, 0),
		HedgeDirection: string(side.Opposite()),
		HedgeSize:      shares * s.cfg.HedgeRatio,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// record añade el precio a la ventana y poda lo que quedó fuera del periodo.
func (s *Trend) record(asset string, price float64) {
	now := s.now()
	window := append(s.windows[asset], spotSample{at: now, price: price})

	cutoff := now.Add(-s.period)
	start := 0
	for start < len(window) && window[start].at.Before(cutoff) {
		start++
	}
	s.windows[asset] = window[start:]
}
