package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// NameArbitrage identifica la estrategia de arbitraje surebet.
const NameArbitrage = "arbitrage"

// ArbitrageConfig configura la estrategia de arbitraje. Los porcentajes se
// expresan como números porcentuales (1.0 = 1%) y se convierten a decimales
// en la construcción.
type ArbitrageConfig struct {
	Enabled            bool    `yaml:"enabled"`
	MinProfitPct       float64 `yaml:"min_profit_pct"`       // margen mínimo tras costes
	TransactionCostPct float64 `yaml:"transaction_cost_pct"` // fees por par de shares
	MaxPositionUSDC    float64 `yaml:"max_position_usdc"`    // tope de capital por señal
	MinSizeShares      float64 `yaml:"min_size_shares"`      // por debajo no compensa
}

// Validate comprueba los parámetros.
func (c ArbitrageConfig) Validate() error {
	if c.MinProfitPct < 0 {
		return fmt.Errorf("arbitrage: min_profit_pct must be non-negative: %.2f", c.MinProfitPct)
	}
	if c.TransactionCostPct < 0 {
		return fmt.Errorf("arbitrage: transaction_cost_pct must be non-negative: %.2f", c.TransactionCostPct)
	}
	if c.MaxPositionUSDC <= 0 {
		return fmt.Errorf("arbitrage: max_position_usdc must be positive: %.2f", c.MaxPositionUSDC)
	}
	return nil
}

// Arbitrage detecta la oportunidad surebet: comprar UP y DOWN a la vez
// cuando la suma de asks queda por debajo del payoff fijo de 1.0 menos
// costes. El payoff es no-negativo por construcción al settlement —
// sigue expuesto a slippage si una pata no llena.
type Arbitrage struct {
	minProfit float64 // decimal
	txCost    float64 // decimal
	maxUSDC   float64
	minShares float64
}

// NewArbitrage crea la estrategia con la configuración dada.
func NewArbitrage(cfg ArbitrageConfig) *Arbitrage {
	return &Arbitrage{
		minProfit: cfg.MinProfitPct / 100,
		txCost:    cfg.TransactionCostPct / 100,
		maxUSDC:   cfg.MaxPositionUSDC,
		minShares: cfg.MinSizeShares,
	}
}

// Name implementa Strategy.
func (s *Arbitrage) Name() string {
	return NameArbitrage
}

// Evaluate implementa Strategy. Señal BOTH sí y solo sí
//
//	upAsk + downAsk < 1.0 − txCost − minProfit
//
// dimensionada al menor de: profundidad de ambos books, tope de capital
// configurado y balance disponible del wallet.
func (s *Arbitrage) Evaluate(_ context.Context, snap domain.MarketSnapshot, _ domain.FairValue, view domain.ContextView) (*domain.TradeSignal, error) {
	if snap.Expired() {
		return nil, nil
	}
	if snap.UpAsk <= 0 || snap.DownAsk <= 0 {
		return nil, nil // sin liquidez en alguno de los lados
	}

	cost := snap.UpAsk + snap.DownAsk
	threshold := 1.0 - s.txCost - s.minProfit
	if cost >= threshold {
		return nil, nil
	}

	shares := math.Min(snap.UpDepth, snap.DownDepth)
	shares = math.Min(shares, s.maxUSDC/cost)
	if view.Available > 0 {
		shares = math.Min(shares, view.Available/cost)
	}
	if shares < s.minShares || shares <= 0 {
		return nil, nil
	}

	gap := 1.0 - cost - s.txCost
	return &domain.TradeSignal{
		Strategy:  NameArbitrage,
		Asset:     snap.Asset,
		MarketID:  snap.MarketID,
		Direction: domain.DirectionBoth,
		Size:      shares,
		UpPrice:   snap.UpAsk,
		DownPrice: snap.DownAsk,
		Reason: fmt.Sprintf("surebet: UP %.4f + DOWN %.4f = %.4f < %.4f (gap %.2f%%)",
			snap.UpAsk, snap.DownAsk, cost, threshold, gap*100),
		Confidence: 1.0, // garantizado al settlement si ambas patas llenan
		EdgePct:    gap * 100,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
