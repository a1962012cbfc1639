package domain

import (
	"sort"
	"time"
)

// portfolio.go — matemática del ledger: replay de trades y snapshots de
// valor de cartera. El ledger append-only es la fuente de verdad; las
// posiciones y el PnL realizado son estado derivado.

// PortfolioSnapshot es una foto periódica del valor agregado de un wallet
// (cash + posiciones a mercado). Derivada, append-only, nunca se reedita.
type PortfolioSnapshot struct {
	WalletID       string
	CashBalance    float64
	PositionsValue float64
	TotalValue     float64
	RealizedPnL    float64
	UnrealizedPnL  float64
	TakenAt        time.Time
}

// ReplayTrades reconstruye el set final de posiciones y el PnL realizado
// a partir del ledger completo de un wallet. Debe coincidir exactamente
// con el estado mantenido en vivo por el engine — es el check de
// consistencia del sistema.
func ReplayTrades(trades []Trade) (positions map[string]Position, realized float64) {
	ordered := make([]Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	open := make(map[string]*Position)
	for _, t := range ordered {
		key := PositionKey(t.MarketID, t.Side)

		if t.IsExit {
			p, ok := open[key]
			if !ok {
				continue // exit sin posición previa: trade compensatorio externo
			}
			realized += p.ReduceFill(t.Price, t.Size, t.ExecutedAt)
			if p.Size == 0 {
				delete(open, key)
			}
			continue
		}

		p, ok := open[key]
		if !ok {
			p = &Position{
				Asset:    t.Asset,
				MarketID: t.MarketID,
				Side:     t.Side,
				Strategy: t.Strategy,
				Status:   PositionOpen,
				OpenedAt: t.ExecutedAt,
			}
			open[key] = p
		}
		p.AddFill(t.Price, t.Size, t.ExecutedAt)
	}

	positions = make(map[string]Position, len(open))
	for k, p := range open {
		positions[k] = *p
	}
	return positions, realized
}

// MarkToMarket valora un set de posiciones con los precios actuales por
// (market, side). Posiciones sin precio se valoran a cost basis.
func MarkToMarket(positions map[string]Position, prices map[string]float64) (value, unrealized float64) {
	for key, p := range positions {
		price, ok := prices[key]
		if !ok {
			value += p.CostBasis
			continue
		}
		value += p.MarketValue(price)
		unrealized += p.UnrealizedPnL(price)
	}
	return value, unrealized
}

// TakeSnapshot construye el snapshot de cartera de un wallet.
func TakeSnapshot(walletID string, cash, realized float64, positions map[string]Position, prices map[string]float64, at time.Time) PortfolioSnapshot {
	value, unrealized := MarkToMarket(positions, prices)
	return PortfolioSnapshot{
		WalletID:       walletID,
		CashBalance:    cash,
		PositionsValue: value,
		TotalValue:     cash + value,
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		TakenAt:        at,
	}
}
