package strategy

import (
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// testSnapshot devuelve un snapshot base razonable; los tests ajustan los
// campos que les interesan.
func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Asset:           "BTC",
		MarketID:        "0xcond",
		SpotPrice:       51000,
		StrikePrice:     50000,
		TimeToExpirySec: 1800,
		Volatility:      0.5,
		UpBid:           0.58,
		UpAsk:           0.60,
		DownBid:         0.38,
		DownAsk:         0.40,
		UpDepth:         500,
		DownDepth:       500,
		ObservedAt:      time.Now().UTC(),
	}
}

// emptyView es la vista de un wallet sin posiciones.
func emptyView(available float64) domain.ContextView {
	return domain.ContextView{
		WalletID:  "w1",
		State:     domain.StateRunning,
		Available: available,
		AutoTrade: true,
		Positions: map[string]domain.Position{},
	}
}

// viewWith añade posiciones a la vista vacía.
func viewWith(available float64, positions ...domain.Position) domain.ContextView {
	view := emptyView(available)
	for _, p := range positions {
		view.Positions[p.Key()] = p
	}
	return view
}
