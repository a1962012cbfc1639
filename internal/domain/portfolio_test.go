package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryTrade(orderID, marketID string, side Side, size, price float64, at time.Time) Trade {
	return Trade{
		OrderID: orderID, WalletID: "w1", Asset: "BTC", MarketID: marketID,
		Side: side, Size: size, Price: price, Cost: size * price,
		Strategy: "edge_hedge", ExecutedAt: at,
	}
}

func TestReplayTrades_MatchesLiveState(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	trades := []Trade{
		entryTrade("o1", "0xcond", SideUp, 100, 0.40, t0),
		entryTrade("o2", "0xcond", SideUp, 50, 0.52, t0.Add(time.Minute)),
		{
			OrderID: "o3", WalletID: "w1", Asset: "BTC", MarketID: "0xcond",
			Side: SideUp, Size: 60, Price: 0.55, Cost: -33.0,
			Strategy: "edge_hedge", IsExit: true, ExecutedAt: t0.Add(2 * time.Minute),
		},
	}

	// Estado vivo equivalente, aplicado a mano.
	live := Position{Asset: "BTC", MarketID: "0xcond", Side: SideUp, Status: PositionOpen}
	live.AddFill(0.40, 100, t0)
	live.AddFill(0.52, 50, t0.Add(time.Minute))
	liveRealized := live.ReduceFill(0.55, 60, t0.Add(2*time.Minute))

	positions, realized := ReplayTrades(trades)
	require.Len(t, positions, 1)

	got := positions[PositionKey("0xcond", SideUp)]
	assert.InDelta(t, live.EntryPrice, got.EntryPrice, 1e-9)
	assert.InDelta(t, live.Size, got.Size, 1e-9)
	assert.InDelta(t, live.CostBasis, got.CostBasis, 1e-9)
	assert.InDelta(t, liveRealized, realized, 1e-9)
}

func TestReplayTrades_OutOfOrderLedger(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	// El exit llega antes que la entrada en el slice: el replay ordena por
	// timestamp y el resultado no cambia.
	trades := []Trade{
		{OrderID: "o2", WalletID: "w1", MarketID: "0xcond", Side: SideUp,
			Size: 100, Price: 0.55, IsExit: true, ExecutedAt: t0.Add(time.Minute)},
		entryTrade("o1", "0xcond", SideUp, 100, 0.40, t0),
	}

	positions, realized := ReplayTrades(trades)
	assert.Empty(t, positions)
	assert.InDelta(t, 15.0, realized, 1e-9)
}

func TestReplayTrades_ExitWithoutEntry(t *testing.T) {
	trades := []Trade{
		{OrderID: "o1", MarketID: "0xcond", Side: SideUp, Size: 10,
			Price: 0.5, IsExit: true, ExecutedAt: time.Now().UTC()},
	}
	positions, realized := ReplayTrades(trades)
	assert.Empty(t, positions)
	assert.Equal(t, 0.0, realized)
}

func TestMarkToMarket(t *testing.T) {
	now := time.Now().UTC()
	up := Position{MarketID: "0xa", Side: SideUp, Status: PositionOpen}
	up.AddFill(0.40, 100, now)
	down := Position{MarketID: "0xb", Side: SideDown, Status: PositionOpen}
	down.AddFill(0.30, 50, now)

	positions := map[string]Position{up.Key(): up, down.Key(): down}
	prices := map[string]float64{up.Key(): 0.55}

	value, unrealized := MarkToMarket(positions, prices)
	// UP a mercado (55), DOWN sin precio cae a cost basis (15).
	assert.InDelta(t, 70.0, value, 1e-9)
	assert.InDelta(t, 15.0, unrealized, 1e-9)
}

func TestTakeSnapshot(t *testing.T) {
	now := time.Now().UTC()
	up := Position{MarketID: "0xa", Side: SideUp, Status: PositionOpen}
	up.AddFill(0.40, 100, now)
	positions := map[string]Position{up.Key(): up}
	prices := map[string]float64{up.Key(): 0.50}

	snap := TakeSnapshot("w1", 60, 4.2, positions, prices, now)
	assert.Equal(t, "w1", snap.WalletID)
	assert.InDelta(t, 50.0, snap.PositionsValue, 1e-9)
	assert.InDelta(t, 110.0, snap.TotalValue, 1e-9)
	assert.InDelta(t, 4.2, snap.RealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, snap.UnrealizedPnL, 1e-9)
	assert.Equal(t, now, snap.TakenAt)
}
