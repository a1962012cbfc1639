package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalCost(t *testing.T) {
	both := TradeSignal{Direction: DirectionBoth, Size: 50, UpPrice: 0.48, DownPrice: 0.50}
	assert.InDelta(t, 49.0, both.Cost(), 1e-9)

	directional := TradeSignal{Direction: DirectionUp, Size: 100, LimitPrice: 0.40}
	assert.InDelta(t, 40.0, directional.Cost(), 1e-9)

	// Una reducción libera capital, no lo consume.
	reduce := TradeSignal{Direction: DirectionUp, Size: 100, LimitPrice: 0.40, Reduce: true}
	assert.Equal(t, 0.0, reduce.Cost())
}

func TestSignalValidate(t *testing.T) {
	ok := TradeSignal{Strategy: "trend", Asset: "BTC", Direction: DirectionUp, Size: 10, LimitPrice: 0.4}
	assert.NoError(t, ok.Validate())

	noSize := ok
	noSize.Size = 0
	assert.Error(t, noSize.Validate())

	noPrice := ok
	noPrice.LimitPrice = 0
	assert.Error(t, noPrice.Validate())

	both := TradeSignal{Strategy: "arbitrage", Asset: "BTC", Direction: DirectionBoth, Size: 10, UpPrice: 0.48}
	assert.Error(t, both.Validate()) // falta la pata DOWN
	both.DownPrice = 0.50
	assert.NoError(t, both.Validate())

	unknown := ok
	unknown.Direction = Direction("SIDEWAYS")
	assert.Error(t, unknown.Validate())
}

func TestSignalSideOf(t *testing.T) {
	assert.Equal(t, SideUp, TradeSignal{Direction: DirectionUp}.SideOf())
	assert.Equal(t, SideDown, TradeSignal{Direction: DirectionDown}.SideOf())
}
