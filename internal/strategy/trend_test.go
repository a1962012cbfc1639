package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

func trendConfig() TrendConfig {
	return TrendConfig{
		Enabled:            true,
		TrendPeriodSeconds: 300,
		MinTrendStrength:   0.5,
		BetAmountUSDC:      20,
		HedgeRatio:         0.25,
	}
}

// feed alimenta la ventana con un precio por segundo.
func feed(s *Trend, t0 time.Time, prices ...float64) {
	for i, p := range prices {
		at := t0.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return at }
		s.record("BTC", p)
	}
}

func TestTrend_Classify(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

	s := NewTrend(trendConfig())
	feed(s, t0, 50000, 51000) // ma 50500, último +0.99%
	class, strength := s.Classify("BTC")
	assert.Equal(t, TrendBullish, class)
	assert.InDelta(t, 0.990, strength, 0.001)

	s = NewTrend(trendConfig())
	feed(s, t0, 50000, 49000)
	class, _ = s.Classify("BTC")
	assert.Equal(t, TrendBearish, class)

	// Desvío por debajo del mínimo: neutral aunque haya dirección.
	s = NewTrend(trendConfig())
	feed(s, t0, 50000, 50100)
	class, _ = s.Classify("BTC")
	assert.Equal(t, TrendNeutral, class)

	// Con menos de dos muestras no hay clasificación.
	s = NewTrend(trendConfig())
	feed(s, t0, 50000)
	class, strength = s.Classify("BTC")
	assert.Equal(t, TrendNeutral, class)
	assert.Equal(t, 0.0, strength)
}

func TestTrend_WindowPruning(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	s := NewTrend(trendConfig())
	feed(s, t0, 50000, 51000)

	// Pasado el periodo completo, las muestras viejas caen de la ventana.
	late := t0.Add(400 * time.Second)
	s.now = func() time.Time { return late }
	s.record("BTC", 52000)

	class, _ := s.Classify("BTC")
	assert.Equal(t, TrendNeutral, class) // solo queda una muestra
}

func TestTrend_EmitsBullishSignal(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	s := NewTrend(trendConfig())
	feed(s, t0, 50000)

	snap := testSnapshot()
	snap.SpotPrice = 51000
	fair := domain.FairValue{Up: 0.62, Down: 0.38}

	sig, err := s.Evaluate(context.Background(), snap, fair, emptyView(1000))
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, domain.DirectionUp, sig.Direction)
	assert.Equal(t, 0.60, sig.LimitPrice)
	assert.InDelta(t, 20.0/0.60, sig.Size, 1e-9)
	assert.Equal(t, string(domain.SideDown), sig.HedgeDirection)
	assert.InDelta(t, sig.Size*0.25, sig.HedgeSize, 1e-9)
}

func TestTrend_EmitsBearishSignal(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	s := NewTrend(trendConfig())
	feed(s, t0, 50000)

	snap := testSnapshot()
	snap.SpotPrice = 49000

	sig, err := s.Evaluate(context.Background(), snap, domain.FairValue{Up: 0.4, Down: 0.6}, emptyView(1000))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.DirectionDown, sig.Direction)
	assert.Equal(t, 0.40, sig.LimitPrice)
}

func TestTrend_SkipsExistingExposure(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	s := NewTrend(trendConfig())
	feed(s, t0, 50000)

	snap := testSnapshot()
	snap.SpotPrice = 51000
	pos := domain.Position{MarketID: "0xcond", Side: domain.SideUp, Size: 10, Status: domain.PositionOpen}

	sig, err := s.Evaluate(context.Background(), snap, domain.FairValue{Up: 0.6, Down: 0.4}, viewWith(1000, pos))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestTrend_FirstTickIsNeutral(t *testing.T) {
	s := NewTrend(trendConfig())
	sig, err := s.Evaluate(context.Background(), testSnapshot(), domain.FairValue{Up: 0.6, Down: 0.4}, emptyView(1000))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestTrendConfig_Validate(t *testing.T) {
	assert.NoError(t, trendConfig().Validate())

	bad := trendConfig()
	bad.TrendPeriodSeconds = 0
	assert.Error(t, bad.Validate())

	bad = trendConfig()
	bad.MinTrendStrength = 0
	assert.Error(t, bad.Validate())
}
