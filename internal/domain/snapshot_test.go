package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot() MarketSnapshot {
	return MarketSnapshot{
		Asset:           "BTC",
		MarketID:        "0xcond",
		SpotPrice:       51000,
		StrikePrice:     50000,
		TimeToExpirySec: 1800,
		Volatility:      0.5,
		UpBid:           0.60,
		UpAsk:           0.62,
		DownBid:         0.37,
		DownAsk:         0.40,
		UpDepth:         500,
		DownDepth:       300,
		ObservedAt:      time.Now().UTC(),
	}
}

func TestSnapshotValidate_OK(t *testing.T) {
	assert.NoError(t, validSnapshot().Validate())
}

func TestSnapshotValidate_CrossedBook(t *testing.T) {
	s := validSnapshot()
	s.UpBid = 0.65 // bid > ask
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCrossedBook))

	s = validSnapshot()
	s.DownBid = 0.45
	assert.True(t, errors.Is(s.Validate(), ErrCrossedBook))
}

func TestSnapshotValidate_Rejections(t *testing.T) {
	s := validSnapshot()
	s.Asset = ""
	assert.Error(t, s.Validate())

	s = validSnapshot()
	s.SpotPrice = 0
	assert.Error(t, s.Validate())

	s = validSnapshot()
	s.TimeToExpirySec = -1
	assert.Error(t, s.Validate())

	s = validSnapshot()
	s.Volatility = -0.1
	assert.Error(t, s.Validate())

	s = validSnapshot()
	s.UpAsk = 1.2 // quote fuera de [0,1]
	assert.Error(t, s.Validate())
}

func TestSnapshotStale(t *testing.T) {
	now := time.Now().UTC()
	s := validSnapshot()
	s.ObservedAt = now.Add(-10 * time.Second)

	assert.False(t, s.Stale(30*time.Second, now))
	assert.True(t, s.Stale(5*time.Second, now))
}

func TestSnapshotSides(t *testing.T) {
	s := validSnapshot()
	assert.Equal(t, 0.62, s.AskFor(SideUp))
	assert.Equal(t, 0.40, s.AskFor(SideDown))
	assert.Equal(t, 0.60, s.BidFor(SideUp))
	assert.Equal(t, 0.37, s.BidFor(SideDown))
	assert.InDelta(t, 0.02, s.SpreadFor(SideUp), 1e-9)
	assert.InDelta(t, 0.03, s.SpreadFor(SideDown), 1e-9)
}

func TestBuildSnapshot(t *testing.T) {
	now := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	spot := SpotObservation{
		Asset:       "BTC",
		Price:       51000,
		StrikePrice: 50000,
		Volatility:  0.5,
		ObservedAt:  now.Add(-2 * time.Second),
	}
	quote := MarketQuote{
		Asset:      "BTC",
		MarketID:   "0xcond",
		UpBid:      0.6,
		UpAsk:      0.62,
		DownBid:    0.37,
		DownAsk:    0.40,
		ExpiresAt:  now.Add(30 * time.Minute),
		ObservedAt: now.Add(-5 * time.Second), // la más vieja de las dos
	}

	snap := BuildSnapshot(spot, quote, now)
	assert.Equal(t, 1800, snap.TimeToExpirySec)
	assert.Equal(t, "0xcond", snap.MarketID)
	assert.Equal(t, quote.ObservedAt, snap.ObservedAt)
	assert.False(t, snap.Expired())
	assert.NoError(t, snap.Validate())
}

func TestBuildSnapshot_ExpiredClampsToZero(t *testing.T) {
	now := time.Now().UTC()
	quote := MarketQuote{ExpiresAt: now.Add(-time.Minute)}
	snap := BuildSnapshot(SpotObservation{Asset: "BTC"}, quote, now)

	assert.Equal(t, 0, snap.TimeToExpirySec)
	assert.True(t, snap.Expired())
}
