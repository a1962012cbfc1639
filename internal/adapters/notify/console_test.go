package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/strikebot/internal/adapters/notify"
	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

func sampleReports() []ports.WalletReport {
	return []ports.WalletReport{
		{
			WalletID:    "sniper",
			State:       domain.StateRunning,
			CashBalance: 250,
			RealizedPnL: -1.25,
			Signals:     1,
			Discarded:   2,
		},
		{
			WalletID:      "main",
			State:         domain.StateRunning,
			CashBalance:   94.5,
			Reserved:      4.8,
			RealizedPnL:   2.5,
			UnrealizedPnL: 0.75,
			Positions: []domain.Position{
				{
					Asset: "BTC", MarketID: "0xcond", Side: domain.SideUp,
					Size: 10, EntryPrice: 0.48, CostBasis: 4.8,
					Strategy: "arbitrage", Status: domain.PositionOpen,
					OpenedAt: time.Now().Add(-5 * time.Minute),
				},
			},
		},
	}
}

func TestConsole_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, c.Notify(context.Background(), sampleReports()))
	out := buf.String()

	assert.Contains(t, out, "main[RUN]")
	assert.Contains(t, out, "sniper[RUN]")
	assert.Contains(t, out, "$94.50 cash")
	assert.Contains(t, out, "1 pos")
	assert.Contains(t, out, "(exec:1 disc:2)")

	// Orden alfabético estable por wallet.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("main")), bytes.Index(buf.Bytes(), []byte("sniper")))
}

func TestConsole_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.Notify(context.Background(), sampleReports()))
	out := buf.String()

	assert.Contains(t, out, "2 wallets")
	assert.Contains(t, out, "OPEN POSITIONS (1)")
	assert.Contains(t, out, "0xcond")
	assert.Contains(t, out, "arbitrage")
	assert.Contains(t, out, "+$2.5000")
	assert.Contains(t, out, "-$1.2500")
}

func TestConsole_NoWallets(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, c.Notify(context.Background(), nil))
	assert.Contains(t, buf.String(), "no active wallets")
}

func TestConsole_TableNoPositions(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	reports := sampleReports()
	reports[1].Positions = nil
	require.NoError(t, c.Notify(context.Background(), reports))
	assert.Contains(t, buf.String(), "(no open positions)")
}
