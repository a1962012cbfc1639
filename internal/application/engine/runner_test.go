package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
	"github.com/alejandrodnm/strikebot/internal/strategy"
)

// --- fakes ---

type stubStrategy struct {
	name string
	sig  *domain.TradeSignal
	err  error
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Evaluate(_ context.Context, _ domain.MarketSnapshot, _ domain.FairValue, _ domain.ContextView) (*domain.TradeSignal, error) {
	if s.sig == nil {
		return nil, s.err
	}
	sig := *s.sig // copia fresca por tick, como una estrategia real
	return &sig, s.err
}

type fakeExecutor struct {
	fn    func(req ports.OrderRequest) (ports.OrderResult, error)
	calls []ports.OrderRequest
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req ports.OrderRequest) (ports.OrderResult, error) {
	f.calls = append(f.calls, req)
	return f.fn(req)
}

func (f *fakeExecutor) CancelOrder(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// memStore es un TradeStore en memoria con idempotencia por OrderID.
type memStore struct {
	trades    []domain.Trade
	snapshots []domain.PortfolioSnapshot
	forceDup  bool
	appendErr error
}

func (m *memStore) AppendTrade(_ context.Context, t domain.Trade) (bool, error) {
	if m.appendErr != nil {
		return false, m.appendErr
	}
	if m.forceDup {
		return false, nil
	}
	for _, prev := range m.trades {
		if prev.OrderID == t.OrderID {
			return false, nil
		}
	}
	m.trades = append(m.trades, t)
	return true, nil
}

func (m *memStore) TradesByWallet(_ context.Context, walletID string, _, _ time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) SavePortfolioSnapshot(_ context.Context, s domain.PortfolioSnapshot) error {
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memStore) PortfolioHistory(_ context.Context, _ string, _, _ time.Time) ([]domain.PortfolioSnapshot, error) {
	return m.snapshots, nil
}

func (m *memStore) Close() error { return nil }

// --- helpers ---

func testSnap() domain.MarketSnapshot {
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

func upSignal(size, price float64) *domain.TradeSignal {
	return &domain.TradeSignal{
		Strategy:   "stub",
		Asset:      "BTC",
		MarketID:   "0xcond",
		Direction:  domain.DirectionUp,
		Size:       size,
		LimitPrice: price,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestRunner(t *testing.T, balance float64, strats []strategy.Strategy, exec ports.OrderExecutor, store ports.TradeStore, cfg Config) *Runner {
	t.Helper()

	reg := strategy.NewRegistry()
	priority := make([]string, 0, len(strats))
	for _, s := range strats {
		reg.Register(s)
		priority = append(priority, s.Name())
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = priority
	}

	ectx := domain.NewExecutionContext("w1", balance, true)
	r := NewRunner(ectx, reg, exec, store, cfg)
	require.NoError(t, r.Start())
	return r
}

func warnEvents(ectx *domain.ExecutionContext) []domain.Event {
	var out []domain.Event
	for _, e := range ectx.Events() {
		if e.Level == "warn" {
			out = append(out, e)
		}
	}
	return out
}

// --- tests ---

func TestRunner_ExecutesSignal(t *testing.T) {
	store := &memStore{}
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	usdc, reserved := r.Context().Balances()
	assert.InDelta(t, 96.0, usdc, 1e-9)
	assert.Equal(t, 0.0, reserved)

	pos, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Size)
	assert.Equal(t, 0.40, pos.EntryPrice)

	require.Len(t, store.trades, 1)
	assert.Equal(t, "w1", store.trades[0].WalletID)
	assert.InDelta(t, 4.0, store.trades[0].Cost, 1e-9)
	assert.False(t, store.trades[0].IsExit)
}

func TestRunner_InsufficientBalanceDiscards(t *testing.T) {
	// Balance 100, la señal necesita 150: se descarta entera sin reservar.
	store := &memStore{}
	stub := &stubStrategy{name: "stub", sig: upSignal(300, 0.50)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, 0, stats.Executed)

	usdc, reserved := r.Context().Balances()
	assert.Equal(t, 100.0, usdc)
	assert.Equal(t, 0.0, reserved)

	_, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	assert.False(t, ok)
	assert.Empty(t, store.trades)
}

func TestRunner_OrderTimeoutReleasesReservation(t *testing.T) {
	store := &memStore{}
	exec := &fakeExecutor{fn: func(_ ports.OrderRequest) (ports.OrderResult, error) {
		return ports.OrderResult{}, context.DeadlineExceeded
	}}
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, exec, store, Config{OrderTimeout: 50 * time.Millisecond})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Failed)

	usdc, reserved := r.Context().Balances()
	assert.Equal(t, 100.0, usdc)
	assert.Equal(t, 0.0, reserved)

	_, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	assert.False(t, ok)
	assert.Empty(t, store.trades)

	// Exactamente una entrada de fallo en el buffer del wallet.
	warns := warnEvents(r.Context())
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "order failed")
}

func TestRunner_BothLegsFill(t *testing.T) {
	store := &memStore{}
	sig := &domain.TradeSignal{
		Strategy: "stub", Asset: "BTC", MarketID: "0xcond",
		Direction: domain.DirectionBoth, Size: 10, UpPrice: 0.48, DownPrice: 0.50,
	}
	stub := &stubStrategy{name: "stub", sig: sig}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	usdc, reserved := r.Context().Balances()
	assert.InDelta(t, 90.2, usdc, 1e-9) // 100 − 4.8 − 5.0
	assert.Equal(t, 0.0, reserved)

	_, okUp := r.Context().GetPosition("0xcond", domain.SideUp)
	_, okDown := r.Context().GetPosition("0xcond", domain.SideDown)
	assert.True(t, okUp)
	assert.True(t, okDown)
	assert.Len(t, store.trades, 2)
}

func TestRunner_SingleSidedArbitrageFill(t *testing.T) {
	store := &memStore{}
	exec := &fakeExecutor{fn: func(req ports.OrderRequest) (ports.OrderResult, error) {
		if req.Side == domain.SideDown {
			return ports.OrderResult{Status: ports.OrderRejected}, nil
		}
		return ports.OrderResult{Status: ports.OrderFilled, FilledSize: req.Size, AvgFillPrice: req.Price}, nil
	}}
	sig := &domain.TradeSignal{
		Strategy: "stub", Asset: "BTC", MarketID: "0xcond",
		Direction: domain.DirectionBoth, Size: 10, UpPrice: 0.48, DownPrice: 0.50,
	}
	stub := &stubStrategy{name: "stub", sig: sig}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, exec, store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	// La pata UP quedó asentada, la reserva de la DOWN volvió a disponible.
	usdc, reserved := r.Context().Balances()
	assert.InDelta(t, 95.2, usdc, 1e-9)
	assert.Equal(t, 0.0, reserved)

	_, okUp := r.Context().GetPosition("0xcond", domain.SideUp)
	_, okDown := r.Context().GetPosition("0xcond", domain.SideDown)
	assert.True(t, okUp)
	assert.False(t, okDown)
	require.Len(t, store.trades, 1)

	// La exposición direccional sobrevenida queda marcada en el buffer.
	found := false
	for _, e := range r.Context().Events() {
		if e.Level == "error" && strings.Contains(e.Message, "arbitrage leg") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunner_DuplicateLedgerAppend(t *testing.T) {
	// El store reporta el fill como ya contabilizado: la reserva se libera y
	// ni el balance ni la posición se tocan dos veces.
	store := &memStore{forceDup: true}
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	usdc, reserved := r.Context().Balances()
	assert.Equal(t, 100.0, usdc)
	assert.Equal(t, 0.0, reserved)

	_, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	assert.False(t, ok)
}

func TestRunner_ReduceCreditsProceeds(t *testing.T) {
	store := &memStore{}
	sig := upSignal(10, 0.55)
	sig.Reduce = true
	stub := &stubStrategy{name: "stub", sig: sig}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	pos := &domain.Position{
		Asset: "BTC", MarketID: "0xcond", Side: domain.SideUp,
		Status: domain.PositionOpen, OpenedAt: time.Now().UTC(),
	}
	pos.AddFill(0.40, 10, time.Now().UTC())
	r.Context().UpsertPosition(pos)

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	usdc, _ := r.Context().Balances()
	assert.InDelta(t, 105.5, usdc, 1e-9)
	assert.InDelta(t, 1.5, r.RealizedPnL(), 1e-9) // (0.55 − 0.40) × 10

	// Cerrada del todo: la entrada desaparece del mapa.
	_, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	assert.False(t, ok)

	require.Len(t, store.trades, 1)
	assert.True(t, store.trades[0].IsExit)
	assert.InDelta(t, -5.5, store.trades[0].Cost, 1e-9)
	assert.InDelta(t, 1.5, store.trades[0].Realized, 1e-9)
}

func TestRunner_ReduceWithoutPosition(t *testing.T) {
	sig := upSignal(10, 0.55)
	sig.Reduce = true
	stub := &stubStrategy{name: "stub", sig: sig}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), &memStore{}, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Discarded)
}

func TestRunner_PositionCap(t *testing.T) {
	store := &memStore{}
	stub := &stubStrategy{name: "stub", sig: upSignal(50, 0.40)} // cuesta 20
	r := newTestRunner(t, 1000, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{MaxPositionUSDC: 250})

	pos := &domain.Position{Asset: "BTC", MarketID: "0xcond", Side: domain.SideUp, Status: domain.PositionOpen}
	pos.AddFill(0.48, 500, time.Now().UTC()) // basis 240

	r.Context().UpsertPosition(pos)

	// 240 + 20 > 250: el cap por mercado bloquea la ampliación.
	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Discarded)
	assert.Empty(t, store.trades)
}

func TestRunner_PriorityOrder(t *testing.T) {
	store := &memStore{}
	alphaSig := upSignal(10, 0.40)
	alphaSig.Strategy = "alpha"
	betaSig := upSignal(10, 0.40)
	betaSig.Strategy = "beta"
	betaSig.MarketID = "0xother"

	alpha := &stubStrategy{name: "alpha", sig: alphaSig}
	beta := &stubStrategy{name: "beta", sig: betaSig}
	r := newTestRunner(t, 100, []strategy.Strategy{beta, alpha}, NewSimExecutor(), store,
		Config{Priority: []string{"alpha", "beta"}})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)

	// Como mucho una señal por (wallet, asset): gana la de mayor prioridad.
	assert.Equal(t, 1, stats.Executed)
	require.Len(t, store.trades, 1)
	assert.Equal(t, "alpha", store.trades[0].Strategy)
}

func TestRunner_InvalidSignalSkipped(t *testing.T) {
	stub := &stubStrategy{name: "stub", sig: upSignal(0, 0.40)} // size 0
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), &memStore{}, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, TickStats{}, stats)
}

func TestRunner_FaultsAfterConsecutiveFailures(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ ports.OrderRequest) (ports.OrderResult, error) {
		return ports.OrderResult{}, errors.New("venue down")
	}}
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 1000, []strategy.Strategy{stub}, exec, &memStore{}, Config{})

	snaps := make([]domain.MarketSnapshot, maxConsecutiveFailures)
	for i := range snaps {
		snaps[i] = testSnap()
	}

	stats := r.Tick(context.Background(), snaps, 0)
	assert.Equal(t, maxConsecutiveFailures, stats.Failed)
	assert.Equal(t, domain.StateError, r.Context().State())

	// Un wallet en fault deja de evaluar señales.
	stats = r.Tick(context.Background(), snaps, 0)
	assert.Equal(t, TickStats{}, stats)
}

func TestRunner_OnlyRunningAcceptsSignals(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register(&stubStrategy{name: "stub", sig: upSignal(10, 0.40)})
	ectx := domain.NewExecutionContext("w1", 100, true)
	r := NewRunner(ectx, reg, NewSimExecutor(), &memStore{}, Config{Priority: []string{"stub"}})

	// Sin Start el wallet sigue IDLE.
	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, TickStats{}, stats)
}

// awareStrategy registra las confirmaciones de ejecución del engine.
type awareStrategy struct {
	stubStrategy
	confirmed []domain.TradeSignal
}

func (s *awareStrategy) OnExecuted(sig domain.TradeSignal) {
	s.confirmed = append(s.confirmed, sig)
}

func TestRunner_AutoTradeDisabledNeverPlacesOrders(t *testing.T) {
	store := &memStore{}
	exec := &fakeExecutor{fn: func(req ports.OrderRequest) (ports.OrderResult, error) {
		return ports.OrderResult{Status: ports.OrderFilled, FilledSize: req.Size, AvgFillPrice: req.Price}, nil
	}}

	reg := strategy.NewRegistry()
	reg.Register(&stubStrategy{name: "stub", sig: upSignal(10, 0.40)})
	ectx := domain.NewExecutionContext("w1", 100, false)
	r := NewRunner(ectx, reg, exec, store, Config{Priority: []string{"stub"}})
	require.NoError(t, r.Start())

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)

	// La señal se observa pero el venue nunca se toca.
	assert.Equal(t, TickStats{}, stats)
	require.Zero(t, len(exec.calls))
	assert.Empty(t, store.trades)

	usdc, reserved := r.Context().Balances()
	assert.Equal(t, 100.0, usdc)
	assert.Equal(t, 0.0, reserved)
	_, ok := r.Context().GetPosition("0xcond", domain.SideUp)
	assert.False(t, ok)

	// Queda constancia de la señal en el buffer del wallet.
	found := false
	for _, e := range r.Context().Events() {
		if strings.Contains(e.Message, "auto-trade disabled") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunner_ConfirmsExecutionToStrategy(t *testing.T) {
	aware := &awareStrategy{stubStrategy: stubStrategy{name: "stub", sig: upSignal(10, 0.40)}}
	r := newTestRunner(t, 100, []strategy.Strategy{aware}, NewSimExecutor(), &memStore{}, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)
	require.Len(t, aware.confirmed, 1)
	assert.Equal(t, "0xcond", aware.confirmed[0].MarketID)
}

func TestRunner_FailedOrderNotConfirmedToStrategy(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ ports.OrderRequest) (ports.OrderResult, error) {
		return ports.OrderResult{Status: ports.OrderRejected}, nil
	}}
	aware := &awareStrategy{stubStrategy: stubStrategy{name: "stub", sig: upSignal(10, 0.40)}}
	r := newTestRunner(t, 100, []strategy.Strategy{aware}, exec, &memStore{}, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, aware.confirmed)
}

func TestRunner_LedgerAppendErrorSurfaced(t *testing.T) {
	// El fill es real y se aplica, pero el ledger se quedó sin el trade:
	// el hueco queda marcado como error en el buffer del wallet.
	store := &memStore{appendErr: errors.New("disk full")}
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), store, Config{})

	stats := r.Tick(context.Background(), []domain.MarketSnapshot{testSnap()}, 0)
	assert.Equal(t, 1, stats.Executed)

	usdc, _ := r.Context().Balances()
	assert.InDelta(t, 96.0, usdc, 1e-9)

	found := false
	for _, e := range r.Context().Events() {
		if e.Level == "error" && strings.Contains(e.Message, "ledger missing fill") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunner_StopDrains(t *testing.T) {
	stub := &stubStrategy{name: "stub", sig: upSignal(10, 0.40)}
	r := newTestRunner(t, 100, []strategy.Strategy{stub}, NewSimExecutor(), &memStore{}, Config{})

	require.NoError(t, r.Stop())
	assert.Equal(t, domain.StateStopped, r.Context().State())
}
