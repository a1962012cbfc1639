package engine

// engine.go — multi-wallet orchestration.
//
// One cooperative evaluation loop per process tick, fanned out per wallet:
// wallets are independent units of concurrency evaluated in parallel
// goroutines, but each wallet's ExecutionContext is mutated by exactly one
// Runner. The only state shared across wallets is configuration and the
// pricing model, both read-only.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/strikebot/internal/application/marketdata"
	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

// EngineConfig holds process-wide engine parameters.
type EngineConfig struct {
	TickInterval     time.Duration
	SnapshotInterval time.Duration // portfolio snapshot cadence
	RiskFreeRate     float64
	Assets           []string
	Once             bool // run a single tick and return (dry-run/testing)
}

// Engine drives the evaluation loop across all enabled wallets.
type Engine struct {
	cfg      EngineConfig
	builder  *marketdata.Builder
	runners  map[string]*Runner // wallet id → runner; populated at startup
	store    ports.TradeStore
	notifier ports.Notifier

	lastSnapshot time.Time
}

// New creates the engine with the wallet registry already populated.
func New(cfg EngineConfig, builder *marketdata.Builder, runners map[string]*Runner, store ports.TradeStore, notifier ports.Notifier) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		builder:  builder,
		runners:  runners,
		store:    store,
		notifier: notifier,
	}
}

// Runners exposes the wallet registry (sweeper, dashboards).
func (e *Engine) Runners() map[string]*Runner {
	return e.runners
}

// Run starts every wallet and loops until the context is cancelled, then
// drains: wallets stop accepting signals and transition to STOPPED.
func (e *Engine) Run(ctx context.Context) error {
	for id, r := range e.runners {
		if err := r.Start(); err != nil {
			slog.Error("wallet failed to start", "wallet", id, "err", err)
			r.Context().Fault("start failed: " + err.Error())
		}
	}

	slog.Info("engine starting",
		"wallets", len(e.runners),
		"assets", e.cfg.Assets,
		"tick", e.cfg.TickInterval,
	)

	e.tick(ctx)
	if e.cfg.Once {
		e.shutdown()
		return nil
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			slog.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick builds one snapshot set and fans it out to all wallets in parallel.
// A wallet blocked on a venue call never delays the others.
func (e *Engine) tick(ctx context.Context) {
	start := time.Now()

	snaps := e.builder.BuildAll(ctx, e.cfg.Assets)
	if len(snaps) == 0 {
		slog.Warn("no usable snapshots this tick", "assets", len(e.cfg.Assets))
		return
	}

	type walletResult struct {
		id    string
		stats TickStats
	}
	results := make(chan walletResult, len(e.runners))

	var wg sync.WaitGroup
	for id, r := range e.runners {
		id, r := id, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats := r.Tick(ctx, snaps, e.cfg.RiskFreeRate)
			results <- walletResult{id: id, stats: stats}
		}()
	}
	wg.Wait()
	close(results)

	var executed, discarded int
	statsByWallet := make(map[string]TickStats, len(e.runners))
	for res := range results {
		statsByWallet[res.id] = res.stats
		executed += res.stats.Executed
		discarded += res.stats.Discarded
	}

	reports := e.buildReports(snaps, statsByWallet)
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, reports); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	e.maybeSnapshotPortfolios(ctx, reports)

	slog.Info("tick complete",
		"snapshots", len(snaps),
		"executed", executed,
		"discarded", discarded,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// buildReports marks every wallet to market against the tick's snapshots.
func (e *Engine) buildReports(snaps []domain.MarketSnapshot, stats map[string]TickStats) []ports.WalletReport {
	prices := make(map[string]float64, len(snaps)*2)
	for _, s := range snaps {
		prices[domain.PositionKey(s.MarketID, domain.SideUp)] = midOr(s.UpBid, s.UpAsk)
		prices[domain.PositionKey(s.MarketID, domain.SideDown)] = midOr(s.DownBid, s.DownAsk)
	}

	reports := make([]ports.WalletReport, 0, len(e.runners))
	for id, r := range e.runners {
		view := r.Context().View()
		cash, reserved := r.Context().Balances()

		_, unrealized := domain.MarkToMarket(view.Positions, prices)
		positions := make([]domain.Position, 0, len(view.Positions))
		for _, p := range view.Positions {
			positions = append(positions, p)
		}

		st := stats[id]
		reports = append(reports, ports.WalletReport{
			WalletID:      id,
			State:         view.State,
			CashBalance:   cash,
			Reserved:      reserved,
			RealizedPnL:   r.RealizedPnL(),
			UnrealizedPnL: unrealized,
			Positions:     positions,
			Signals:       st.Executed,
			Discarded:     st.Discarded,
		})
	}
	return reports
}

// maybeSnapshotPortfolios persists portfolio snapshots on the configured
// cadence. Derived, append-only, never retroactively edited.
func (e *Engine) maybeSnapshotPortfolios(ctx context.Context, reports []ports.WalletReport) {
	now := time.Now().UTC()
	if now.Sub(e.lastSnapshot) < e.cfg.SnapshotInterval {
		return
	}
	e.lastSnapshot = now

	for _, rep := range reports {
		var positionsValue float64
		for _, p := range rep.Positions {
			positionsValue += p.CostBasis
		}
		snap := domain.PortfolioSnapshot{
			WalletID:       rep.WalletID,
			CashBalance:    rep.CashBalance,
			PositionsValue: positionsValue + rep.UnrealizedPnL,
			TotalValue:     rep.CashBalance + positionsValue + rep.UnrealizedPnL,
			RealizedPnL:    rep.RealizedPnL,
			UnrealizedPnL:  rep.UnrealizedPnL,
			TakenAt:        now,
		}
		if err := e.store.SavePortfolioSnapshot(ctx, snap); err != nil {
			slog.Warn("portfolio snapshot failed", "wallet", rep.WalletID, "err", err)
		}
	}
}

// shutdown drains every wallet. A wallet that cannot stop cleanly (stuck
// reservation) is faulted rather than reported as stopped.
func (e *Engine) shutdown() {
	for id, r := range e.runners {
		if r.Context().State() != domain.StateRunning {
			continue
		}
		if err := r.Stop(); err != nil {
			slog.Error("wallet failed to stop cleanly", "wallet", id, "err", err)
			r.Context().Fault("unclean stop: " + err.Error())
		}
	}
}

func midOr(bid, ask float64) float64 {
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	if ask > 0 {
		return ask
	}
	return bid
}
