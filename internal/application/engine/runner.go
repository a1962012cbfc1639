package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
	"github.com/alejandrodnm/strikebot/internal/strategy"
)

const (
	defaultOrderTimeout = 10 * time.Second
	// maxConsecutiveFailures trips the wallet into ERROR: a venue that
	// rejects every order is unsafe to keep managing.
	maxConsecutiveFailures = 5
)

// Config holds per-wallet execution parameters.
type Config struct {
	OrderTimeout    time.Duration
	MaxPositionUSDC float64  // hard cap of open exposure per market
	Priority        []string // strategy tie-break order
}

// TickStats summarizes what one wallet did in one evaluation tick.
type TickStats struct {
	Executed  int
	Discarded int
	Failed    int
}

// Runner executes signals for exactly one wallet. It is the single logical
// owner of the wallet's ExecutionContext: the reserve → place → resolve
// sequence is serialized here, so no second order can be placed against
// the same freed-up balance before the first reservation is resolved.
type Runner struct {
	ectx       *domain.ExecutionContext
	strategies []strategy.Strategy
	executor   ports.OrderExecutor
	store      ports.TradeStore
	cfg        Config

	mu          sync.Mutex
	realized    float64 // running realized PnL, mirrored by the ledger

	consecutive int // consecutive order failures
	newID       func() string
}

// NewRunner builds the runner for one wallet. The registry is owned by
// this wallet; strategy state never crosses wallets.
func NewRunner(ectx *domain.ExecutionContext, reg strategy.Registry, executor ports.OrderExecutor, store ports.TradeStore, cfg Config) *Runner {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = defaultOrderTimeout
	}
	priority := cfg.Priority
	if len(priority) == 0 {
		priority = strategy.DefaultPriority
	}
	return &Runner{
		ectx:       ectx,
		strategies: reg.Prioritized(priority),
		executor:   executor,
		store:      store,
		cfg:        cfg,
		newID:      func() string { return uuid.New().String() },
	}
}

// Context exposes the wallet context for the sweeper and dashboards.
func (r *Runner) Context() *domain.ExecutionContext {
	return r.ectx
}

// RealizedPnL returns the running realized PnL for this wallet.
func (r *Runner) RealizedPnL() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.realized
}

// AddRealized merges realized PnL booked outside the tick loop — the
// sweeper settles redemptions on its own cadence, and the ledger and the
// live accumulator must tell the same story.
func (r *Runner) AddRealized(delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realized += delta
}

// Start transitions the wallet into RUNNING.
func (r *Runner) Start() error {
	if err := r.ectx.Transition(domain.StateRunning); err != nil {
		return fmt.Errorf("runner %s: start: %w", r.ectx.WalletID(), err)
	}
	r.ectx.LogEvent("info", "wallet running")
	return nil
}

// Stop drains the wallet: STOPPING immediately, STOPPED once no reserved
// balance remains. Orders are resolved within the tick, so after the last
// tick the reservation is always zero unless the wallet faulted.
func (r *Runner) Stop() error {
	if err := r.ectx.Transition(domain.StateStopping); err != nil {
		return err
	}
	if err := r.ectx.Transition(domain.StateStopped); err != nil {
		return err
	}
	r.ectx.LogEvent("info", "wallet stopped")
	return nil
}

// Tick evaluates every snapshot for this wallet and executes at most one
// signal per asset, honoring the strategy priority order. Only RUNNING
// wallets accept new signals.
func (r *Runner) Tick(ctx context.Context, snaps []domain.MarketSnapshot, riskFreeRate float64) TickStats {
	var stats TickStats

	if r.ectx.State() != domain.StateRunning {
		return stats
	}

	for _, snap := range snaps {
		fair := domain.FairProbability(
			snap.SpotPrice, snap.StrikePrice,
			snap.TimeToExpirySec, snap.Volatility, riskFreeRate,
		)

		sig := r.arbitrate(ctx, snap, fair)
		if sig == nil {
			continue
		}

		// Con auto-trade apagado la señal se observa pero nunca toca el
		// venue ni el balance.
		if !r.ectx.AutoTrade() {
			slog.Info("signal detected, auto-trade disabled",
				"wallet", r.ectx.WalletID(),
				"strategy", sig.Strategy,
				"asset", sig.Asset,
				"direction", sig.Direction,
				"reason", sig.Reason,
			)
			r.ectx.LogEvent("info", fmt.Sprintf("signal %s %s %s not executed: auto-trade disabled",
				sig.Strategy, sig.Asset, sig.Direction))
			continue
		}

		switch r.execute(ctx, *sig, snap) {
		case outcomeExecuted:
			stats.Executed++
			r.consecutive = 0
			r.confirmExecuted(*sig)
		case outcomeDiscarded:
			stats.Discarded++
		case outcomeFailed:
			stats.Failed++
			r.consecutive++
			if r.consecutive >= maxConsecutiveFailures {
				r.ectx.Fault(fmt.Sprintf("%d consecutive order failures", r.consecutive))
				slog.Error("wallet faulted",
					"wallet", r.ectx.WalletID(),
					"consecutive_failures", r.consecutive,
				)
				return stats
			}
		}
	}
	return stats
}

// arbitrate runs the strategies in priority order and returns the first
// valid signal: at most one signal per (wallet, asset) per tick, and a
// risk-free opportunity is never starved by a directional one.
func (r *Runner) arbitrate(ctx context.Context, snap domain.MarketSnapshot, fair domain.FairValue) *domain.TradeSignal {
	view := r.ectx.View()

	for _, s := range r.strategies {
		sig, err := s.Evaluate(ctx, snap, fair, view)
		if err != nil {
			slog.Warn("strategy evaluation failed",
				"wallet", r.ectx.WalletID(),
				"strategy", s.Name(),
				"asset", snap.Asset,
				"err", err,
			)
			continue
		}
		if sig == nil {
			continue
		}
		if err := sig.Validate(); err != nil {
			slog.Warn("invalid signal discarded",
				"wallet", r.ectx.WalletID(), "strategy", s.Name(), "err", err)
			continue
		}
		return sig
	}
	return nil
}

// confirmExecuted notifies the originating strategy that its signal really
// executed. Budgets and cooldowns burn here, not at emission: a signal
// discarded or failed by the engine stays available for the next tick.
func (r *Runner) confirmExecuted(sig domain.TradeSignal) {
	for _, s := range r.strategies {
		if s.Name() != sig.Strategy {
			continue
		}
		if aware, ok := s.(strategy.ExecutionAware); ok {
			aware.OnExecuted(sig)
		}
		return
	}
}

type executionOutcome int

const (
	outcomeExecuted executionOutcome = iota
	outcomeDiscarded
	outcomeFailed
)

// execute turns an accepted signal into order placement, reservation
// accounting, position updates and ledger appends. Failures release the
// reservation and are retried naturally on the next tick — a stale signal
// is never resubmitted in-loop.
func (r *Runner) execute(ctx context.Context, sig domain.TradeSignal, snap domain.MarketSnapshot) executionOutcome {
	if sig.Reduce {
		return r.executeReduce(ctx, sig)
	}

	cost := sig.Cost()
	if pos, ok := r.ectx.View().Position(sig.MarketID, sig.SideOf()); ok && sig.Direction != domain.DirectionBoth {
		if pos.CostBasis+cost > r.cfg.MaxPositionUSDC && r.cfg.MaxPositionUSDC > 0 {
			r.discard(sig, fmt.Sprintf("position cap: basis $%.2f + $%.2f > $%.2f",
				pos.CostBasis, cost, r.cfg.MaxPositionUSDC))
			return outcomeDiscarded
		}
	}

	// Never partially reserve: either the whole signal fits the available
	// (non-reserved) balance or it is dropped before touching anything.
	if err := r.ectx.Reserve(cost); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			r.discard(sig, err.Error())
			return outcomeDiscarded
		}
		r.discard(sig, err.Error())
		return outcomeDiscarded
	}

	if sig.Direction == domain.DirectionBoth {
		return r.executeBoth(ctx, sig)
	}

	leg := legOrder{
		side:  sig.SideOf(),
		price: sig.LimitPrice,
		size:  sig.Size,
	}
	filled, outcome := r.placeLeg(ctx, sig, leg, cost)
	if !filled {
		return outcome
	}

	slog.Info("signal executed",
		"wallet", r.ectx.WalletID(),
		"strategy", sig.Strategy,
		"asset", sig.Asset,
		"direction", sig.Direction,
		"size", fmt.Sprintf("%.2f", sig.Size),
		"price", fmt.Sprintf("%.4f", sig.LimitPrice),
		"reason", sig.Reason,
	)
	return outcomeExecuted
}

// executeBoth places the two arbitrage legs sequentially. If one leg fills
// and the other fails, the filled leg is a real directional position — no
// longer risk-free. It stays tracked, is visible in the ledger as a
// single-sided fill, and is deliberately not auto-unwound.
func (r *Runner) executeBoth(ctx context.Context, sig domain.TradeSignal) executionOutcome {
	upLeg := legOrder{side: domain.SideUp, price: sig.UpPrice, size: sig.Size}
	downLeg := legOrder{side: domain.SideDown, price: sig.DownPrice, size: sig.Size}

	upFilled, _ := r.placeLeg(ctx, sig, upLeg, upLeg.cost())
	downFilled, _ := r.placeLeg(ctx, sig, downLeg, downLeg.cost())

	switch {
	case upFilled && downFilled:
		slog.Info("arbitrage executed",
			"wallet", r.ectx.WalletID(),
			"asset", sig.Asset,
			"pairs", fmt.Sprintf("%.2f", sig.Size),
			"cost", fmt.Sprintf("%.4f", sig.UpPrice+sig.DownPrice),
			"reason", sig.Reason,
		)
		return outcomeExecuted
	case upFilled || downFilled:
		filled := domain.SideUp
		if downFilled {
			filled = domain.SideDown
		}
		// One-legged surebet: now a directional position.
		slog.Error("SINGLE-SIDED ARBITRAGE FILL — position is now directional",
			"wallet", r.ectx.WalletID(),
			"asset", sig.Asset,
			"filled_side", filled,
			"size", fmt.Sprintf("%.2f", sig.Size),
		)
		r.ectx.LogEvent("error", fmt.Sprintf("arbitrage leg %s failed on %s: directional exposure %.2f shares",
			filled.Opposite(), sig.Asset, sig.Size))
		return outcomeExecuted
	default:
		return outcomeFailed
	}
}

// legOrder is one order leg derived from a signal.
type legOrder struct {
	side  domain.Side
	price float64
	size  float64
}

func (l legOrder) cost() float64 {
	return l.price * l.size
}

// placeLeg runs the reserve-backed placement of one leg: the reserved
// amount for this leg is either settled against the actual fill cost or
// released untouched on failure/timeout.
func (r *Runner) placeLeg(ctx context.Context, sig domain.TradeSignal, leg legOrder, reserved float64) (bool, executionOutcome) {
	clientID := r.newID()
	req := ports.OrderRequest{
		ClientID: clientID,
		WalletID: r.ectx.WalletID(),
		Asset:    sig.Asset,
		MarketID: sig.MarketID,
		Side:     leg.side,
		Action:   ports.ActionBuy,
		Price:    leg.price,
		Size:     leg.size,
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OrderTimeout)
	defer cancel()

	res, err := r.executor.PlaceOrder(callCtx, req)
	if err != nil || res.Status == ports.OrderRejected || res.FilledSize <= 0 {
		r.ectx.Release(reserved)
		reason := "rejected by venue"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("order placement failed",
			"wallet", r.ectx.WalletID(),
			"strategy", sig.Strategy,
			"asset", sig.Asset,
			"side", leg.side,
			"reason", reason,
		)
		r.ectx.LogEvent("warn", fmt.Sprintf("order failed: %s %s %s: %s",
			sig.Strategy, sig.Asset, leg.side, reason))
		return false, outcomeFailed
	}

	fillCost := res.AvgFillPrice * res.FilledSize
	r.applyFill(clientID, sig, leg.side, res, reserved, fillCost)
	return true, outcomeExecuted
}

// applyFill settles the reservation, merges the position (VWAP on adds)
// and appends the ledger record. The ledger append is keyed by the client
// order id: if the store reports a duplicate, the fill was already booked
// and the position is left untouched.
func (r *Runner) applyFill(clientID string, sig domain.TradeSignal, side domain.Side, res ports.OrderResult, reserved, fillCost float64) {
	now := time.Now().UTC()

	trade := domain.Trade{
		OrderID:    clientID,
		WalletID:   r.ectx.WalletID(),
		Asset:      sig.Asset,
		MarketID:   sig.MarketID,
		Side:       side,
		Size:       res.FilledSize,
		Price:      res.AvgFillPrice,
		Cost:       fillCost,
		Strategy:   sig.Strategy,
		ExecutedAt: now,
	}

	appended, err := r.store.AppendTrade(context.Background(), trade)
	if err != nil {
		// The fill is real and must be applied, but the ledger is now
		// missing a trade: replay will not reconstruct this state until
		// someone reconciles it.
		slog.Error("ledger append failed, live state ahead of ledger",
			"wallet", r.ectx.WalletID(), "order_id", clientID, "err", err)
		r.ectx.LogEvent("error", fmt.Sprintf("ledger missing fill %s %s %s: %v",
			sig.Asset, side, clientID, err))
	}
	if err == nil && !appended {
		// Duplicate confirmation: already booked, do not double-apply.
		r.ectx.Release(reserved)
		return
	}

	r.ectx.Settle(reserved, fillCost)

	pos, ok := r.ectx.GetPosition(sig.MarketID, side)
	if !ok {
		pos = domain.Position{
			Asset:    sig.Asset,
			MarketID: sig.MarketID,
			Side:     side,
			Strategy: sig.Strategy,
			Status:   domain.PositionOpen,
			OpenedAt: now,
		}
	}
	pos.AddFill(res.AvgFillPrice, res.FilledSize, now)
	r.ectx.UpsertPosition(&pos)
}

// executeReduce sells down an existing position. Sells consume no balance,
// so there is no reservation: proceeds are credited on fill and the
// realized PnL flows into the ledger record.
func (r *Runner) executeReduce(ctx context.Context, sig domain.TradeSignal) executionOutcome {
	side := sig.SideOf()
	pos, ok := r.ectx.GetPosition(sig.MarketID, side)
	if !ok {
		r.discard(sig, "reduce signal without open position")
		return outcomeDiscarded
	}

	clientID := r.newID()
	req := ports.OrderRequest{
		ClientID: clientID,
		WalletID: r.ectx.WalletID(),
		Asset:    sig.Asset,
		MarketID: sig.MarketID,
		Side:     side,
		Action:   ports.ActionSell,
		Price:    sig.LimitPrice,
		Size:     sig.Size,
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OrderTimeout)
	defer cancel()

	res, err := r.executor.PlaceOrder(callCtx, req)
	if err != nil || res.Status == ports.OrderRejected || res.FilledSize <= 0 {
		reason := "rejected by venue"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("reduce order failed",
			"wallet", r.ectx.WalletID(), "asset", sig.Asset, "side", side, "reason", reason)
		r.ectx.LogEvent("warn", fmt.Sprintf("reduce failed: %s %s: %s", sig.Asset, side, reason))
		return outcomeFailed
	}

	now := time.Now().UTC()
	entry := pos.EntryPrice
	realized := pos.ReduceFill(res.AvgFillPrice, res.FilledSize, now)
	proceeds := res.AvgFillPrice * res.FilledSize

	trade := domain.Trade{
		OrderID:    clientID,
		WalletID:   r.ectx.WalletID(),
		Asset:      sig.Asset,
		MarketID:   sig.MarketID,
		Side:       side,
		Size:       res.FilledSize,
		Price:      res.AvgFillPrice,
		Cost:       -proceeds,
		Strategy:   sig.Strategy,
		IsExit:     true,
		Realized:   realized,
		ExecutedAt: now,
	}
	appended, err := r.store.AppendTrade(context.Background(), trade)
	if err != nil {
		slog.Error("ledger append failed, live state ahead of ledger",
			"wallet", r.ectx.WalletID(), "order_id", clientID, "err", err)
		r.ectx.LogEvent("error", fmt.Sprintf("ledger missing exit %s %s %s: %v",
			sig.Asset, side, clientID, err))
	}
	if err == nil && !appended {
		return outcomeExecuted
	}

	r.ectx.Credit(proceeds)
	r.AddRealized(realized)
	if pos.Size == 0 {
		r.ectx.RemovePosition(pos.Key())
	} else {
		r.ectx.UpsertPosition(&pos)
	}

	slog.Info("position reduced",
		"wallet", r.ectx.WalletID(),
		"asset", sig.Asset,
		"side", side,
		"entry", fmt.Sprintf("%.4f", entry),
		"exit", fmt.Sprintf("%.4f", res.AvgFillPrice),
		"realized", fmt.Sprintf("$%.4f", realized),
		"reason", sig.Reason,
	)
	return outcomeExecuted
}

// discard logs a dropped signal with enough context to reconstruct the
// decision for audit. No state is mutated.
func (r *Runner) discard(sig domain.TradeSignal, reason string) {
	slog.Warn("signal discarded",
		"wallet", r.ectx.WalletID(),
		"strategy", sig.Strategy,
		"asset", sig.Asset,
		"direction", sig.Direction,
		"reason", reason,
	)
	r.ectx.LogEvent("warn", fmt.Sprintf("discarded %s %s: %s", sig.Strategy, sig.Asset, reason))
}
