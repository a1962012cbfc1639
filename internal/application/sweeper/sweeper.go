package sweeper

// sweeper.go — post-settlement redemption.
//
// Corre en una cadencia lenta (minutos, no ticks): por cada wallet escanea
// las posiciones OPEN cuyo mercado ya resolvió y reclama el payout vía el
// colaborador de settlement. Un fallo de redemption nunca es fatal para el
// loop de trading — se reintenta en el siguiente sweep.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

// Config configura el sweeper.
type Config struct {
	Interval    time.Duration
	FeeRate     float64 // fee descontado del payoff binario
	MaxAttempts int     // tras esto se señala para atención manual
}

// Wallet es lo que el sweeper necesita de cada wallet: su contexto y un
// acumulador de PnL realizado. El settlement muta estado vivo igual que
// una reducción del engine: el realizado de una redemption tiene que
// acabar en el mismo acumulador que replica el ledger.
type Wallet interface {
	Context() *domain.ExecutionContext
	AddRealized(delta float64)
}

// Sweeper redime posiciones de mercados resueltos.
type Sweeper struct {
	cfg      Config
	redeemer ports.Redeemer
	resolver ports.Resolver
	store    ports.TradeStore
	wallets  map[string]Wallet

	attempts map[string]int // walletID/marketID/side → intentos fallidos
	newID    func() string
}

// New crea el sweeper sobre el registry de wallets del engine.
func New(cfg Config, redeemer ports.Redeemer, resolver ports.Resolver, store ports.TradeStore, wallets map[string]Wallet) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	return &Sweeper{
		cfg:      cfg,
		redeemer: redeemer,
		resolver: resolver,
		store:    store,
		wallets:  wallets,
		attempts: make(map[string]int),
		newID:    func() string { return uuid.New().String() },
	}
}

// Run ejecuta el loop de sweeps hasta que el contexto se cancele.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("redemption sweeper starting", "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("redemption sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce recorre todos los wallets una vez. Devuelve cuántas posiciones
// se redimieron.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	redeemed := 0
	for walletID, w := range s.wallets {
		ectx := w.Context()
		if ectx.State() == domain.StateError {
			continue // wallet en fault: no tocar
		}
		redeemed += s.sweepWallet(ctx, walletID, w)
	}
	if redeemed > 0 {
		slog.Info("sweep complete", "redeemed", redeemed)
	}
	return redeemed
}

// sweepWallet redime las posiciones resueltas de un wallet.
func (s *Sweeper) sweepWallet(ctx context.Context, walletID string, w Wallet) int {
	redeemed := 0
	for _, pos := range w.Context().View().Positions {
		if pos.Status != domain.PositionOpen {
			continue
		}

		winner, resolved, err := s.resolver.Outcome(ctx, pos.MarketID)
		if err != nil {
			slog.Warn("outcome lookup failed", "market", pos.MarketID, "err", err)
			continue
		}
		if !resolved {
			continue
		}

		if s.redeem(ctx, walletID, w, pos, winner) {
			redeemed++
		}
	}
	return redeemed
}

// redeem reclama el payout de una posición resuelta y la marca REDEEMED,
// añadiendo el trade de cierre al ledger con el payoff binario como precio
// (1.0 o 0.0, menos fees).
func (s *Sweeper) redeem(ctx context.Context, walletID string, w Wallet, pos domain.Position, winner domain.Side) bool {
	key := walletID + "/" + pos.Key()
	ectx := w.Context()

	res, err := s.redeemer.Redeem(ctx, walletID, pos.MarketID)
	if err != nil || !res.Success {
		s.attempts[key]++
		reason := "venue reported failure"
		if err != nil {
			reason = err.Error()
		}
		if s.attempts[key] >= s.cfg.MaxAttempts {
			// Cap alcanzado: visible para atención manual, se sigue intentando.
			slog.Error("redemption needs manual attention",
				"wallet", walletID, "market", pos.MarketID, "attempts", s.attempts[key], "reason", reason)
			ectx.LogEvent("error", fmt.Sprintf("redemption stuck after %d attempts: %s", s.attempts[key], pos.MarketID))
		} else {
			slog.Warn("redemption failed, will retry",
				"wallet", walletID, "market", pos.MarketID, "attempts", s.attempts[key], "reason", reason)
		}
		return false
	}
	delete(s.attempts, key)

	// Payoff binario del lado de la posición, neto de fees.
	payoff := 0.0
	if pos.Side == winner {
		payoff = 1.0 - s.cfg.FeeRate
	}

	now := time.Now().UTC()
	size := pos.Size
	realized := pos.ReduceFill(payoff, size, now)
	pos.Status = domain.PositionRedeemed

	trade := domain.Trade{
		OrderID:    s.newID(),
		WalletID:   walletID,
		Asset:      pos.Asset,
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		Size:       size,
		Price:      payoff,
		Cost:       -payoff * size,
		Strategy:   pos.Strategy,
		IsExit:     true,
		Realized:   realized,
		ExecutedAt: now,
	}
	if _, err := s.store.AppendTrade(ctx, trade); err != nil {
		slog.Error("settlement trade append failed, live state ahead of ledger",
			"wallet", walletID, "market", pos.MarketID, "err", err)
		ectx.LogEvent("error", fmt.Sprintf("ledger missing settlement %s %s: %v",
			pos.MarketID, pos.Side, err))
	}

	// El cash y el trade de cierre cuentan lo mismo: payoff neto de fees
	// por share. El payout bruto del venue queda solo como referencia.
	net := payoff * size
	ectx.Credit(net)
	w.AddRealized(realized)
	ectx.RemovePosition(pos.Key())
	ectx.LogEvent("info", fmt.Sprintf("redeemed %s %s: payout $%.2f (realized $%.4f)",
		pos.MarketID, pos.Side, net, realized))

	slog.Info("position redeemed",
		"wallet", walletID,
		"market", pos.MarketID,
		"side", pos.Side,
		"winner", winner,
		"payout", fmt.Sprintf("$%.2f", net),
		"venue_payout", fmt.Sprintf("$%.2f", res.Payout),
		"tx_ref", res.TxRef,
		"realized", fmt.Sprintf("$%.4f", realized),
	)
	return true
}
