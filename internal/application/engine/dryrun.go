package engine

// dryrun.go — simulated order executor.
//
// Dry-run shares the whole pipeline with live trading — signal generation,
// arbitration, reservation accounting, ledger appends — and only swaps the
// venue call: fills are assumed instantly at the quoted price. Keeping one
// code path avoids behavioral drift between tested and live strategies.

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

// SimExecutor implements ports.OrderExecutor with instant fills at the
// requested price. Idempotent on ClientID like the real venue.
type SimExecutor struct {
	mu     sync.Mutex
	placed map[string]ports.OrderResult
}

// NewSimExecutor creates the simulated executor.
func NewSimExecutor() *SimExecutor {
	return &SimExecutor{placed: make(map[string]ports.OrderResult)}
}

// PlaceOrder fills the order instantly at the quoted price.
func (s *SimExecutor) PlaceOrder(_ context.Context, req ports.OrderRequest) (ports.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.placed[req.ClientID]; ok {
		return prev, nil
	}
	res := ports.OrderResult{
		OrderID:      "sim-" + req.ClientID,
		Status:       ports.OrderFilled,
		FilledSize:   req.Size,
		AvgFillPrice: req.Price,
	}
	s.placed[req.ClientID] = res
	return res, nil
}

// CancelOrder is a no-op: simulated orders never rest in a book.
func (s *SimExecutor) CancelOrder(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// SimRedeemer implements ports.Redeemer for dry-run: the payout is the
// winning size at $1.00 per share, looked up from the wallet's own state.
type SimRedeemer struct {
	resolver ports.Resolver
	lookup   func(walletID, marketID string) (domain.Position, bool)
}

// NewSimRedeemer creates the simulated redeemer. lookup resolves the open
// position being redeemed; the sweeper owns position removal.
func NewSimRedeemer(resolver ports.Resolver, lookup func(walletID, marketID string) (domain.Position, bool)) *SimRedeemer {
	return &SimRedeemer{resolver: resolver, lookup: lookup}
}

// Redeem pays out the position if its side won. Losing sides redeem
// successfully with a zero payout, same as the real venue.
func (s *SimRedeemer) Redeem(ctx context.Context, walletID, marketID string) (ports.RedemptionResult, error) {
	pos, ok := s.lookup(walletID, marketID)
	if !ok {
		return ports.RedemptionResult{}, fmt.Errorf("engine.Redeem: no open position for %s/%s", walletID, marketID)
	}

	winner, resolved, err := s.resolver.Outcome(ctx, marketID)
	if err != nil {
		return ports.RedemptionResult{}, fmt.Errorf("engine.Redeem: outcome %s: %w", marketID, err)
	}
	if !resolved {
		return ports.RedemptionResult{}, fmt.Errorf("engine.Redeem: market %s not resolved", marketID)
	}

	payout := 0.0
	if pos.Side == winner {
		payout = pos.Size
	}
	return ports.RedemptionResult{
		Success: true,
		Payout:  payout,
		TxRef:   "sim-redeem-" + uuid.New().String(),
	}, nil
}
