package ports

import (
	"context"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// RedemptionResult es la respuesta del colaborador de settlement.
type RedemptionResult struct {
	Success bool
	Payout  float64 // USDC recibidos
	TxRef   string  // referencia de la transacción, si aplica
}

// Redeemer reclama el payout de una posición en un mercado resuelto.
// La construcción y firma de la transacción on-chain vive fuera del core.
type Redeemer interface {
	Redeem(ctx context.Context, walletID, marketID string) (RedemptionResult, error)
}

// Resolver informa si un mercado ya resolvió y con qué outcome.
type Resolver interface {
	// Outcome devuelve (lado ganador, resuelto). Si el mercado aún no
	// resolvió, resolved es false y side no significa nada.
	Outcome(ctx context.Context, marketID string) (side domain.Side, resolved bool, err error)
}
