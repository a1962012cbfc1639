package ports

import (
	"context"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// OrderAction distingue compras de ventas en el venue de trading.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderRequest es una orden a colocar contra el venue de trading.
// ClientID lo provee el caller (uuid) y es la clave de idempotencia:
// reenviar la misma request no debe duplicar la orden.
type OrderRequest struct {
	ClientID string
	WalletID string
	Asset    string
	MarketID string
	Side     domain.Side
	Action   OrderAction
	Price    float64
	Size     float64 // shares
}

// OrderStatus es el estado reportado por el venue.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderRejected OrderStatus = "REJECTED"
)

// OrderResult es la confirmación del venue tras colocar una orden.
type OrderResult struct {
	OrderID      string // id asignado por el venue
	Status       OrderStatus
	FilledSize   float64
	AvgFillPrice float64
}

// OrderExecutor coloca y cancela órdenes reales en el venue de trading.
// Toda llamada es un punto de suspensión: el engine del wallet puede
// bloquearse aquí sin afectar a otros wallets.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}
