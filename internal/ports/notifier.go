package ports

import (
	"context"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// WalletReport es el resumen por wallet que produce el engine en cada tick
// para consumo de dashboards.
type WalletReport struct {
	WalletID      string
	State         domain.WalletState
	CashBalance   float64
	Reserved      float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Positions     []domain.Position
	Signals       int // señales ejecutadas este tick
	Discarded     int // señales descartadas este tick
}

// Notifier presenta el estado de los wallets al usuario.
type Notifier interface {
	Notify(ctx context.Context, reports []WalletReport) error
}
