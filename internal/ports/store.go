package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// TradeStore persiste el ledger append-only de trades y los snapshots
// periódicos de cartera. Cualquier store durable con queries por rango
// sirve; la implementación de referencia es SQLite.
type TradeStore interface {
	// AppendTrade añade un trade al ledger. Devuelve false si el OrderID
	// ya existía — una confirmación reintentada nunca duplica el registro.
	AppendTrade(ctx context.Context, t domain.Trade) (appended bool, err error)

	// TradesByWallet devuelve los trades de un wallet en el rango dado,
	// en orden de confirmación de fill.
	TradesByWallet(ctx context.Context, walletID string, from, to time.Time) ([]domain.Trade, error)

	// SavePortfolioSnapshot añade un snapshot de valor de cartera.
	SavePortfolioSnapshot(ctx context.Context, s domain.PortfolioSnapshot) error

	// PortfolioHistory devuelve los snapshots de un wallet en el rango.
	PortfolioHistory(ctx context.Context, walletID string, from, to time.Time) ([]domain.PortfolioSnapshot, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
