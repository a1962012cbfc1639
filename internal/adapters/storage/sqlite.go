package storage

// sqlite.go — ledger append-only de trades + snapshots de cartera.
//
// Estrategia:
//   - `trades`: una fila por fill confirmado, order_id como PRIMARY KEY.
//     INSERT OR IGNORE da idempotencia gratis: una confirmación reintentada
//     con el mismo order_id no duplica el registro ni toca el PnL.
//   - `portfolio_snapshots`: foto periódica de valor por wallet. Append-only,
//     nunca se reedita — el replay del ledger es la fuente de verdad.
//   - Prune automático al arrancar: snapshots > 90d. Los trades no se podan
//     nunca: el ledger completo es lo que permite reconstruir posiciones.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Ledger append-only: una fila por fill confirmado
CREATE TABLE IF NOT EXISTS trades (
    order_id    TEXT PRIMARY KEY,
    wallet_id   TEXT    NOT NULL,
    asset       TEXT    NOT NULL,
    market_id   TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    size        REAL    NOT NULL,
    price       REAL    NOT NULL,
    cost        REAL    NOT NULL,
    strategy    TEXT    NOT NULL,
    is_exit     INTEGER NOT NULL DEFAULT 0,
    realized    REAL    NOT NULL DEFAULT 0,
    executed_at DATETIME NOT NULL
);

-- Valor de cartera por wallet, foto periódica
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet_id       TEXT NOT NULL,
    cash_balance    REAL NOT NULL DEFAULT 0,
    positions_value REAL NOT NULL DEFAULT 0,
    total_value     REAL NOT NULL DEFAULT 0,
    realized_pnl    REAL NOT NULL DEFAULT 0,
    unrealized_pnl  REAL NOT NULL DEFAULT 0,
    taken_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_snap_wallet   ON portfolio_snapshots(wallet_id, taken_at DESC);
`

// snapshots: 90 días es más que suficiente para las curvas de equity
const retentionSnapshots = 90 * 24 * time.Hour

// SQLiteStore implementa ports.TradeStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia snapshots antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// AppendTrade añade un trade al ledger. Devuelve false si el order_id ya
// existía — la fila original queda intacta.
func (s *SQLiteStore) AppendTrade(ctx context.Context, t domain.Trade) (bool, error) {
	isExit := 0
	if t.IsExit {
		isExit = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(order_id, wallet_id, asset, market_id, side, size, price, cost,
			 strategy, is_exit, realized, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.OrderID, t.WalletID, t.Asset, t.MarketID, string(t.Side),
		t.Size, t.Price, t.Cost, t.Strategy, isExit, t.Realized,
		t.ExecutedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("storage.AppendTrade: insert %s: %w", t.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.AppendTrade: rows affected: %w", err)
	}
	return n > 0, nil
}

// TradesByWallet devuelve los trades de un wallet en el rango dado,
// en orden de ejecución — listo para ReplayTrades.
func (s *SQLiteStore) TradesByWallet(ctx context.Context, walletID string, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, wallet_id, asset, market_id, side, size, price, cost,
		       strategy, is_exit, realized, executed_at
		FROM trades
		WHERE wallet_id = ? AND executed_at BETWEEN ? AND ?
		ORDER BY executed_at ASC
	`, walletID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.TradesByWallet: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, executedAt string
		var isExit int
		if err := rows.Scan(
			&t.OrderID, &t.WalletID, &t.Asset, &t.MarketID, &side,
			&t.Size, &t.Price, &t.Cost, &t.Strategy, &isExit, &t.Realized,
			&executedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.TradesByWallet: scan row: %w", err)
		}
		t.Side = domain.Side(side)
		t.IsExit = isExit == 1
		t.ExecutedAt, _ = time.Parse(time.RFC3339, executedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SavePortfolioSnapshot añade un snapshot de valor de cartera.
func (s *SQLiteStore) SavePortfolioSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots
			(wallet_id, cash_balance, positions_value, total_value,
			 realized_pnl, unrealized_pnl, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		snap.WalletID, snap.CashBalance, snap.PositionsValue, snap.TotalValue,
		snap.RealizedPnL, snap.UnrealizedPnL, snap.TakenAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage.SavePortfolioSnapshot: insert %s: %w", snap.WalletID, err)
	}
	return nil
}

// PortfolioHistory devuelve los snapshots de un wallet en el rango dado,
// ordenados cronológicamente.
func (s *SQLiteStore) PortfolioHistory(ctx context.Context, walletID string, from, to time.Time) ([]domain.PortfolioSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_id, cash_balance, positions_value, total_value,
		       realized_pnl, unrealized_pnl, taken_at
		FROM portfolio_snapshots
		WHERE wallet_id = ? AND taken_at BETWEEN ? AND ?
		ORDER BY taken_at ASC
	`, walletID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.PortfolioHistory: query: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		var takenAt string
		if err := rows.Scan(
			&snap.WalletID, &snap.CashBalance, &snap.PositionsValue,
			&snap.TotalValue, &snap.RealizedPnL, &snap.UnrealizedPnL,
			&takenAt,
		); err != nil {
			return nil, fmt.Errorf("storage.PortfolioHistory: scan row: %w", err)
		}
		snap.TakenAt, _ = time.Parse(time.RFC3339, takenAt)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// pruneOld elimina snapshots antiguos para mantener la DB ligera.
// El ledger de trades no se poda.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionSnapshots)
	s.db.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE taken_at < ?`, cutoff)
}
