package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el estado de los wallets en el modo configurado.
func (c *Console) Notify(_ context.Context, reports []ports.WalletReport) error {
	if len(reports) == 0 {
		fmt.Fprintf(c.out, "[%s] no active wallets\n", time.Now().Format("15:04:05"))
		return nil
	}

	sorted := make([]ports.WalletReport, len(reports))
	copy(sorted, reports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WalletID < sorted[j].WalletID })

	if c.table {
		c.printFull(sorted)
	} else {
		c.printCompact(sorted)
	}
	return nil
}

// printCompact imprime una línea por wallet — el modo por defecto para
// correr en foreground sin llenar la terminal.
func (c *Console) printCompact(reports []ports.WalletReport) {
	now := time.Now().Format("15:04:05")

	var sb strings.Builder
	for i, r := range reports {
		if i == 0 {
			fmt.Fprintf(&sb, "[%s]", now)
		}
		total := r.RealizedPnL + r.UnrealizedPnL
		fmt.Fprintf(&sb, " | %s[%s] $%.2f cash, %d pos, pnl %s",
			r.WalletID, stateIcon(r.State), r.CashBalance, len(r.Positions), signedUSD(total))
		if r.Signals > 0 || r.Discarded > 0 {
			fmt.Fprintf(&sb, " (exec:%d disc:%d)", r.Signals, r.Discarded)
		}
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime el dashboard completo: resumen por wallet + tabla de
// posiciones abiertas.
func (c *Console) printFull(reports []ports.WalletReport) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] %d wallets\n", now, len(reports))

	table := tablewriter.NewWriter(c.out)
	table.Header("Wallet", "State", "Cash", "Reserved", "Realized", "Unrealized", "Pos", "Exec", "Disc")

	for _, r := range reports {
		table.Append(
			r.WalletID,
			string(r.State),
			fmt.Sprintf("$%.2f", r.CashBalance),
			fmt.Sprintf("$%.2f", r.Reserved),
			signedUSD(r.RealizedPnL),
			signedUSD(r.UnrealizedPnL),
			fmt.Sprintf("%d", len(r.Positions)),
			fmt.Sprintf("%d", r.Signals),
			fmt.Sprintf("%d", r.Discarded),
		)
	}
	table.Render()

	c.printPositions(reports)
}

// printPositions imprime la tabla de posiciones abiertas de todos los wallets.
func (c *Console) printPositions(reports []ports.WalletReport) {
	open := 0
	for _, r := range reports {
		open += len(r.Positions)
	}
	if open == 0 {
		fmt.Fprintln(c.out, "  (no open positions)")
		return
	}

	fmt.Fprintf(c.out, "\n── OPEN POSITIONS (%d) ──\n", open)

	table := tablewriter.NewWriter(c.out)
	table.Header("Wallet", "Market", "Side", "Size", "Entry", "Cost", "Strategy", "Age")

	for _, r := range reports {
		positions := make([]domain.Position, len(r.Positions))
		copy(positions, r.Positions)
		sort.Slice(positions, func(i, j int) bool {
			return positions[i].OpenedAt.Before(positions[j].OpenedAt)
		})

		for _, p := range positions {
			age := time.Since(p.OpenedAt).Truncate(time.Minute)
			table.Append(
				r.WalletID,
				marketLabel(p.MarketID),
				string(p.Side),
				fmt.Sprintf("%.1f", p.Size),
				fmt.Sprintf("%.4f", p.EntryPrice),
				fmt.Sprintf("$%.2f", p.CostBasis),
				p.Strategy,
				age.String(),
			)
		}
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// --- helpers ---

func stateIcon(s domain.WalletState) string {
	switch s {
	case domain.StateRunning:
		return "RUN"
	case domain.StateError:
		return "ERR"
	case domain.StateStopping, domain.StateStopped:
		return "STOP"
	default:
		return "IDLE"
	}
}

func signedUSD(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+$%.4f", v)
	}
	return fmt.Sprintf("-$%.4f", -v)
}

func marketLabel(marketID string) string {
	if len(marketID) > 28 {
		return marketID[:25] + "..."
	}
	return marketID
}
