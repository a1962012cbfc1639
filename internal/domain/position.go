package domain

import "time"

// PositionStatus es el ciclo de vida de una posición.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "OPEN"
	PositionClosed   PositionStatus = "CLOSED"
	PositionRedeemed PositionStatus = "REDEEMED"
)

// Position es una exposición abierta por (wallet, asset, market, side).
// La mutan exclusivamente el execution engine (fills) y el redemption
// sweeper (settlement); las estrategias solo la leen.
type Position struct {
	Asset    string
	MarketID string
	Side     Side

	EntryPrice float64 // precio medio ponderado por volumen
	Size       float64 // shares; nunca negativo
	CostBasis  float64 // USDC invertidos
	Strategy   string  // estrategia que abrió la posición

	Status    PositionStatus
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// Key identifica la posición dentro del mapa del contexto.
func (p Position) Key() string {
	return PositionKey(p.MarketID, p.Side)
}

// PositionKey construye la clave (market, side) del mapa de posiciones.
func PositionKey(marketID string, side Side) string {
	return marketID + "/" + string(side)
}

// AddFill incorpora un fill en la misma dirección: el entry price pasa a
// ser la media ponderada por volumen y el size crece monótonamente.
func (p *Position) AddFill(price, size float64, at time.Time) {
	newSize := p.Size + size
	if newSize > 0 {
		p.EntryPrice = (p.EntryPrice*p.Size + price*size) / newSize
	}
	p.Size = newSize
	p.CostBasis += price * size
	p.UpdatedAt = at
}

// ReduceFill reduce la posición con un fill en dirección contraria y
// devuelve el PnL realizado del tramo cerrado. El size a cerrar se capa
// al size abierto; una posición nunca pasa a negativo. Si queda en cero
// el status transiciona a CLOSED y el caller debe eliminar la entrada
// del mapa — una posición de size 0 está lógicamente ausente.
func (p *Position) ReduceFill(price, size float64, at time.Time) (realized float64) {
	closed := size
	if closed > p.Size {
		closed = p.Size
	}
	realized = (price - p.EntryPrice) * closed

	p.Size -= closed
	p.CostBasis -= p.EntryPrice * closed
	p.UpdatedAt = at
	if p.Size == 0 {
		p.Status = PositionClosed
		p.CostBasis = 0
	}
	return realized
}

// UnrealizedPnL marca la posición al precio actual del token de su lado.
// Se recalcula bajo demanda desde el último snapshot, nunca se almacena.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Status != PositionOpen {
		return 0
	}
	return (currentPrice - p.EntryPrice) * p.Size
}

// MarketValue devuelve el valor mark-to-market de la posición.
func (p Position) MarketValue(currentPrice float64) float64 {
	if p.Status != PositionOpen {
		return 0
	}
	return currentPrice * p.Size
}

// Trade es un registro inmutable del ledger append-only. Una vez escrito
// nunca se actualiza ni borra — las correcciones se modelan como trades
// compensatorios nuevos.
type Trade struct {
	OrderID  string // id de orden provisto por el caller; clave de idempotencia
	WalletID string
	Asset    string
	MarketID string
	Side     Side

	Size  float64 // shares
	Price float64 // precio del token operado
	Cost  float64 // USDC (negativo en ventas/settlements que devuelven capital)

	Strategy string
	IsExit   bool    // true si cierra/reduce una posición
	Realized float64 // contribución de PnL realizado; 0 salvo en exits

	ExecutedAt time.Time
}
