package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errores del contexto de ejecución.
var (
	// ErrInsufficientBalance indica que la señal requiere más USDC del
	// disponible (no reservado). La señal se descarta sin reservar nada.
	ErrInsufficientBalance = errors.New("insufficient available balance")
	// ErrInvalidTransition indica una transición de estado no permitida.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// WalletState es el estado del ciclo de vida de un wallet.
//
//	IDLE → RUNNING → STOPPING → STOPPED
//
// ERROR es alcanzable desde RUNNING o STOPPING ante un fallo irrecuperable
// y es terminal durante la vida del proceso: el wallet queda excluido de
// ticks futuros hasta reiniciar.
type WalletState string

const (
	StateIdle     WalletState = "IDLE"
	StateRunning  WalletState = "RUNNING"
	StateStopping WalletState = "STOPPING"
	StateStopped  WalletState = "STOPPED"
	StateError    WalletState = "ERROR"
)

// validTransitions captura la máquina de estados del wallet.
var validTransitions = map[WalletState][]WalletState{
	StateIdle:     {StateRunning},
	StateRunning:  {StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
}

// Event es una entrada del buffer de eventos del wallet.
type Event struct {
	At      time.Time
	Level   string // "info" | "warn" | "error"
	Message string
}

// maxEvents acota el ring buffer de eventos por wallet.
const maxEvents = 1000

// ExecutionContext es el contenedor de estado por wallet: balances,
// posiciones abiertas y buffer de eventos. Es la unidad de aislamiento
// entre wallets — el engine de cada wallet es su único dueño lógico y los
// engines de otros wallets jamás lo leen ni escriben. El mutex existe solo
// para lecturas de dashboard concurrentes con el tick del dueño.
type ExecutionContext struct {
	mu sync.Mutex

	walletID string
	state    WalletState

	usdcBalance     float64
	reservedBalance float64 // fondos comprometidos en órdenes en vuelo

	positions map[string]*Position // PositionKey → posición abierta
	autoTrade bool

	events []Event
	head   int
	filled bool
}

// NewExecutionContext crea el contexto de un wallet en estado IDLE.
func NewExecutionContext(walletID string, initialBalance float64, autoTrade bool) *ExecutionContext {
	return &ExecutionContext{
		walletID:    walletID,
		state:       StateIdle,
		usdcBalance: initialBalance,
		positions:   make(map[string]*Position),
		autoTrade:   autoTrade,
		events:      make([]Event, 0, 64),
	}
}

// WalletID devuelve el identificador del wallet.
func (c *ExecutionContext) WalletID() string {
	return c.walletID
}

// AutoTrade devuelve si el wallet tiene permitido ejecutar órdenes. Con
// auto-trade apagado las señales se observan pero nunca llegan al venue.
func (c *ExecutionContext) AutoTrade() bool {
	return c.autoTrade
}

// State devuelve el estado actual.
func (c *ExecutionContext) State() WalletState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition intenta mover el wallet a un nuevo estado. STOPPING→STOPPED
// exige reserved == 0: el engine sigue resolviendo órdenes en vuelo antes
// de declarar el wallet parado.
func (c *ExecutionContext) Transition(to WalletState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, allowed := range validTransitions[c.state] {
		if allowed != to {
			continue
		}
		if to == StateStopped && c.reservedBalance != 0 {
			return fmt.Errorf("context %s: stop with reserved=%.4f: %w",
				c.walletID, c.reservedBalance, ErrInvalidTransition)
		}
		c.state = to
		return nil
	}
	return fmt.Errorf("context %s: %s → %s: %w", c.walletID, c.state, to, ErrInvalidTransition)
}

// Fault mueve el wallet a ERROR desde cualquier estado activo. Los fallos
// de un wallet nunca se propagan a otros.
func (c *ExecutionContext) Fault(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateError
	c.append(Event{At: time.Now().UTC(), Level: "error", Message: "wallet fault: " + reason})
}

// Reserve mueve amount del balance disponible a reserved, atómicamente.
// Nunca reserva parcialmente: o hay fondos para todo o falla.
func (c *ExecutionContext) Reserve(amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount > c.usdcBalance-c.reservedBalance {
		return fmt.Errorf("context %s: need %.2f, available %.2f: %w",
			c.walletID, amount, c.usdcBalance-c.reservedBalance, ErrInsufficientBalance)
	}
	c.reservedBalance += amount
	return nil
}

// Release devuelve una reserva al balance disponible sin gastar nada
// (orden fallida, timeout o cancelación).
func (c *ExecutionContext) Release(amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservedBalance -= amount
	if c.reservedBalance < 0 {
		c.reservedBalance = 0
	}
}

// Settle consume una reserva tras un fill: libera reserved y descuenta el
// coste real del balance. Si el fill fue parcial, cost < reserved y la
// diferencia vuelve a estar disponible.
func (c *ExecutionContext) Settle(reserved, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservedBalance -= reserved
	if c.reservedBalance < 0 {
		c.reservedBalance = 0
	}
	c.usdcBalance -= cost
}

// Credit añade USDC al balance (venta, settlement, redemption).
func (c *ExecutionContext) Credit(amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usdcBalance += amount
}

// Balances devuelve (usdc, reserved) de forma consistente.
func (c *ExecutionContext) Balances() (usdc, reserved float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usdcBalance, c.reservedBalance
}

// UpsertPosition instala o reemplaza una posición. Solo el engine y el
// sweeper deben llamarlo.
func (c *ExecutionContext) UpsertPosition(p *Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[p.Key()] = p
}

// RemovePosition elimina una posición del mapa (size llegó a cero o fue
// redimida). Una posición de size 0 no se retiene como fila vacía.
func (c *ExecutionContext) RemovePosition(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, key)
}

// GetPosition devuelve una copia de la posición, si existe.
func (c *ExecutionContext) GetPosition(marketID string, side Side) (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[PositionKey(marketID, side)]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// LogEvent añade una entrada al ring buffer acotado del wallet.
func (c *ExecutionContext) LogEvent(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.append(Event{At: time.Now().UTC(), Level: level, Message: message})
}

// append asume c.mu tomado.
func (c *ExecutionContext) append(e Event) {
	if len(c.events) < maxEvents {
		c.events = append(c.events, e)
		return
	}
	c.events[c.head] = e
	c.head = (c.head + 1) % maxEvents
	c.filled = true
}

// Events devuelve los eventos en orden cronológico.
func (c *ExecutionContext) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled {
		out := make([]Event, len(c.events))
		copy(out, c.events)
		return out
	}
	out := make([]Event, 0, maxEvents)
	out = append(out, c.events[c.head:]...)
	out = append(out, c.events[:c.head]...)
	return out
}

// ContextView es la vista de solo lectura que reciben las estrategias:
// una copia consistente, sin handles al estado mutable.
type ContextView struct {
	WalletID  string
	State     WalletState
	Available float64 // usdc − reserved
	AutoTrade bool
	Positions map[string]Position // PositionKey → copia
}

// View devuelve un snapshot de solo lectura del contexto.
func (c *ExecutionContext) View() ContextView {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make(map[string]Position, len(c.positions))
	for k, p := range c.positions {
		positions[k] = *p
	}
	return ContextView{
		WalletID:  c.walletID,
		State:     c.state,
		Available: c.usdcBalance - c.reservedBalance,
		AutoTrade: c.autoTrade,
		Positions: positions,
	}
}

// Position busca una posición en la vista.
func (v ContextView) Position(marketID string, side Side) (Position, bool) {
	p, ok := v.Positions[PositionKey(marketID, side)]
	return p, ok
}

// HasExposure devuelve true si el wallet ya tiene cualquier lado de este
// mercado.
func (v ContextView) HasExposure(marketID string) bool {
	if _, ok := v.Positions[PositionKey(marketID, SideUp)]; ok {
		return true
	}
	_, ok := v.Positions[PositionKey(marketID, SideDown)]
	return ok
}
