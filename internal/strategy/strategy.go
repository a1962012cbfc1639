package strategy

import (
	"context"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// Strategy define el contrato de evaluación: snapshot + fair value + vista
// de solo lectura del contexto → cero o una señal. Las estrategias nunca
// mutan el contexto; solo el engine y el sweeper tocan estado de wallet.
type Strategy interface {
	// Name devuelve el identificador único de la estrategia.
	Name() string

	// Evaluate analiza un snapshot y devuelve una señal o nil.
	// nil sin error significa "sin oportunidad este tick".
	Evaluate(ctx context.Context, snap domain.MarketSnapshot, fair domain.FairValue, view domain.ContextView) (*domain.TradeSignal, error)
}

// ExecutionAware lo implementan las estrategias cuyo estado interno solo
// debe consumirse cuando la señal realmente ejecuta: contadores de
// entradas, cooldowns. El engine llama OnExecuted tras confirmar el fill;
// una señal descartada o fallida no gasta presupuesto y puede reemitirse
// en el siguiente tick.
type ExecutionAware interface {
	OnExecuted(sig domain.TradeSignal)
}

// Registry mantiene las estrategias de un wallet indexadas por nombre.
// Cada wallet construye su propio registry: el estado interno de una
// estrategia (cooldowns, ventanas de precios) nunca se comparte entre
// wallets.
type Registry map[string]Strategy

// NewRegistry crea un registry vacío.
func NewRegistry() Registry {
	return make(Registry)
}

// Register añade una estrategia al registry.
func (r Registry) Register(s Strategy) {
	r[s.Name()] = s
}

// Get devuelve la estrategia por nombre.
func (r Registry) Get(name string) (Strategy, bool) {
	s, ok := r[name]
	return s, ok
}

// Prioritized devuelve las estrategias registradas en el orden de
// prioridad dado, ignorando nombres no registrados. El orden decide el
// tie-break del engine: como mucho una señal por (wallet, asset) por tick,
// y las oportunidades libres de riesgo nunca deben quedar detrás de las
// direccionales.
func (r Registry) Prioritized(order []string) []Strategy {
	out := make([]Strategy, 0, len(r))
	for _, name := range order {
		if s, ok := r[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// DefaultPriority es el tie-break por defecto.
var DefaultPriority = []string{NameArbitrage, NameEdgeHedge, NameExpirySniper, NameTrend}
