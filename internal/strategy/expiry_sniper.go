package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// NameExpirySniper identifica la estrategia de sniping pre-vencimiento.
const NameExpirySniper = "expiry_sniper"

// ExpirySniperConfig configura el sniper.
type ExpirySniperConfig struct {
	Enabled                bool    `yaml:"enabled"`
	ExpiryThresholdSeconds int     `yaml:"expiry_threshold_seconds"` // solo activa por debajo de esto
	ProbThresholdPct       float64 `yaml:"prob_threshold_pct"`       // probabilidad justa mínima del lado
	MinEdgePct             float64 `yaml:"min_edge_pct"`             // con prob alta el edge puede ser bajo
	MaxSpreadPct           float64 `yaml:"max_spread_pct"`           // book más ancho no es de fiar
	AmountUSDC             float64 `yaml:"amount_usdc"`
	MaxExecutions          int     `yaml:"max_executions"` // entradas máximas por mercado
}

// Validate comprueba los parámetros.
func (c ExpirySniperConfig) Validate() error {
	if c.ExpiryThresholdSeconds <= 0 {
		return fmt.Errorf("expiry_sniper: expiry_threshold_seconds must be positive: %d", c.ExpiryThresholdSeconds)
	}
	if c.ProbThresholdPct <= 50 || c.ProbThresholdPct > 100 {
		return fmt.Errorf("expiry_sniper: prob_threshold_pct must be in (50,100]: %.2f", c.ProbThresholdPct)
	}
	if c.MaxSpreadPct <= 0 {
		return fmt.Errorf("expiry_sniper: max_spread_pct must be positive: %.2f", c.MaxSpreadPct)
	}
	if c.AmountUSDC <= 0 {
		return fmt.Errorf("expiry_sniper: amount_usdc must be positive: %.2f", c.AmountUSDC)
	}
	if c.MaxExecutions <= 0 {
		return fmt.Errorf("expiry_sniper: max_executions must be positive: %d", c.MaxExecutions)
	}
	return nil
}

// ExpirySniper captura el mispricing transitorio que aparece cerca del
// vencimiento cuando los market makers retiran liquidez: si un lado es
// casi seguro según el modelo y el ask aún no lo refleja, entra. A cambio
// mantiene hasta un settlement binario e ilíquido.
type ExpirySniper struct {
	cfg        ExpirySniperConfig
	executions map[string]int // marketID → señales emitidas
}

// NewExpirySniper crea la estrategia. El contador de ejecuciones es por
// instancia (por wallet).
func NewExpirySniper(cfg ExpirySniperConfig) *ExpirySniper {
	return &ExpirySniper{
		cfg:        cfg,
		executions: make(map[string]int),
	}
}

// Name implementa Strategy.
func (s *ExpirySniper) Name() string {
	return NameExpirySniper
}

// OnExecuted implementa ExecutionAware: el presupuesto de entradas por
// mercado solo se gasta con el fill confirmado. Una señal que el engine
// descarta o falla no cuenta y se reintenta en el siguiente tick.
func (s *ExpirySniper) OnExecuted(sig domain.TradeSignal) {
	s.executions[sig.MarketID]++
}

// Evaluate implementa Strategy.
func (s *ExpirySniper) Evaluate(_ context.Context, snap domain.MarketSnapshot, fair domain.FairValue, view domain.ContextView) (*domain.TradeSignal, error) {
	if snap.Expired() || snap.TimeToExpirySec >= s.cfg.ExpiryThresholdSeconds {
		return nil, nil
	}
	if s.executions[snap.MarketID] >= s.cfg.MaxExecutions {
		return nil, nil
	}

	// Lado casi seguro según el modelo.
	var side domain.Side
	var prob float64
	switch {
	case fair.Up*100 >= s.cfg.ProbThresholdPct:
		side, prob = domain.SideUp, fair.Up
	case fair.Down*100 >= s.cfg.ProbThresholdPct:
		side, prob = domain.SideDown, fair.Down
	default:
		return nil, nil
	}

	ask := snap.AskFor(side)
	if ask <= 0 {
		return nil, nil
	}

	// Book demasiado ancho = nadie cotiza en serio; no hay que fiarse.
	if snap.SpreadFor(side)*100 > s.cfg.MaxSpreadPct {
		return nil, nil
	}

	edge := domain.Edge(prob, ask, 0)
	if edge < s.cfg.MinEdgePct {
		return nil, nil
	}

	return &domain.TradeSignal{
		Strategy:   NameExpirySniper,
		Asset:      snap.Asset,
		MarketID:   snap.MarketID,
		Direction:  directionFor(side),
		Size:       s.cfg.AmountUSDC / ask,
		LimitPrice: ask,
		Reason: fmt.Sprintf("snipe %s: %ds to expiry, fair %.4f vs ask %.4f (edge %.2f%%)",
			side, snap.TimeToExpirySec, prob, ask, edge),
		Confidence: prob,
		EdgePct:    edge,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
