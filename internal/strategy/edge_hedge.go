package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// NameEdgeHedge identifica la estrategia de edge cross-venue.
const NameEdgeHedge = "edge_hedge"

// EdgeHedgeConfig configura la estrategia edge/hedge.
type EdgeHedgeConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	MinEdgePct              float64 `yaml:"min_edge_pct"`              // edge mínimo de entrada
	ProfitHedgeThresholdPct float64 `yaml:"profit_hedge_threshold_pct"` // convergencia para tomar beneficio
	StopLossPct             float64 `yaml:"stop_loss_pct"`             // caída que fuerza el unwind
	PositionSizeUSDC        float64 `yaml:"position_size_usdc"`
	HedgeRatio              float64 `yaml:"hedge_ratio"`       // fracción cubierta en el venue spot
	EntryCooldownSec        int     `yaml:"entry_cooldown_sec"` // anti re-entrada inmediata
}

// Validate comprueba los parámetros. El umbral de profit debe quedar por
// debajo del stop loss o los dos disparos se pisan.
func (c EdgeHedgeConfig) Validate() error {
	if c.MinEdgePct < 0 {
		return fmt.Errorf("edge_hedge: min_edge_pct must be non-negative: %.2f", c.MinEdgePct)
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("edge_hedge: stop_loss_pct must be positive: %.2f", c.StopLossPct)
	}
	if c.ProfitHedgeThresholdPct >= c.StopLossPct {
		return fmt.Errorf("edge_hedge: profit threshold %.2f%% must be below stop loss %.2f%%",
			c.ProfitHedgeThresholdPct, c.StopLossPct)
	}
	if c.PositionSizeUSDC <= 0 {
		return fmt.Errorf("edge_hedge: position_size_usdc must be positive: %.2f", c.PositionSizeUSDC)
	}
	if c.HedgeRatio < 0 || c.HedgeRatio > 1 {
		return fmt.Errorf("edge_hedge: hedge_ratio must be in [0,1]: %.2f", c.HedgeRatio)
	}
	return nil
}

// EdgeHedge compara el fair value derivado del feed de referencia contra
// los asks del venue: si el edge absoluto supera el mínimo entra en el
// lado infravalorado, emitiendo la instrucción conceptual de hedge para el
// venue spot. Cierra cuando el edge converge (toma de beneficio) o cuando
// el precio rompe el stop loss.
type EdgeHedge struct {
	cfg       EdgeHedgeConfig
	cooldown  time.Duration
	lastEntry map[string]time.Time // asset → última entrada
	now       func() time.Time
}

// NewEdgeHedge crea la estrategia. El estado de cooldown es por instancia
// — cada wallet tiene la suya.
func NewEdgeHedge(cfg EdgeHedgeConfig) *EdgeHedge {
	return &EdgeHedge{
		cfg:       cfg,
		cooldown:  time.Duration(cfg.EntryCooldownSec) * time.Second,
		lastEntry: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Name implementa Strategy.
func (s *EdgeHedge) Name() string {
	return NameEdgeHedge
}

// OnExecuted implementa ExecutionAware: el cooldown arranca con el fill
// confirmado, no con la emisión. Un unwind no es una entrada y no cuenta.
func (s *EdgeHedge) OnExecuted(sig domain.TradeSignal) {
	if sig.Reduce {
		return
	}
	s.lastEntry[sig.Asset] = s.now()
}

// Evaluate implementa Strategy.
func (s *EdgeHedge) Evaluate(_ context.Context, snap domain.MarketSnapshot, fair domain.FairValue, view domain.ContextView) (*domain.TradeSignal, error) {
	if snap.Expired() {
		return nil, nil
	}

	// Primero el mantenimiento de posiciones existentes: el unwind tiene
	// prioridad sobre nuevas entradas en el mismo mercado.
	if sig := s.evaluateUnwind(snap, fair, view); sig != nil {
		return sig, nil
	}

	if view.HasExposure(snap.MarketID) {
		return nil, nil
	}
	if last, ok := s.lastEntry[snap.Asset]; ok && s.now().Sub(last) < s.cooldown {
		return nil, nil
	}

	edgeUp := domain.Edge(fair.Up, snap.UpAsk, snap.UpSpread())
	edgeDown := domain.Edge(fair.Down, snap.DownAsk, snap.DownSpread())

	side, edge, ask := domain.SideUp, edgeUp, snap.UpAsk
	if edgeDown > edgeUp {
		side, edge, ask = domain.SideDown, edgeDown, snap.DownAsk
	}
	if edge < s.cfg.MinEdgePct || ask <= 0 {
		return nil, nil
	}

	shares := s.cfg.PositionSizeUSDC / ask

	fairSide := fair.Up
	if side == domain.SideDown {
		fairSide = fair.Down
	}

	return &domain.TradeSignal{
		Strategy:   NameEdgeHedge,
		Asset:      snap.Asset,
		MarketID:   snap.MarketID,
		Direction:  directionFor(side),
		Size:       shares,
		LimitPrice: ask,
		Reason: fmt.Sprintf("edge %.2f%%: fair %.4f vs ask %.4f on %s",
			edge, fairSide, ask, side),
		Confidence:     fairSide,
		EdgePct:        edge,
		HedgeDirection: string(side.Opposite()),
		HedgeSize:      shares * s.cfg.HedgeRatio,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// evaluateUnwind revisa las posiciones edge_hedge abiertas en este mercado
// y devuelve una señal de reducción si tocó la toma de beneficio o el stop.
func (s *EdgeHedge) evaluateUnwind(snap domain.MarketSnapshot, fair domain.FairValue, view domain.ContextView) *domain.TradeSignal {
	for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
		pos, ok := view.Position(snap.MarketID, side)
		if !ok || pos.Strategy != NameEdgeHedge || pos.EntryPrice <= 0 {
			continue
		}

		bid := snap.BidFor(side)
		if bid <= 0 {
			continue
		}
		movePct := (bid - pos.EntryPrice) / pos.EntryPrice * 100

		var reason string
		switch {
		case movePct >= s.cfg.ProfitHedgeThresholdPct:
			reason = fmt.Sprintf("profit take: %s +%.2f%% desde entry %.4f", side, movePct, pos.EntryPrice)
		case movePct <= -s.cfg.StopLossPct:
			reason = fmt.Sprintf("stop loss: %s %.2f%% desde entry %.4f", side, movePct, pos.EntryPrice)
		default:
			continue
		}

		return &domain.TradeSignal{
			Strategy:   NameEdgeHedge,
			Asset:      snap.Asset,
			MarketID:   snap.MarketID,
			Direction:  directionFor(side),
			Size:       pos.Size,
			LimitPrice: bid,
			Reduce:     true,
			Reason:     reason,
			EdgePct:    movePct,
			CreatedAt:  time.Now().UTC(),
		}
	}
	return nil
}

func directionFor(side domain.Side) domain.Direction {
	if side == domain.SideDown {
		return domain.DirectionDown
	}
	return domain.DirectionUp
}
