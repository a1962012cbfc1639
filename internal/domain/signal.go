package domain

import (
	"fmt"
	"time"
)

// Side es el lado de un mercado binario.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Direction es la dirección de una señal de trading.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	// DirectionBoth compra ambos lados a la vez (arbitraje surebet).
	DirectionBoth Direction = "BOTH"
)

// TradeSignal es la salida de una estrategia para un (wallet, asset) en un
// tick. Se crea fresca en cada evaluación y nunca se muta: o la consume el
// engine dentro del mismo tick o se descarta — no hay cola entre ticks.
type TradeSignal struct {
	Strategy string
	Asset    string
	MarketID string

	Direction Direction
	Size      float64 // shares (pares de shares si Direction == BOTH)

	// LimitPrice para señales direccionales; UpPrice/DownPrice para BOTH.
	LimitPrice float64
	UpPrice    float64
	DownPrice  float64

	// Reduce marca una señal de cierre/reducción de posición existente
	// (venta al bid) en lugar de una entrada.
	Reduce bool

	// Instrucción conceptual de hedge en el venue de referencia. La
	// ejecución del hedge es un colaborador externo; aquí solo viaja
	// la intención.
	HedgeDirection string
	HedgeSize      float64

	Reason     string  // justificación legible para auditoría
	Confidence float64 // en [0,1]
	EdgePct    float64 // ventaja en puntos porcentuales

	CreatedAt time.Time
}

// Cost devuelve el USDC necesario para ejecutar la señal.
func (sig TradeSignal) Cost() float64 {
	if sig.Direction == DirectionBoth {
		return sig.Size * (sig.UpPrice + sig.DownPrice)
	}
	if sig.Reduce {
		return 0 // una reducción libera capital, no lo consume
	}
	return sig.Size * sig.LimitPrice
}

// Validate comprueba la coherencia interna de la señal.
func (sig TradeSignal) Validate() error {
	if sig.Strategy == "" || sig.Asset == "" {
		return fmt.Errorf("signal: missing strategy or asset")
	}
	if sig.Size <= 0 {
		return fmt.Errorf("signal %s/%s: non-positive size %.4f", sig.Strategy, sig.Asset, sig.Size)
	}
	switch sig.Direction {
	case DirectionBoth:
		if sig.UpPrice <= 0 || sig.DownPrice <= 0 {
			return fmt.Errorf("signal %s/%s: BOTH requires both leg prices", sig.Strategy, sig.Asset)
		}
	case DirectionUp, DirectionDown:
		if sig.LimitPrice <= 0 {
			return fmt.Errorf("signal %s/%s: missing limit price", sig.Strategy, sig.Asset)
		}
	default:
		return fmt.Errorf("signal %s/%s: unknown direction %q", sig.Strategy, sig.Asset, sig.Direction)
	}
	return nil
}

// SideOf devuelve el lado del mercado que opera una señal direccional.
func (sig TradeSignal) SideOf() Side {
	if sig.Direction == DirectionDown {
		return SideDown
	}
	return SideUp
}
