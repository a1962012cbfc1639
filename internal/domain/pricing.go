package domain

import "math"

// pricing.go — modelo de probabilidad Black-Scholes para opciones binarias.
//
//	P(Up) = N(d2)
//	d2 = [ln(S/K) + (r − σ²/2)T] / (σ√T)
//
// S = spot de referencia, K = strike (open de la vela horaria),
// r = tasa libre de riesgo (cripto ≈ 0), σ = volatilidad anualizada,
// T = tiempo a vencimiento en años.

// HoursPerYear para convertir segundos a años: 365 × 24.
const HoursPerYear = 8760

// FairValue es la probabilidad justa derivada del modelo. No se persiste;
// se recalcula en cada tick. Up + Down == 1.0 por construcción.
type FairValue struct {
	Up   float64 // probabilidad justa del lado UP, en [0,1]
	Down float64 // complemento exacto: 1.0 − Up
	D2   float64 // valor d2 del modelo, útil para debugging
}

// FairProbability calcula la probabilidad justa de que spot termine por
// encima de strike al vencimiento, bajo difusión log-normal.
//
// Casos degenerados:
//   - timeToExpirySec == 0: resolución determinista — 1.0 si spot > strike,
//     0.0 en caso contrario. Sin término de difusión.
//   - volatility <= 0: misma regla determinista (incertidumbre cero),
//     nunca división por cero.
//
// Pura y determinista: segura para llamar concurrentemente desde cualquier
// número de evaluaciones de estrategia.
func FairProbability(spot, strike float64, timeToExpirySec int, volatility, riskFreeRate float64) FairValue {
	if spot <= 0 || strike <= 0 {
		return FairValue{Up: 0.5, Down: 0.5}
	}

	if timeToExpirySec <= 0 || volatility <= 0 {
		if spot > strike {
			return FairValue{Up: 1.0, Down: 0.0, D2: math.Inf(1)}
		}
		return FairValue{Up: 0.0, Down: 1.0, D2: math.Inf(-1)}
	}

	T := float64(timeToExpirySec) / (HoursPerYear * 3600)
	sqrtT := math.Sqrt(T)

	d2 := (math.Log(spot/strike) + (riskFreeRate-volatility*volatility/2)*T) / (volatility * sqrtT)

	up := clamp01(normCDF(d2))
	return FairValue{Up: up, Down: 1.0 - up, D2: d2}
}

// Edge devuelve la ventaja en puntos porcentuales entre la probabilidad
// justa y el precio de mercado, opcionalmente descontando el spread.
// Positivo = el mercado infravalora el lado (oportunidad de compra).
func Edge(fairProbability, marketPrice, spread float64) float64 {
	edge := (fairProbability - marketPrice) * 100
	if spread > 0 {
		edge -= spread * 100
	}
	return edge
}

// KellyFraction devuelve la fracción óptima de capital a apostar según
// el criterio de Kelly: f* = (p·b − q) / b, con b = (1 − price) / price.
// Devuelve 0 si no conviene apostar.
func KellyFraction(fairProbability, marketPrice float64) float64 {
	if marketPrice <= 0 || marketPrice >= 1 {
		return 0
	}
	b := (1 - marketPrice) / marketPrice
	if b <= 0 {
		return 0
	}
	kelly := (fairProbability*b - (1 - fairProbability)) / b
	return clamp01(kelly)
}

// normCDF es la CDF de la normal estándar vía math.Erf.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
