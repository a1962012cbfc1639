package ports

import (
	"context"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// SpotFeed entrega la observación spot del venue de referencia para un
// activo: precio actual, strike de la vela horaria y volatilidad
// anualizada. La observación lleva timestamp para el check de frescura.
type SpotFeed interface {
	Observe(ctx context.Context, asset string) (domain.SpotObservation, error)
}

// QuoteProvider entrega los quotes del mercado binario horario de un
// activo: bid/ask de ambos lados, profundidad al best ask y vencimiento.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, asset string) (domain.MarketQuote, error)
}
