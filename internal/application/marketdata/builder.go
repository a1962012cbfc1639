package marketdata

// builder.go — construye un MarketSnapshot inmutable por activo por tick
// fusionando la observación spot del venue de referencia con los quotes
// del mercado binario. Los activos con datos stale o inválidos se saltan
// el tick completo, sin mutar estado.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

// Builder fusiona spot + quotes en snapshots por tick.
type Builder struct {
	spot   ports.SpotFeed
	quotes ports.QuoteProvider
	maxAge time.Duration
	now    func() time.Time
}

// NewBuilder crea el builder con el umbral de frescura dado.
func NewBuilder(spot ports.SpotFeed, quotes ports.QuoteProvider, maxAge time.Duration) *Builder {
	return &Builder{spot: spot, quotes: quotes, maxAge: maxAge, now: time.Now}
}

// BuildAll construye los snapshots de todos los activos en paralelo.
// Un activo que falla o viene stale se omite del resultado; el resto de
// activos no se ven afectados.
func (b *Builder) BuildAll(ctx context.Context, assets []string) []domain.MarketSnapshot {
	type result struct {
		snap domain.MarketSnapshot
		ok   bool
	}

	results := make([]result, len(assets))
	var wg sync.WaitGroup
	for i, asset := range assets {
		i, asset := i, asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := b.Build(ctx, asset)
			if err != nil {
				slog.Warn("snapshot build failed", "asset", asset, "err", err)
				return
			}
			results[i] = result{snap: snap, ok: true}
		}()
	}
	wg.Wait()

	snaps := make([]domain.MarketSnapshot, 0, len(assets))
	for _, r := range results {
		if r.ok {
			snaps = append(snaps, r.snap)
		}
	}
	return snaps
}

// Build construye el snapshot de un activo y lo valida.
func (b *Builder) Build(ctx context.Context, asset string) (domain.MarketSnapshot, error) {
	obs, err := b.spot.Observe(ctx, asset)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	quote, err := b.quotes.FetchQuote(ctx, asset)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap := domain.BuildSnapshot(obs, quote, b.now())
	if err := snap.Validate(); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.Stale(b.maxAge, b.now()) {
		return domain.MarketSnapshot{}, domain.ErrStaleSnapshot
	}
	return snap, nil
}
