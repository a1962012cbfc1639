package polymarket

// quotes.go — descubrimiento del mercado horario + fetch de books.
//
// Los mercados "up or down" de Polymarket siguen un slug determinista por
// activo y hora en ET (ej: bitcoin-up-or-down-august-31-3pm-et). El
// descubrimiento via Gamma se cachea por hora: una llamada por activo por
// vela, no por tick.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

const booksPath = "/books"

// slugPrefixes mapea el identificador de activo al prefijo de slug de Gamma.
var slugPrefixes = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "xrp",
}

// hourlyMarket es el mercado horario resuelto para un (asset, hora).
type hourlyMarket struct {
	conditionID string
	upTokenID   string
	downTokenID string
	expiresAt   time.Time
}

// HourlyQuotes implementa ports.QuoteProvider sobre Gamma + CLOB.
type HourlyQuotes struct {
	client *Client
	loc    *time.Location
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]hourlyMarket // asset+hora → mercado descubierto
}

// NewHourlyQuotes crea el provider. Los slugs horarios usan hora de
// Nueva York; si la zona no está disponible se cae a UTC-4 fija.
func NewHourlyQuotes(client *Client) *HourlyQuotes {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		slog.Warn("tz database unavailable, using fixed ET offset", "err", err)
		loc = time.FixedZone("ET", -4*3600)
	}
	return &HourlyQuotes{
		client: client,
		loc:    loc,
		now:    time.Now,
		cache:  make(map[string]hourlyMarket),
	}
}

// FetchQuote devuelve los quotes del mercado horario en curso de un activo.
func (q *HourlyQuotes) FetchQuote(ctx context.Context, asset string) (domain.MarketQuote, error) {
	mkt, err := q.currentMarket(ctx, asset)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("polymarket.FetchQuote %s: %w", asset, err)
	}

	books, err := q.fetchBooks(ctx, []string{mkt.upTokenID, mkt.downTokenID})
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("polymarket.FetchQuote %s: books: %w", asset, err)
	}

	up, ok := books[mkt.upTokenID]
	if !ok {
		return domain.MarketQuote{}, fmt.Errorf("polymarket.FetchQuote %s: no UP book", asset)
	}
	down, ok := books[mkt.downTokenID]
	if !ok {
		return domain.MarketQuote{}, fmt.Errorf("polymarket.FetchQuote %s: no DOWN book", asset)
	}

	return domain.MarketQuote{
		Asset:      asset,
		MarketID:   mkt.conditionID,
		UpBid:      up.bestBid,
		UpAsk:      up.bestAsk,
		DownBid:    down.bestBid,
		DownAsk:    down.bestAsk,
		UpDepth:    up.askDepth,
		DownDepth:  down.askDepth,
		ExpiresAt:  mkt.expiresAt,
		ObservedAt: q.now().UTC(),
	}, nil
}

// currentMarket resuelve (con cache horaria) el mercado up-or-down en curso.
func (q *HourlyQuotes) currentMarket(ctx context.Context, asset string) (hourlyMarket, error) {
	now := q.now().In(q.loc)
	hourStart := now.Truncate(time.Hour)
	key := asset + "/" + hourStart.Format("2006-01-02T15")

	q.mu.Lock()
	if mkt, ok := q.cache[key]; ok {
		q.mu.Unlock()
		return mkt, nil
	}
	q.mu.Unlock()

	slug, err := hourlySlug(asset, hourStart)
	if err != nil {
		return hourlyMarket{}, err
	}

	url := fmt.Sprintf("%s/markets?slug=%s", q.client.gammaBase, slug)
	var resp gammaMarketsResponse
	if err := q.client.get(ctx, q.client.limits.gamma, url, &resp); err != nil {
		return hourlyMarket{}, fmt.Errorf("gamma lookup %s: %w", slug, err)
	}
	if len(resp) == 0 {
		return hourlyMarket{}, fmt.Errorf("no market for slug %s", slug)
	}

	mkt, err := mapHourlyMarket(resp[0], hourStart.Add(time.Hour))
	if err != nil {
		return hourlyMarket{}, fmt.Errorf("map market %s: %w", slug, err)
	}

	q.mu.Lock()
	q.cache[key] = mkt
	// La cache solo crece una entrada por activo por hora; purga simple.
	for k := range q.cache {
		if !strings.HasSuffix(k, hourStart.Format("2006-01-02T15")) {
			delete(q.cache, k)
		}
	}
	q.mu.Unlock()

	slog.Debug("hourly market discovered", "asset", asset, "slug", slug, "condition_id", mkt.conditionID)
	return mkt, nil
}

// book es el resumen top-of-book de un token.
type book struct {
	bestBid  float64
	bestAsk  float64
	askDepth float64 // shares en el best ask
}

// fetchBooks hace un POST /books para los token_ids dados.
func (q *HourlyQuotes) fetchBooks(ctx context.Context, tokenIDs []string) (map[string]book, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := q.client.post(ctx, q.client.limits.books, q.client.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}

	books := make(map[string]book, len(resp))
	for _, raw := range resp {
		books[raw.AssetID] = summarizeBook(raw)
	}
	return books, nil
}

// summarizeBook extrae best bid, best ask y profundidad al ask.
// Los niveles llegan sin orden garantizado, se escanean completos.
func summarizeBook(raw orderBookResponse) book {
	var b book
	b.bestAsk = 1.0

	hasAsk := false
	for _, lvl := range raw.Asks {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if !hasAsk || price < b.bestAsk {
			b.bestAsk = price
			b.askDepth = size
			hasAsk = true
		}
	}
	for _, lvl := range raw.Bids {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if price > b.bestBid {
			b.bestBid = price
		}
	}
	return b
}

// hourlySlug construye el slug de Gamma para la vela horaria dada.
// Formato: <asset>-up-or-down-<month>-<day>-<hour><am|pm>-et
func hourlySlug(asset string, hourStart time.Time) (string, error) {
	prefix, ok := slugPrefixes[strings.ToUpper(asset)]
	if !ok {
		return "", fmt.Errorf("unsupported asset %q", asset)
	}

	hour := hourStart.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "am"
	if hourStart.Hour() >= 12 {
		meridiem = "pm"
	}

	return fmt.Sprintf("%s-up-or-down-%s-%d-%d%s-et",
		prefix,
		strings.ToLower(hourStart.Month().String()),
		hourStart.Day(),
		hour,
		meridiem,
	), nil
}

// mapHourlyMarket convierte el DTO de Gamma en el mercado interno.
func mapHourlyMarket(gm gammaMarket, fallbackExpiry time.Time) (hourlyMarket, error) {
	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return hourlyMarket{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return hourlyMarket{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if len(tokenIDs) != 2 || len(outcomes) != 2 {
		return hourlyMarket{}, fmt.Errorf("expected 2 outcomes, got %d/%d", len(outcomes), len(tokenIDs))
	}

	mkt := hourlyMarket{conditionID: gm.ConditionID, expiresAt: fallbackExpiry}
	if gm.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			mkt.expiresAt = t
		}
	}

	for i, outcome := range outcomes {
		switch strings.ToLower(outcome) {
		case "up", "yes":
			mkt.upTokenID = tokenIDs[i]
		case "down", "no":
			mkt.downTokenID = tokenIDs[i]
		}
	}
	if mkt.upTokenID == "" || mkt.downTokenID == "" {
		return hourlyMarket{}, fmt.Errorf("unrecognized outcomes %v", outcomes)
	}
	return mkt, nil
}
