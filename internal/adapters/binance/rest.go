package binance

// rest.go — REST client de Binance para klines y ticker.
//
// El strike de la vela horaria en curso es su precio de apertura; la
// volatilidad se anualiza desde los log-returns de los cierres de las
// últimas velas. Ambos solo cambian una vez por hora, así que se cachean
// por (asset, hora).

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRESTBase = "https://api.binance.com"

	// Binance permite 6000 weight/min; klines pesa 2. Muy por debajo.
	restRatePerSec = 10

	klinesInterval = "1h"
	volLookback    = 24 // velas horarias para la volatilidad realizada

	hoursPerYear = 8760
)

// quoteSuffix completa el símbolo de Binance para cada activo.
const quoteSuffix = "USDT"

// Symbol devuelve el símbolo de Binance de un activo ("BTC" → "BTCUSDT").
func Symbol(asset string) string {
	return strings.ToUpper(asset) + quoteSuffix
}

// hourlyStats es el strike y la volatilidad de la vela horaria en curso.
type hourlyStats struct {
	strike     float64
	volatility float64
}

// RESTClient habla con la API REST de Binance.
type RESTClient struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]hourlyStats // asset+hora → stats
}

// NewRESTClient crea el cliente. base vacío usa producción.
func NewRESTClient(base string) *RESTClient {
	if base == "" {
		base = defaultRESTBase
	}
	return &RESTClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(restRatePerSec, 5),
		now:     time.Now,
		cache:   make(map[string]hourlyStats),
	}
}

// HourlyStats devuelve strike y volatilidad de la vela en curso, con cache
// por hora.
func (c *RESTClient) HourlyStats(ctx context.Context, asset string) (strike, volatility float64, err error) {
	hour := c.now().UTC().Truncate(time.Hour)
	key := asset + "/" + hour.Format("2006-01-02T15")

	c.mu.Lock()
	if st, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return st.strike, st.volatility, nil
	}
	c.mu.Unlock()

	candles, err := c.fetchKlines(ctx, asset, volLookback+1)
	if err != nil {
		return 0, 0, fmt.Errorf("binance.HourlyStats %s: %w", asset, err)
	}
	if len(candles) == 0 {
		return 0, 0, fmt.Errorf("binance.HourlyStats %s: empty klines", asset)
	}

	// La última vela es la hora en curso: su open es el strike.
	current := candles[len(candles)-1]
	strike = current.open
	volatility = annualizedVol(candles[:len(candles)-1])

	c.mu.Lock()
	c.cache[key] = hourlyStats{strike: strike, volatility: volatility}
	for k := range c.cache {
		if k != key && strings.HasPrefix(k, asset+"/") {
			delete(c.cache, k)
		}
	}
	c.mu.Unlock()
	return strike, volatility, nil
}

// TickerPrice devuelve el último precio del símbolo. Fallback del stream.
func (c *RESTClient) TickerPrice(ctx context.Context, asset string) (float64, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.base, Symbol(asset))

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.get(ctx, url, &resp); err != nil {
		return 0, fmt.Errorf("binance.TickerPrice %s: %w", asset, err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance.TickerPrice %s: parse %q: %w", asset, resp.Price, err)
	}
	return price, nil
}

// candle es una vela horaria reducida a lo que usamos.
type candle struct {
	open  float64
	close float64
}

// fetchKlines obtiene las últimas limit velas horarias del símbolo.
func (c *RESTClient) fetchKlines(ctx context.Context, asset string, limit int) ([]candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.base, Symbol(asset), klinesInterval, limit)

	// Binance devuelve cada kline como array heterogéneo:
	// [openTime, open, high, low, close, volume, ...]
	var raw [][]json.RawMessage
	if err := c.get(ctx, url, &raw); err != nil {
		return nil, err
	}

	candles := make([]candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		open, err1 := parseRawFloat(k[1])
		cls, err2 := parseRawFloat(k[4])
		if err1 != nil || err2 != nil {
			continue
		}
		candles = append(candles, candle{open: open, close: cls})
	}
	return candles, nil
}

// get hace un GET con rate limiting.
func (c *RESTClient) get(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// annualizedVol calcula la volatilidad anualizada de los log-returns
// horarios de los cierres dados.
func annualizedVol(candles []candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].close, candles[i].close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(hoursPerYear)
}

// parseRawFloat parsea un número JSON que llega como string entrecomillado.
func parseRawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
