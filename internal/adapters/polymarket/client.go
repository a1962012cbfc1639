package polymarket

// client.go — HTTP client compartido por quotes, resolver y executor.
//
// El bot tiene tres patrones de llamada muy distintos y cada uno lleva su
// limiter: el batch POST /books va una vez por activo por tick (segundos),
// el descubrimiento en Gamma una vez por activo por vela (una hora), y el
// resto del CLOB (markets, órdenes, outcomes) en ráfagas cortas al ejecutar
// o redimir. Los errores transitorios (red, 429, 5xx) se reintentan con
// backoff; un 4xx es definitivo y se devuelve tal cual.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	httpTimeout   = 10 * time.Second
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// limiterSet agrupa los rate limiters por patrón de llamada. Los ritmos
// quedan muy por debajo de los límites documentados del venue: con un tick
// de 5s y cuatro activos el bot nunca debería acercarse a un 429, y si
// llega uno el retry respeta Retry-After.
type limiterSet struct {
	books *rate.Limiter // POST /books: un batch por activo por tick
	gamma *rate.Limiter // GET /markets?slug=: una vez por activo por vela
	clob  *rate.Limiter // resto del CLOB: markets, órdenes, resolución
}

func newLimiterSet() limiterSet {
	return limiterSet{
		books: rate.NewLimiter(20, 8),
		gamma: rate.NewLimiter(5, 4),
		clob:  rate.NewLimiter(50, 20),
	}
}

// Client es el HTTP client de Polymarket con rate limiting y retries.
type Client struct {
	http      *http.Client
	clobBase  string
	gammaBase string
	limits    limiterSet
}

// NewClient crea un Client con los base URLs dados.
// Si clobBase o gammaBase están vacíos, usa los URLs de producción.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		clobBase:  clobBase,
		gammaBase: gammaBase,
		limits:    newLimiterSet(),
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// post hace un POST JSON con rate limiting y retries. El body se
// serializa una sola vez y se reenvía fresco en cada intento.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// doWithRetry ejecuta la request reintentando errores transitorios. Un
// 429 espera lo que diga Retry-After si viene; el resto usa backoff
// exponencial con jitter.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, build func() (*http.Request, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1, "retry_after", wait)
			if wait > 0 {
				c.wait(ctx, wait)
			} else {
				c.sleep(ctx, attempt)
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// retryAfter lee el header Retry-After en segundos; 0 si no viene.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleep espera con backoff exponencial y jitter, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := baseRetryWait << attempt
	wait += time.Duration(rand.Int63n(int64(baseRetryWait)))
	c.wait(ctx, wait)
}

func (c *Client) wait(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
