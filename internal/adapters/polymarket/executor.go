package polymarket

// executor.go — Real order execution via Polymarket CLOB API.
//
// Implements ports.OrderExecutor. All orders go out as FOK taker orders:
// the engine reserves balance before placing and resolves the reservation
// on the response, so a resting partial fill would leave capital in limbo.
//
// Auth is L2 only (HMAC-SHA256 over pre-derived API credentials). Order
// signing happens behind the Signer seam: the CLOB rejects unsigned order
// payloads, so live trading requires wiring a Signer implementation.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
)

const (
	orderPath = "/order"

	// Taker address — zero address = public order
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ErrSignerRequired indica que se intentó operar en live sin un Signer.
var ErrSignerRequired = errors.New("polymarket: order signer not configured")

// Credentials son las API credentials pre-derivadas del CLOB más la
// dirección del wallet en Polygon.
type Credentials struct {
	Address    string
	APIKey     string
	Secret     string
	Passphrase string
}

// Valid comprueba que las credentials están completas.
func (c Credentials) Valid() bool {
	return c.Address != "" && c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// Signer firma el payload de una orden para el exchange contract.
// La implementación vive fuera de este paquete.
type Signer interface {
	SignOrder(body *OrderPayload) (signature string, err error)
}

// Executor implementa ports.OrderExecutor contra el CLOB.
type Executor struct {
	client *Client
	creds  Credentials
	signer Signer

	mu     sync.Mutex
	tokens map[string]map[domain.Side]string // conditionID → side → tokenID
}

// NewExecutor crea el executor live. signer puede ser nil, pero entonces
// PlaceOrder devolverá ErrSignerRequired.
func NewExecutor(client *Client, creds Credentials, signer Signer) (*Executor, error) {
	if !creds.Valid() {
		return nil, fmt.Errorf("polymarket.NewExecutor: incomplete API credentials")
	}
	return &Executor{
		client: client,
		creds:  creds,
		signer: signer,
		tokens: make(map[string]map[domain.Side]string),
	}, nil
}

// PlaceOrder coloca una orden FOK en el CLOB y mapea la respuesta.
func (e *Executor) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderResult, error) {
	if e.signer == nil {
		return ports.OrderResult{}, ErrSignerRequired
	}

	tokenID, err := e.tokenFor(ctx, req.MarketID, req.Side)
	if err != nil {
		return ports.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: %w", err)
	}

	body, err := e.buildOrder(tokenID, req)
	if err != nil {
		return ports.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: %w", err)
	}

	order := clobOrderRequest{
		Order:     *body,
		Owner:     e.creds.APIKey,
		OrderType: "FOK",
	}

	var resp clobOrderResponse
	if err := e.doL2(ctx, http.MethodPost, orderPath, order, &resp); err != nil {
		return ports.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: %w", err)
	}

	if !resp.Success {
		return ports.OrderResult{
			OrderID: resp.OrderID,
			Status:  ports.OrderRejected,
		}, fmt.Errorf("polymarket.PlaceOrder: rejected: %s", resp.ErrorMsg)
	}

	filled, avgPrice := fillFromAmounts(req, resp)
	status := ports.OrderFilled
	if filled < req.Size {
		status = ports.OrderPartial
	}
	return ports.OrderResult{
		OrderID:      resp.OrderID,
		Status:       status,
		FilledSize:   filled,
		AvgFillPrice: avgPrice,
	}, nil
}

// CancelOrder cancela una orden abierta por id. Devuelve false si el venue
// reporta que la orden ya no era cancelable.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	body := map[string]string{"orderID": orderID}
	var resp clobCancelResponse
	if err := e.doL2(ctx, http.MethodDelete, orderPath, body, &resp); err != nil {
		return false, fmt.Errorf("polymarket.CancelOrder %s: %w", orderID, err)
	}
	if reason, ok := resp.NotCanceled[orderID]; ok {
		return false, fmt.Errorf("polymarket.CancelOrder %s: %s", orderID, reason)
	}
	return true, nil
}

// tokenFor resuelve (con cache) el token_id del lado pedido de un mercado.
func (e *Executor) tokenFor(ctx context.Context, conditionID string, side domain.Side) (string, error) {
	e.mu.Lock()
	if sides, ok := e.tokens[conditionID]; ok {
		if id, ok := sides[side]; ok {
			e.mu.Unlock()
			return id, nil
		}
	}
	e.mu.Unlock()

	url := fmt.Sprintf("%s/markets/%s", e.client.clobBase, conditionID)
	var mkt clobMarket
	if err := e.client.get(ctx, e.client.limits.clob, url, &mkt); err != nil {
		return "", fmt.Errorf("fetch market %s: %w", conditionID, err)
	}

	sides := make(map[domain.Side]string, 2)
	for _, tok := range mkt.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case "up", "yes":
			sides[domain.SideUp] = tok.TokenID
		case "down", "no":
			sides[domain.SideDown] = tok.TokenID
		}
	}
	id, ok := sides[side]
	if !ok {
		return "", fmt.Errorf("market %s has no %s token", conditionID, side)
	}

	e.mu.Lock()
	e.tokens[conditionID] = sides
	e.mu.Unlock()
	return id, nil
}

// buildOrder construye el payload firmado de una orden taker.
// Usa aritmética entera para los amounts — el CLOB verifica
// makerAmount == price * takerAmount exactamente.
func (e *Executor) buildOrder(tokenID string, req ports.OrderRequest) (*OrderPayload, error) {
	priceInt := int64(math.Round(req.Price * 1000))
	sharesMilli := int64(math.Floor(req.Size * 1000))
	if priceInt <= 0 || sharesMilli <= 0 {
		return nil, fmt.Errorf("invalid amounts (price=%.4f size=%.4f)", req.Price, req.Size)
	}

	// Amounts en unidades de 1e-6 USDC / 1e-6 shares.
	makerAmount := sharesMilli * priceInt
	takerAmount := sharesMilli * 1000
	clobSide := "BUY"
	if req.Action == ports.ActionSell {
		// En ventas el maker entrega shares y recibe USDC.
		makerAmount, takerAmount = takerAmount, makerAmount
		clobSide = "SELL"
	}

	body := &OrderPayload{
		Salt:          json.Number(strconv.FormatInt(rand.Int63(), 10)),
		Maker:         e.creds.Address,
		Signer:        e.creds.Address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          clobSide,
		SignatureType: 0,
	}

	sig, err := e.signer.SignOrder(body)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	body.Signature = sig
	return body, nil
}

// fillFromAmounts deriva el fill real de los amounts devueltos por el CLOB.
// Si la respuesta no trae amounts parseables se asume fill completo al
// precio límite — la orden era FOK.
func fillFromAmounts(req ports.OrderRequest, resp clobOrderResponse) (filled, avgPrice float64) {
	making, err1 := strconv.ParseFloat(resp.MakingAmount, 64)
	taking, err2 := strconv.ParseFloat(resp.TakingAmount, 64)
	if err1 != nil || err2 != nil || taking <= 0 {
		return req.Size, req.Price
	}

	// Amounts en unidades de 1e-6.
	if req.Action == ports.ActionSell {
		return making / 1e6, taking / making
	}
	return taking / 1e6, making / taking
}

// l2Headers genera los headers HMAC-SHA256 para una llamada autenticada.
func (e *Executor) l2Headers(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(e.creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    e.creds.Address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    e.creds.APIKey,
		"POLY_PASSPHRASE": e.creds.Passphrase,
	}, nil
}

// doL2 ejecuta una HTTP request autenticada con rate limiting y retries.
// Los headers HMAC se regeneran en cada intento para que el timestamp no caduque.
func (e *Executor) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		bodyStr = string(b)
	}

	fullURL := e.client.clobBase + path

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := e.client.limits.clob.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		headers, err := e.l2Headers(method, path, bodyStr)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if bodyStr != "" {
			bodyReader = strings.NewReader(bodyStr)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := e.client.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			e.client.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			e.client.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			if attempt == maxRetries {
				return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
			}
			e.client.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("client error %d: %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}
