package polymarket

// resolver.go — resolución de mercados via CLOB.
//
// Un mercado horario está resuelto cuando el CLOB lo marca closed y uno de
// sus tokens lleva winner=true. Los mercados resueltos se cachean para
// siempre — una resolución nunca cambia.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alejandrodnm/strikebot/internal/domain"
)

// Resolver implementa ports.Resolver contra el CLOB.
type Resolver struct {
	client *Client

	mu       sync.Mutex
	resolved map[string]domain.Side // conditionID → lado ganador
}

// NewResolver crea el resolver.
func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client:   client,
		resolved: make(map[string]domain.Side),
	}
}

// Outcome devuelve el lado ganador de un mercado si ya resolvió.
func (r *Resolver) Outcome(ctx context.Context, marketID string) (domain.Side, bool, error) {
	r.mu.Lock()
	if winner, ok := r.resolved[marketID]; ok {
		r.mu.Unlock()
		return winner, true, nil
	}
	r.mu.Unlock()

	url := fmt.Sprintf("%s/markets/%s", r.client.clobBase, marketID)
	var mkt clobMarket
	if err := r.client.get(ctx, r.client.limits.clob, url, &mkt); err != nil {
		return "", false, fmt.Errorf("polymarket.Outcome %s: %w", marketID, err)
	}

	if !mkt.Closed {
		return "", false, nil
	}

	for _, tok := range mkt.Tokens {
		if !tok.Winner {
			continue
		}
		var winner domain.Side
		switch strings.ToLower(tok.Outcome) {
		case "up", "yes":
			winner = domain.SideUp
		case "down", "no":
			winner = domain.SideDown
		default:
			return "", false, fmt.Errorf("polymarket.Outcome %s: unknown outcome %q", marketID, tok.Outcome)
		}

		r.mu.Lock()
		r.resolved[marketID] = winner
		r.mu.Unlock()
		return winner, true, nil
	}

	// Closed pero sin winner: la resolución onchain aún no llegó al CLOB.
	return "", false, nil
}
