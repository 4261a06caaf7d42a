package providers

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"
)

// PricingTTL bounds how long a fetched price table is trusted.
const PricingTTL = 24 * time.Hour

type modelPrice struct {
	prompt     float64 // USD per prompt token
	completion float64 // USD per completion token
}

// CostTracker caches per-token prices from the model catalog and turns
// token usage into USD. A failed refresh degrades to zero cost for
// unknown models instead of blocking chat.
type CostTracker struct {
	client *Client
	ttl    time.Duration

	mu      sync.Mutex
	prices  map[string]modelPrice
	fetched time.Time
	now     func() time.Time
}

func NewCostTracker(client *Client) *CostTracker {
	return &CostTracker{
		client: client,
		ttl:    PricingTTL,
		prices: make(map[string]modelPrice),
		now:    time.Now,
	}
}

// Cost computes the USD cost for a completion, rounded to 6 decimals.
func (t *CostTracker) Cost(ctx context.Context, model string, promptTokens, completionTokens int) float64 {
	price := t.lookup(ctx, model)
	cost := float64(promptTokens)*price.prompt + float64(completionTokens)*price.completion
	return math.Round(cost*1e6) / 1e6
}

func (t *CostTracker) lookup(ctx context.Context, model string) modelPrice {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.prices) == 0 || t.now().Sub(t.fetched) > t.ttl {
		t.refreshLocked(ctx)
	}
	return t.prices[model]
}

func (t *CostTracker) refreshLocked(ctx context.Context) {
	models, err := t.client.ListModels(ctx)
	if err != nil {
		// Keep whatever we have; unknown models cost zero until the
		// next successful refresh.
		slog.Warn("pricing refresh failed", "error", err)
		t.fetched = t.now()
		return
	}

	fresh := make(map[string]modelPrice, len(models))
	for _, m := range models {
		fresh[m.ID] = modelPrice{
			prompt:     parsePrice(m.Pricing.Prompt),
			completion: parsePrice(m.Pricing.Completion),
		}
	}
	t.prices = fresh
	t.fetched = t.now()
	slog.Info("pricing refreshed", "models", len(fresh))
}

// parsePrice reads the catalog's per-token price strings.
func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
