package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool holds one limiter per endpoint and model
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // rpm each limiter was created with
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewRateLimiterPool creates an empty pool
func NewRateLimiterPool(logger *slog.Logger) *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// GetOrCreate returns the limiter for key, creating it on first use.
// The first rate wins; a later, different rate is logged and ignored.
func (p *RateLimiterPool) GetOrCreate(key string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[key]; exists {
		if existing := p.rates[key]; existing != requestsPerMinute {
			p.logger.Warn("Rate limiter already exists with different rate, using existing rate",
				"key", key,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	// 20% of a minute's budget may go out at once, at least one request
	burst := max(1, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[key] = limiter
	p.rates[key] = requestsPerMinute

	p.logger.Debug("Created rate limiter", "key", key, "rpm", requestsPerMinute, "burst", burst)

	return limiter
}

// Wait blocks until the limiter for key admits one more request
func (p *RateLimiterPool) Wait(ctx context.Context, key string, requestsPerMinute int) error {
	return p.GetOrCreate(key, requestsPerMinute).Wait(ctx)
}
