package generator

import (
	"context"
	"math"
	"time"

	"github.com/lamim/pairforge/internal/config"
)

// Backoff is an exponential delay schedule capped at Max
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoff converts the retry section of the config
func NewBackoff(cfg config.RetryConfig) Backoff {
	return Backoff{
		Base:       time.Duration(cfg.BaseDelaySeconds * float64(time.Second)),
		Max:        time.Duration(cfg.MaxDelaySeconds * float64(time.Second)),
		Multiplier: cfg.Multiplier,
	}
}

// Delay returns the wait after the given number of consecutive failures (1-based)
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(failures-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
