package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ProbeCap is a process-wide token bucket over probe fetches so concurrent
// site discoveries cannot stampede a shared egress.
type ProbeCap struct {
	limiter *rate.Limiter
}

// NewProbeCap builds a cap of rps requests per second. rps <= 0 disables
// the cap.
func NewProbeCap(rps float64, burst int) *ProbeCap {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ProbeCap{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a probe token is available, respecting the context.
func (p *ProbeCap) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("probe cap wait: %w", err)
	}
	return nil
}
