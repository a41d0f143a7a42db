package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// DelayManager pauses for a uniformly random interval between page scrapes.
type DelayManager struct {
	min    time.Duration
	max    time.Duration
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewDelayManager builds a pauser over [min, max], defaulting to 2s-5s.
func NewDelayManager(min, max time.Duration, logger *zap.Logger) *DelayManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if min <= 0 {
		min = 2 * time.Second
	}
	if max < min {
		max = min + 3*time.Second
	}
	return &DelayManager{
		min:    min,
		max:    max,
		logger: logger.Named("delay"),
		sleep:  sleepContext,
	}
}

// Pause blocks for a random duration in [min, max] or until ctx is done.
func (m *DelayManager) Pause(ctx context.Context) error {
	delay := m.min
	if span := m.max - m.min; span > 0 {
		delay += rand.N(span)
	}
	m.logger.Debug("pausing before next page", zap.Duration("delay", delay))
	return m.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
