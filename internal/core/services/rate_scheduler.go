package services

import (
	"context"
	"time"

	"texstream/internal/core/domain"
)

// RateScheduler spaces sender iterations by a fixed interval. Wait is the
// loop's only suspension point; it is not safe for concurrent use.
type RateScheduler struct {
	interval time.Duration
	timer    *time.Timer
}

func NewRateScheduler(interval time.Duration) *RateScheduler {
	return &RateScheduler{interval: interval}
}

// NewRateSchedulerForPreset maps a frame rate preset to its 1/fps interval.
func NewRateSchedulerForPreset(preset domain.FrameRatePreset) *RateScheduler {
	return NewRateScheduler(preset.Interval())
}

func (r *RateScheduler) Interval() time.Duration { return r.interval }

// Wait blocks for one interval or until ctx is done.
func (r *RateScheduler) Wait(ctx context.Context) error {
	if r.timer == nil {
		r.timer = time.NewTimer(r.interval)
	} else {
		r.timer.Reset(r.interval)
	}

	select {
	case <-ctx.Done():
		r.timer.Stop()
		return ctx.Err()
	case <-r.timer.C:
		return nil
	}
}
