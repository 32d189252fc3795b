// Package debounce gates pipeline runs to at most one per interval across all
// concurrent invocations.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
)

// Debouncer decides whether an invocation may proceed
type Debouncer struct {
	store    metadata.RateLimitStore
	interval time.Duration
	log      zerolog.Logger
}

// NewDebouncer creates a new debouncer. interval <= 0 disables the gate.
func NewDebouncer(store metadata.RateLimitStore, interval time.Duration, log zerolog.Logger) *Debouncer {
	return &Debouncer{store: store, interval: interval, log: log}
}

// Interval returns the configured interval
func (d *Debouncer) Interval() time.Duration {
	return d.interval
}

// ShouldProcess returns true when at least the interval has elapsed since the
// last recorded run (or no run was ever recorded) and this invocation won the
// conditional write of now. An undecodable record counts as expired. Store
// failures other than a missing record or a lost race are returned.
func (d *Debouncer) ShouldProcess(ctx context.Context, now time.Time) (bool, error) {
	if d.interval <= 0 {
		return true, nil
	}

	state, err := d.store.GetRateLimit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, metadata.ErrNotFound):
		state = nil
	case errors.Is(err, metadata.ErrMalformed) && state != nil:
		// An unreadable record would otherwise throttle every run; claim the
		// window and let the write replace it
		d.log.Warn().
			Err(err).
			Str("revision", state.Revision).
			Msg("Rate limit record unreadable, overwriting")
	default:
		return false, fmt.Errorf("failed to read rate limit: %w", err)
	}

	if state != nil && !state.Malformed {
		elapsed := now.Sub(state.LastInvokedAt)
		if elapsed < d.interval {
			d.log.Debug().
				Dur("elapsed", elapsed).
				Dur("interval", d.interval).
				Msg("Throttled")
			return false, nil
		}
	}

	if err := d.store.PutRateLimit(ctx, now, state); err != nil {
		if errors.Is(err, metadata.ErrConditionFailed) {
			d.log.Debug().Msg("Throttled, concurrent invocation claimed the window")
			return false, nil
		}
		return false, fmt.Errorf("failed to record invocation: %w", err)
	}
	return true, nil
}
