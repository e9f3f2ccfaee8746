package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// Probe queries the foreground window and input idleness.
type Probe interface {
	// ActiveWindow returns the foreground window, core.ErrNoWindow when
	// nothing has focus, an error wrapping core.ErrProbeTransient when the
	// OS call should be retried, or core.ErrProbeUnsupported.
	ActiveWindow(ctx context.Context) (core.Observation, error)
	// IdleSeconds returns whole seconds since the last user input.
	IdleSeconds(ctx context.Context) (int, error)
}

// RetryConfig controls ActiveWindowWithRetry.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig is 3 attempts, 100 ms apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// ActiveWindowWithRetry retries transient failures and reports
// core.ErrNoWindow once the attempts are exhausted. Unsupported platforms
// and context cancellation are returned as-is.
func ActiveWindowWithRetry(ctx context.Context, p Probe, cfg RetryConfig) (core.Observation, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 && cfg.Backoff > 0 {
			select {
			case <-ctx.Done():
				return core.Observation{}, ctx.Err()
			case <-time.After(cfg.Backoff):
			}
		}

		obs, err := p.ActiveWindow(ctx)
		if err == nil {
			return obs, nil
		}
		if errors.Is(err, core.ErrNoWindow) || errors.Is(err, core.ErrProbeUnsupported) {
			return core.Observation{}, err
		}
		if ctx.Err() != nil {
			return core.Observation{}, ctx.Err()
		}
		lastErr = err
	}

	return core.Observation{}, fmt.Errorf("%w: %d attempts failed: %v", core.ErrNoWindow, cfg.Attempts, lastErr)
}

// transient marks an OS failure as retryable.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrProbeTransient, err)
}
