package research

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Clock supplies the current time to poll loops.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// probe performs one poll attempt. It reports done when the target condition
// holds. Errors are logged and polling continues, unless wrapped with halt.
type probe func(ctx context.Context, attempt int) (done bool, err error)

// poller runs bounded poll loops against an injectable clock.
type poller struct {
	clock  Clock
	sleep  SleepFunc
	logger *slog.Logger
}

// run calls p until it reports done, halts, or timeout elapses. Each attempt
// runs under the remaining budget; ctx is otherwise only checked between
// attempts.
func (pl poller) run(ctx context.Context, phase Phase, timeout, interval time.Duration, p probe) error {
	start := pl.clock.Now()
	for attempt := 1; ; attempt++ {
		elapsed := pl.clock.Now().Sub(start)
		if elapsed >= timeout {
			return &TimeoutError{Phase: phase, Elapsed: elapsed, Timeout: timeout}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout-elapsed)
		done, err := p(probeCtx, attempt)
		cancel()
		var h haltError
		switch {
		case errors.As(err, &h):
			return h.err
		case err != nil:
			pl.logger.Debug("poll attempt failed", "phase", phase.String(), "attempt", attempt, "error", err)
		case done:
			return nil
		}

		if elapsed := pl.clock.Now().Sub(start); elapsed >= timeout {
			return &TimeoutError{Phase: phase, Elapsed: elapsed, Timeout: timeout}
		}

		if err := pl.sleep(ctx, interval); err != nil {
			return err
		}
	}
}
