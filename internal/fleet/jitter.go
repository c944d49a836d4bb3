package fleet

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/obot-platform/fleetgate/internal/logger"
)

// Jitter returns base randomized uniformly within ±ratio of itself.
func Jitter(base time.Duration, ratio float64) time.Duration {
	if ratio <= 0 || base <= 0 {
		return base
	}
	spread := float64(base) * ratio
	d := time.Duration(float64(base) - spread + rand.Float64()*2*spread)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// runSafely executes one background tick. A panic is logged instead of
// taking the process down; the next tick starts from scratch.
func runSafely(log *logger.Logger, task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("background task panicked",
				"task", task,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
