package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Goroutines returns a CheckFunc that reports unhealthy when more than limit
// goroutines are running. Register it as a liveness check to catch goroutine
// leaks, such as handlers stuck on a dead broker connection, before they
// exhaust memory.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// GCPause returns a CheckFunc that reports unhealthy when the most recent
// stop-the-world GC pause exceeded limit. Only the latest pause is inspected,
// so the check recovers on its own once the heap settles. It is meant as a
// liveness check for memory pressure.
func GCPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) > 0 && stats.Pause[0] > limit {
			return errors.Errorf("gc pause %s, limit %s", stats.Pause[0], limit)
		}
		return nil
	}
}
