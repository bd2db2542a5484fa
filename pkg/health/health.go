// Package health serves liveness and readiness probes backed by periodic
// background checks.
//
// A check turns unhealthy after three consecutive failures and healthy again
// after one success, so a single slow ping does not flap the probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	failuresToTrip   = 3
	successesToReset = 1
)

// CheckFunc probes one component. It returns nil when the component is
// healthy, or an error describing the problem. The context carries the
// per-check timeout given at registration and must be honoured.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu        sync.Mutex
	healthy   bool
	lastErr   error
	failures  int
	successes int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	return &check{name: name, timeout: timeout, fn: fn, healthy: true}
}

func (c *check) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.successes = 0
		if c.failures++; c.failures >= failuresToTrip {
			c.healthy = false
		}
		return
	}
	c.failures = 0
	if c.successes++; c.successes >= successesToReset {
		c.healthy = true
	}
}

// failure returns a description when the check is unhealthy, or "".
func (c *check) failure() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.healthy:
		return ""
	case c.lastErr != nil:
		return c.lastErr.Error()
	default:
		return "unhealthy"
	}
}

// Health aggregates liveness and readiness checks and serves them as HTTP
// probes. Checks run in the background on a fixed interval and the handlers
// only read the cached results, so a probe request never blocks on a slow
// dependency.
//
// Register every check before calling Run; registration is not synchronized
// with probing.
type Health struct {
	interval  time.Duration
	ready     atomic.Bool
	liveness  []*check
	readiness []*check
}

// New returns a Health that probes every check once per interval. The manual
// readiness gate starts closed, so ReadyHandler reports unhealthy until
// SetReady(true) is called.
func New(interval time.Duration) *Health {
	return &Health{interval: interval}
}

// Liveness registers a check that decides whether the process should be
// restarted. Each probe runs fn with a context bounded by timeout. Only
// register process-local conditions here; a failing database should make the
// process unready, not get it killed.
func (h *Health) Liveness(name string, timeout time.Duration, fn CheckFunc) {
	h.liveness = append(h.liveness, newCheck(name, timeout, fn))
}

// Readiness registers a check that decides whether the process should
// receive traffic. Each probe runs fn with a context bounded by timeout.
// Typical readiness checks ping the database, the broker and the file store.
func (h *Health) Readiness(name string, timeout time.Duration, fn CheckFunc) {
	h.readiness = append(h.readiness, newCheck(name, timeout, fn))
}

// SetReady opens or closes the manual readiness gate. Servers open it once
// they are listening and close it when draining starts, so load balancers stop
// routing new requests before the listener goes away.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// Run probes every registered check, each on its own goroutine, until ctx is
// done. The first probe happens immediately. Run blocks until all probing
// goroutines have returned.
func (h *Health) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range append(append([]*check(nil), h.liveness...), h.readiness...) {
		wg.Go(func() {
			t := time.NewTicker(h.interval)
			defer t.Stop()
			for {
				c.probe(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		})
	}
	wg.Wait()
}

// LiveHandler serves the liveness probe. It answers 200 with
// {"status":"ok"} when every liveness check is healthy, and 503 with the
// failing checks and their last errors otherwise.
func (h *Health) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond(w, failures(h.liveness))
	})
}

// ReadyHandler serves the readiness probe. It answers like LiveHandler over
// the readiness checks, and additionally reports 503 while the manual gate
// set by SetReady is closed.
func (h *Health) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failed := failures(h.readiness)
		if !h.ready.Load() {
			failed["_readiness"] = "not ready"
		}
		respond(w, failed)
	})
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg := c.failure(); msg != "" {
			out[c.name] = msg
		}
	}
	return out
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func respond(w http.ResponseWriter, failed map[string]string) {
	rep, code := report{Status: "ok"}, http.StatusOK
	if len(failed) > 0 {
		rep, code = report{Status: "unhealthy", Checks: failed}, http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
