// Package health serves liveness and readiness probes for the promotion
// service.
//
// Every registered check runs on its own ticker. A check turns unhealthy
// after a run of consecutive failures and healthy again after a run of
// consecutive successes, so a single slow ping does not flap the probe.
// Optional checks cover dependencies the service can run without, such as
// the promotion cache or the event broker: they are reported but never fail
// readiness.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultTimeout          = time.Second
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// CheckOption configures a single check.
type CheckOption func(*check)

// WithTimeout bounds a single run of the check.
func WithTimeout(d time.Duration) CheckOption {
	return func(c *check) { c.timeout = d }
}

// WithThresholds sets how many consecutive failures mark the check unhealthy
// and how many consecutive successes mark it healthy again.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		c.failureThreshold = failures
		c.successThreshold = successes
	}
}

// Optional reports the check without letting it fail the probe.
func Optional() CheckOption {
	return func(c *check) { c.optional = true }
}

// check is run by exactly one goroutine; handlers only read the atomics.
type check struct {
	name             string
	fn               CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int
	optional         bool

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newCheck(name string, fn CheckFunc, opts []CheckOption) *check {
	c := &check{
		name:             name,
		fn:               fn,
		timeout:          defaultTimeout,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

func (c *check) isHealthy() bool {
	return c.healthy.Load()
}

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and reports whether its health flipped.
func (c *check) run(ctx context.Context) (flipped bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.successes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.successes++
		if c.successes >= c.successThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

// Health holds the liveness and readiness checks of the process.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check of the process itself.
func (h *Health) AddLivenessCheck(name string, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, fn, opts))
}

// AddReadinessCheck registers a check of a dependency needed to serve traffic.
func (h *Health) AddReadinessCheck(name string, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, fn, opts))
}

// Start runs every registered check now and then once per interval until
// Stop is called or ctx is done. Health transitions are logged with the
// context logger.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*check(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	lg := zctx.From(ctx)
	for _, c := range checks {
		h.done.Add(1)
		go func() {
			defer h.done.Done()
			loop(ctx, lg, c, interval)
		}()
	}
}

func loop(ctx context.Context, lg *zap.Logger, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.run(ctx) {
			if c.isHealthy() {
				lg.Info("Health check recovered", zap.String("check", c.name))
			} else {
				lg.Warn("Health check failing",
					zap.String("check", c.name),
					zap.Bool("optional", c.optional),
					zap.Error(c.lastError()),
				)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the checks and waits for them to return. It is safe to call
// more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.done.Wait()
}

// SetReady marks the service ready once initialised, and not ready while
// draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every required
// readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.readiness {
		if !c.optional && !c.isHealthy() {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	r := evaluate(h.liveness)
	h.mu.RUnlock()
	r.write(w)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	r := evaluate(h.readiness)
	h.mu.RUnlock()
	if !h.ready.Load() {
		r.failed = true
		r.checks["_readiness"] = "service is not ready"
	}
	r.write(w)
}

type report struct {
	failed   bool
	degraded bool
	checks   map[string]string
}

func evaluate(checks []*check) report {
	r := report{checks: make(map[string]string)}
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		r.checks[c.name] = msg
		if c.optional {
			r.degraded = true
		} else {
			r.failed = true
		}
	}
	return r
}

// write responds with {"status": ..., "checks": {...}}. Status is "ok",
// "degraded" when only optional checks fail, or "unhealthy" with 503.
func (r report) write(w http.ResponseWriter) {
	status, code := "ok", http.StatusOK
	switch {
	case r.failed:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case r.degraded:
		status = "degraded"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(r.checks) > 0 {
		names := make([]string, 0, len(r.checks))
		for name := range r.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(r.checks[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
