package health

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/cafepos/internal/failover/metrics"
)

// Controller owns the process-wide health state of the primary store.
// Reads are lock-free; mutations are serialised.
type Controller struct {
	backoff Backoff
	now     func() time.Time
	log     *slog.Logger

	prefer        atomic.Bool
	cooldownUntil atomic.Int64 // unix nanos

	mu          sync.Mutex
	state       State
	subscribers []func(Transition)
}

// NewController creates a controller that starts out preferring the primary.
func NewController(backoff Backoff) *Controller {
	if backoff.Base <= 0 {
		backoff = DefaultBackoff
	}
	c := &Controller{
		backoff: backoff,
		now:     time.Now,
		log:     slog.Default().With("component", "health"),
		state:   State{PreferPrimary: true},
	}
	c.prefer.Store(true)
	metrics.PrimaryPreferred.Set(1)
	return c
}

// ShouldPreferPrimary reports whether the next call should go to the primary.
// Once the cooldown has elapsed the primary is probed again.
func (c *Controller) ShouldPreferPrimary() bool {
	if c.prefer.Load() {
		return true
	}
	return c.now().UnixNano() >= c.cooldownUntil.Load()
}

// ReportSuccess records a successful primary call. The first success after a
// failure streak notifies subscribers.
func (c *Controller) ReportSuccess() {
	c.mu.Lock()
	recovered := !c.state.PreferPrimary
	c.state.PreferPrimary = true
	c.state.ConsecutiveFailures = 0
	c.state.LastSuccessAt = c.now()
	c.state.CooldownUntil = time.Time{}
	c.state.LastError = ""
	c.cooldownUntil.Store(0)
	c.prefer.Store(true)
	snapshot := c.state
	subs := c.subscribers
	c.mu.Unlock()

	if !recovered {
		return
	}
	metrics.PrimaryPreferred.Set(1)
	metrics.ConsecutiveFailures.Set(0)
	c.log.Info("primary store recovered")
	c.notify(subs, Transition{Recovered: true, State: snapshot})
}

// ReportFailure records a network failure against the primary and starts a
// cooldown. Callers only report Network-class errors.
func (c *Controller) ReportFailure(err error) {
	c.mu.Lock()
	wasPreferred := c.state.PreferPrimary
	now := c.now()
	c.state.ConsecutiveFailures++
	c.state.LastFailureAt = now
	c.state.CooldownUntil = now.Add(c.backoff.Delay(c.state.ConsecutiveFailures))
	c.state.PreferPrimary = false
	if err != nil {
		c.state.LastError = err.Error()
	}
	c.cooldownUntil.Store(c.state.CooldownUntil.UnixNano())
	c.prefer.Store(false)
	snapshot := c.state
	subs := c.subscribers
	c.mu.Unlock()

	metrics.PrimaryPreferred.Set(0)
	metrics.ConsecutiveFailures.Set(float64(snapshot.ConsecutiveFailures))
	c.log.Warn("primary store unreachable",
		"failures", snapshot.ConsecutiveFailures,
		"cooldown_until", snapshot.CooldownUntil,
		"error", err,
	)
	if wasPreferred {
		c.notify(subs, Transition{Recovered: false, State: snapshot})
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.PreferPrimary = c.ShouldPreferPrimary()
	return s
}

// Subscribe registers fn for transitions. fn runs on the reporting goroutine
// and must not block.
func (c *Controller) Subscribe(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Controller) notify(subs []func(Transition), t Transition) {
	for _, fn := range subs {
		fn(t)
	}
}
