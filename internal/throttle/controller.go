package throttle

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
)

// ErrForceReset is returned by Guard when the session stayed throttled past
// the escalation bound. The caller must restart the session from scratch.
var ErrForceReset = errors.New("throttled past escalation bound, session reset required")

// Decision tells the caller what to do after a throttling signal.
type Decision int

const (
	// DecisionProceed continues without waiting (backoff disabled).
	DecisionProceed Decision = iota
	// DecisionRetry repeats the same operation after the wait.
	DecisionRetry
	// DecisionReset abandons the current attempt and restarts the session.
	DecisionReset
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionRetry:
		return "retry"
	case DecisionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Signaler reports whether the upstream currently throttles the session.
type Signaler interface {
	Throttled(ctx context.Context) (bool, error)
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(ctx context.Context) (bool, error)

func (f SignalerFunc) Throttled(ctx context.Context) (bool, error) { return f(ctx) }

// Nudge disturbs page state slightly before a retry, e.g. toggling an
// eligibility answer and back.
type Nudge func(ctx context.Context) error

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller computes escalating waits for throttled sessions.
type Controller struct {
	cfg   Config
	sleep SleepFunc
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces the wall-clock sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// NewController creates a new backoff controller.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg.withDefaults(),
		sleep: Sleep,
		now:   time.Now,
		log:   slog.Default().With("component", "throttle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxEscalations returns the configured bound.
func (c *Controller) MaxEscalations() int {
	return c.cfg.MaxEscalations
}

// NextWait returns the wait for the given escalation count.
//
// Schedule: BaseWait + StepWait × n, with n clamped to [0, MaxEscalations].
// The result is non-decreasing in n.
func (c *Controller) NextWait(escalation int) time.Duration {
	n := escalation
	if n < 0 {
		n = 0
	}
	if n > c.cfg.MaxEscalations {
		n = c.cfg.MaxEscalations
	}
	return c.cfg.BaseWait + time.Duration(n)*c.cfg.StepWait
}

// ShouldThrottle asks the signaler whether a throttling signal is present.
// A failing signal check counts as not throttled.
func (c *Controller) ShouldThrottle(ctx context.Context, sig Signaler) bool {
	if sig == nil {
		return false
	}
	throttled, err := sig.Throttled(ctx)
	if err != nil {
		c.log.Debug("Throttle signal check failed", "error", err)
		return false
	}
	return throttled
}

// OnThrottled escalates st, sleeps for the computed wait and applies the
// nudge. It returns DecisionReset without waiting once the bound is reached.
func (c *Controller) OnThrottled(ctx context.Context, st *domain.BackoffState, nudge Nudge) (Decision, error) {
	if !c.cfg.Enabled {
		c.log.Info("Backoff disabled, continuing without waiting")
		return DecisionProceed, nil
	}

	if st.Escalations >= c.cfg.MaxEscalations {
		c.log.Warn("Still throttled after maximum escalations, forcing session reset",
			"escalations", st.Escalations)
		metrics.ForcedResets.WithLabelValues("throttled").Inc()
		return DecisionReset, nil
	}

	wait := c.NextWait(st.Escalations)
	st.Escalations++
	st.NextRetryAt = c.now().Add(wait)
	metrics.ThrottleEscalations.WithLabelValues(strconv.Itoa(st.Escalations)).Inc()

	c.log.Info("Throttled by upstream, waiting before retry",
		"escalation", st.Escalations,
		"wait", wait,
		"until", st.NextRetryAt.Format("15:04:05"))

	if err := c.sleep(ctx, wait); err != nil {
		return DecisionReset, err
	}

	if nudge != nil {
		if err := nudge(ctx); err != nil {
			c.log.Warn("Recovery nudge failed", "error", err)
		}
	}
	return DecisionRetry, nil
}

// OnRecovered resets the escalation counter after a non-throttled result.
func (c *Controller) OnRecovered(st *domain.BackoffState) {
	if st.Escalations > 0 {
		c.log.Info("Recovered from throttling", "escalations", st.Escalations)
	}
	st.Reset()
}

// Guard runs op and, while the signaler reports throttling afterwards, waits
// and repeats the same op. It returns ErrForceReset once the escalation bound
// is exhausted, so it never spins forever.
func (c *Controller) Guard(
	ctx context.Context,
	st *domain.BackoffState,
	sig Signaler,
	nudge Nudge,
	op func(ctx context.Context) error,
) error {
	for {
		if err := op(ctx); err != nil {
			return err
		}
		if !c.ShouldThrottle(ctx, sig) {
			c.OnRecovered(st)
			return nil
		}

		decision, err := c.OnThrottled(ctx, st, nudge)
		if err != nil {
			return err
		}
		switch decision {
		case DecisionProceed:
			return nil
		case DecisionReset:
			return ErrForceReset
		}
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
