package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

var (
	// ErrTimeout is returned when no backend delivered a matching code before the deadline.
	ErrTimeout = errors.New("no matching code received before deadline")

	// ErrNoPollers is returned when no enabled backend can read inbound messages.
	ErrNoPollers = errors.New("no enabled backend can receive codes")
)

// Config holds relay timing.
type Config struct {
	PollInterval   time.Duration `yaml:"poll_interval"`   // default: 15s
	Freshness      time.Duration `yaml:"freshness"`       // default: 120s
	BackendTimeout time.Duration `yaml:"backend_timeout"` // per poll/send, default: 10s
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   15 * time.Second,
		Freshness:      domain.DefaultFreshness,
		BackendTimeout: 10 * time.Second,
	}
}

// AlertJournal records broadcast alerts.
type AlertJournal interface {
	RecordAlert(ctx context.Context, alert domain.Alert, delivered int) error
}

// Relay races pollers for codes and broadcasts alerts.
type Relay struct {
	backends []Notifier
	cfg      Config
	claims   Claimer
	journal  AlertJournal
	sleep    throttle.SleepFunc
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithClaimer sets the shared claim store.
func WithClaimer(c Claimer) Option {
	return func(r *Relay) {
		r.claims = c
	}
}

// WithJournal records every broadcast alert.
func WithJournal(j AlertJournal) Option {
	return func(r *Relay) {
		r.journal = j
	}
}

// WithSleep replaces the wall-clock sleep between poll rounds.
func WithSleep(fn throttle.SleepFunc) Option {
	return func(r *Relay) {
		r.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// New creates a relay over the enabled backends. Enumeration order is the
// tie-break order when several backends match in the same round.
func New(backends []Notifier, cfg Config, opts ...Option) *Relay {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}

	r := &Relay{
		backends: backends,
		cfg:      cfg,
		claims:   NewMemoryClaims(),
		sleep:    throttle.Sleep,
		now:      time.Now,
		log:      slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backends returns the names of the enabled backends in enumeration order.
func (r *Relay) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name())
	}
	return names
}

type pollTarget struct {
	name   string
	poller Poller
}

func (r *Relay) pollers() []pollTarget {
	var out []pollTarget
	for _, b := range r.backends {
		if p, ok := b.(Poller); ok {
			out = append(out, pollTarget{name: b.Name(), poller: p})
		}
	}
	return out
}

// Await polls every poller on a fixed interval until one delivers a fresh
// message matching req, or req.Deadline passes. Backend failures are logged
// and skipped. It returns ErrTimeout on deadline, never a backend error.
func (r *Relay) Await(ctx context.Context, req domain.CodeRequest) (string, error) {
	targets := r.pollers()
	if len(targets) == 0 {
		return "", ErrNoPollers
	}

	since := req.IssuedAt.Add(-r.cfg.Freshness)
	log := r.log.With("kind", req.Kind)
	log.Info("Waiting for code", "deadline", req.Deadline.Format("15:04:05"), "backends", len(targets))

	for {
		code, backend, ok := r.round(ctx, req, targets, since)
		if ok {
			log.Info("Code received", "backend", backend)
			metrics.CodesRelayed.WithLabelValues(string(req.Kind), backend).Inc()
			return code, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		remaining := req.Deadline.Sub(r.now())
		if remaining <= 0 {
			log.Info("No code received before deadline")
			metrics.CodeTimeouts.WithLabelValues(string(req.Kind)).Inc()
			return "", ErrTimeout
		}

		wait := r.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

type pollResult struct {
	msgs []domain.Message
	err  error
}

// round queries all pollers concurrently and picks the first match in
// enumeration order. Once backend i matches, every earlier backend has
// already answered without a match, so the remaining queries are cancelled.
// A round never runs past one poll interval after the deadline.
func (r *Relay) round(
	ctx context.Context,
	req domain.CodeRequest,
	targets []pollTarget,
	since time.Time,
) (string, string, bool) {
	budget := min(r.cfg.BackendTimeout, req.Deadline.Sub(r.now())+r.cfg.PollInterval)
	if budget <= 0 {
		return "", "", false
	}
	roundCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results := make([]pollResult, len(targets))
	done := make([]chan struct{}, len(targets))
	for i, t := range targets {
		done[i] = make(chan struct{})
		go func(i int, t pollTarget) {
			defer close(done[i])
			msgs, err := t.poller.Poll(roundCtx, since)
			results[i] = pollResult{msgs: msgs, err: err}
		}(i, t)
	}

	for i, t := range targets {
		select {
		case <-done[i]:
		case <-roundCtx.Done():
			select {
			case <-done[i]:
			default:
				r.backendFailed(t.name, "poll", roundCtx.Err())
				continue
			}
		}

		res := results[i]
		if res.err != nil {
			r.backendFailed(t.name, "poll", res.err)
			continue
		}
		if code, ok := r.match(ctx, req, t.name, res.msgs); ok {
			return code, t.name, true
		}
	}
	return "", "", false
}

// match returns the code of the newest fresh matching message not yet claimed.
func (r *Relay) match(ctx context.Context, req domain.CodeRequest, backend string, msgs []domain.Message) (string, bool) {
	now := r.now()
	candidates := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Fresh(now, r.cfg.Freshness) && req.Extract(m.Content) != "" {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})

	for _, m := range candidates {
		code := req.Extract(m.Content)
		ok, err := r.claims.Claim(ctx, req.Kind, code, r.cfg.Freshness)
		if err != nil {
			r.backendFailed(backend, "claim", err)
			continue
		}
		if !ok {
			r.log.Debug("Code already consumed by another request", "backend", backend)
			continue
		}
		return code, true
	}
	return "", false
}

func (r *Relay) backendFailed(backend, op string, err error) {
	metrics.BackendErrors.WithLabelValues(backend, op).Inc()
	r.log.Warn("Notification backend failed", "error", &BackendError{Backend: backend, Op: op, Err: err})
}

// Broadcast sends the alert to every enabled backend it targets, in
// enumeration order. Failures are isolated: they are logged and never
// returned. It returns the number of successful deliveries.
func (r *Relay) Broadcast(ctx context.Context, alert domain.Alert) int {
	delivered := 0
	for _, b := range r.backends {
		if !alert.Targets(b.Name()) {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.BackendTimeout)
		err := b.Send(sendCtx, alert.Text)
		cancel()
		if err != nil {
			r.backendFailed(b.Name(), "send", err)
			continue
		}
		delivered++
		metrics.AlertsSent.WithLabelValues(b.Name(), string(alert.Kind)).Inc()
	}

	if r.journal != nil {
		if err := r.journal.RecordAlert(ctx, alert, delivered); err != nil {
			r.log.Warn("Failed to journal alert", "error", err)
		}
	}
	return delivered
}
