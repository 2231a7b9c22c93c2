// Package pool runs workflow sessions for a set of locations on a bounded
// number of workers and recycles every finished location back onto the queue.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/throttle"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

// Runner runs one session to a terminal state. *workflow.Machine implements it.
type Runner interface {
	Run(ctx context.Context, sess *domain.Session, h *workflow.Handle) workflow.Outcome
}

// Config holds the pool settings.
type Config struct {
	Workers    int  `yaml:"workers"`
	Concurrent bool `yaml:"concurrent"`
	// Stagger delays the launch of worker i by i*Stagger.
	Stagger time.Duration `yaml:"stagger"`
	// Pacing is the pause between two locations in sequential mode.
	Pacing time.Duration `yaml:"pacing"`
	// IdlePoll is the pause when the queue is empty or unreachable.
	IdlePoll time.Duration `yaml:"idle_poll"`
	// KeepResource keeps the shared page resource alive between locations
	// in sequential mode.
	KeepResource bool `yaml:"keep_resource"`
	// MaxPreserved bounds the page resources kept open for manual use.
	MaxPreserved int        `yaml:"max_preserved"`
	QuietHours   QuietHours `yaml:"quiet_hours"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      3,
		Concurrent:   true,
		Stagger:      30 * time.Second,
		Pacing:       5 * time.Minute,
		IdlePoll:     10 * time.Second,
		MaxPreserved: 2,
		QuietHours:   DefaultQuietHours(),
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int               `json:"workers"`
	Active    int               `json:"active"`
	MaxActive int               `json:"max_active"`
	Completed int               `json:"completed"`
	Requeued  int               `json:"requeued"`
	Preserved int               `json:"preserved"`
	Quiet     bool              `json:"quiet"`
	Running   map[string]string `json:"running"`
	Outcomes  map[string]int    `json:"outcomes"`
}

// Pool owns the workers, their page resource handles and the queue.
type Pool struct {
	cfg     Config
	runner  Runner
	queue   Queue
	factory workflow.ProbeFactory
	sleep   throttle.SleepFunc
	now     func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	handles   map[string]*workflow.Handle // worker id -> page resource
	preserved []*workflow.Handle
	running   map[string]string // worker id -> postal code
	maxActive int
	completed int
	requeued  int
	outcomes  map[string]int
	quiet     bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithQueue replaces the in-memory queue, e.g. with a redis backed one.
func WithQueue(q Queue) Option {
	return func(p *Pool) { p.queue = q }
}

// WithSleep replaces the context-aware sleep.
func WithSleep(fn throttle.SleepFunc) Option {
	return func(p *Pool) { p.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool. factory opens the page resource of a worker.
func New(cfg Config, runner Runner, factory workflow.ProbeFactory, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = def.IdlePoll
	}
	if cfg.MaxPreserved < 0 {
		cfg.MaxPreserved = 0
	}

	p := &Pool{
		cfg:      cfg,
		runner:   runner,
		queue:    NewMemoryQueue(),
		factory:  factory,
		sleep:    throttle.Sleep,
		now:      time.Now,
		log:      slog.Default().With("component", "pool"),
		handles:  make(map[string]*workflow.Handle),
		running:  make(map[string]string),
		outcomes: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run seeds the queue with locations and keeps cycling through them until
// ctx is cancelled. A queue that still holds locations from a previous run
// is resumed instead of seeded again.
func (p *Pool) Run(ctx context.Context, locations []domain.Location) error {
	if err := p.seed(ctx, locations); err != nil {
		return err
	}

	workers := p.cfg.Workers
	if !p.cfg.Concurrent {
		workers = 1
	}
	p.log.Info("Starting worker pool", "workers", workers, "concurrent", p.cfg.Concurrent,
		"locations", len(locations))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("worker-%d", i+1)
		delay := time.Duration(i) * p.cfg.Stagger
		g.Go(func() error {
			p.work(gctx, id, delay)
			return nil
		})
	}
	err := g.Wait()

	p.closeHandles()
	p.log.Info("Worker pool stopped")
	return err
}

func (p *Pool) seed(ctx context.Context, locations []domain.Location) error {
	n, err := p.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("read queue length: %w", err)
	}
	if n > 0 {
		p.log.Info("Resuming queued locations", "queued", n)
		metrics.QueueDepth.Set(float64(n))
		return nil
	}
	for _, loc := range locations {
		if err := p.queue.Push(ctx, loc); err != nil {
			return fmt.Errorf("queue location %s: %w", loc.Label, err)
		}
	}
	metrics.QueueDepth.Set(float64(len(locations)))
	return nil
}

func (p *Pool) work(ctx context.Context, id string, delay time.Duration) {
	log := p.log.With("worker", id)
	if delay > 0 {
		log.Debug("Delaying worker start", "delay", delay)
		if err := p.sleep(ctx, delay); err != nil {
			return
		}
	}

	for ctx.Err() == nil {
		if err := p.waitQuiet(ctx); err != nil {
			return
		}

		loc, found, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to pop location", "error", err)
			_ = p.sleep(ctx, p.cfg.IdlePoll)
			continue
		}
		if !found {
			_ = p.sleep(ctx, p.cfg.IdlePoll)
			continue
		}
		p.updateQueueDepth(ctx)

		p.runLocation(ctx, id, loc)

		if !p.cfg.Concurrent && p.cfg.Pacing > 0 {
			log.Debug("Pausing before next location", "pause", p.cfg.Pacing)
			if err := p.sleep(ctx, p.cfg.Pacing); err != nil {
				return
			}
		}
	}
}

// runLocation runs one session and re-queues its location exactly once,
// including after a shutdown so a persistent queue keeps it.
func (p *Pool) runLocation(ctx context.Context, id string, loc domain.Location) {
	h := p.handle(id)
	sess := domain.NewSession(id, &loc)
	sess.StartedAt = p.now()

	p.begin(id, loc)
	out := p.runner.Run(ctx, sess, h)
	p.finish(id, out)

	if out.Err != nil && ctx.Err() == nil {
		p.log.Warn("Session ended with error", "worker", id, "location", loc.PostalCode(),
			"state", out.State, "error", out.Err)
	}

	if err := p.queue.Push(context.WithoutCancel(ctx), *sess.Location); err != nil {
		p.log.Error("Failed to re-queue location", "worker", id, "location", loc.PostalCode(), "error", err)
	} else {
		p.mu.Lock()
		p.requeued++
		p.mu.Unlock()
	}
	p.updateQueueDepth(context.WithoutCancel(ctx))

	p.settle(id, h, out)
}

// settle decides what happens to the worker's page resource after a run.
func (p *Pool) settle(id string, h *workflow.Handle, out workflow.Outcome) {
	switch {
	case out.KeepOpen:
		p.preserve(id, h)
	case !p.cfg.Concurrent && p.cfg.KeepResource:
		// shared resource stays open for the next location
	default:
		if err := h.Release(); err != nil {
			p.log.Debug("Failed to release page resource", "worker", id, "error", err)
		}
	}
}

// preserve detaches the worker's handle for manual use and gives the
// worker a fresh one. The oldest preserved handle is closed once the
// bound is exceeded.
func (p *Pool) preserve(id string, h *workflow.Handle) {
	p.mu.Lock()
	p.handles[id] = workflow.NewHandle(p.factory)
	p.preserved = append(p.preserved, h)
	var evicted *workflow.Handle
	if len(p.preserved) > p.cfg.MaxPreserved {
		evicted = p.preserved[0]
		p.preserved = p.preserved[1:]
	}
	p.mu.Unlock()

	p.log.Info("Keeping page resource open", "worker", id)
	if evicted != nil {
		_ = evicted.Close()
	}
}

func (p *Pool) handle(id string) *workflow.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[id]
	if !ok {
		h = workflow.NewHandle(p.factory)
		p.handles[id] = h
	}
	return h
}

func (p *Pool) closeHandles() {
	p.mu.Lock()
	handles := make([]*workflow.Handle, 0, len(p.handles)+len(p.preserved))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	handles = append(handles, p.preserved...)
	p.handles = make(map[string]*workflow.Handle)
	p.preserved = nil
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}

func (p *Pool) waitQuiet(ctx context.Context) error {
	remaining := p.cfg.QuietHours.Remaining(p.now())
	if remaining == 0 {
		return nil
	}
	p.setQuiet(true)
	defer p.setQuiet(false)
	p.log.Info("Quiet hours, pausing", "for", remaining.Round(time.Minute))
	return p.sleep(ctx, remaining)
}

func (p *Pool) setQuiet(v bool) {
	p.mu.Lock()
	p.quiet = v
	p.mu.Unlock()
}

func (p *Pool) begin(id string, loc domain.Location) {
	p.mu.Lock()
	p.running[id] = loc.PostalCode()
	if n := len(p.running); n > p.maxActive {
		p.maxActive = n
	}
	active := len(p.running)
	p.mu.Unlock()
	metrics.ActiveWorkers.Set(float64(active))
}

func (p *Pool) finish(id string, out workflow.Outcome) {
	p.mu.Lock()
	delete(p.running, id)
	p.completed++
	p.outcomes[out.State.String()]++
	active := len(p.running)
	p.mu.Unlock()
	metrics.ActiveWorkers.Set(float64(active))
}

func (p *Pool) updateQueueDepth(ctx context.Context) {
	n, err := p.queue.Len(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(n))
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	workers := p.cfg.Workers
	if !p.cfg.Concurrent {
		workers = 1
	}
	running := make(map[string]string, len(p.running))
	for k, v := range p.running {
		running[k] = v
	}
	outcomes := make(map[string]int, len(p.outcomes))
	for k, v := range p.outcomes {
		outcomes[k] = v
	}
	return Stats{
		Workers:   workers,
		Active:    len(p.running),
		MaxActive: p.maxActive,
		Completed: p.completed,
		Requeued:  p.requeued,
		Preserved: len(p.preserved),
		Quiet:     p.quiet,
		Running:   running,
		Outcomes:  outcomes,
	}
}
