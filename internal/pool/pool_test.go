package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

// =============================================================================
// Fakes
// =============================================================================

type recordingSleep struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	time.Sleep(100 * time.Microsecond)
	return ctx.Err()
}

func (r *recordingSleep) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// fakeRunner opens the worker's probe, holds it briefly and cancels the
// pool after limit completed runs.
type fakeRunner struct {
	mu        sync.Mutex
	active    int
	maxActive int
	runs      map[string]int
	total     int
	limit     int
	cancel    context.CancelFunc
	hold      time.Duration
	mutate    func(sess *domain.Session)
	outcome   workflow.Outcome
}

func newFakeRunner(limit int, cancel context.CancelFunc) *fakeRunner {
	return &fakeRunner{
		runs:    make(map[string]int),
		limit:   limit,
		cancel:  cancel,
		hold:    2 * time.Millisecond,
		outcome: workflow.Outcome{State: domain.StateIdle},
	}
}

func (r *fakeRunner) Run(ctx context.Context, sess *domain.Session, h *workflow.Handle) workflow.Outcome {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	_, _ = h.Probe(ctx)
	time.Sleep(r.hold)
	if r.mutate != nil {
		r.mutate(sess)
	}

	r.mu.Lock()
	r.active--
	r.runs[sess.Location.Label]++
	r.total++
	if r.total >= r.limit {
		r.cancel()
	}
	r.mu.Unlock()

	return r.outcome
}

type fakeProbe struct {
	workflow.Probe
	mu     sync.Mutex
	closed bool
}

func (p *fakeProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type probeFactory struct {
	mu     sync.Mutex
	probes []*fakeProbe
}

func (f *probeFactory) open(ctx context.Context) (workflow.Probe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProbe{}
	f.probes = append(f.probes, p)
	return p, nil
}

func (f *probeFactory) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}

func (f *probeFactory) stillOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.probes {
		p.mu.Lock()
		if !p.closed {
			n++
		}
		p.mu.Unlock()
	}
	return n
}

func testLocations() []domain.Location {
	return []domain.Location{
		{Label: "80331 München"},
		{Label: "71636 Ludwigsburg", Code: "Q123-ABCD-C0DE"},
		{Label: "70174 Stuttgart"},
		{Label: "10115 Berlin"},
		{Label: "20095 Hamburg"},
	}
}

func testConfig() Config {
	return Config{
		Workers:      2,
		Concurrent:   true,
		Stagger:      30 * time.Second,
		Pacing:       5 * time.Minute,
		IdlePoll:     time.Second,
		MaxPreserved: 1,
	}
}

func queuedLabels(t *testing.T, q *MemoryQueue) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for {
		loc, found, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if !found {
			return out
		}
		out[loc.Label]++
	}
}

// =============================================================================
// Concurrency and re-queueing
// =============================================================================

func TestPool_NeverExceedsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newFakeRunner(20, cancel)
	sleep := &recordingSleep{}
	factory := &probeFactory{}
	p := New(testConfig(), runner, factory.open, WithSleep(sleep.Sleep))

	if err := p.Run(ctx, testLocations()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if runner.maxActive > 2 {
		t.Errorf("expected at most 2 concurrent sessions, got %d", runner.maxActive)
	}
	stats := p.Stats()
	if stats.MaxActive > 2 {
		t.Errorf("expected pool max active <= 2, got %d", stats.MaxActive)
	}
	if stats.Completed < 20 {
		t.Errorf("expected at least 20 completions, got %d", stats.Completed)
	}
	if stats.Active != 0 {
		t.Errorf("expected no active sessions after stop, got %d", stats.Active)
	}
}

func TestPool_RequeuesExactlyOncePerCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue()
	runner := newFakeRunner(12, cancel)
	factory := &probeFactory{}
	p := New(testConfig(), runner, factory.open,
		WithSleep((&recordingSleep{}).Sleep), WithQueue(queue))

	if err := p.Run(ctx, testLocations()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := p.Stats()
	if stats.Requeued != stats.Completed {
		t.Errorf("expected one re-queue per completion, got %d re-queues for %d completions",
			stats.Requeued, stats.Completed)
	}

	labels := queuedLabels(t, queue)
	if len(labels) != 5 {
		t.Fatalf("expected all 5 locations back in the queue, got %v", labels)
	}
	for label, n := range labels {
		if n != 1 {
			t.Errorf("location %s queued %d times", label, n)
		}
	}
}

func TestPool_RequeuesMutatedLocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue()
	runner := newFakeRunner(1, cancel)
	runner.mutate = func(sess *domain.Session) { sess.Location.ClearCode() }

	cfg := testConfig()
	cfg.Workers = 1
	p := New(cfg, runner, (&probeFactory{}).open,
		WithSleep((&recordingSleep{}).Sleep), WithQueue(queue))

	locs := []domain.Location{{Label: "71636 Ludwigsburg", Code: "Q123-ABCD-C0DE"}}
	if err := p.Run(ctx, locs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	loc, found, _ := queue.Pop(context.Background())
	if !found {
		t.Fatal("expected location back in queue")
	}
	if loc.HasCode() {
		t.Errorf("expected cleared code to be re-queued, got %q", loc.Code)
	}
	if locs[0].Code == "" {
		t.Error("configured location must not be mutated")
	}
}

func TestPool_StaggersWorkerStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Workers = 3
	sleep := &recordingSleep{}
	p := New(cfg, newFakeRunner(6, cancel), (&probeFactory{}).open, WithSleep(sleep.Sleep))

	if err := p.Run(ctx, testLocations()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sleep.count(30*time.Second) != 1 || sleep.count(60*time.Second) != 1 {
		t.Errorf("expected staggered starts of 30s and 60s, got %v", sleep.sleeps)
	}
}

func TestPool_ResumesPersistedQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue()
	_ = queue.Push(ctx, domain.Location{Label: "10115 Berlin"})

	runner := newFakeRunner(3, cancel)
	cfg := testConfig()
	cfg.Workers = 1
	p := New(cfg, runner, (&probeFactory{}).open,
		WithSleep((&recordingSleep{}).Sleep), WithQueue(queue))

	if err := p.Run(ctx, testLocations()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.runs) != 1 || runner.runs["10115 Berlin"] == 0 {
		t.Errorf("expected only the persisted location to run, got %v", runner.runs)
	}
}

// =============================================================================
// Page resources
// =============================================================================

func TestPool_SequentialSharedResource(t *testing.T) {
	tests := []struct {
		name         string
		keepResource bool
		opened       int
	}{
		{name: "kept alive between locations", keepResource: true, opened: 1},
		{name: "recreated per location", keepResource: false, opened: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg := testConfig()
			cfg.Concurrent = false
			cfg.KeepResource = tt.keepResource
			sleep := &recordingSleep{}
			factory := &probeFactory{}
			p := New(cfg, newFakeRunner(3, cancel), factory.open, WithSleep(sleep.Sleep))

			if err := p.Run(ctx, testLocations()[:3]); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if got := factory.opened(); got != tt.opened {
				t.Errorf("expected %d page resources, got %d", tt.opened, got)
			}
			if factory.stillOpen() != 0 {
				t.Error("expected all page resources closed after stop")
			}
			if sleep.count(5*time.Minute) < 2 {
				t.Errorf("expected pacing between locations, got %v", sleep.sleeps)
			}
			if p.Stats().Workers != 1 {
				t.Errorf("expected a single worker, got %d", p.Stats().Workers)
			}
		})
	}
}

func TestPool_PreservesResourceOnKeepOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newFakeRunner(3, cancel)
	runner.outcome = workflow.Outcome{State: domain.StateAbandoned, KeepOpen: true, Err: errors.New("boom")}

	cfg := testConfig()
	cfg.Workers = 1
	factory := &probeFactory{}
	p := New(cfg, runner, factory.open, WithSleep((&recordingSleep{}).Sleep))

	if err := p.Run(ctx, testLocations()[:1]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := factory.opened(); got != 3 {
		t.Errorf("expected a fresh resource per run after preserving, got %d", got)
	}
	if factory.stillOpen() != 0 {
		t.Error("expected preserved resources closed on shutdown")
	}
	if p.Stats().Outcomes["abandoned"] != 3 {
		t.Errorf("expected 3 abandoned outcomes, got %v", p.Stats().Outcomes)
	}
}

// =============================================================================
// Quiet hours
// =============================================================================

func TestQuietHours(t *testing.T) {
	q := QuietHours{Enabled: true, From: 23, To: 6}
	day := func(h, m int) time.Time { return time.Date(2021, 5, 20, h, m, 0, 0, time.UTC) }

	tests := []struct {
		at        time.Time
		active    bool
		remaining time.Duration
	}{
		{at: day(22, 59), active: false},
		{at: day(23, 0), active: true, remaining: 7 * time.Hour},
		{at: day(2, 30), active: true, remaining: 3*time.Hour + 30*time.Minute},
		{at: day(6, 0), active: false},
		{at: day(12, 0), active: false},
	}
	for _, tt := range tests {
		if got := q.Active(tt.at); got != tt.active {
			t.Errorf("Active(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.active)
		}
		if got := q.Remaining(tt.at); got != tt.remaining {
			t.Errorf("Remaining(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.remaining)
		}
	}

	if (QuietHours{From: 23, To: 6}).Active(day(23, 30)) {
		t.Error("disabled quiet hours must never be active")
	}
	if !(QuietHours{Enabled: true, From: 1, To: 5}).Active(day(3, 0)) {
		t.Error("expected same-day window to be active")
	}
}

func TestPool_WaitsOutQuietHours(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Workers = 1
	cfg.QuietHours = QuietHours{Enabled: true, From: 23, To: 6}

	sleep := &recordingSleep{}
	clock := func() time.Time { return time.Date(2021, 5, 20, 23, 30, 0, 0, time.UTC) }
	runner := newFakeRunner(1, cancel)

	// The fixed clock keeps the window active; cancel after the first pause.
	p := New(cfg, runner, (&probeFactory{}).open, WithClock(clock),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleep.Sleep(ctx, d)
		}))

	if err := p.Run(ctx, testLocations()[:1]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sleep.count(6*time.Hour+30*time.Minute) != 1 {
		t.Errorf("expected a 6h30m pause, got %v", sleep.sleeps)
	}
	if runner.total != 0 {
		t.Errorf("expected no session during quiet hours, got %d", runner.total)
	}
}

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, loc := range testLocations()[:3] {
		_ = q.Push(ctx, loc)
	}

	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}
	first, found, _ := q.Pop(ctx)
	if !found || first.Label != "80331 München" {
		t.Errorf("expected oldest location first, got %q", first.Label)
	}
	_, _, _ = q.Pop(ctx)
	_, _, _ = q.Pop(ctx)
	if _, found, _ := q.Pop(ctx); found {
		t.Error("expected empty queue")
	}
}
