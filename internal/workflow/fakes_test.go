package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/recovery"
	"github.com/vietddude/slotwatcher/internal/relay"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

// =============================================================================
// Clock
// =============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 5, 20, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// =============================================================================
// Page probe
// =============================================================================

// fakeProbe is a scripted page: clicks on a selector while a given page is
// shown run the registered action.
type fakeProbe struct {
	mu          sync.Mutex
	title       string
	landing     string
	signals     map[Signal]func() bool
	counts      map[string]int
	texts       map[string]string
	absent      map[string]bool
	actions     map[string]func(p *fakeProbe)
	clicks      []string
	typed       map[string]string
	navigations int
	closed      bool
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		landing: PageLanding,
		signals: make(map[Signal]func() bool),
		counts:  map[string]int{selCombobox: 2},
		texts:   make(map[string]string),
		absent:  make(map[string]bool),
		actions: make(map[string]func(p *fakeProbe)),
		typed:   make(map[string]string),
	}
}

func goTo(title string) func(p *fakeProbe) {
	return func(p *fakeProbe) { p.title = title }
}

func (p *fakeProbe) on(page, selector string, fn func(p *fakeProbe)) {
	p.actions[page+"|"+selector] = fn
}

func (p *fakeProbe) setSignal(kind Signal, on bool) {
	p.signals[kind] = func() bool { return on }
}

// signalSequence reports the given answers in order, then repeats the last.
func (p *fakeProbe) signalSequence(kind Signal, answers ...bool) {
	i := 0
	p.signals[kind] = func() bool {
		v := answers[i]
		if i < len(answers)-1 {
			i++
		}
		return v
	}
}

func (p *fakeProbe) clickCount(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func (p *fakeProbe) NavigateTo(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
	p.title = p.landing
	return nil
}

func (p *fakeProbe) CurrentPageIdentity(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *fakeProbe) Locate(ctx context.Context, selector string) (Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.absent[selector] {
		return "", false, nil
	}
	return Element(selector), true, nil
}

func (p *fakeProbe) LocateAll(ctx context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := make([]Element, 0, p.counts[selector])
	for i := 0; i < p.counts[selector]; i++ {
		els = append(els, Element(fmt.Sprintf("%s#%d", selector, i)))
	}
	return els, nil
}

func (p *fakeProbe) Text(ctx context.Context, el Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.texts[string(el)]; ok {
		return t, nil
	}
	return string(el), nil
}

func (p *fakeProbe) Click(ctx context.Context, el Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, string(el))
	if fn, ok := p.actions[p.title+"|"+string(el)]; ok {
		fn(p)
	}
	return nil
}

func (p *fakeProbe) Type(ctx context.Context, el Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[string(el)] = text
	return nil
}

func (p *fakeProbe) HasSignal(ctx context.Context, kind Signal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.signals[kind]
	if !ok {
		return false, nil
	}
	return fn(), nil
}

func (p *fakeProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func handleFor(p *fakeProbe) *Handle {
	return NewHandle(func(ctx context.Context) (Probe, error) { return p, nil })
}

// munichProbe scripts the full no-code path up to one slot pair.
func munichProbe() *fakeProbe {
	p := newFakeProbe()
	p.texts[selOption("80331")] = "80331 München, Messe München"
	p.on(PageLanding, selSubmit, goTo(PageLocationClaim))
	p.on(PageLocationClaim, selSubmit, func(p *fakeProbe) {
		if _, ok := p.typed[selAge]; ok {
			p.title = PageClaimCode
		}
	})
	p.on(PageClaimCode, selSubmit, goTo(PageVerification))
	p.on(PageVerification, selSubmit, goTo(PageBooking))
	p.counts[selSlotPair] = 1
	p.texts[selSlotPair+"#0"] = "24.05.2021 10:00 | 05.07.2021 10:00"
	return p
}

// =============================================================================
// Messenger, booking API and ledger
// =============================================================================

type fakeMessenger struct {
	mu     sync.Mutex
	codes  map[domain.CodeKind][]string
	awaits int
	alerts []domain.Alert
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{codes: make(map[domain.CodeKind][]string)}
}

func (f *fakeMessenger) Await(ctx context.Context, req domain.CodeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaits++
	q := f.codes[req.Kind]
	if len(q) == 0 {
		return "", relay.ErrTimeout
	}
	if len(q) > 1 {
		f.codes[req.Kind] = q[1:]
	}
	return q[0], nil
}

func (f *fakeMessenger) Broadcast(ctx context.Context, alert domain.Alert) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return 1
}

func (f *fakeMessenger) sent(kind domain.AlertKind) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.alerts {
		if a.Kind == kind {
			out = append(out, a.Text)
		}
	}
	return out
}

type fakeAPI struct {
	mu         sync.Mutex
	token      string
	verifyOK   bool
	pairs      []domain.SlotPair
	bookResult BookResult
	bookErr    error
	bookCalls  int
}

func (a *fakeAPI) RequestCode(ctx context.Context, contact domain.Contact, loc domain.Location) (string, error) {
	return a.token, nil
}

func (a *fakeAPI) VerifyCode(ctx context.Context, token, pin string) (bool, error) {
	return a.verifyOK && token == a.token, nil
}

func (a *fakeAPI) ListSlots(ctx context.Context, loc domain.Location) ([]domain.SlotPair, error) {
	return a.pairs, nil
}

func (a *fakeAPI) Book(ctx context.Context, loc domain.Location, pair domain.SlotPair, contact domain.Contact) (BookResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bookCalls++
	return a.bookResult, a.bookErr
}

type fakeLedger struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{bookings: make(map[string]*domain.Booking)}
}

func (l *fakeLedger) Reserve(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.bookings {
		if existing.PostalCode == b.PostalCode && existing.SlotKey == b.SlotKey {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *b
	l.bookings[b.ID] = &cp
	return nil, nil
}

func (l *fakeLedger) Complete(ctx context.Context, id string, status domain.BookingStatus, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s not found", id)
	}
	b.Status = status
	b.Detail = detail
	return nil
}

// =============================================================================
// Machine
// =============================================================================

func testConfig() Config {
	return Config{
		Region: "Bayern",
		Contact: domain.Contact{
			Mail:  "someone@example.org",
			Phone: "1514201337",
			Age:   30,
		},
		RescanInterval: 2 * time.Minute,
		CodeTimeout:    10 * time.Minute,
		MaxErrors:      3,
	}
}

func newTestMachine(cfg Config, messenger Messenger, clock *fakeClock, opts ...Option) *Machine {
	ctrl := throttle.NewController(throttle.Config{
		Enabled:        true,
		BaseWait:       10 * time.Minute,
		StepWait:       2 * time.Minute,
		MaxEscalations: 3,
	}, throttle.WithSleep(clock.Sleep), throttle.WithClock(clock.Now))
	classifier := recovery.NewClassifier(recovery.Policy{Pause: time.Second})

	opts = append([]Option{WithSleep(clock.Sleep), WithClock(clock.Now)}, opts...)
	return New(cfg, ctrl, messenger, classifier, opts...)
}

func newTestSession(label, code string) *domain.Session {
	loc := &domain.Location{Label: label, Code: code}
	return domain.NewSession("worker-1", loc)
}

func containsText(texts []string, sub string) bool {
	for _, t := range texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}
