package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/recovery"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

var (
	// ErrMaxErrors is returned when a location exhausted its error budget for this run.
	ErrMaxErrors = errors.New("maximum errors exceeded")

	// ErrElementMissing is returned when a required element is not on the page.
	ErrElementMissing = errors.New("element not found")

	// ErrLimitReached is returned by a BookingAPI when the contact hit the request limit.
	ErrLimitReached = errors.New("request limit reached for phone number and email")
)

// Templates are alert texts with {{ LOCATION }}, {{ LINK }} and {{ APPOINTMENTS }} placeholders.
type Templates struct {
	CodeNeeded  string `yaml:"code_needed"`
	SlotsFound  string `yaml:"slots_found"`
	SlotList    string `yaml:"slot_list"`
	CodeEntered string `yaml:"code_entered"`
	Selection   string `yaml:"selection"`
}

// DefaultTemplates returns the built-in alert texts.
func DefaultTemplates() Templates {
	return Templates{
		CodeNeeded:  "New claim code for {{ LOCATION }}! Send the SMS code within the next 10 minutes (sms:123-456)",
		SlotsFound:  "Appointments available at {{ LOCATION }}! Reserved for the next 10 minutes... Booking link: {{ LINK }}",
		SlotList:    "**Available appointments:**\n\n{{ APPOINTMENTS }}",
		CodeEntered: "Entering code; check your mails!",
		Selection:   "Reply with appt:<number> to book one of the appointments at {{ LOCATION }}",
	}
}

// Config holds workflow behavior.
type Config struct {
	BaseURL string
	Region  string
	Contact domain.Contact

	Rescan          bool
	RescanInterval  time.Duration // default: 2m
	CodeTimeout     time.Duration // default: 10m
	HoldOpen        time.Duration // default: 10m
	WaitingRoomPoll time.Duration // default: 5s
	LoadingPoll     time.Duration // default: 2.5s
	LoadingChecks   int           // default: 20

	BookRemotely bool
	InstantCode  bool
	MaxErrors    int // default: 3

	Templates Templates
}

// DefaultConfig returns the workflow defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://www.impfterminservice.de",
		RescanInterval:  2 * time.Minute,
		CodeTimeout:     10 * time.Minute,
		HoldOpen:        10 * time.Minute,
		WaitingRoomPoll: 5 * time.Second,
		LoadingPoll:     2500 * time.Millisecond,
		LoadingChecks:   20,
		MaxErrors:       3,
		Templates:       DefaultTemplates(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = def.RescanInterval
	}
	if c.CodeTimeout <= 0 {
		c.CodeTimeout = def.CodeTimeout
	}
	if c.HoldOpen < 0 {
		c.HoldOpen = 0
	}
	if c.WaitingRoomPoll <= 0 {
		c.WaitingRoomPoll = def.WaitingRoomPoll
	}
	if c.LoadingPoll <= 0 {
		c.LoadingPoll = def.LoadingPoll
	}
	if c.LoadingChecks <= 0 {
		c.LoadingChecks = def.LoadingChecks
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = def.MaxErrors
	}
	t := &c.Templates
	if t.CodeNeeded == "" {
		t.CodeNeeded = def.Templates.CodeNeeded
	}
	if t.SlotsFound == "" {
		t.SlotsFound = def.Templates.SlotsFound
	}
	if t.SlotList == "" {
		t.SlotList = def.Templates.SlotList
	}
	if t.CodeEntered == "" {
		t.CodeEntered = def.Templates.CodeEntered
	}
	if t.Selection == "" {
		t.Selection = def.Templates.Selection
	}
	return c
}

// Machine drives sessions through the booking pipeline. It holds no
// per-session state and is safe for concurrent use by several workers.
type Machine struct {
	cfg        Config
	throttle   *throttle.Controller
	messenger  Messenger
	classifier *recovery.Classifier
	api        BookingAPI
	ledger     BookingLedger
	sleep      throttle.SleepFunc
	now        func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithBookingAPI enables the REST path for instant codes, slot listing and booking.
func WithBookingAPI(api BookingAPI) Option {
	return func(m *Machine) {
		m.api = api
	}
}

// WithLedger journals booking attempts.
func WithLedger(l BookingLedger) Option {
	return func(m *Machine) {
		m.ledger = l
	}
}

// WithSleep replaces the wall-clock sleep.
func WithSleep(fn throttle.SleepFunc) Option {
	return func(m *Machine) {
		m.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// New creates a workflow machine.
func New(
	cfg Config,
	ctrl *throttle.Controller,
	messenger Messenger,
	classifier *recovery.Classifier,
	opts ...Option,
) *Machine {
	m := &Machine{
		cfg:        cfg.withDefaults(),
		throttle:   ctrl,
		messenger:  messenger,
		classifier: classifier,
		sleep:      throttle.Sleep,
		now:        time.Now,
	}
	if m.throttle == nil {
		m.throttle = throttle.NewController(throttle.DefaultConfig())
	}
	if m.classifier == nil {
		m.classifier = recovery.NewClassifier(recovery.DefaultPolicy())
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// Outcome summarizes a finished run.
type Outcome struct {
	State    domain.State
	Slots    int
	KeepOpen bool
	Err      error
}

// Advance performs one transition from the session's current state and
// returns the new state. On error the state is left unchanged unless the
// session had to be abandoned.
func (m *Machine) Advance(ctx context.Context, sess *domain.Session, h *Handle) (domain.State, error) {
	if sess.State.Terminal() {
		return sess.State, nil
	}

	if sess.State == domain.StateStart {
		if err := sess.Location.Validate(); err != nil {
			m.transition(sess, domain.StateAbandoned)
			return sess.State, err
		}
		if sess.Location.ErrorCount >= m.cfg.MaxErrors {
			m.transition(sess, domain.StateAbandoned)
			return sess.State, ErrMaxErrors
		}
	}

	probe, err := h.Probe(ctx)
	if err != nil {
		return sess.State, fmt.Errorf("open page resource: %w", err)
	}
	s := &step{m: m, sess: sess, probe: probe, log: m.sessionLog(sess)}

	var next domain.State
	switch sess.State {
	case domain.StateStart:
		next, err = s.landing(ctx)
	case domain.StateWaitingRoom:
		next, err = s.waitingRoom(ctx)
	case domain.StateLocationClaim:
		next, err = s.locationClaim(ctx)
	case domain.StateEligibilityCheck:
		next, err = s.eligibility(ctx)
	case domain.StateClaimCode:
		next, err = s.claimCode(ctx)
	case domain.StateCodeVerification:
		next, err = s.verifyPin(ctx)
	case domain.StateCodeEntry:
		next, err = s.codeEntry(ctx)
	case domain.StateAppointmentSearch:
		next, err = s.search(ctx)
	case domain.StateRetryOrIdle:
		next, err = s.retryOrIdle(ctx)
	default:
		return sess.State, fmt.Errorf("no transition from state %s", sess.State)
	}
	if err != nil {
		return sess.State, err
	}

	m.transition(sess, next)
	return next, nil
}

// Run advances the session until it reaches a terminal state, recovering
// from failures as the classifier decides. It returns early only when the
// context is done.
func (m *Machine) Run(ctx context.Context, sess *domain.Session, h *Handle) Outcome {
	log := m.sessionLog(sess)
	postal := sess.Location.PostalCode()
	metrics.SessionsStarted.WithLabelValues(postal).Inc()
	log.Info("Starting session", "code", sess.Location.HasCode())

	var lastErr error
	for !sess.State.Terminal() {
		_, err := m.Advance(ctx, sess, h)
		if err == nil {
			sess.Inferences = 0
			continue
		}
		lastErr = err
		if sess.State.Terminal() {
			log.Error("Session abandoned", "error", err)
			break
		}
		if !m.recover(ctx, sess, h, err) {
			log.Info("Session interrupted", "state", sess.State, "error", err)
			return Outcome{State: sess.State, KeepOpen: sess.KeepOpen, Err: err}
		}
	}

	if sess.State == domain.StateAlertAndExit && m.cfg.HoldOpen > 0 {
		log.Info("Holding page open for manual completion", "for", m.cfg.HoldOpen)
		if err := m.sleep(ctx, m.cfg.HoldOpen); err != nil {
			lastErr = err
		}
	}

	if sess.State == domain.StateAlertAndExit {
		lastErr = nil
	}
	sess.Location.ErrorCount = 0
	metrics.SessionsFinished.WithLabelValues(postal, sess.State.String()).Inc()
	log.Info("Session finished", "state", sess.State, "duration", m.now().Sub(sess.StartedAt).Round(time.Second))

	return Outcome{
		State:    sess.State,
		Slots:    len(sess.Slots),
		KeepOpen: sess.KeepOpen,
		Err:      lastErr,
	}
}

// recover applies the classifier's decision. It returns false when the
// failure must propagate.
func (m *Machine) recover(ctx context.Context, sess *domain.Session, h *Handle, err error) bool {
	log := m.sessionLog(sess)
	dec := m.classifier.Classify(ctx, err)

	if dec.Action == recovery.ActionInfer {
		sess.Inferences++
		dec = m.classifier.AfterInference(dec, sess.Inferences)
	}

	switch dec.Action {
	case recovery.ActionPropagate:
		return false

	case recovery.ActionContinue:
		log.Warn("Ignoring isolated failure", "error", err)
		return true

	case recovery.ActionInfer:
		log.Warn("Unexpected page, inferring state", "error", err)
		if m.sleep(ctx, dec.Pause) != nil {
			return false
		}
		m.infer(ctx, sess, h)
		return true

	case recovery.ActionRecreate:
		log.Warn("Page resource went stale, recreating", "error", err)
		if m.sleep(ctx, dec.Pause) != nil {
			return false
		}
		rerr := h.Recreate(ctx)
		if rerr == nil {
			sess.State = domain.StateStart
			return true
		}
		log.Error("Failed to recreate page resource", "error", rerr)
	}

	// Full session reset
	if dec.Reason != "throttled" {
		metrics.ForcedResets.WithLabelValues(dec.Reason).Inc()
	}
	sess.Location.ErrorCount++
	log.Error("Session failed, resetting",
		"error", err,
		"reason", dec.Reason,
		"errors", sess.Location.ErrorCount)

	if dec.PreserveResource {
		log.Warn("Keeping page resource open for inspection")
		sess.KeepOpen = true
		m.transition(sess, domain.StateAbandoned)
		return true
	}
	if sess.Location.ErrorCount >= m.cfg.MaxErrors {
		log.Error("Maximum errors exceeded", "errors", sess.Location.ErrorCount)
		m.transition(sess, domain.StateAbandoned)
		return true
	}
	if m.sleep(ctx, dec.Pause) != nil {
		return false
	}
	sess.Restart()
	return true
}

// infer maps the page currently shown back to a known state.
func (m *Machine) infer(ctx context.Context, sess *domain.Session, h *Handle) {
	log := m.sessionLog(sess)
	probe, err := h.Probe(ctx)
	if err != nil {
		log.Warn("Cannot infer state without page resource", "error", err)
		return
	}
	identity, err := probe.CurrentPageIdentity(ctx)
	if err != nil {
		log.Warn("Cannot read page identity", "error", err)
		return
	}
	state, ok := InferState(identity)
	if !ok {
		log.Warn("Page does not match any known state", "page", identity)
		return
	}
	log.Info("Resuming from inferred state", "state", state)
	sess.State = state
}

func (m *Machine) transition(sess *domain.Session, next domain.State) {
	if next != sess.State {
		m.sessionLog(sess).Debug("Transition", "from", sess.State, "to", next)
		metrics.StateTransitions.WithLabelValues(next.String()).Inc()
	}
	sess.State = next
}

func (m *Machine) sessionLog(sess *domain.Session) *slog.Logger {
	id := sess.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return slog.Default().With(
		"component", "workflow",
		"location", sess.Location.PostalCode(),
		"session", id,
	)
}

// bookingLink returns the page a user opens to complete a booking manually.
func (m *Machine) bookingLink(loc *domain.Location) string {
	if !loc.HasCode() {
		return m.cfg.BaseURL + "/impftermine"
	}
	return fmt.Sprintf("%s/impftermine/suche/%s/%s", m.cfg.BaseURL, loc.Code, loc.PostalCode())
}
