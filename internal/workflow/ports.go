// Package workflow drives one location through the booking pipeline.
//
// This package contains:
//   - Probe / BookingAPI / BookingLedger: the collaborators the machine consumes
//   - Handle: the page resource owned by one worker
//   - Machine: Advance (one transition) and Run (until a terminal state)
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// Element is an opaque reference to a located page element.
type Element string

// Signal is a yes/no question the machine asks the probe about the page.
type Signal string

const (
	SignalThrottled        Signal = "throttled"          // HTTP 429 in recent activity
	SignalWaitingRoom      Signal = "waiting_room"       // virtual queue shown
	SignalNoVacancy        Signal = "no_vacancy"         // "keine freien Termine"
	SignalLimitReached     Signal = "limit_reached"      // "Anfragelimit erreicht"
	SignalLoading          Signal = "loading"            // "Bitte warten, wir suchen"
	SignalCodeInvalid      Signal = "code_invalid"       // "Ungültiger Vermittlungscode"
	SignalCodeError        Signal = "code_error"         // "unerwarteter Fehler"
	SignalCodeUsed         Signal = "code_used"          // code already used to book
	SignalClaimExpired     Signal = "claim_expired"      // code or pin expired
	SignalNoSlots          Signal = "no_slots"           // empty slot-pair search
	SignalBookingConfirmed Signal = "booking_confirmed"  // booking confirmation shown
)

// Probe answers questions about the current page and performs interactions.
// It never exposes markup.
type Probe interface {
	NavigateTo(ctx context.Context, url string) error
	CurrentPageIdentity(ctx context.Context) (string, error)

	// Locate returns false when the element is absent.
	Locate(ctx context.Context, selector string) (Element, bool, error)
	LocateAll(ctx context.Context, selector string) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)

	Click(ctx context.Context, el Element) error
	Type(ctx context.Context, el Element, text string) error

	HasSignal(ctx context.Context, kind Signal) (bool, error)
	Close() error
}

// BookResult is the outcome of a booking request.
type BookResult int

const (
	BookSuccess BookResult = iota
	BookAlreadyBooked
)

// BookingAPI is the REST path to the same service.
type BookingAPI interface {
	RequestCode(ctx context.Context, contact domain.Contact, loc domain.Location) (string, error)
	VerifyCode(ctx context.Context, token, pin string) (bool, error)
	ListSlots(ctx context.Context, loc domain.Location) ([]domain.SlotPair, error)
	Book(ctx context.Context, loc domain.Location, pair domain.SlotPair, contact domain.Contact) (BookResult, error)
}

// BookingLedger journals booking attempts under a unique slot key.
type BookingLedger interface {
	// Reserve stores b as pending. If a booking with the same postal code and
	// slot key exists, it is returned and nothing is stored.
	Reserve(ctx context.Context, b *domain.Booking) (*domain.Booking, error)
	Complete(ctx context.Context, id string, status domain.BookingStatus, detail string) error
}

// Messenger relays codes and broadcasts alerts.
type Messenger interface {
	Await(ctx context.Context, req domain.CodeRequest) (string, error)
	Broadcast(ctx context.Context, alert domain.Alert) int
}

// ProbeFactory opens a new page resource.
type ProbeFactory func(ctx context.Context) (Probe, error)

// ErrClosed is returned by a handle after Close.
var ErrClosed = errors.New("page resource closed")

// Handle owns the page resource of one worker. The probe is opened lazily
// and can be recreated after it went stale.
type Handle struct {
	mu      sync.Mutex
	factory ProbeFactory
	probe   Probe
	closed  bool
}

// NewHandle creates a handle that opens probes with factory.
func NewHandle(factory ProbeFactory) *Handle {
	return &Handle{factory: factory}
}

// Probe returns the current probe, opening one if needed.
func (h *Handle) Probe(ctx context.Context) (Probe, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.probe == nil {
		p, err := h.factory(ctx)
		if err != nil {
			return nil, err
		}
		h.probe = p
	}
	return h.probe, nil
}

// Open reports whether a probe is currently held.
func (h *Handle) Open() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probe != nil
}

// Recreate closes the current probe and opens a new one.
func (h *Handle) Recreate(ctx context.Context) error {
	h.mu.Lock()
	old := h.probe
	h.probe = nil
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	_, err := h.Probe(ctx)
	return err
}

// Release closes the current probe but keeps the handle usable.
func (h *Handle) Release() error {
	h.mu.Lock()
	old := h.probe
	h.probe = nil
	h.mu.Unlock()

	if old == nil {
		return nil
	}
	return old.Close()
}

// Close releases the probe and rejects further use.
func (h *Handle) Close() error {
	err := h.Release()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return err
}
