package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

func testPairs() []domain.SlotPair {
	begin := time.Date(2021, 5, 24, 10, 0, 0, 0, time.UTC)
	return []domain.SlotPair{
		{
			Index:  1,
			First:  domain.Slot{ID: "slot-a1", Begin: begin, Site: "005221261"},
			Second: domain.Slot{ID: "slot-a2", Begin: begin.AddDate(0, 0, 42), Site: "005221261"},
		},
		{
			Index:  2,
			First:  domain.Slot{ID: "slot-b1", Begin: begin.Add(time.Hour), Site: "005221261"},
			Second: domain.Slot{ID: "slot-b2", Begin: begin.AddDate(0, 0, 42).Add(time.Hour), Site: "005221261"},
		},
	}
}

type bookingFixture struct {
	clock     *fakeClock
	messenger *fakeMessenger
	api       *fakeAPI
	ledger    *fakeLedger
	probe     *fakeProbe
	machine   *Machine
}

func newBookingFixture() *bookingFixture {
	f := &bookingFixture{
		clock:     newFakeClock(),
		messenger: newFakeMessenger(),
		api:       &fakeAPI{pairs: testPairs()},
		ledger:    newFakeLedger(),
		probe:     newFakeProbe(),
	}
	f.probe.title = PageBooking

	cfg := testConfig()
	cfg.BookRemotely = true
	cfg.HoldOpen = 10 * time.Minute
	f.machine = newTestMachine(cfg, f.messenger, f.clock, WithBookingAPI(f.api), WithLedger(f.ledger))
	return f
}

func (f *bookingFixture) search(t *testing.T) *domain.Session {
	t.Helper()
	sess := newTestSession("71636 Ludwigsburg", "Q123-ABCD-C0DE")
	sess.State = domain.StateAppointmentSearch
	next, err := f.machine.Advance(context.Background(), sess, handleFor(f.probe))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if next != domain.StateAlertAndExit {
		t.Fatalf("expected alert_and_exit, got %v", next)
	}
	return sess
}

func (f *bookingFixture) statuses() []domain.BookingStatus {
	var out []domain.BookingStatus
	for _, b := range f.ledger.bookings {
		out = append(out, b.Status)
	}
	return out
}

func TestBooking_SelectionTwiceBooksOnce(t *testing.T) {
	f := newBookingFixture()
	f.messenger.codes[domain.CodeKindSelection] = []string{"2"}

	f.search(t)
	f.search(t)

	if f.api.bookCalls != 1 {
		t.Fatalf("expected a single booking request, got %d", f.api.bookCalls)
	}
	statuses := f.statuses()
	if len(statuses) != 1 || statuses[0] != domain.BookingConfirmed {
		t.Errorf("expected one confirmed booking, got %v", statuses)
	}
	if !containsText(f.messenger.sent(domain.AlertBooking), "appointment 2") {
		t.Error("expected booking result alert")
	}
}

func TestBooking_AlreadyBooked(t *testing.T) {
	f := newBookingFixture()
	f.messenger.codes[domain.CodeKindSelection] = []string{"1"}
	f.api.bookResult = BookAlreadyBooked

	f.search(t)

	statuses := f.statuses()
	if len(statuses) != 1 || statuses[0] != domain.BookingAlreadyBooked {
		t.Errorf("expected already_booked, got %v", statuses)
	}
}

func TestBooking_AmbiguousErrorChecksConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		confirmed bool
		expected  domain.BookingStatus
	}{
		{name: "confirmation shown", confirmed: true, expected: domain.BookingConfirmed},
		{name: "no confirmation", confirmed: false, expected: domain.BookingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture()
			f.messenger.codes[domain.CodeKindSelection] = []string{"1"}
			f.api.bookErr = errors.New("button not clickable")
			f.probe.setSignal(SignalBookingConfirmed, tt.confirmed)

			f.search(t)

			if f.api.bookCalls != 1 {
				t.Errorf("booking must not be resubmitted, got %d calls", f.api.bookCalls)
			}
			statuses := f.statuses()
			if len(statuses) != 1 || statuses[0] != tt.expected {
				t.Errorf("expected %s, got %v", tt.expected, statuses)
			}
		})
	}
}

func TestBooking_NoSelectionLeavesManualCompletion(t *testing.T) {
	f := newBookingFixture()

	sess := f.search(t)

	if f.api.bookCalls != 0 {
		t.Errorf("expected no booking without selection, got %d", f.api.bookCalls)
	}
	if len(sess.Slots) != 2 {
		t.Errorf("expected 2 slot pairs from API, got %d", len(sess.Slots))
	}
	alerts := f.messenger.sent(domain.AlertSlotsFound)
	if len(alerts) != 1 || !containsText(alerts, "1. 24.05.2021 10:00") {
		t.Errorf("expected slot list in alert, got %v", alerts)
	}
	if !containsText(alerts, "/impftermine/suche/Q123-ABCD-C0DE/71636") {
		t.Errorf("expected booking link in alert, got %v", alerts)
	}
}

func TestBooking_UnknownSelectionIgnored(t *testing.T) {
	f := newBookingFixture()
	f.messenger.codes[domain.CodeKindSelection] = []string{"7"}

	f.search(t)

	if f.api.bookCalls != 0 {
		t.Errorf("expected no booking for unknown index, got %d", f.api.bookCalls)
	}
}
