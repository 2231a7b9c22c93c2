package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/relay"
)

// alertAndBook announces the found slots and, when remote booking is
// enabled, books the pair the user selects. Booking failures never fail
// the session; the page stays open for manual completion.
func (s *step) alertAndBook(ctx context.Context) error {
	loc := s.sess.Location
	tpl := s.m.cfg.Templates
	values := s.placeholders()

	text := domain.Render(tpl.SlotsFound, values) + "\n" + domain.Render(tpl.SlotList, values)
	s.m.messenger.Broadcast(ctx, domain.NewAlert(domain.AlertSlotsFound, loc.PostalCode(), text))

	if !s.m.cfg.BookRemotely {
		return nil
	}

	s.m.messenger.Broadcast(ctx, domain.NewAlert(domain.AlertBooking, loc.PostalCode(),
		domain.Render(tpl.Selection, values)))

	req := domain.NewCodeRequest(domain.CodeKindSelection, s.m.now(), s.m.cfg.HoldOpen)
	choice, err := s.m.messenger.Await(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, relay.ErrTimeout) {
			s.log.Info("No appointment selected, leaving booking to manual completion")
		} else {
			s.log.Warn("Cannot receive appointment selection", "error", err)
		}
		return nil
	}

	idx, _ := strconv.Atoi(choice)
	pair, ok := s.pair(idx)
	if !ok {
		s.log.Warn("Selected appointment does not exist", "index", choice, "pairs", len(s.sess.Slots))
		return nil
	}

	status, err := s.book(ctx, pair)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error("Booking failed", "pair", pair.Index, "error", err)
	}

	msg := fmt.Sprintf("Booking of appointment %d at %s: %s", pair.Index, loc.DisplayName(), status)
	s.m.messenger.Broadcast(ctx, domain.NewAlert(domain.AlertBooking, loc.PostalCode(), msg))
	return nil
}

func (s *step) pair(index int) (domain.SlotPair, bool) {
	for _, p := range s.sess.Slots {
		if p.Index == index {
			return p, true
		}
	}
	return domain.SlotPair{}, false
}

// book submits the pair at most once. The ledger reservation is keyed by
// postal code and slot key; a pair that was reserved before is never
// submitted again, only checked for a booking confirmation.
func (s *step) book(ctx context.Context, pair domain.SlotPair) (domain.BookingStatus, error) {
	loc := s.sess.Location
	now := s.m.now()
	rec := &domain.Booking{
		ID:         uuid.New().String(),
		PostalCode: loc.PostalCode(),
		SlotKey:    pair.Key(),
		Status:     domain.BookingPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.m.ledger != nil {
		existing, err := s.m.ledger.Reserve(ctx, rec)
		if err != nil {
			return domain.BookingFailed, fmt.Errorf("reserve booking: %w", err)
		}
		if existing != nil {
			s.log.Info("Appointment was selected before, not submitting again",
				"pair", pair.Index, "status", existing.Status)
			if existing.Status == domain.BookingPending && s.signal(ctx, SignalBookingConfirmed) {
				return s.complete(ctx, existing.ID, domain.BookingConfirmed, "confirmed on page")
			}
			return existing.Status, nil
		}
	}

	status, detail := s.submitBooking(ctx, pair)
	return s.complete(ctx, rec.ID, status, detail)
}

func (s *step) complete(ctx context.Context, id string, status domain.BookingStatus, detail string) (domain.BookingStatus, error) {
	metrics.Bookings.WithLabelValues(string(status)).Inc()
	s.log.Info("Booking finished", "status", status, "detail", detail)
	if s.m.ledger == nil {
		return status, nil
	}
	if err := s.m.ledger.Complete(ctx, id, status, detail); err != nil {
		return status, fmt.Errorf("complete booking: %w", err)
	}
	return status, nil
}

// submitBooking performs the single booking request. An ambiguous error is
// resolved by the booking-confirmed signal, never by resubmitting.
func (s *step) submitBooking(ctx context.Context, pair domain.SlotPair) (domain.BookingStatus, string) {
	loc := s.sess.Location

	if s.m.api != nil {
		res, err := s.m.api.Book(ctx, *loc, pair, s.m.cfg.Contact)
		if err != nil {
			if s.signal(ctx, SignalBookingConfirmed) {
				return domain.BookingConfirmed, "confirmed after error: " + err.Error()
			}
			return domain.BookingFailed, err.Error()
		}
		if res == BookAlreadyBooked {
			return domain.BookingAlreadyBooked, "code was already used to book an appointment"
		}
		return domain.BookingConfirmed, "booked over API"
	}

	radios, err := s.probe.LocateAll(ctx, selSlotPairRadio)
	if err != nil {
		return domain.BookingFailed, err.Error()
	}
	if pair.Index < 1 || pair.Index > len(radios) {
		return domain.BookingFailed, fmt.Sprintf("appointment %d not on page", pair.Index)
	}
	if err := s.probe.Click(ctx, radios[pair.Index-1]); err != nil {
		return domain.BookingFailed, err.Error()
	}
	err = s.clickThrough(ctx, selBook, nil)
	if s.signal(ctx, SignalBookingConfirmed) {
		return domain.BookingConfirmed, "booked on page"
	}
	if err != nil {
		return domain.BookingFailed, err.Error()
	}
	return domain.BookingFailed, "no booking confirmation shown"
}
