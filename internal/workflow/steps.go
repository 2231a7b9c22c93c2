package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

// step carries what a single transition needs.
type step struct {
	m     *Machine
	sess  *domain.Session
	probe Probe
	log   *slog.Logger
}

// landing opens the service, selects region and center and submits.
func (s *step) landing(ctx context.Context) (domain.State, error) {
	s.log.Info("Navigating to booking service")
	if err := s.probe.NavigateTo(ctx, s.m.cfg.BaseURL+"/impftermine"); err != nil {
		return 0, fmt.Errorf("navigate: %w", err)
	}
	if s.signal(ctx, SignalWaitingRoom) {
		return domain.StateWaitingRoom, nil
	}
	if err := s.expect(ctx, PageLanding); err != nil {
		return 0, err
	}
	s.dismissCookies(ctx)

	boxes, err := s.probe.LocateAll(ctx, selCombobox)
	if err != nil {
		return 0, fmt.Errorf("locate region selectors: %w", err)
	}
	if len(boxes) < 2 {
		return 0, fmt.Errorf("%w: %s", ErrElementMissing, selCombobox)
	}

	if s.m.cfg.Region != "" {
		if err := s.probe.Click(ctx, boxes[0]); err != nil {
			return 0, err
		}
		if err := s.click(ctx, selOption(s.m.cfg.Region)); err != nil {
			return 0, err
		}
		s.log.Info("Selected region", "region", s.m.cfg.Region)
	}

	if err := s.probe.Click(ctx, boxes[1]); err != nil {
		return 0, err
	}
	loc := s.sess.Location
	option, ok, err := s.probe.Locate(ctx, selOption(loc.PostalCode()))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: center %s", ErrElementMissing, loc.PostalCode())
	}
	if name, err := s.probe.Text(ctx, option); err == nil && name != "" {
		loc.FullName = strings.TrimSpace(name)
	}
	if err := s.probe.Click(ctx, option); err != nil {
		return 0, err
	}
	s.log.Info("Selected center", "center", loc.DisplayName())

	if err := s.clickThrough(ctx, selSubmit, nil); err != nil {
		return 0, err
	}
	return domain.StateWaitingRoom, nil
}

// waitingRoom blocks while the virtual queue is shown.
func (s *step) waitingRoom(ctx context.Context) (domain.State, error) {
	seated := false
	for {
		identity, err := s.probe.CurrentPageIdentity(ctx)
		if err != nil {
			return 0, err
		}
		if identity != PageWaitingRoom {
			break
		}
		if !seated {
			s.log.Info("Taking a seat in the waiting room")
			seated = true
		}
		if err := s.m.sleep(ctx, s.m.cfg.WaitingRoomPoll); err != nil {
			return 0, err
		}
	}
	if seated {
		s.log.Info("No longer in waiting room")
	}
	return domain.StateLocationClaim, nil
}

// locationClaim answers whether the claim was checked before. Locations
// with a code take the code entry branch, the rest claim a fresh code.
func (s *step) locationClaim(ctx context.Context) (domain.State, error) {
	if err := s.expect(ctx, PageLocationClaim); err != nil {
		return 0, err
	}
	s.dismissCookies(ctx)

	answer, next := "Nein", domain.StateEligibilityCheck
	if s.sess.Location.HasCode() {
		answer, next = "Ja", domain.StateCodeEntry
	}
	if err := s.click(ctx, selClaim(answer)); err != nil {
		return 0, err
	}
	return next, nil
}

// eligibility confirms the age based claim when the center has vacancy.
func (s *step) eligibility(ctx context.Context) (domain.State, error) {
	if err := s.waitLoading(ctx); err != nil {
		return 0, err
	}
	if s.signal(ctx, SignalNoVacancy) {
		s.log.Info("No vacancy right now")
		return domain.StateIdle, nil
	}

	nudge := s.eligibilityNudge()
	if err := s.clickThrough(ctx, selSubmit, nudge); err != nil {
		return 0, err
	}
	if err := s.click(ctx, selEligibleYes); err != nil {
		return 0, err
	}
	if err := s.typeInto(ctx, selAge, strconv.Itoa(s.m.cfg.Contact.Age)); err != nil {
		return 0, err
	}
	if err := s.clickThrough(ctx, selSubmit, nudge); err != nil {
		return 0, err
	}

	if s.signal(ctx, SignalNoVacancy) {
		s.log.Info("No vacancy right now")
		return domain.StateIdle, nil
	}
	s.log.Info("Vacancy found, requesting claim code")
	return domain.StateClaimCode, nil
}

// claimCode requests an SMS pin, over the booking API when instant codes
// are enabled, otherwise through the claim form.
func (s *step) claimCode(ctx context.Context) (domain.State, error) {
	contact := s.m.cfg.Contact

	if s.m.cfg.InstantCode && s.m.api != nil {
		token, err := s.m.api.RequestCode(ctx, contact, *s.sess.Location)
		if errors.Is(err, ErrLimitReached) {
			s.log.Info("Request limit reached")
			return domain.StateIdle, nil
		}
		if err != nil {
			return 0, fmt.Errorf("request code: %w", err)
		}
		s.sess.ClaimToken = token
		return domain.StateCodeVerification, nil
	}

	if err := s.expect(ctx, PageClaimCode); err != nil {
		return 0, err
	}
	if err := s.typeInto(ctx, selEmail, contact.Mail); err != nil {
		return 0, err
	}
	if err := s.typeInto(ctx, selPhone, contact.Phone); err != nil {
		return 0, err
	}
	if err := s.clickThrough(ctx, selSubmit, nil); err != nil {
		return 0, err
	}
	if s.signal(ctx, SignalLimitReached) {
		s.log.Info("Request limit reached")
		return domain.StateIdle, nil
	}
	return domain.StateCodeVerification, nil
}

// search looks for slot pairs.
func (s *step) search(ctx context.Context) (domain.State, error) {
	pairs, err := s.findSlots(ctx)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		s.log.Info("No appointments available right now")
		return domain.StateRetryOrIdle, nil
	}

	s.sess.Slots = pairs
	metrics.SlotsFound.WithLabelValues(s.sess.Location.PostalCode()).Add(float64(len(pairs)))
	s.log.Info("Appointments available", "pairs", len(pairs))

	if err := s.alertAndBook(ctx); err != nil {
		return 0, err
	}
	s.sess.KeepOpen = true
	return domain.StateAlertAndExit, nil
}

func (s *step) findSlots(ctx context.Context) ([]domain.SlotPair, error) {
	loc := s.sess.Location
	if s.m.api != nil && loc.HasCode() {
		pairs, err := s.m.api.ListSlots(ctx, *loc)
		if err == nil {
			return pairs, nil
		}
		s.log.Warn("Failed to list slots over API, searching on page", "error", err)
	}

	if err := s.clickThrough(ctx, selSearch, nil); err != nil {
		return nil, err
	}
	if err := s.waitLoading(ctx); err != nil {
		return nil, err
	}
	if s.signal(ctx, SignalNoSlots) {
		return nil, nil
	}
	if err := s.expect(ctx, PageBooking); err != nil {
		return nil, err
	}

	els, err := s.probe.LocateAll(ctx, selSlotPair)
	if err != nil {
		return nil, fmt.Errorf("locate slot pairs: %w", err)
	}
	pairs := make([]domain.SlotPair, 0, len(els))
	for i, el := range els {
		label, err := s.probe.Text(ctx, el)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.SlotPair{Index: i + 1, Label: strings.TrimSpace(label)})
	}
	return pairs, nil
}

// retryOrIdle re-issues the search after the rescan interval, or stops.
func (s *step) retryOrIdle(ctx context.Context) (domain.State, error) {
	if !s.m.cfg.Rescan {
		return domain.StateIdle, nil
	}
	s.log.Info("Rescanning appointments", "in", s.m.cfg.RescanInterval)
	if err := s.m.sleep(ctx, s.m.cfg.RescanInterval); err != nil {
		return 0, err
	}
	return domain.StateAppointmentSearch, nil
}

// =============================================================================
// Page helpers
// =============================================================================

func (s *step) expect(ctx context.Context, page string) error {
	identity, err := s.probe.CurrentPageIdentity(ctx)
	if err != nil {
		return fmt.Errorf("read page identity: %w", err)
	}
	if strings.TrimSpace(identity) != page {
		return &domain.PageMismatchError{Expected: page, Observed: identity}
	}
	return nil
}

func (s *step) signal(ctx context.Context, kind Signal) bool {
	ok, err := s.probe.HasSignal(ctx, kind)
	if err != nil {
		s.log.Debug("Signal check failed", "signal", kind, "error", err)
		return false
	}
	return ok
}

func (s *step) click(ctx context.Context, selector string) error {
	el, ok, err := s.probe.Locate(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return s.probe.Click(ctx, el)
}

func (s *step) typeInto(ctx context.Context, selector, text string) error {
	el, ok, err := s.probe.Locate(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return s.probe.Type(ctx, el, text)
}

// clickThrough clicks an element that loads a new page, waiting out
// throttling and repeating the same click.
func (s *step) clickThrough(ctx context.Context, selector string, nudge throttle.Nudge) error {
	throttled := throttle.SignalerFunc(func(ctx context.Context) (bool, error) {
		return s.probe.HasSignal(ctx, SignalThrottled)
	})
	return s.m.throttle.Guard(ctx, &s.sess.Backoff, throttled, nudge, func(ctx context.Context) error {
		return s.click(ctx, selector)
	})
}

// eligibilityNudge toggles the eligibility answer and back.
func (s *step) eligibilityNudge() throttle.Nudge {
	return func(ctx context.Context) error {
		if err := s.click(ctx, selEligibleNo); err != nil {
			return err
		}
		return s.click(ctx, selEligibleYes)
	}
}

func (s *step) dismissCookies(ctx context.Context) {
	el, ok, err := s.probe.Locate(ctx, selCookieConfirm)
	if err != nil || !ok {
		return
	}
	_ = s.probe.Click(ctx, el)
}

func (s *step) waitLoading(ctx context.Context) error {
	for i := 0; i < s.m.cfg.LoadingChecks && s.signal(ctx, SignalLoading); i++ {
		if err := s.m.sleep(ctx, s.m.cfg.LoadingPoll); err != nil {
			return err
		}
	}
	return nil
}
