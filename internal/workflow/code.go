package workflow

import (
	"context"
	"fmt"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

// CodeVerdict is the server's answer to a submitted code or pin.
type CodeVerdict int

const (
	VerdictAccepted CodeVerdict = iota
	VerdictInvalid
	VerdictAlreadyUsed
	VerdictClaimExpired
	VerdictTransientError
)

func (v CodeVerdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictInvalid:
		return "invalid"
	case VerdictAlreadyUsed:
		return "already_used"
	case VerdictClaimExpired:
		return "claim_expired"
	case VerdictTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// ValidateCode enters the location's access code and reads the server's
// verdict. Domain rejections are verdicts, not errors.
func (m *Machine) ValidateCode(ctx context.Context, sess *domain.Session, h *Handle) (CodeVerdict, error) {
	probe, err := h.Probe(ctx)
	if err != nil {
		return 0, fmt.Errorf("open page resource: %w", err)
	}
	s := &step{m: m, sess: sess, probe: probe, log: m.sessionLog(sess)}
	return s.enterCode(ctx)
}

// codeEntry validates the pre-authorized access code.
func (s *step) codeEntry(ctx context.Context) (domain.State, error) {
	verdict, err := s.enterCode(ctx)
	if err != nil {
		return 0, err
	}
	return s.applyVerdict(ctx, verdict)
}

func (s *step) enterCode(ctx context.Context) (CodeVerdict, error) {
	if err := s.expect(ctx, PageLocationClaim); err != nil {
		return 0, err
	}
	groups := s.sess.Location.CodeGroups()
	if len(groups) != 3 {
		return VerdictInvalid, nil
	}
	for i, group := range groups {
		if err := s.typeInto(ctx, selCodeGroup(i), group); err != nil {
			return 0, err
		}
	}
	if err := s.clickThrough(ctx, selSubmit, nil); err != nil {
		return 0, err
	}
	return s.readVerdict(ctx), nil
}

// verifyPin asks the user for the SMS pin and submits it.
func (s *step) verifyPin(ctx context.Context) (domain.State, error) {
	loc := s.sess.Location
	tpl := s.m.cfg.Templates

	s.log.Info("Waiting for SMS code")
	s.m.messenger.Broadcast(ctx, domain.NewAlert(domain.AlertCodeNeeded, loc.PostalCode(),
		domain.Render(tpl.CodeNeeded, s.placeholders())))

	req := domain.NewCodeRequest(domain.CodeKindVerification, s.m.now(), s.m.cfg.CodeTimeout)
	pin, err := s.m.messenger.Await(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("await sms code: %w", err)
	}

	s.m.messenger.Broadcast(ctx, domain.NewAlert(domain.AlertCodeEntered, loc.PostalCode(), tpl.CodeEntered))

	verdict, err := s.submitPin(ctx, pin)
	if err != nil {
		return 0, err
	}
	return s.applyVerdict(ctx, verdict)
}

func (s *step) submitPin(ctx context.Context, pin string) (CodeVerdict, error) {
	if s.sess.ClaimToken != "" && s.m.api != nil {
		ok, err := s.m.api.VerifyCode(ctx, s.sess.ClaimToken, pin)
		if err != nil {
			return 0, fmt.Errorf("verify code: %w", err)
		}
		if !ok {
			return VerdictInvalid, nil
		}
		return VerdictAccepted, nil
	}

	if err := s.expect(ctx, PageVerification); err != nil {
		return 0, err
	}
	if err := s.typeInto(ctx, selPin, pin); err != nil {
		return 0, err
	}
	if err := s.clickThrough(ctx, selSubmit, nil); err != nil {
		return 0, err
	}
	return s.readVerdict(ctx), nil
}

func (s *step) readVerdict(ctx context.Context) CodeVerdict {
	switch {
	case s.signal(ctx, SignalCodeUsed):
		return VerdictAlreadyUsed
	case s.signal(ctx, SignalClaimExpired):
		return VerdictClaimExpired
	case s.signal(ctx, SignalCodeInvalid):
		return VerdictInvalid
	case s.signal(ctx, SignalCodeError):
		return VerdictTransientError
	default:
		return VerdictAccepted
	}
}

// applyVerdict maps a verdict to the next state.
func (s *step) applyVerdict(ctx context.Context, verdict CodeVerdict) (domain.State, error) {
	loc := s.sess.Location
	s.log.Info("Code verdict", "verdict", verdict)

	switch verdict {
	case VerdictAccepted:
		return domain.StateAppointmentSearch, nil

	case VerdictInvalid, VerdictClaimExpired:
		loc.ClearCode()
		s.sess.ClaimToken = ""
		s.log.Info("Code rejected, claiming a fresh one")
		return domain.StateStart, nil

	case VerdictAlreadyUsed:
		s.log.Info("Code was already used to book an appointment")
		return domain.StateIdle, nil

	case VerdictTransientError:
		// Keep the code and back off before trying again. The landing click
		// clears the backoff escalations, so the error counter bounds retries.
		loc.ErrorCount++
		s.log.Warn("Server error on code entry", "errors", loc.ErrorCount)
		decision, err := s.m.throttle.OnThrottled(ctx, &s.sess.Backoff, nil)
		if err != nil {
			return 0, err
		}
		if decision == throttle.DecisionReset {
			return 0, throttle.ErrForceReset
		}
		return domain.StateStart, nil
	}
	return 0, fmt.Errorf("unknown verdict %d", verdict)
}

func (s *step) placeholders() map[string]string {
	loc := s.sess.Location
	return map[string]string{
		domain.PlaceholderLocation:     loc.DisplayName(),
		domain.PlaceholderLink:         s.m.bookingLink(loc),
		domain.PlaceholderAppointments: domain.FormatSlotPairs(s.sess.Slots),
	}
}
