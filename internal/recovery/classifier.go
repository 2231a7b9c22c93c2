// Package recovery maps workflow failures to recovery actions.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/relay"
	"github.com/vietddude/slotwatcher/internal/throttle"
)

// Action determines how the workflow handles a failure.
type Action int

const (
	// ActionInfer pauses, infers the current state from the page and resumes.
	ActionInfer Action = iota
	// ActionRecreate pauses, recreates the page resource and resumes.
	ActionRecreate
	// ActionContinue logs the failure and keeps going.
	ActionContinue
	// ActionReset pauses and restarts the session from scratch.
	ActionReset
	// ActionPropagate stops immediately without recovery.
	ActionPropagate
)

func (a Action) String() string {
	switch a {
	case ActionInfer:
		return "infer"
	case ActionRecreate:
		return "recreate"
	case ActionContinue:
		return "continue"
	case ActionReset:
		return "reset"
	case ActionPropagate:
		return "propagate"
	default:
		return "unknown"
	}
}

// Decision is the recovery chosen for a failure.
type Decision struct {
	Action Action
	// Pause is how long to wait before acting.
	Pause time.Duration
	// PreserveResource keeps the page resource open for inspection instead of closing it.
	PreserveResource bool
	// Reason is a short label used in logs and metrics.
	Reason string
}

// Policy configures the classifier.
type Policy struct {
	// Pause before inference, recreation or reset (default: 5s)
	Pause time.Duration `yaml:"pause"`

	// PreserveOnCrash keeps the resource of a session reset by an unexpected failure
	PreserveOnCrash bool `yaml:"preserve_on_crash"`

	// MaxInferences is the number of failed inferences tolerated before a reset (default: 2)
	MaxInferences int `yaml:"max_inferences"`
}

// DefaultPolicy returns the classifier defaults.
func DefaultPolicy() Policy {
	return Policy{
		Pause:         5 * time.Second,
		MaxInferences: 2,
	}
}

// Classifier maps errors to recovery decisions.
type Classifier struct {
	policy Policy
	log    *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(policy Policy) *Classifier {
	def := DefaultPolicy()
	if policy.Pause <= 0 {
		policy.Pause = def.Pause
	}
	if policy.MaxInferences <= 0 {
		policy.MaxInferences = def.MaxInferences
	}
	return &Classifier{
		policy: policy,
		log:    slog.Default().With("component", "recovery"),
	}
}

// Policy returns the effective policy.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Classify determines the recovery for err. ctx is the session context: once
// it is done every failure propagates.
func (c *Classifier) Classify(ctx context.Context, err error) Decision {
	if err == nil {
		return Decision{Action: ActionContinue, Reason: "none"}
	}

	// Deliberate termination
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Decision{Action: ActionPropagate, Reason: "shutdown"}
	}

	var mismatch *domain.PageMismatchError
	if errors.As(err, &mismatch) {
		return Decision{Action: ActionInfer, Pause: c.policy.Pause, Reason: "page_mismatch"}
	}

	if errors.Is(err, domain.ErrStaleReference) || isStaleMessage(err) {
		return Decision{Action: ActionRecreate, Pause: c.policy.Pause, Reason: "stale_reference"}
	}

	var backendErr *relay.BackendError
	if errors.As(err, &backendErr) {
		return Decision{Action: ActionContinue, Reason: "backend"}
	}

	if errors.Is(err, throttle.ErrForceReset) {
		return Decision{Action: ActionReset, Reason: "throttled"}
	}

	if errors.Is(err, relay.ErrTimeout) || errors.Is(err, relay.ErrNoPollers) {
		return Decision{Action: ActionReset, Pause: c.policy.Pause, Reason: "code_timeout"}
	}

	return Decision{
		Action:           ActionReset,
		Pause:            c.policy.Pause,
		PreserveResource: c.policy.PreserveOnCrash,
		Reason:           "unexpected",
	}
}

// AfterInference turns an inference decision into a reset once the session
// has failed to infer its state MaxInferences times in a row.
func (c *Classifier) AfterInference(d Decision, failures int) Decision {
	if d.Action != ActionInfer || failures < c.policy.MaxInferences {
		return d
	}
	c.log.Warn("State inference failed repeatedly, resetting session", "failures", failures)
	return Decision{Action: ActionReset, Pause: d.Pause, Reason: "inference_failed"}
}

// isStaleMessage recognizes WebDriver errors that lost their typed form
// on the way up, e.g. wrapped as plain text by a remote driver.
func isStaleMessage(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "stale element reference") ||
		strings.Contains(s, "no such window") ||
		strings.Contains(s, "invalid session id") ||
		strings.Contains(s, "detached")
}
