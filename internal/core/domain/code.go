package domain

import (
	"regexp"
	"strings"
	"time"
)

// CodeKind is the kind of external input a workflow can wait for.
type CodeKind string

const (
	// CodeKindVerification is the SMS pin, sent as "sms:123-456".
	CodeKindVerification CodeKind = "verification"
	// CodeKindSelection is the slot-pair index chosen for remote booking, sent as "appt:2".
	CodeKindSelection CodeKind = "selection"
)

// DefaultFreshness is the maximum age of a message that may satisfy a request.
const DefaultFreshness = 120 * time.Second

var (
	VerificationPattern = regexp.MustCompile(`^sms:(\d{3})-?(\d{3})$`)
	SelectionPattern    = regexp.MustCompile(`^appt:(\d{1,2})$`)
)

// PatternFor returns the default validation pattern of a kind.
func PatternFor(kind CodeKind) *regexp.Regexp {
	if kind == CodeKindSelection {
		return SelectionPattern
	}
	return VerificationPattern
}

// CodeRequest is an outstanding request for external input.
type CodeRequest struct {
	Kind     CodeKind
	Pattern  *regexp.Regexp
	IssuedAt time.Time
	Deadline time.Time
}

// NewCodeRequest builds a request of the given kind expiring after timeout.
func NewCodeRequest(kind CodeKind, now time.Time, timeout time.Duration) CodeRequest {
	return CodeRequest{
		Kind:     kind,
		Pattern:  PatternFor(kind),
		IssuedAt: now,
		Deadline: now.Add(timeout),
	}
}

// Extract returns the normalized code carried by content, or "" if the
// content does not match. Capture groups are concatenated, so "sms:123-456"
// yields "123456".
func (r CodeRequest) Extract(content string) string {
	pattern := r.Pattern
	if pattern == nil {
		pattern = PatternFor(r.Kind)
	}
	m := pattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return ""
	}
	if len(m) == 1 {
		return m[0]
	}
	return strings.Join(m[1:], "")
}

// Message is one inbound item read from a notification backend.
type Message struct {
	Content   string
	Timestamp time.Time
	Backend   string
}

// Fresh reports whether the message is young enough to satisfy a request.
func (m Message) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(m.Timestamp) <= window
}
