package domain

import (
	"strings"
	"time"
)

// AlertKind labels why an alert was raised.
type AlertKind string

const (
	AlertCodeNeeded   AlertKind = "code_needed"
	AlertSlotsFound   AlertKind = "slots_found"
	AlertCodeEntered  AlertKind = "code_entered"
	AlertBooking      AlertKind = "booking"
	AlertSessionError AlertKind = "session_error"
)

// Alert is an outbound message broadcast to notification channels.
// An empty Channels list means every enabled channel.
type Alert struct {
	Kind      AlertKind
	Text      string
	Channels  []string
	Location  string
	CreatedAt time.Time
}

// NewAlert builds an alert for every enabled channel.
func NewAlert(kind AlertKind, location, text string) Alert {
	return Alert{
		Kind:      kind,
		Text:      text,
		Location:  location,
		CreatedAt: time.Now(),
	}
}

// Targets reports whether the alert must be delivered to channel.
func (a Alert) Targets(channel string) bool {
	if len(a.Channels) == 0 {
		return true
	}
	for _, c := range a.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// Template placeholders understood by Render.
const (
	PlaceholderLocation     = "{{ LOCATION }}"
	PlaceholderLink         = "{{ LINK }}"
	PlaceholderAppointments = "{{ APPOINTMENTS }}"
)

// Render fills the known placeholders of a message template.
func Render(template string, values map[string]string) string {
	out := template
	for key, value := range values {
		out = strings.ReplaceAll(out, key, value)
	}
	return out
}
