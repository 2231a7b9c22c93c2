package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PostalCodeLength is the number of leading label characters holding the postal code.
const PostalCodeLength = 5

var (
	// ErrInvalidPostalCode is returned when a label does not start with 5 digits.
	ErrInvalidPostalCode = errors.New("location label must start with a 5-digit postal code")

	// ErrInvalidAccessCode is returned when a pre-authorized code is malformed.
	ErrInvalidAccessCode = errors.New("access code must have the form XXXX-XXXX-XXXX")
)

var accessCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}$`)

// Location is a vaccination center the bot cycles through.
type Location struct {
	Label      string `json:"label"      yaml:"location"`
	Code       string `json:"code"       yaml:"code"`
	ErrorCount int    `json:"error_count" yaml:"-"`
	FullName   string `json:"full_name"  yaml:"-"`
}

// NewLocation validates and builds a location from static configuration.
func NewLocation(label, code string) (Location, error) {
	loc := Location{Label: strings.TrimSpace(label), Code: strings.TrimSpace(code)}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Validate checks the postal code prefix and, if present, the access code format.
func (l Location) Validate() error {
	if !IsPostalCode(l.Label) {
		return fmt.Errorf("%w: %q", ErrInvalidPostalCode, l.Label)
	}
	if l.Code != "" && !accessCodePattern.MatchString(l.Code) {
		return fmt.Errorf("%w: %q", ErrInvalidAccessCode, l.Code)
	}
	return nil
}

// PostalCode returns the mandatory 5-digit prefix. Callers must Validate first.
func (l Location) PostalCode() string {
	if len(l.Label) < PostalCodeLength {
		return l.Label
	}
	return l.Label[:PostalCodeLength]
}

// HasCode reports whether the location carries a pre-authorized access code.
func (l Location) HasCode() bool {
	return l.Code != ""
}

// CodeGroups splits the access code into its three dash-separated groups.
func (l Location) CodeGroups() []string {
	if l.Code == "" {
		return nil
	}
	return strings.Split(l.Code, "-")
}

// DisplayName prefers the name resolved at runtime over the configured label.
func (l Location) DisplayName() string {
	if l.FullName != "" {
		return l.FullName
	}
	return l.Label
}

// ClearCode drops a code the server rejected so the next run claims a fresh one.
func (l *Location) ClearCode() {
	l.Code = ""
}

// IsPostalCode reports whether s starts with exactly 5 ASCII digits.
func IsPostalCode(s string) bool {
	if len(s) < PostalCodeLength {
		return false
	}
	for i := 0; i < PostalCodeLength; i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return len(s) == PostalCodeLength || !isDigit(s[PostalCodeLength])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
