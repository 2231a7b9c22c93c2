package domain

import (
	"fmt"
	"strings"
	"time"
)

// Slot is one bookable appointment time.
type Slot struct {
	ID    string    `json:"slotId"`
	Begin time.Time `json:"begin"`
	Site  string    `json:"bsnr"`
}

// SlotPair is a bookable unit of two linked appointments (first and second dose).
type SlotPair struct {
	Index  int // 1-based, as presented to the user
	First  Slot
	Second Slot
	// Label is the human readable text, used when slots were read from a page.
	Label string
}

// Key identifies the pair for idempotent booking.
func (p SlotPair) Key() string {
	if p.First.ID == "" && p.Second.ID == "" {
		return fmt.Sprintf("idx:%d", p.Index)
	}
	return p.First.ID + "+" + p.Second.ID
}

func (p SlotPair) String() string {
	if p.Label != "" {
		return fmt.Sprintf("%d. %s", p.Index, p.Label)
	}
	const layout = "02.01.2006 15:04"
	return fmt.Sprintf("%d. %s | %s", p.Index, p.First.Begin.Format(layout), p.Second.Begin.Format(layout))
}

// FormatSlotPairs renders pairs one per line for alert text.
func FormatSlotPairs(pairs []SlotPair) string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, p.String())
	}
	return strings.Join(lines, "\n")
}

// Contact is the personal data submitted when claiming codes and booking.
type Contact struct {
	Salutation  string `yaml:"salutation"`
	FirstName   string `yaml:"first_name"`
	LastName    string `yaml:"last_name"`
	Street      string `yaml:"street"`
	HouseNumber string `yaml:"house_number"`
	ZipCode     string `yaml:"zip_code"`
	City        string `yaml:"city"`
	Phone       string `yaml:"phone"` // without country prefix
	Mail        string `yaml:"mail"`
	Age         int    `yaml:"age"`
}

// BookingStatus is the result of a booking attempt.
type BookingStatus string

const (
	BookingPending       BookingStatus = "pending"
	BookingConfirmed     BookingStatus = "confirmed"
	BookingAlreadyBooked BookingStatus = "already_booked"
	BookingFailed        BookingStatus = "failed"
)

// Booking is a journaled booking attempt.
type Booking struct {
	ID         string        `db:"id"`
	PostalCode string        `db:"postal_code"`
	SlotKey    string        `db:"slot_key"`
	Status     BookingStatus `db:"status"`
	Detail     string        `db:"detail"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}
