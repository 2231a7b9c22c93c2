package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

var (
	// ErrBookingNotFound is returned when a booking id is unknown.
	ErrBookingNotFound = errors.New("booking not found")
)

// BookingRepository journals booking attempts. The pair (postal code, slot
// key) is unique, which makes a second submission of the same slot pair
// detectable before it reaches the booking service.
type BookingRepository interface {
	// Reserve inserts b as pending. If the slot pair was reserved before it
	// returns the existing record and inserts nothing.
	Reserve(ctx context.Context, b *domain.Booking) (*domain.Booking, error)

	// Complete records the final status of a reservation
	Complete(ctx context.Context, id string, status domain.BookingStatus, detail string) error

	// List returns the most recent bookings, newest first
	List(ctx context.Context, limit int) ([]*domain.Booking, error)

	// Clear deletes every booking
	Clear(ctx context.Context) error
}

// AlertRecord is a journaled alert.
type AlertRecord struct {
	ID        int64     `db:"id"`
	Kind      string    `db:"kind"`
	Location  string    `db:"location"`
	Text      string    `db:"text"`
	Delivered int       `db:"delivered"`
	CreatedAt time.Time `db:"created_at"`
}

// AlertRepository journals broadcast alerts.
type AlertRepository interface {
	// RecordAlert stores an alert and the number of channels that accepted it
	RecordAlert(ctx context.Context, alert domain.Alert, delivered int) error

	// List returns the most recent alerts, newest first
	List(ctx context.Context, limit int) ([]AlertRecord, error)

	// PruneBefore deletes alerts created before t
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}
