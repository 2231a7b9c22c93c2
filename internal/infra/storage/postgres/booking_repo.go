package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/infra/storage"
)

// BookingRepo implements storage.BookingRepository using PostgreSQL.
type BookingRepo struct {
	db *DB
}

// NewBookingRepo creates a new PostgreSQL booking repository.
func NewBookingRepo(db *DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// Reserve inserts a pending booking. The unique (postal_code, slot_key)
// constraint turns a second reservation into a lookup of the first.
func (r *BookingRepo) Reserve(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	query := `
		INSERT INTO bookings (id, postal_code, slot_key, status, detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	status := b.Status
	if status == "" {
		status = domain.BookingPending
	}

	_, err := r.db.ExecContext(ctx, query, b.ID, b.PostalCode, b.SlotKey, string(status), b.Detail)
	if err == nil {
		return nil, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to reserve booking: %w", err)
	}

	var existing domain.Booking
	err = r.db.GetContext(ctx, &existing, `
		SELECT id, postal_code, slot_key, status, detail, created_at, updated_at
		FROM bookings
		WHERE postal_code = $1 AND slot_key = $2
	`, b.PostalCode, b.SlotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved booking: %w", err)
	}
	return &existing, nil
}

// Complete records the final status of a reservation.
func (r *BookingRepo) Complete(ctx context.Context, id string, status domain.BookingStatus, detail string) error {
	query := `
		UPDATE bookings
		SET status = $2, detail = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), detail)
	if err != nil {
		return fmt.Errorf("failed to complete booking: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrBookingNotFound, id)
	}
	return nil
}

// List returns the most recent bookings.
func (r *BookingRepo) List(ctx context.Context, limit int) ([]*domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*domain.Booking
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, postal_code, slot_key, status, detail, created_at, updated_at
		FROM bookings
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return rows, nil
}

// Clear deletes every booking.
func (r *BookingRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bookings`); err != nil {
		return fmt.Errorf("failed to clear bookings: %w", err)
	}
	return nil
}
