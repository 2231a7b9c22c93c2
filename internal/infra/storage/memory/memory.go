package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/infra/storage"
)

// MemoryStorage keeps the journal in process memory. It is used when no
// database is configured; reservations then only hold for the process lifetime.
type MemoryStorage struct {
	bookings map[string]*domain.Booking
	alerts   []storage.AlertRecord
	nextID   int64
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		bookings: make(map[string]*domain.Booking),
	}
}

// -----------------------------------------------------------------------------
// Booking Repository
// -----------------------------------------------------------------------------

type BookingRepo struct {
	store *MemoryStorage
}

func NewBookingRepo(store *MemoryStorage) *BookingRepo {
	return &BookingRepo{store: store}
}

func (r *BookingRepo) Reserve(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.bookings {
		if existing.PostalCode == b.PostalCode && existing.SlotKey == b.SlotKey {
			cp := *existing
			return &cp, nil
		}
	}

	cp := *b
	if cp.Status == "" {
		cp.Status = domain.BookingPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	r.store.bookings[cp.ID] = &cp
	return nil, nil
}

func (r *BookingRepo) Complete(ctx context.Context, id string, status domain.BookingStatus, detail string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	b, ok := r.store.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrBookingNotFound, id)
	}
	b.Status = status
	b.Detail = detail
	b.UpdatedAt = time.Now()
	return nil
}

func (r *BookingRepo) List(ctx context.Context, limit int) ([]*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.Booking, 0, len(r.store.bookings))
	for _, b := range r.store.bookings {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepo) Clear(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.bookings = make(map[string]*domain.Booking)
	return nil
}

// -----------------------------------------------------------------------------
// Alert Repository
// -----------------------------------------------------------------------------

type AlertRepo struct {
	store *MemoryStorage
}

func NewAlertRepo(store *MemoryStorage) *AlertRepo {
	return &AlertRepo{store: store}
}

func (r *AlertRepo) RecordAlert(ctx context.Context, alert domain.Alert, delivered int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextID++
	created := alert.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	r.store.alerts = append(r.store.alerts, storage.AlertRecord{
		ID:        r.store.nextID,
		Kind:      string(alert.Kind),
		Location:  alert.Location,
		Text:      alert.Text,
		Delivered: delivered,
		CreatedAt: created,
	})
	return nil
}

func (r *AlertRepo) List(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]storage.AlertRecord, 0, len(r.store.alerts))
	for i := len(r.store.alerts) - 1; i >= 0; i-- {
		out = append(out, r.store.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *AlertRepo) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.alerts[:0]
	var pruned int64
	for _, a := range r.store.alerts {
		if a.CreatedAt.Before(t) {
			pruned++
			continue
		}
		kept = append(kept, a)
	}
	r.store.alerts = kept
	return pruned, nil
}
