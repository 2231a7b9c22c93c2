package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/infra/storage"
)

// AlertRepo implements storage.AlertRepository using PostgreSQL.
type AlertRepo struct {
	db *DB
}

// NewAlertRepo creates a new PostgreSQL alert repository.
func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// RecordAlert stores a broadcast alert.
func (r *AlertRepo) RecordAlert(ctx context.Context, alert domain.Alert, delivered int) error {
	query := `
		INSERT INTO alerts (kind, location, text, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	created := alert.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, query, string(alert.Kind), alert.Location, alert.Text, delivered, created); err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// List returns the most recent alerts.
func (r *AlertRepo) List(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []storage.AlertRecord
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, kind, location, text, delivered, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return rows, nil
}

// PruneBefore deletes alerts older than t.
func (r *AlertRepo) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return res.RowsAffected()
}
