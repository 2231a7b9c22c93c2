package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/slotwatcher/internal/infra/storage"
)

// Pruner deletes journaled alerts older than the retention period.
type Pruner struct {
	retention time.Duration
	alerts    storage.AlertRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, alerts storage.AlertRepository) *Pruner {
	return &Pruner{
		retention: retention,
		alerts:    alerts,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval returns how often the pruner runs: a tenth of the retention,
// between one minute and one hour.
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes alerts created before now minus the retention.
func (p *Pruner) Prune(ctx context.Context) int64 {
	threshold := p.now().Add(-p.retention)

	n, err := p.alerts.PruneBefore(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune alerts", "error", err)
		return 0
	}
	if n > 0 {
		p.log.Debug("Pruned alerts", "count", n, "before", threshold.Format(time.RFC3339))
	}
	return n
}
