package pool

import (
	"context"
	"sync"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// Queue is the re-submission queue of locations waiting for a worker.
// Implementations must be safe for concurrent use; it is the only place
// where workers exchange locations.
type Queue interface {
	Push(ctx context.Context, loc domain.Location) error
	// Pop removes the oldest location. found is false when the queue is empty.
	Pop(ctx context.Context) (loc domain.Location, found bool, err error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is a FIFO queue held in process memory.
type MemoryQueue struct {
	mu    sync.Mutex
	items []domain.Location
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, loc domain.Location) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, loc)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (domain.Location, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.Location{}, false, nil
	}
	loc := q.items[0]
	q.items = q.items[1:]
	return loc, true, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
