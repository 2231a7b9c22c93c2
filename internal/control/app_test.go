package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/slotwatcher/internal/core/config"
	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/health"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  port: 0
waits:
  concurrent: 0s
  recovery: 1ms
  idle_poll: 5ms
features:
  sleep_night: false
concurrency:
  workers: 2
locations:
  - location: 71636 Ludwigsburg
  - location: 80331 München
`))
	require.NoError(t, err)
	return cfg
}

// unavailableBrowser fails every attempt to open a page resource.
func unavailableBrowser(opened *atomic.Int32) workflow.ProbeFactory {
	return func(ctx context.Context) (workflow.Probe, error) {
		opened.Add(1)
		return nil, errors.New("browser unavailable")
	}
}

func TestApp_Lifecycle(t *testing.T) {
	var opened atomic.Int32
	app, err := NewApp(context.Background(), testConfig(t), WithProbeFactory(unavailableBrowser(&opened)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	require.Eventually(t, func() bool { return app.Stats().Completed >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Positive(t, opened.Load())

	require.NoError(t, app.Stop(ctx))
	stats := app.Stats()
	assert.Equal(t, stats.Completed, stats.Requeued, "every finished run re-queues its location")
	assert.LessOrEqual(t, stats.MaxActive, 2)

	// Stop is idempotent
	require.NoError(t, app.Stop(ctx))
}

func TestApp_RedisQueueKeepsLocations(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Backends.Inbox.Enabled = true

	var opened atomic.Int32
	app, err := NewApp(context.Background(), cfg, WithProbeFactory(unavailableBrowser(&opened)))
	require.NoError(t, err)
	assert.Contains(t, app.relay.Backends(), "redis")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	require.Eventually(t, func() bool { return app.Stats().Completed >= 2 }, 3*time.Second, 10*time.Millisecond)

	report := app.Health(ctx)
	assert.Equal(t, health.StatusHealthy, report.Components["redis"].Status)

	require.NoError(t, app.Stop(ctx))

	queued, err := mr.List("slotwatcher:locations")
	require.NoError(t, err)
	assert.Len(t, queued, 2, "both locations stay queued across shutdown")
}

func TestApp_MemoryJournal(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), WithProbeFactory(unavailableBrowser(new(atomic.Int32))))
	require.NoError(t, err)

	ctx := context.Background()
	existing, err := app.Bookings().Reserve(ctx, &domain.Booking{ID: "b-1", PostalCode: "71636", SlotKey: "a1+a2"})
	require.NoError(t, err)
	assert.Nil(t, existing)

	existing, err = app.Bookings().Reserve(ctx, &domain.Booking{ID: "b-2", PostalCode: "71636", SlotKey: "a1+a2"})
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "b-1", existing.ID)
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := NewApp(context.Background(), cfg)
	assert.Error(t, err)
}
