package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/airwatch/internal/models"
	"github.com/rewired-gh/airwatch/internal/storage"
)

var lagos = models.Coordinates{Latitude: 6.5244, Longitude: 3.3792}

func newTestService(t *testing.T) (*Service, *storage.Storage) {
	t.Helper()
	store, err := storage.New(100, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func TestStart_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Start(ctx, "user-1", "Lagos", lagos, &models.Reading{AQI: models.Float64(40)})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Start(ctx, "user-1", "Lagos", lagos, &models.Reading{AQI: models.Float64(99)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	v, _ := second.LastReading.Number(models.MetricAQI)
	assert.Equal(t, 40.0, v, "existing monitor keeps its reading")
}

func TestStart_StampsInitialReading(t *testing.T) {
	svc, _ := newTestService(t)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	initial := &models.Reading{AQI: models.Float64(40)}
	m, _, err := svc.Start(context.Background(), "user-1", "Lagos", lagos, initial)
	require.NoError(t, err)
	assert.Equal(t, at, m.LastReading.Timestamp)
	assert.True(t, initial.Timestamp.IsZero(), "caller's reading is not mutated")
}

func TestStart_NilInitialReading(t *testing.T) {
	svc, _ := newTestService(t)
	m, created, err := svc.Start(context.Background(), "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, m.LastReading)
}

func TestStart_Invalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		owner    string
		location string
		coords   models.Coordinates
	}{
		{"empty owner", "", "Lagos", lagos},
		{"blank location", "user-1", "   ", lagos},
		{"latitude out of range", "user-1", "Lagos", models.Coordinates{Latitude: 91}},
		{"longitude out of range", "user-1", "Lagos", models.Coordinates{Longitude: -181}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Start(ctx, tt.owner, tt.location, tt.coords, nil)
			assert.ErrorIs(t, err, models.ErrInvalid)
		})
	}
}

func TestStart_ConcurrentCallsYieldOneMonitor(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var created int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, c, err := svc.Start(ctx, "user-1", "Lagos", lagos, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[i] = m.ID
			if c {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStopThenStart(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Start(ctx, "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)

	stopped, err := svc.Stop(ctx, first.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, stopped.Active)

	second, created, err := svc.Start(ctx, "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	all, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
}

func TestStop_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, _, err := svc.Start(ctx, "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)

	_, err = svc.Stop(ctx, m.ID, "someone-else")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Stop(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	m, _, err := svc.Start(ctx, "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)

	n := models.NewNotification(models.Change{
		Metric: models.MetricAQI, ChangeType: models.Increase,
		OldValue: models.NumberValue(40), NewValue: models.NumberValue(43),
		Message: "AQI has increased from 40 to 43",
	}, time.Now())
	require.NoError(t, store.RecordCheck(ctx, m.ID, &models.Reading{AQI: models.Float64(43)}, []models.Notification{n}))

	require.NoError(t, svc.MarkRead(ctx, m.ID, "user-1", n.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, m.ID, "user-1", "nope"), models.ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, m.ID, "user-2", n.ID), models.ErrNotFound)

	list, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, list[0].UnreadCount())

	require.NoError(t, svc.MarkAllRead(ctx, "user-1"))
}

type racingStore struct {
	Store
	winner *models.Monitor
	finds  int
}

func (r *racingStore) FindActiveByOwnerAndLocation(context.Context, string, string) (*models.Monitor, error) {
	r.finds++
	if r.finds == 1 {
		return nil, nil
	}
	return r.winner, nil
}

func (r *racingStore) Create(context.Context, string, string, models.Coordinates, *models.Reading) (*models.Monitor, error) {
	return nil, errors.Join(models.ErrConflict, errors.New("unique constraint"))
}

func TestStart_ConflictResolvesToWinner(t *testing.T) {
	winner := &models.Monitor{ID: "winner", OwnerID: "user-1", LocationName: "Lagos", Active: true}
	svc := New(&racingStore{winner: winner})

	m, created, err := svc.Start(context.Background(), "user-1", "Lagos", lagos, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", m.ID)
}
