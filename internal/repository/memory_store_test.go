package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetSession(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.SetSessionActive(ctx, false)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutSession(ctx, &models.Session{ID: "s1", AnchorLatitude: 1, AnchorLongitude: 2, Active: true}))
	closed, err := store.SetSessionActive(ctx, false)
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, 1.0, closed.AnchorLatitude)

	got, err := store.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.False(t, got.Active)
	assert.Equal(t, 2.0, got.AnchorLongitude)
}

func TestMemoryStoreRejectsDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Ana", RegistrationNumber: "A100"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Ana again", RegistrationNumber: "A100"})
	require.ErrorIs(t, err, ErrDuplicateRegistration)

	// records without a registration number are never deduplicated
	_, err = store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Budi"})
	require.NoError(t, err)
	_, err = store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Budi"})
	require.NoError(t, err)

	found, err := store.FindByRegistrationNumber(ctx, "A100")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestMemoryStoreConcurrentDuplicateAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Ana", RegistrationNumber: "A100"}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestMemoryStoreRemoveRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Ana", RegistrationNumber: "A100"})
	require.NoError(t, err)

	removed, err := store.RemoveRecords(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "A100", removed[0].RegistrationNumber)

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// the registration number is free again after a reset
	_, err = store.AppendRecord(ctx, &models.AttendanceRecord{Name: "Ana", RegistrationNumber: "A100"})
	require.NoError(t, err)
}

func TestMemoryStoreWatchRecordsDeliversOnlyLaterChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()

	_, err := store.AppendRecord(ctx, &models.AttendanceRecord{Name: "before"})
	require.NoError(t, err)

	changes, err := store.WatchRecords(ctx)
	require.NoError(t, err)

	_, err = store.AppendRecord(ctx, &models.AttendanceRecord{Name: "after"})
	require.NoError(t, err)
	_, err = store.RemoveRecords(ctx)
	require.NoError(t, err)

	first := receive(t, changes)
	assert.Equal(t, models.RecordAdded, first.Kind)
	assert.Equal(t, "after", first.Record.Name)
	second := receive(t, changes)
	assert.Equal(t, models.RecordsCleared, second.Kind)
}

func TestMemoryStoreWatchSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()

	changes, err := store.WatchSession(ctx)
	require.NoError(t, err)

	require.NoError(t, store.PutSession(ctx, &models.Session{ID: "s1", Active: true}))
	_, err = store.SetSessionActive(ctx, false)
	require.NoError(t, err)

	opened := receive(t, changes)
	assert.True(t, opened.Session.Active)
	closed := receive(t, changes)
	assert.False(t, closed.Session.Active)

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestMemoryStoreClose(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	_, err := store.GetSession(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.WatchRecords(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	var zero T
	return zero
}
