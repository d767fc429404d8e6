package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sstent/stravasync/internal/strava"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves canned pages and records the requested params
type fakeLister struct {
	pages    [][]strava.Activity
	failPage int
	failErr  error
	latency  time.Duration
	calls    []strava.ListParams
}

func (f *fakeLister) ListActivities(ctx context.Context, params strava.ListParams) ([]strava.Activity, error) {
	f.calls = append(f.calls, params)
	time.Sleep(f.latency)
	if f.failPage > 0 && params.Page == f.failPage {
		return nil, f.failErr
	}
	if params.Page-1 < len(f.pages) {
		return f.pages[params.Page-1], nil
	}
	return nil, nil
}

func makePage(t *testing.T, firstID, n int, start time.Time) []strava.Activity {
	t.Helper()
	raw := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			raw += ","
		}
		ts := start.Add(time.Duration(i) * time.Hour)
		raw += fmt.Sprintf(`{"id": %d, "name": "Activity %d", "start_date": %q, "start_date_local": %q}`,
			firstID+i, firstID+i, ts.Format(time.RFC3339), ts.Format("2006-01-02T15:04:05Z"))
	}
	return decodeActivities(t, raw+"]")
}

func TestSyncActivities_PaginatesUntilEmptyPage(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: [][]strava.Activity{
		makePage(t, 1, 30, start),
		makePage(t, 31, 30, start.Add(48*time.Hour)),
		makePage(t, 61, 30, start.Add(96*time.Hour)),
	}}

	result, err := SyncActivities(ctx, database, lister, SyncOptions{PerPage: 30})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 90, result.Activities)
	assert.Nil(t, result.StopReason)
	require.Len(t, lister.calls, 4)
	for i, call := range lister.calls {
		assert.Equal(t, i+1, call.Page)
		assert.Equal(t, 30, call.PerPage)
		assert.True(t, call.After.IsZero(), "empty store must fetch everything")
	}

	n, err := database.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, n)
}

func TestSyncActivities_UsesWatermark(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	latest := time.Date(2021, 5, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, database.UpsertActivities(ctx, decodeActivities(t, fmt.Sprintf(`[
		{"id": 1, "start_date": "2021-04-01T08:00:00Z"},
		{"id": 2, "start_date": %q}
	]`, latest.Format(time.RFC3339))), false))

	lister := &fakeLister{pages: [][]strava.Activity{makePage(t, 3, 2, latest.Add(time.Hour))}}
	result, err := SyncActivities(ctx, database, lister, SyncOptions{})
	require.NoError(t, err)

	assert.True(t, latest.Equal(result.Watermark))
	require.Len(t, lister.calls, 2)
	for _, call := range lister.calls {
		assert.Equal(t, latest.Unix(), call.After.Unix())
	}

	n, err := database.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSyncActivities_AllActivitiesIgnoresWatermark(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	require.NoError(t, database.UpsertActivities(ctx, decodeActivities(t, `[{"id": 1, "start_date": "2021-04-01T08:00:00Z"}]`), false))

	lister := &fakeLister{}
	result, err := SyncActivities(ctx, database, lister, SyncOptions{AllActivities: true})
	require.NoError(t, err)

	assert.True(t, result.Watermark.IsZero())
	require.Len(t, lister.calls, 1)
	assert.True(t, lister.calls[0].After.IsZero())
}

func TestSyncActivities_Idempotent(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := [][]strava.Activity{makePage(t, 1, 5, start)}

	_, err := SyncActivities(ctx, database, &fakeLister{pages: pages}, SyncOptions{AllActivities: true})
	require.NoError(t, err)
	before, err := database.GetAll(ctx)
	require.NoError(t, err)

	_, err = SyncActivities(ctx, database, &fakeLister{pages: pages}, SyncOptions{AllActivities: true})
	require.NoError(t, err)
	after, err := database.GetAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Len(t, after, 5)
}

func TestSyncActivities_StatusStopsAndKeepsPages(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			database := newTestDatabase(t)

			start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
			lister := &fakeLister{
				pages:    [][]strava.Activity{makePage(t, 1, 3, start), makePage(t, 4, 3, start.Add(24*time.Hour))},
				failPage: 2,
				failErr:  &strava.StatusError{StatusCode: tt.status},
			}

			result, err := SyncActivities(ctx, database, lister, SyncOptions{})
			require.NoError(t, err)
			assert.Equal(t, 1, result.Pages)
			assert.Equal(t, tt.status == http.StatusTooManyRequests, errors.Is(result.StopReason, strava.ErrRateLimited))

			n, err := database.CountActivities(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestSyncActivities_TransportErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	refreshFailed := errors.New("refresh token revoked")
	lister := &fakeLister{
		pages:    [][]strava.Activity{makePage(t, 1, 3, start), makePage(t, 4, 3, start)},
		failPage: 2,
		failErr:  refreshFailed,
	}

	_, err := SyncActivities(ctx, database, lister, SyncOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, refreshFailed))

	n, err := database.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSyncActivities_TruncateWithNothingFetched(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	require.NoError(t, database.UpsertActivities(ctx, decodeActivities(t, `[{"id": 1}]`), false))

	lister := &fakeLister{failPage: 1, failErr: &strava.StatusError{StatusCode: http.StatusTooManyRequests}}
	_, err := SyncActivities(ctx, database, lister, SyncOptions{AllActivities: true, Truncate: true})
	require.NoError(t, err)

	n, err := database.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncActivities_PageDelay(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: [][]strava.Activity{makePage(t, 1, 1, start), makePage(t, 2, 1, start)}}

	began := time.Now()
	_, err := SyncActivities(ctx, database, lister, SyncOptions{PageDelay: 50 * time.Millisecond})
	require.NoError(t, err)

	// one delay after each of the two non-empty pages
	assert.GreaterOrEqual(t, time.Since(began), 100*time.Millisecond)
}

func TestSyncActivities_PageDelayFollowsSlowPages(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{
		pages:   [][]strava.Activity{makePage(t, 1, 1, start), makePage(t, 2, 1, start)},
		latency: 60 * time.Millisecond,
	}

	began := time.Now()
	_, err := SyncActivities(ctx, database, lister, SyncOptions{PageDelay: 50 * time.Millisecond})
	require.NoError(t, err)

	// three requests plus a full delay after each non-empty page
	assert.GreaterOrEqual(t, time.Since(began), 3*60*time.Millisecond+2*50*time.Millisecond)
}

func TestSyncActivities_NoDelayAfterEmptyPage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	database := newTestDatabase(t)

	began := time.Now()
	_, err := SyncActivities(ctx, database, &fakeLister{}, SyncOptions{PageDelay: time.Hour})
	require.NoError(t, err)
	assert.Less(t, time.Since(began), time.Second)
}

func TestSyncActivities_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	database := newTestDatabase(t)

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: [][]strava.Activity{makePage(t, 1, 1, start), makePage(t, 2, 1, start)}}
	cancel()

	_, err := SyncActivities(ctx, database, lister, SyncOptions{PageDelay: time.Hour})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
