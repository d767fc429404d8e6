package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/strava"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newListDatabase(t *testing.T) *db.SQLiteDatabase {
	t.Helper()
	ctx := context.Background()

	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "strava.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	dec := json.NewDecoder(strings.NewReader(`[
		{"id": 1, "name": "one", "start_date_local": "2021-05-01T07:00:00Z", "start_latitude": 52.5},
		{"id": 2, "name": "two", "start_date_local": "2021-05-02T07:00:00Z", "start_latitude": 52.5},
		{"id": 3, "name": "three", "start_date_local": "2021-05-03T07:00:00Z", "start_latitude": null}
	]`))
	dec.UseNumber()
	var activities []strava.Activity
	require.NoError(t, dec.Decode(&activities))

	require.NoError(t, database.UpsertActivities(ctx, activities, false))
	require.NoError(t, database.EnsureTrackTable(ctx))
	require.NoError(t, database.UpsertTrack(ctx, 2, "MULTILINESTRING ((1 2, 3 4))"))
	return database
}

func TestListActivities_PromptsForMorePages(t *testing.T) {
	database := newListDatabase(t)
	var out bytes.Buffer

	err := listActivities(context.Background(), &out, strings.NewReader("y\nn\n"), database, db.FilterAll, 1)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "ID: 3 | 2021-05-03T07:00:00Z | three | ❌ Not Downloaded")
	assert.Contains(t, text, "ID: 2 | 2021-05-02T07:00:00Z | two | ✅ Downloaded")
	assert.NotContains(t, text, "ID: 1 |")
	assert.Contains(t, text, "Page 2 (2 activities shown)")
}

func TestListActivities_Filters(t *testing.T) {
	database := newListDatabase(t)

	var out bytes.Buffer
	require.NoError(t, listActivities(context.Background(), &out, strings.NewReader(""), database, db.FilterLoaded, 20))
	assert.Contains(t, out.String(), "ID: 2 |")
	assert.Contains(t, out.String(), "Total: 1 activities shown")

	out.Reset()
	require.NoError(t, listActivities(context.Background(), &out, strings.NewReader(""), database, db.FilterMissing, 0))
	assert.Contains(t, out.String(), "ID: 1 |")
	assert.Contains(t, out.String(), "ID: 3 |")
	assert.Contains(t, out.String(), "Total: 2 activities shown")
}

func TestListActivities_Empty(t *testing.T) {
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer database.Close()

	var out bytes.Buffer
	require.NoError(t, listActivities(context.Background(), &out, strings.NewReader(""), database, db.FilterAll, 20))
	assert.Equal(t, "No activities found matching the criteria\n", out.String())
}

func TestSelectActivities(t *testing.T) {
	ctx := context.Background()
	database := newListDatabase(t)

	explicit, err := selectActivities(ctx, database, []int64{3, 99}, true)
	require.NoError(t, err)
	require.Len(t, explicit, 1)
	assert.Equal(t, int64(3), explicit[0].ID)

	all, err := selectActivities(ctx, database, nil, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// GPS data and no loaded track
	missing, err := selectActivities(ctx, database, nil, false)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, int64(1), missing[0].ID)
}
