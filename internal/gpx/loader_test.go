package gpx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const twoSegmentGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="StravaGPX" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>Morning Run</name>
    <trkseg>
      <trkpt lat="52.5" lon="13.4"><ele>34</ele></trkpt>
      <trkpt lat="52.6" lon="13.5"><ele>35</ele></trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="52.7" lon="13.6"></trkpt>
      <trkpt lat="52.8" lon="13.7"></trkpt>
    </trkseg>
  </trk>
</gpx>`

const noTrackGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="StravaGPX" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="52.5" lon="13.4"></wpt>
</gpx>`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTrackWKT(t *testing.T) {
	path := writeFile(t, "run.gpx", twoSegmentGPX)

	text, err := TrackWKT(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "MULTILINESTRING"), text)

	g, err := wkt.Unmarshal(text)
	require.NoError(t, err)
	mls, ok := g.(*geom.MultiLineString)
	require.True(t, ok)
	require.Equal(t, 2, mls.NumLineStrings())

	assert.InDeltaSlice(t, []float64{13.4, 52.5, 13.5, 52.6}, mls.LineString(0).FlatCoords(), 1e-9)
	assert.InDeltaSlice(t, []float64{13.6, 52.7, 13.7, 52.8}, mls.LineString(1).FlatCoords(), 1e-9)
}

func TestTrackWKT_Errors(t *testing.T) {
	_, err := TrackWKT(writeFile(t, "empty.gpx", noTrackGPX))
	assert.True(t, errors.Is(err, ErrNoTrack))

	_, err = TrackWKT(writeFile(t, "broken.gpx", "<gpx><trk>"))
	assert.Error(t, err)

	_, err = TrackWKT(filepath.Join(t.TempDir(), "missing.gpx"))
	assert.Error(t, err)
}

type fakeTrackStore struct {
	ensured int
	tracks  map[int64]string
}

func (s *fakeTrackStore) EnsureTrackTable(ctx context.Context) error {
	s.ensured++
	return nil
}

func (s *fakeTrackStore) UpsertTrack(ctx context.Context, activityID int64, wkt string) error {
	if s.tracks == nil {
		s.tracks = make(map[int64]string)
	}
	s.tracks[activityID] = wkt
	return nil
}

func TestLoadTracks(t *testing.T) {
	path := writeFile(t, "run.gpx", twoSegmentGPX)
	store := &fakeTrackStore{}

	err := LoadTracks(context.Background(), store, []TrackFile{
		{ActivityID: 1, Path: path},
		{ActivityID: 2, Path: path},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.ensured)
	require.Len(t, store.tracks, 2)
	assert.Equal(t, store.tracks[1], store.tracks[2])
}

func TestLoadTracks_StopsOnBadFile(t *testing.T) {
	good := writeFile(t, "run.gpx", twoSegmentGPX)
	bad := writeFile(t, "empty.gpx", noTrackGPX)
	store := &fakeTrackStore{}

	err := LoadTracks(context.Background(), store, []TrackFile{
		{ActivityID: 1, Path: good},
		{ActivityID: 2, Path: bad},
		{ActivityID: 3, Path: good},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTrack))
	assert.Contains(t, err.Error(), "activity 2")
	assert.Len(t, store.tracks, 1)
}
