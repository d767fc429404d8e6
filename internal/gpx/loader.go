package gpx

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	gogpx "github.com/twpayne/go-gpx"
	"go.uber.org/zap"
)

// ErrNoTrack is returned for GPX files without a track
var ErrNoTrack = errors.New("gpx file has no track")

// TrackStore persists track geometries
type TrackStore interface {
	EnsureTrackTable(ctx context.Context) error
	UpsertTrack(ctx context.Context, activityID int64, wkt string) error
}

// ReadTrack returns the first track of a GPX file, one line string per
// segment, in lon/lat order
func ReadTrack(path string) (*geom.MultiLineString, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gpx file: %w", err)
	}
	defer f.Close()

	doc, err := gogpx.Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Trk) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoTrack)
	}

	return doc.Trk[0].Geom(geom.XY), nil
}

// TrackWKT reads the first track of a GPX file as a WKT MULTILINESTRING
func TrackWKT(path string) (string, error) {
	track, err := ReadTrack(path)
	if err != nil {
		return "", err
	}

	text, err := wkt.Marshal(track)
	if err != nil {
		return "", fmt.Errorf("failed to encode track from %s: %w", path, err)
	}
	return text, nil
}

// LoadTracks stores the track of every file, replacing earlier geometries
// for the same activity
func LoadTracks(ctx context.Context, store TrackStore, files []TrackFile) error {
	if err := store.EnsureTrackTable(ctx); err != nil {
		return err
	}

	for _, file := range files {
		text, err := TrackWKT(file.Path)
		if err != nil {
			return fmt.Errorf("failed to read track for activity %d: %w", file.ActivityID, err)
		}
		if err := store.UpsertTrack(ctx, file.ActivityID, text); err != nil {
			return err
		}
		zap.L().Debug("loaded gpx track", zap.Int64("activity_id", file.ActivityID), zap.String("path", file.Path))
	}

	return nil
}
