package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sstent/stravasync/internal/strava"
)

// TrackSRID is the spatial reference of stored track geometries (WGS84)
const TrackSRID = 4326

// EnsureTrackTable creates activity_gpx_tracks and, with SpatiaLite, the
// spatial metadata and geometry column. Safe to call repeatedly.
func (d *SQLiteDatabase) EnsureTrackTable(ctx context.Context) error {
	if d.spatial {
		var n int
		err := d.db.QueryRowContext(ctx,
			"SELECT count(name) FROM sqlite_master WHERE type='table' AND name='spatial_ref_sys'").Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check spatial metadata: %w", err)
		}
		if n != 1 {
			if _, err := d.db.ExecContext(ctx, "SELECT InitSpatialMetaData(1)"); err != nil {
				return fmt.Errorf("failed to initialize spatial metadata: %w", err)
			}
		}
	}

	// TODO: enforce activity_gpx_tracks.id -> activities.id once activities is created with a fixed schema
	create := "CREATE TABLE IF NOT EXISTS activity_gpx_tracks (id INTEGER PRIMARY KEY)"
	if !d.spatial {
		create = "CREATE TABLE IF NOT EXISTS activity_gpx_tracks (id INTEGER PRIMARY KEY, geometry TEXT)"
	}
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create track table: %w", err)
	}

	if !d.spatial {
		return nil
	}

	cols, err := tableColumns(ctx, d.db, "activity_gpx_tracks")
	if err != nil {
		return err
	}
	if !cols["geometry"] {
		_, err := d.db.ExecContext(ctx,
			"SELECT AddGeometryColumn('activity_gpx_tracks', 'geometry', ?, 'MULTILINESTRING')", TrackSRID)
		if err != nil {
			return fmt.Errorf("failed to add geometry column: %w", err)
		}
	}

	return nil
}

// UpsertTrack stores the WKT multi-line-string for an activity, replacing
// any geometry already stored for it
func (d *SQLiteDatabase) UpsertTrack(ctx context.Context, activityID int64, wkt string) error {
	value := "?"
	if d.spatial {
		value = fmt.Sprintf("MultiLineStringFromText(?, %d)", TrackSRID)
	}

	query := fmt.Sprintf(`
	INSERT INTO activity_gpx_tracks (id, geometry)
	VALUES (?, %s)
	ON CONFLICT(id) DO UPDATE SET geometry = excluded.geometry`, value)

	if _, err := d.db.ExecContext(ctx, query, activityID, wkt); err != nil {
		return fmt.Errorf("failed to upsert track for activity %d: %w", activityID, err)
	}
	return nil
}

// TrackWKT returns the stored geometry of an activity as WKT
func (d *SQLiteDatabase) TrackWKT(ctx context.Context, activityID int64) (string, error) {
	expr := "geometry"
	if d.spatial {
		expr = "AsText(geometry)"
	}

	var wkt sql.NullString
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM activity_gpx_tracks WHERE id = ?", expr), activityID).Scan(&wkt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no track stored for activity %d: %w", activityID, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get track for activity %d: %w", activityID, err)
	}
	return wkt.String, nil
}

// CountTracks returns the number of stored tracks
func (d *SQLiteDatabase) CountTracks(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_gpx_tracks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// ActivityStatus is an activity summary with its track load state
type ActivityStatus struct {
	strava.ActivitySummary
	TrackLoaded bool
}

// TrackFilter selects activities by track state
type TrackFilter int

const (
	// FilterAll lists every activity
	FilterAll TrackFilter = iota
	// FilterMissing lists activities without a loaded track
	FilterMissing
	// FilterLoaded lists activities with a loaded track
	FilterLoaded
)

// GetAllPaginated returns a paginated list of all activities
func (d *SQLiteDatabase) GetAllPaginated(ctx context.Context, page, pageSize int) ([]ActivityStatus, error) {
	return d.listPaginated(ctx, FilterAll, page, pageSize)
}

// GetMissingPaginated returns a paginated list of activities without a track
func (d *SQLiteDatabase) GetMissingPaginated(ctx context.Context, page, pageSize int) ([]ActivityStatus, error) {
	return d.listPaginated(ctx, FilterMissing, page, pageSize)
}

// GetLoadedPaginated returns a paginated list of activities with a track
func (d *SQLiteDatabase) GetLoadedPaginated(ctx context.Context, page, pageSize int) ([]ActivityStatus, error) {
	return d.listPaginated(ctx, FilterLoaded, page, pageSize)
}

func (d *SQLiteDatabase) listPaginated(ctx context.Context, filter TrackFilter, page, pageSize int) ([]ActivityStatus, error) {
	if !d.hasActivityColumns("name", "start_date_local") {
		return nil, nil
	}
	if err := d.EnsureTrackTable(ctx); err != nil {
		return nil, err
	}

	query := `
	SELECT a.id, a.name, a.start_date_local, t.id IS NOT NULL
	FROM activities a
	LEFT JOIN activity_gpx_tracks t ON t.id = a.id`
	switch filter {
	case FilterMissing:
		query += " WHERE t.id IS NULL"
	case FilterLoaded:
		query += " WHERE t.id IS NOT NULL"
	}
	query += " ORDER BY a.start_date_local DESC, a.id DESC"

	var args []any
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, pageSize, (page-1)*pageSize)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []ActivityStatus
	for rows.Next() {
		var (
			activity  ActivityStatus
			name      sql.NullString
			startDate sql.NullString
		)
		if err := rows.Scan(&activity.ID, &name, &startDate, &activity.TrackLoaded); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activity.Name = name.String
		activity.StartDateLocal = startDate.String
		activities = append(activities, activity)
	}

	return activities, rows.Err()
}
