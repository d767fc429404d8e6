package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sstent/stravasync/internal/strava"
)

var (
	driversMu sync.Mutex
	drivers   = map[string]string{}
)

// spatialDriver registers (once per extension) a sqlite3 driver that loads
// ext on every new connection and returns its name
func spatialDriver(ext string) string {
	driversMu.Lock()
	defer driversMu.Unlock()

	if name, ok := drivers[ext]; ok {
		return name
	}
	name := fmt.Sprintf("sqlite3_ext_%d", len(drivers))
	sql.Register(name, &sqlite3.SQLiteDriver{Extensions: []string{ext}})
	drivers[ext] = name
	return name
}

// SQLiteDatabase stores activities and their GPX tracks in SQLite
type SQLiteDatabase struct {
	db *sql.DB

	// spatial is set when the SpatiaLite extension is loaded; without it
	// track geometries are kept as WKT text
	spatial bool

	activityColumns map[string]bool
}

// Option configures NewDatabase
type Option func(*options)

type options struct {
	extension string
}

// WithSpatialite loads the named SpatiaLite extension. An empty name keeps
// plain SQLite.
func WithSpatialite(extension string) Option {
	return func(o *options) {
		o.extension = extension
	}
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(path string, opts ...Option) (*SQLiteDatabase, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	driver := "sqlite3"
	if o.extension != "" {
		driver = spatialDriver(o.extension)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer, and extensions are loaded per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// Create table if it doesn't exist
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	d := &SQLiteDatabase{db: db, spatial: o.extension != ""}
	if err := d.loadActivityColumns(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the database connection
func (d *SQLiteDatabase) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema. Activity columns beyond id are
// added as activities with new fields are stored.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func tableColumns(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (d *SQLiteDatabase) loadActivityColumns(ctx context.Context) error {
	cols, err := tableColumns(ctx, d.db, "activities")
	if err != nil {
		return err
	}
	d.activityColumns = cols
	return nil
}

// hasActivityColumns reports whether every named column exists
func (d *SQLiteDatabase) hasActivityColumns(names ...string) bool {
	for _, n := range names {
		if !d.activityColumns[n] {
			return false
		}
	}
	return true
}

// columnValue converts a decoded JSON value to a SQLite value and the
// column type used when the column has to be created
func columnValue(v any) (any, string, error) {
	switch val := v.(type) {
	case nil:
		return nil, "TEXT", nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, "INTEGER", nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, "", fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, "FLOAT", nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), "INTEGER", nil
		}
		return val, "FLOAT", nil
	case int:
		return int64(val), "INTEGER", nil
	case int64:
		return val, "INTEGER", nil
	case bool:
		if val {
			return int64(1), "INTEGER", nil
		}
		return int64(0), "INTEGER", nil
	case string:
		return val, "TEXT", nil
	default:
		// nested objects and arrays are stored as JSON
		b, err := json.Marshal(val)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode value: %w", err)
		}
		return string(b), "TEXT", nil
	}
}

// UpsertActivities stores activities keyed by id in one transaction. With
// truncate set the table is emptied first, otherwise existing rows are
// updated in place.
func (d *SQLiteDatabase) UpsertActivities(ctx context.Context, activities []strava.Activity, truncate bool) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			// columns added inside the rolled back transaction are gone
			d.loadActivityColumns(context.Background())
		}
	}()

	if truncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM activities"); err != nil {
			return fmt.Errorf("failed to truncate activities: %w", err)
		}
	}

	if err := d.addActivityColumns(ctx, tx, activities); err != nil {
		return err
	}

	for _, activity := range activities {
		if err := d.upsertActivity(ctx, tx, activity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activities: %w", err)
	}
	return nil
}

// addActivityColumns adds a column for every key of the batch not yet in
// the table. Its type comes from the first non-null value; keys that are
// null throughout become TEXT.
func (d *SQLiteDatabase) addActivityColumns(ctx context.Context, tx *sql.Tx, activities []strava.Activity) error {
	types := map[string]string{}
	for _, activity := range activities {
		for k, v := range activity {
			if k == "id" || d.activityColumns[k] || types[k] != "" && types[k] != "NULL" {
				continue
			}
			if v == nil {
				types[k] = "NULL"
				continue
			}
			_, ctype, err := columnValue(v)
			if err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			types[k] = ctype
		}
	}

	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		ctype := types[k]
		if ctype == "NULL" {
			ctype = "TEXT"
		}
		alter := fmt.Sprintf("ALTER TABLE activities ADD COLUMN %s %s", quoteIdent(k), ctype)
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("failed to add column %s: %w", k, err)
		}
		d.activityColumns[k] = true
	}
	return nil
}

func (d *SQLiteDatabase) upsertActivity(ctx context.Context, tx *sql.Tx, activity strava.Activity) error {
	id, err := activity.ID()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(activity))
	for k := range activity {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	cols := []string{quoteIdent("id")}
	args := []any{id}
	updates := make([]string, 0, len(keys))

	for _, k := range keys {
		val, _, err := columnValue(activity[k])
		if err != nil {
			return fmt.Errorf("activity %d field %s: %w", id, k, err)
		}
		cols = append(cols, quoteIdent(k))
		args = append(args, val)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(k), quoteIdent(k)))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO activities (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)
	if len(updates) > 0 {
		query += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")
	} else {
		query += " ON CONFLICT(id) DO NOTHING"
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert activity %d: %w", id, err)
	}
	return nil
}

// MaxStartDate returns the latest start_date stored. ok is false when no
// activity has one.
func (d *SQLiteDatabase) MaxStartDate(ctx context.Context) (t time.Time, ok bool, err error) {
	if !d.hasActivityColumns("start_date") {
		return time.Time{}, false, nil
	}

	var maxStart sql.NullString
	if err := d.db.QueryRowContext(ctx, "SELECT MAX(start_date) FROM activities").Scan(&maxStart); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest start date: %w", err)
	}
	if !maxStart.Valid || maxStart.String == "" {
		return time.Time{}, false, nil
	}

	t, err = strava.ParseTimestamp(maxStart.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse latest start date: %w", err)
	}
	return t, true, nil
}

// CountActivities returns the number of stored activities
func (d *SQLiteDatabase) CountActivities(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return n, nil
}

const summaryColumns = "id, name, start_date_local"

// GetAll returns a summary of every stored activity
func (d *SQLiteDatabase) GetAll(ctx context.Context) ([]strava.ActivitySummary, error) {
	if !d.hasActivityColumns("name", "start_date_local") {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx, "SELECT "+summaryColumns+" FROM activities ORDER BY start_date_local, id")
	if err != nil {
		return nil, fmt.Errorf("failed to get all activities: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// GetByIDs returns summaries for the given activity ids. Unknown ids are
// ignored.
func (d *SQLiteDatabase) GetByIDs(ctx context.Context, ids []int64) ([]strava.ActivitySummary, error) {
	if len(ids) == 0 || !d.hasActivityColumns("name", "start_date_local") {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("SELECT %s FROM activities WHERE id IN (%s) ORDER BY start_date_local, id", summaryColumns, placeholders)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get activities by id: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// gpsClause filters out activities without GPS data. Older API responses
// carry start_latitude, newer ones only start_latlng.
func (d *SQLiteDatabase) gpsClause() (string, bool) {
	switch {
	case d.activityColumns["start_latitude"]:
		return "start_latitude IS NOT NULL", true
	case d.activityColumns["start_latlng"]:
		return "start_latlng IS NOT NULL AND start_latlng != '[]'", true
	default:
		return "", false
	}
}

// GetMissing returns activities with GPS data that have no track loaded
func (d *SQLiteDatabase) GetMissing(ctx context.Context) ([]strava.ActivitySummary, error) {
	if !d.hasActivityColumns("name", "start_date_local") {
		return nil, nil
	}
	gps, ok := d.gpsClause()
	if !ok {
		return nil, nil
	}
	if err := d.EnsureTrackTable(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
	SELECT %s
	FROM activities
	WHERE
		%s
		AND id NOT IN (SELECT id FROM activity_gpx_tracks)
	ORDER BY start_date_local, id`, summaryColumns, gps)

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get missing activities: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// scanSummaries converts database rows to ActivitySummary values
func scanSummaries(rows *sql.Rows) ([]strava.ActivitySummary, error) {
	var activities []strava.ActivitySummary

	for rows.Next() {
		var (
			activity  strava.ActivitySummary
			name      sql.NullString
			startDate sql.NullString
		)
		if err := rows.Scan(&activity.ID, &name, &startDate); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activity.Name = name.String
		activity.StartDateLocal = startDate.String
		activities = append(activities, activity)
	}

	return activities, rows.Err()
}
