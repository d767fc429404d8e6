package gpx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sstent/stravasync/internal/strava"
	"go.uber.org/zap"
)

// Browser drives the Strava website
type Browser interface {
	// Login signs in with the given credentials
	Login(ctx context.Context, username, password string) error
	// ExportGPX saves the activity's GPX export to dest. exported is false
	// when the activity offers no export (no GPS data).
	ExportGPX(ctx context.Context, activityID int64, dest string) (exported bool, err error)
	Close() error
}

// TrackFile pairs an activity with its GPX file on disk
type TrackFile struct {
	ActivityID int64
	Path       string
}

// Fetcher downloads GPX tracks into a cache directory
type Fetcher struct {
	browser  Browser
	dir      string
	username string
	password string
	minPause time.Duration
	maxPause time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	loggedIn bool
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithPause sets the random pause range applied after each download
func WithPause(min, max time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if min >= 0 && max >= min {
			f.minPause = min
			f.maxPause = max
		}
	}
}

// NewFetcher creates a Fetcher saving files under dir
func NewFetcher(browser Browser, dir, username, password string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		browser:  browser,
		dir:      dir,
		username: username,
		password: password,
		minPause: time.Second,
		maxPause: 5 * time.Second,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) pause() time.Duration {
	if f.maxPause <= f.minPause {
		return f.minPause
	}
	return f.minPause + time.Duration(rand.Int63n(int64(f.maxPause-f.minPause+1)))
}

// Fetch returns a track file for every activity that has one, downloading
// those not yet in the cache. Activities are handled in order; on error the
// tracks gathered so far are returned with it.
func (f *Fetcher) Fetch(ctx context.Context, activities []strava.ActivitySummary) ([]TrackFile, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create gpx directory: %w", err)
	}

	var tracks []TrackFile
	for i, activity := range activities {
		path := filepath.Join(f.dir, Filename(activity))
		logger := zap.L().With(zap.Int64("activity_id", activity.ID), zap.String("path", path))

		// TODO: add a flag to force re-downloading cached files
		_, err := os.Stat(path)
		if err == nil {
			logger.Debug("gpx already cached")
			tracks = append(tracks, TrackFile{ActivityID: activity.ID, Path: path})
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return tracks, fmt.Errorf("failed to check %s: %w", path, err)
		}

		if err := ctx.Err(); err != nil {
			return tracks, err
		}

		if !f.loggedIn {
			if err := f.browser.Login(ctx, f.username, f.password); err != nil {
				return tracks, fmt.Errorf("failed to log in: %w", err)
			}
			f.loggedIn = true
		}

		logger.Info("downloading gpx", zap.Int("n", i+1), zap.Int("total", len(activities)))
		exported, err := f.download(ctx, activity.ID, path)
		if err != nil {
			return tracks, err
		}
		if !exported {
			logger.Debug("activity has no gpx export")
			continue
		}
		tracks = append(tracks, TrackFile{ActivityID: activity.ID, Path: path})

		if err := f.sleep(ctx, f.pause()); err != nil {
			return tracks, err
		}
	}

	return tracks, nil
}

// download exports into a temporary file next to path and renames it, so
// an interrupted download never leaves a file the cache check would accept
func (f *Fetcher) download(ctx context.Context, activityID int64, path string) (bool, error) {
	tmp := filepath.Join(f.dir, ".download-"+uuid.NewString()+".gpx")

	exported, err := f.browser.ExportGPX(ctx, activityID, tmp)
	if err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to export activity %d: %w", activityID, err)
	}
	if !exported {
		return false, nil
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to save gpx for activity %d: %w", activityID, err)
	}
	return true, nil
}
