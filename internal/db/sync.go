package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sstent/stravasync/internal/strava"
	"go.uber.org/zap"
)

// ActivityLister fetches one page of activities
type ActivityLister interface {
	ListActivities(ctx context.Context, params strava.ListParams) ([]strava.Activity, error)
}

// SyncOptions controls SyncActivities
type SyncOptions struct {
	// AllActivities ignores the stored watermark and fetches everything
	AllActivities bool
	// Truncate replaces the stored activities with the fetched ones
	Truncate bool
	// PageDelay is waited after every non-empty page
	PageDelay time.Duration
	PerPage   int
}

// SyncResult summarizes a sync run
type SyncResult struct {
	Pages      int
	Activities int
	// Watermark is the after filter used, zero when everything was fetched
	Watermark time.Time
	// StopReason is set when the API ended the run with an error status
	StopReason error
}

// SyncActivities pulls activities newer than the stored watermark (or all
// of them) page by page and stores them in one batch once paging stops.
// Pages fetched before an error status are kept; transport errors abort the
// run without storing anything.
func SyncActivities(ctx context.Context, database *SQLiteDatabase, lister ActivityLister, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{}

	if !opts.AllActivities {
		watermark, ok, err := database.MaxStartDate(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			result.Watermark = watermark
		}
	}

	logger := zap.L().With(zap.Time("after", result.Watermark))
	if result.Watermark.IsZero() {
		logger = zap.L()
	}

	var activities []strava.Activity
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync interrupted: %w", err)
		}

		batch, err := lister.ListActivities(ctx, strava.ListParams{
			Page:    page,
			PerPage: opts.PerPage,
			After:   result.Watermark,
		})
		if err != nil {
			var statusErr *strava.StatusError
			if !errors.As(err, &statusErr) {
				return nil, err
			}
			if errors.Is(err, strava.ErrRateLimited) {
				logger.Warn("request limit reached", zap.Int("page", page))
			} else {
				logger.Warn("activity listing stopped", zap.Int("page", page), zap.Int("status", statusErr.StatusCode))
			}
			result.StopReason = err
			break
		}

		if len(batch) == 0 {
			break
		}

		logger.Debug("fetched activities page", zap.Int("page", page), zap.Int("count", len(batch)))
		activities = append(activities, batch...)
		result.Pages++

		if err := pause(ctx, opts.PageDelay); err != nil {
			return nil, fmt.Errorf("sync interrupted: %w", err)
		}
	}

	// an empty fetch leaves the table alone, even with Truncate
	result.Activities = len(activities)
	if len(activities) == 0 {
		return result, nil
	}

	if err := database.UpsertActivities(ctx, activities, opts.Truncate); err != nil {
		return nil, fmt.Errorf("failed to store activities: %w", err)
	}

	return result, nil
}

func pause(ctx context.Context, d time.Duration) error {
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
