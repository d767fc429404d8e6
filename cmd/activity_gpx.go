package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/gpx"
	"github.com/sstent/stravasync/internal/strava"
	"go.uber.org/zap"
)

// activityGPXCmd represents the activity-gpx command
var activityGPXCmd = &cobra.Command{
	Use:   "activity-gpx DB_PATH",
	Short: "Download activity GPX tracks and load them into the database",
	Long: `Downloads GPX tracks through the Strava website and loads them into
the activity_gpx_tracks table of DB_PATH. By default only activities with GPS
data and no loaded track are downloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := args[0]
		cacheDir, _ := cmd.Flags().GetString("cache-dir")
		activityIDs, _ := cmd.Flags().GetInt64Slice("activity-id")
		allActivities, _ := cmd.Flags().GetBool("all-activities")

		// Initialize config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.RequireLoginCredentials(); err != nil {
			return err
		}

		userDataDir := filepath.Join(cacheDir, "playwright_user_data")
		gpxDir := filepath.Join(cacheDir, "gpx")
		for _, dir := range []string{userDataDir, gpxDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create cache directory: %w", err)
			}
		}

		// Initialize database
		database, err := db.NewDatabase(dbPath, db.WithSpatialite(cfg.SpatialiteExtension))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		activities, err := selectActivities(cmd.Context(), database, activityIDs, allActivities)
		if err != nil {
			return fmt.Errorf("failed to get activities: %w", err)
		}
		if len(activities) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No activities to download")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Found %d activities\n", len(activities))

		// Initialize browser
		browser, err := gpx.NewPlaywrightBrowser(userDataDir, cfg.WebBaseURL, cfg.Headless)
		if err != nil {
			return err
		}
		defer func() {
			if err := browser.Close(); err != nil {
				zap.L().Warn("failed to close browser", zap.Error(err))
			}
		}()

		fetcher := gpx.NewFetcher(browser, gpxDir, cfg.StravaUsername, cfg.StravaPassword,
			gpx.WithPause(cfg.MinPause, cfg.MaxPause))

		// Load whatever was fetched, even when the run stopped early
		tracks, fetchErr := fetcher.Fetch(cmd.Context(), activities)
		if len(tracks) > 0 {
			if err := gpx.LoadTracks(cmd.Context(), database, tracks); err != nil {
				return fmt.Errorf("failed to load tracks: %w", err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n📊 GPX summary: %d/%d tracks loaded into %s\n", len(tracks), len(activities), dbPath)
		if fetchErr != nil {
			return fmt.Errorf("gpx download failed: %w", fetchErr)
		}
		return nil
	},
}

// selectActivities picks explicit ids first, then all activities, and
// otherwise those with GPS data and no loaded track
func selectActivities(ctx context.Context, database *db.SQLiteDatabase, ids []int64, all bool) ([]strava.ActivitySummary, error) {
	switch {
	case len(ids) > 0:
		return database.GetByIDs(ctx, ids)
	case all:
		return database.GetAll(ctx)
	default:
		return database.GetMissing(ctx)
	}
}

func init() {
	activityGPXCmd.Flags().StringP("cache-dir", "c", "cache", "directory for downloaded GPX files and the browser profile")
	activityGPXCmd.Flags().Int64SliceP("activity-id", "i", nil, "activity to download, may be repeated")
	activityGPXCmd.Flags().BoolP("all-activities", "l", false, "download all activities")

	rootCmd.AddCommand(activityGPXCmd)
}
