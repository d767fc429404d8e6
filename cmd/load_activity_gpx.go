package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/gpx"
)

// loadActivityGPXCmd represents the load-activity-gpx command
var loadActivityGPXCmd = &cobra.Command{
	Use:   "load-activity-gpx ACTIVITY_ID GPX_PATH DB_PATH",
	Short: "Load an activity GPX file into a SQLite database",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		activityID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid activity id %q: %w", args[0], err)
		}
		gpxPath, dbPath := args[1], args[2]

		// Initialize config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// Initialize database
		database, err := db.NewDatabase(dbPath, db.WithSpatialite(cfg.SpatialiteExtension))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		if err := gpx.LoadTracks(cmd.Context(), database, []gpx.TrackFile{{ActivityID: activityID, Path: gpxPath}}); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Loaded %s for activity %d\n", gpxPath, activityID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadActivityGPXCmd)
}
