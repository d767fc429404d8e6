package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"github.com/sstent/stravasync/internal/auth"
	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/strava"
	"go.uber.org/zap"
)

// activitiesCmd represents the activities command
var activitiesCmd = &cobra.Command{
	Use:   "activities DB_PATH",
	Short: "Save Strava activities to a SQLite database",
	Long: `Fetches the athlete's activities from the Strava API and saves them
to the activities table of DB_PATH. Only activities newer than the latest
stored one are fetched unless --all-activities is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := args[0]
		allActivities, _ := cmd.Flags().GetBool("all-activities")
		truncate, _ := cmd.Flags().GetBool("truncate")

		// Initialize config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.RequireAPICredentials(); err != nil {
			return err
		}

		// Load saved token
		store := auth.NewTokenStore(cfg.AuthPath)
		tok, err := store.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no token at %s, run \"stravasync auth\" first", store.Path())
		}
		if err != nil {
			return err
		}

		// Initialize Strava client
		httpClient := auth.NewClient(cmd.Context(), cfg.OAuth2(), tok, store.Save)
		client := strava.NewClient(httpClient,
			strava.WithBaseURL(cfg.APIBaseURL),
			strava.WithLimiter(strava.ReadLimiter(cfg.ReadLimit)))

		// Initialize database
		database, err := db.NewDatabase(dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		result, err := db.SyncActivities(cmd.Context(), database, client, db.SyncOptions{
			AllActivities: allActivities,
			Truncate:      truncate,
			PageDelay:     cfg.PageDelay,
			PerPage:       cfg.PerPage,
		})
		if err != nil {
			return fmt.Errorf("activity sync failed: %w", err)
		}

		total, err := database.CountActivities(cmd.Context())
		if err != nil {
			return err
		}

		if result.StopReason != nil {
			zap.L().Debug("sync stopped early", zap.Error(result.StopReason))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📊 Sync summary: %d activities fetched in %d pages, %d stored in %s\n",
			result.Activities, result.Pages, total, dbPath)
		return nil
	},
}

func init() {
	activitiesCmd.Flags().StringP("auth", "a", "auth.json", "path to load tokens from")
	activitiesCmd.Flags().BoolP("all-activities", "l", false, "fetch all activities, ignoring the latest stored one")
	activitiesCmd.Flags().BoolP("truncate", "t", false, "replace stored activities with the fetched ones")

	rootCmd.AddCommand(activitiesCmd)
}
