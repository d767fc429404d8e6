package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sstent/stravasync/internal/db"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list DB_PATH",
	Short: "List stored activities",
	Long: `List stored activities with various filters:
- All activities
- Missing activities (no GPX track loaded)
- Downloaded activities (GPX track loaded)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get flag values
		listMissing, _ := cmd.Flags().GetBool("missing")
		listDownloaded, _ := cmd.Flags().GetBool("downloaded")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		filter := db.FilterAll
		if listMissing {
			filter = db.FilterMissing
		} else if listDownloaded {
			filter = db.FilterLoaded
		}

		// Initialize config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// Initialize database
		database, err := db.NewDatabase(args[0], db.WithSpatialite(cfg.SpatialiteExtension))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		return listActivities(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), database, filter, pageSize)
	},
}

// listActivities prints activities page by page, asking before each
// further page
func listActivities(ctx context.Context, out io.Writer, in io.Reader, database *db.SQLiteDatabase, filter db.TrackFilter, pageSize int) error {
	input := bufio.NewReader(in)
	page := 1
	totalShown := 0

	for {
		var (
			activities []db.ActivityStatus
			err        error
		)
		switch filter {
		case db.FilterMissing:
			activities, err = database.GetMissingPaginated(ctx, page, pageSize)
		case db.FilterLoaded:
			activities, err = database.GetLoadedPaginated(ctx, page, pageSize)
		default:
			activities, err = database.GetAllPaginated(ctx, page, pageSize)
		}
		if err != nil {
			return fmt.Errorf("failed to get activities: %w", err)
		}

		if len(activities) == 0 {
			if totalShown == 0 {
				fmt.Fprintln(out, "No activities found matching the criteria")
			}
			return nil
		}

		// Print activities for current page
		for _, activity := range activities {
			status := "❌ Not Downloaded"
			if activity.TrackLoaded {
				status = "✅ Downloaded"
			}
			fmt.Fprintf(out, "ID: %d | %s | %s | %s\n",
				activity.ID,
				activity.StartDateLocal,
				activity.Name,
				status)
			totalShown++
		}

		// Only prompt if there might be more results
		if pageSize <= 0 || len(activities) < pageSize {
			fmt.Fprintf(out, "\nTotal: %d activities shown\n", totalShown)
			return nil
		}

		fmt.Fprintf(out, "\nPage %d (%d activities shown) - Show more? (y/n): ", page, totalShown)
		response, _ := input.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			return nil
		}
		page++
	}
}

func init() {
	listCmd.Flags().Bool("all", false, "List all activities")
	listCmd.Flags().Bool("missing", false, "List activities that have no GPX track loaded")
	listCmd.Flags().Bool("downloaded", false, "List activities that have a GPX track loaded")
	listCmd.Flags().Int("page-size", 20, "activities per page, 0 shows all at once")

	listCmd.MarkFlagsMutuallyExclusive("all", "missing", "downloaded")
	listCmd.MarkFlagsOneRequired("all", "missing", "downloaded")

	rootCmd.AddCommand(listCmd)
}
