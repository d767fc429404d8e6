package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sstent/stravasync/internal/auth"
	"github.com/sstent/stravasync/internal/config"
)

var authTimeout time.Duration

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize StravaSync with the Strava API",
	Long: `Prints the Strava authorization URL, waits for the browser to be
redirected back to the local callback and saves the resulting token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Initialize config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.RequireAPICredentials(); err != nil {
			return err
		}

		listenAddr, err := cfg.ListenAddr()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if authTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, authTimeout)
			defer cancel()
		}

		store := auth.NewTokenStore(cfg.AuthPath)
		flow := auth.NewFlow(cfg.OAuth2(), store, listenAddr)
		flow.Notify = func(authURL string) {
			fmt.Fprintf(cmd.OutOrStdout(), "🔑 Visit this URL to authorize StravaSync:\n\n%s\n\n", authURL)
			fmt.Fprintf(cmd.OutOrStdout(), "⏳ Waiting for the callback on %s...\n", listenAddr)
		}

		if _, err := flow.Run(ctx); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Token saved to %s\n", store.Path())
		return nil
	},
}

// loadConfig loads the configuration, applying the --auth flag when the
// command has one
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if flag := cmd.Flags().Lookup("auth"); flag != nil && flag.Changed {
		cfg.AuthPath = flag.Value.String()
	}
	return cfg, nil
}

func init() {
	authCmd.Flags().StringP("auth", "a", "auth.json", "path to save tokens to")
	authCmd.Flags().DurationVar(&authTimeout, "timeout", 0, "give up waiting for the callback after this long (0 waits forever)")

	rootCmd.AddCommand(authCmd)
}
