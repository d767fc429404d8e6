package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sstent/stravasync/internal/strava"
	"golang.org/x/oauth2"
)

// Default Strava endpoints
const (
	DefaultAuthURL    = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL   = "https://www.strava.com/oauth/token"
	DefaultWebBaseURL = "https://www.strava.com"
)

// Config holds application configuration
type Config struct {
	ClientID       string
	ClientSecret   string
	StravaUsername string
	StravaPassword string

	AuthPath    string
	RedirectURL string
	Scopes      []string
	AuthURL     string
	TokenURL    string
	APIBaseURL  string
	WebBaseURL  string

	PageDelay time.Duration
	PerPage   int
	ReadLimit int

	SpatialiteExtension string

	Headless bool
	MinPause time.Duration
	MaxPause time.Duration
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("auth_path", "auth.json")
	v.SetDefault("redirect_url", "http://localhost:8080/")
	v.SetDefault("scopes", []string{"activity:read_all"})
	v.SetDefault("auth_url", DefaultAuthURL)
	v.SetDefault("token_url", DefaultTokenURL)
	v.SetDefault("api_base_url", strava.DefaultBaseURL)
	v.SetDefault("web_base_url", DefaultWebBaseURL)
	v.SetDefault("page_delay", time.Second)
	v.SetDefault("per_page", 30)
	v.SetDefault("read_limit", 100)
	v.SetDefault("spatialite_extension", "mod_spatialite")
	v.SetDefault("headless", false)
	v.SetDefault("min_pause", time.Second)
	v.SetDefault("max_pause", 5*time.Second)
}

// LoadConfig loads configuration from the global viper instance
func LoadConfig() (*Config, error) {
	return FromViper(viper.GetViper())
}

// FromViper builds a Config from v. Credentials are not validated here,
// commands call RequireAPICredentials or RequireLoginCredentials.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ClientID:            strings.TrimSpace(v.GetString("client_id")),
		ClientSecret:        strings.TrimSpace(v.GetString("client_secret")),
		StravaUsername:      strings.TrimSpace(v.GetString("username")),
		StravaPassword:      v.GetString("password"),
		AuthPath:            v.GetString("auth_path"),
		RedirectURL:         v.GetString("redirect_url"),
		Scopes:              v.GetStringSlice("scopes"),
		AuthURL:             v.GetString("auth_url"),
		TokenURL:            v.GetString("token_url"),
		APIBaseURL:          strings.TrimRight(v.GetString("api_base_url"), "/"),
		WebBaseURL:          strings.TrimRight(v.GetString("web_base_url"), "/"),
		PageDelay:           v.GetDuration("page_delay"),
		PerPage:             v.GetInt("per_page"),
		ReadLimit:           v.GetInt("read_limit"),
		SpatialiteExtension: v.GetString("spatialite_extension"),
		Headless:            v.GetBool("headless"),
		MinPause:            v.GetDuration("min_pause"),
		MaxPause:            v.GetDuration("max_pause"),
	}

	if cfg.PageDelay < 0 {
		return nil, fmt.Errorf("page_delay must not be negative: %s", cfg.PageDelay)
	}
	if cfg.PerPage < 0 || cfg.PerPage > 200 {
		return nil, fmt.Errorf("per_page must be between 0 and 200, got %d", cfg.PerPage)
	}
	if cfg.ReadLimit < 0 {
		return nil, fmt.Errorf("read_limit must not be negative, got %d", cfg.ReadLimit)
	}
	if cfg.MinPause < 0 || cfg.MaxPause < cfg.MinPause {
		return nil, fmt.Errorf("invalid pause range %s-%s", cfg.MinPause, cfg.MaxPause)
	}
	if _, err := cfg.ListenAddr(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RequireAPICredentials checks the OAuth client credentials are present
func (c *Config) RequireAPICredentials() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET environment variables are required")
	}
	return nil
}

// RequireLoginCredentials checks the website login credentials are present
func (c *Config) RequireLoginCredentials() error {
	if c.StravaUsername == "" || c.StravaPassword == "" {
		return fmt.Errorf("STRAVA_USERNAME and STRAVA_PASSWORD environment variables are required")
	}
	return nil
}

// OAuth2 returns the oauth2 configuration for the Strava application.
// Strava wants a comma separated scope list and the client credentials in
// the request body.
func (c *Config) OAuth2() *oauth2.Config {
	var scopes []string
	if len(c.Scopes) > 0 {
		scopes = []string{strings.Join(c.Scopes, ",")}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ListenAddr is the host:port the OAuth callback listener binds to
func (c *Config) ListenAddr() (string, error) {
	u, err := url.Parse(c.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect_url %q: %w", c.RedirectURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("redirect_url %q has no host", c.RedirectURL)
	}
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		return net.JoinHostPort(u.Hostname(), port), nil
	}
	return u.Host, nil
}
