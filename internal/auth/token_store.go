package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// providerExtras are token response fields Strava adds beyond the OAuth2 set
var providerExtras = []string{"athlete"}

// TokenStore keeps an OAuth2 token as a JSON document on disk
type TokenStore struct {
	path string
}

// tokenFile is the on-disk shape. expires_at may be fractional in files
// written by other OAuth clients.
type tokenFile struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresAt    float64 `json:"expires_at"`
}

// NewTokenStore returns a store backed by the file at path
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the token from disk
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}
	if tf.AccessToken == "" && tf.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no token", s.path)
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
	}
	if tf.ExpiresAt > 0 {
		sec, frac := math.Modf(tf.ExpiresAt)
		tok.Expiry = time.Unix(int64(sec), int64(frac*1e9))
	}
	return tok, nil
}

// Save writes tok to disk. Keys already in the document that are not part
// of the token (for example the athlete profile returned with the first
// exchange) are kept.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	doc := map[string]any{}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		// an unreadable document is replaced wholesale
		_ = json.Unmarshal(data, &doc)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read token file: %w", err)
	}

	doc["access_token"] = tok.AccessToken
	doc["refresh_token"] = tok.RefreshToken
	doc["token_type"] = tok.TokenType
	if !tok.Expiry.IsZero() {
		doc["expires_at"] = tok.Expiry.Unix()
		doc["expires_in"] = int64(time.Until(tok.Expiry).Seconds())
	}
	for _, key := range providerExtras {
		if v := tok.Extra(key); v != nil {
			doc[key] = v
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, out, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}
