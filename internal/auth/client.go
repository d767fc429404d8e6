package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// PersistFunc is called with every token obtained by a refresh exchange
type PersistFunc func(*oauth2.Token) error

// persistingTokenSource hands out the token from base and calls persist
// whenever base returns a different access token than last time.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	current string
	persist PersistFunc
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if tok.AccessToken != s.current {
		zap.L().Info("access token refreshed", zap.Time("expiry", tok.Expiry))
		if s.persist != nil {
			if err := s.persist(tok); err != nil {
				return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
			}
		}
		s.current = tok.AccessToken
	}

	return tok, nil
}

// NewClient returns an HTTP client that authorizes requests with tok.
// Before each request the token's expiry is checked; an expired token is
// exchanged once for a new access/refresh pair, handed to persist, and the
// request then proceeds with the new token.
func NewClient(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, persist PersistFunc) *http.Client {
	src := &persistingTokenSource{
		base:    cfg.TokenSource(ctx, tok),
		current: tok.AccessToken,
		persist: persist,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
}
