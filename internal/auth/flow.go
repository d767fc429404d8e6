package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const shutdownTimeout = 5 * time.Second

// Flow runs the authorization code grant against Strava using a local
// callback listener
type Flow struct {
	config     *oauth2.Config
	store      *TokenStore
	listenAddr string

	// Notify receives the authorization URL the user has to visit
	Notify func(authURL string)

	listen func() (net.Listener, error)
}

// NewFlow creates an authorization flow. listenAddr must match the host and
// port of cfg.RedirectURL.
func NewFlow(cfg *oauth2.Config, store *TokenStore, listenAddr string) *Flow {
	f := &Flow{
		config:     cfg,
		store:      store,
		listenAddr: listenAddr,
		Notify:     func(string) {},
	}
	f.listen = func() (net.Listener, error) {
		return net.Listen("tcp", f.listenAddr)
	}
	return f
}

// AuthCodeURL returns the URL the user visits to grant access
func (f *Flow) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// Run performs the whole flow: it publishes the authorization URL, waits
// for the redirect, exchanges the code and saves the token. Nothing is
// written when the exchange fails.
func (f *Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	ln, err := f.listen()
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", f.listenAddr, err)
	}

	state := uuid.NewString()
	f.Notify(f.AuthCodeURL(state))

	code, err := ServeCallback(ctx, ln, state)
	if err != nil {
		return nil, err
	}

	tok, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := f.store.Save(tok); err != nil {
		return nil, err
	}

	return tok, nil
}

// ServeCallback serves HTTP on ln until a request carrying a code query
// parameter (and the expected state, when the request has one) arrives.
// Other requests are answered with 400 and ignored. The server is shut down
// and ln closed before returning.
func ServeCallback(ctx context.Context, ln net.Listener, state string) (string, error) {
	codeCh := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			zap.L().Warn("authorization denied", zap.String("error", errParam))
			http.Error(w, "authorization failed: "+errParam, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		if got := q.Get("state"); got != "" && state != "" && got != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "Authorization received, you can close this window.")

		select {
		case codeCh <- code:
		default:
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	zap.L().Debug("waiting for authorization callback", zap.String("addr", ln.Addr().String()))

	var (
		code string
		err  error
	)
	select {
	case code = <-codeCh:
	case err = <-serveErr:
		err = fmt.Errorf("callback server stopped: %w", err)
	case <-ctx.Done():
		err = fmt.Errorf("waiting for authorization callback: %w", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil && !errors.Is(shutErr, http.ErrServerClosed) {
		zap.L().Warn("callback server shutdown failed", zap.Error(shutErr))
	}

	return code, err
}
