package gpx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	selectorEmail     = `[placeholder="Your Email"]`
	selectorPassword  = `[placeholder="Password"]`
	selectorLogin     = `button:has-text("Log In")`
	selectorActions   = `[aria-label="Actions"]`
	selectorExportGPX = `text=Export GPX`
)

// PlaywrightBrowser drives a persistent Chromium profile, so a session
// survives between runs
type PlaywrightBrowser struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	baseURL string
}

// NewPlaywrightBrowser starts Chromium with its profile in userDataDir
func NewPlaywrightBrowser(userDataDir, baseURL string, headless bool) (*PlaywrightBrowser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browserContext, err := pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:        playwright.Bool(headless),
		AcceptDownloads: playwright.Bool(true),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := browserContext.NewPage()
	if err != nil {
		browserContext.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &PlaywrightBrowser{
		pw:      pw,
		context: browserContext,
		page:    page,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Login signs in through the website's login form
func (b *PlaywrightBrowser) Login(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	zap.L().Info("logging in to strava", zap.String("username", username))
	if _, err := b.page.Goto(b.baseURL + "/login"); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	// the profile may still hold a session, then /login redirects
	if signedIn(b.page.URL()) {
		zap.L().Debug("reusing browser session")
		return nil
	}
	if err := b.page.Fill(selectorEmail, username); err != nil {
		return fmt.Errorf("failed to fill email: %w", err)
	}
	if err := b.page.Fill(selectorPassword, password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	if err := b.page.Click(selectorLogin); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	if err := b.page.WaitForURL("**/dashboard**"); err != nil {
		return fmt.Errorf("login did not reach the dashboard: %w", err)
	}
	return nil
}

// signedIn reports whether pageURL is a page only shown to a logged in user
func signedIn(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/dashboard")
}

// ExportGPX opens the activity page and saves its GPX export to dest
func (b *PlaywrightBrowser) ExportGPX(ctx context.Context, activityID int64, dest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := b.page.Goto(fmt.Sprintf("%s/activities/%d", b.baseURL, activityID)); err != nil {
		return false, fmt.Errorf("failed to open activity page: %w", err)
	}
	if err := b.page.Click(selectorActions); err != nil {
		return false, fmt.Errorf("failed to open actions menu: %w", err)
	}

	export, err := b.page.QuerySelector(selectorExportGPX)
	if err != nil {
		return false, fmt.Errorf("failed to find export option: %w", err)
	}
	if export == nil {
		return false, nil
	}

	download, err := b.page.ExpectDownload(func() error {
		return export.Click()
	})
	if err != nil {
		return false, fmt.Errorf("failed to download gpx: %w", err)
	}
	if err := download.SaveAs(dest); err != nil {
		return false, fmt.Errorf("failed to save download: %w", err)
	}
	return true, nil
}

// Close shuts down the browser and the playwright driver
func (b *PlaywrightBrowser) Close() error {
	return errors.Join(b.context.Close(), b.pw.Stop())
}
