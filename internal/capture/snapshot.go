// Package capture renders the HTML day view to a PNG with headless Chromium.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	appLog "schedadmin/internal/log"
)

// Default capture parameters. The day grid is 1440px tall plus the header.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 1600
	DefaultTimeout = 30 * time.Second
)

// ReadySelector matches the root element of a fully rendered day view.
const ReadySelector = `[data-ready="true"]`

// Options defines parameters for a snapshot.
type Options struct {
	// BaseURL of the running server, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// Date selects the day (YYYY-MM-DD); empty means today.
	Date string
	// Timezone overrides the server's display zone.
	Timezone string
	// Mode is the layout mode, empty for the server default.
	Mode string

	// OutputPath is where the PNG is written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels.
	Width  int
	Height int

	// Timeout bounds the entire capture.
	Timeout time.Duration
}

// DayURL builds the /day address for opts.
func DayURL(opts Options) (string, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("capture: base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("capture: base URL %q must be absolute", opts.BaseURL)
	}
	u.Path = "/day"
	q := url.Values{}
	if opts.Date != "" {
		q.Set("date", opts.Date)
	}
	if opts.Timezone != "" {
		q.Set("tz", opts.Timezone)
	}
	if opts.Mode != "" {
		q.Set("mode", opts.Mode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Snapshot launches a headless Chromium via chromedp, opens the day view,
// waits for ReadySelector and writes a full-page PNG to opts.OutputPath.
func Snapshot(parentCtx context.Context, opts Options) error {
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	target, err := DayURL(opts)
	if err != nil {
		return err
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("day snapshot written", "path", opts.OutputPath, "bytes", len(png), "took", time.Since(start).String())
	return nil
}
