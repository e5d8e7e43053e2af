package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "schedadmin/internal/log"
)

// Feed is one ICS subscription whose events are loaded as classes.
type Feed struct {
	// ID names the feed in logs and cache metadata.
	ID  string
	URL string
	// Calendar is the calendar source ("odd" or "even") assigned to the
	// feed's events when they do not say otherwise.
	Calendar string
}

// FetchResult is the body of one feed, fresh or from the disk cache.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk, so an unreachable feed still yields its previous classes.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a fetcher caching under cacheDir.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every feed. Failed feeds are logged and reported in the
// error slice; the results hold the feeds that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(feeds))
	var errs []error

	for _, feed := range feeds {
		res, err := f.Fetch(ctx, feed)
		if err != nil {
			appLog.Error("ics fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// Fetch downloads one feed. On 304, on a transport error or on a non-OK
// status the cached body is returned when there is one.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	dir := f.cachePath(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fromCache := func(reason string, cause error) (FetchResult, error) {
		if len(cached) == 0 {
			if cause == nil {
				cause = errors.New(reason)
			}
			return FetchResult{}, cause
		}
		appLog.Info("ics using cached body", "feed", feed.ID, "reason", reason)
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "feed", feed.ID, "url", redactURL(feed.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache("network error", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fromCache("read error", err)
		}
		next := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := writeCache(dir, next, body); err != nil {
			appLog.Error("ics cache save failed", err, "feed", feed.ID)
		}
		appLog.Info("ics fetch success", "feed", feed.ID, "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		return fromCache("not modified", errors.New("304 Not Modified without a cached body"))

	default:
		return fromCache(resp.Status, errors.New(resp.Status))
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// writeCache stores the body before the metadata so the metadata never
// describes a missing body.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often carry secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
