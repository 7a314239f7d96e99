package presets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodyBytes caps a single catalog download.
const maxBodyBytes = 10 << 20

// Fetcher retrieves preset catalogs from remote sources.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. Presets from
// extraURLs are merged in; names already present in the primary catalog win.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch downloads and parses the primary catalog and any extra catalogs.
// A failing extra source is logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context) (*Catalog, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}
	presets, err := Parse(bytes.NewReader(body), f.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.sourceURL, err)
	}

	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err == nil {
			var more map[string]Preset
			if more, err = Parse(bytes.NewReader(extra), f.logger); err == nil {
				for name, p := range more {
					if _, dup := presets[name]; !dup {
						presets[name] = p
					}
				}
				continue
			}
		}
		f.logger.Warn("extra preset source failed", "url", u, "error", err)
	}

	return &Catalog{
		Source:   f.sourceURL,
		LoadedAt: time.Now(),
		Presets:  presets,
	}, nil
}

// get performs an HTTP GET with a bounded body.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching presets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	return body, nil
}
