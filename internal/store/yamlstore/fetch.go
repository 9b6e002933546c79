package yamlstore

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

	appLog "schedcal/internal/log"
)

// cacheMeta records the validators of the last successful download.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads remote schedule files using conditional requests and
// keeps the last good body on disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/schedcal-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch returns the body at rawURL. When the server answers 304, fails, or
// is unreachable, the cached body is returned instead and fromCache is true.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (body []byte, fromCache bool, err error) {
	dir := f.cacheDirFor(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}

	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.yaml"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.URL == rawURL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("schedule fetch failed, using cached body", err, "url", redactURL(rawURL))
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fresh, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		meta = cacheMeta{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, meta, fresh); err != nil {
			appLog.Error("schedule cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Debug("schedule fetch", "url", redactURL(rawURL), "status", resp.StatusCode, "bytes", len(fresh))
		return fresh, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("schedule fetch not modified", "url", redactURL(rawURL))
		return cached, true, nil

	default:
		statusErr := fmt.Errorf("fetch schedules: %s", resp.Status)
		if len(cached) > 0 {
			appLog.Error("schedule fetch non-OK, using cached body", statusErr, "url", redactURL(rawURL))
			return cached, true, nil
		}
		return nil, false, statusErr
	}
}

// cacheDirFor keys the cache by the first 8 bytes of the URL's SHA-256.
func (f *Fetcher) cacheDirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheMeta, body []byte) error {
	// Body first so the metadata never describes a missing file.
	if err := os.WriteFile(filepath.Join(dir, "body.yaml"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; paths and queries often carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "schedules://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
