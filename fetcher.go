package freshness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

// WSEndpoint derives the notification channel URL from the daemon's
// base http(s) URL.
func WSEndpoint(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	default:
		return serverURL + "/ws"
	}
}

// VersionClient fetches the authoritative version snapshot from the
// freshness daemon. It implements reconcile.SnapshotFetcher.
type VersionClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewVersionClient creates a client for the daemon at serverURL. An
// empty token skips the Authorization header.
func NewVersionClient(serverURL, token string) *VersionClient {
	return &VersionClient{
		url:   serverURL + "/api/versions",
		token: token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchVersions retrieves the current snapshot. Keys are server-side
// and need keymap normalization before comparison.
func (c *VersionClient) FetchVersions(ctx context.Context) (version.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("freshness: failed to build versions request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	// An intermediary serving a cached snapshot would defeat the whole
	// reconciliation pass, so the request itself forbids caching.
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freshness: versions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("freshness: versions request returned status %d", resp.StatusCode)
	}

	var snap version.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("freshness: failed to decode versions response: %w", err)
	}
	return snap, nil
}
