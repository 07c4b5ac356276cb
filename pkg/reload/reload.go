// Package reload implements the critical-path escalation: when incremental
// invalidation is not trusted to keep a high-stakes view consistent, the
// whole view is reloaded through a hard navigation with a cache-busting
// freshness token.
//
// URL construction is a pure function so it can be tested exhaustively;
// the navigation itself is a one-method interface mocked in tests.
package reload

import (
	"fmt"
	"net/url"
	"time"

	"github.com/svelumani/MusicianManager-sub005/internal/rand"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

// TokenParam is the query parameter carrying the freshness token.
// A location that already has one is a post-reload load, and must not
// trigger another reload for the same condition.
const TokenParam = "fresh"

const saltLength = 8

// Navigator performs the hard navigation (a full document reload, not an
// in-app route change).
type Navigator interface {
	Navigate(url string) error
}

// CacheClearer drops the local query cache. Clearing happens before the
// navigation so that, even if the reload fails partway, stale cached
// reads are not served in the interim.
type CacheClearer interface {
	Clear()
}

// BuildURL computes the reload destination for the given location:
// the path is remapped through the legacy-path table (stale bookmarked
// paths would otherwise reload-loop on a URL the router redirects), the
// existing query parameters are preserved, and a freshness token derived
// from now plus salt is appended so no intermediary serves a cached
// response.
func BuildURL(current string, remap map[string]string, now time.Time, salt string) (string, error) {
	u, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("reload: cannot parse location %q: %w", current, err)
	}

	if canonical, ok := remap[u.Path]; ok {
		u.Path = canonical
	}

	q := u.Query()
	q.Set(TokenParam, fmt.Sprintf("%d-%s", now.UnixMilli(), salt))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// HasToken reports whether the location already carries a freshness token.
func HasToken(current string) bool {
	u, err := url.Parse(current)
	if err != nil {
		return false
	}
	return u.Query().Has(TokenParam)
}

// Trigger wires the pure URL construction to its side effects.
type Trigger struct {
	remap map[string]string
	nav   Navigator
	cache CacheClearer
	log   logger.Logger

	// Now and Salt are injectable for tests; defaults are wall clock
	// and a random 8-character string.
	Now  func() time.Time
	Salt func() string
}

// NewTrigger returns a trigger using the given legacy-path remap table.
func NewTrigger(remap map[string]string, nav Navigator, cache CacheClearer, log logger.Logger) *Trigger {
	if log == nil {
		log = logger.Nop()
	}
	return &Trigger{
		remap: remap,
		nav:   nav,
		cache: cache,
		log:   log,
		Now:   time.Now,
		Salt:  func() string { return rand.String(saltLength) },
	}
}

// Reload clears the query cache and performs the hard navigation.
// Callers are responsible for the re-entrancy check (HasToken) before
// deciding to escalate; Reload itself always navigates.
func (t *Trigger) Reload(current string) error {
	target, err := BuildURL(current, t.remap, t.Now(), t.Salt())
	if err != nil {
		return err
	}

	if t.cache != nil {
		t.cache.Clear()
	}

	t.log.Info("reload.Trigger forcing full reload", "from", current, "to", target)
	if err := t.nav.Navigate(target); err != nil {
		return fmt.Errorf("reload: navigation to %q failed: %w", target, err)
	}
	return nil
}
