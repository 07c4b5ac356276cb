// Package reconcile implements the client's freshness reconciliation: on
// every wake it diffs the server's version snapshot against the local
// last-observed cache and turns the changed keys into either incremental
// query invalidation or, for critical entities on critical views, a full
// view reload.
package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/svelumani/MusicianManager-sub005/pkg/keymap"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/reload"
	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

// Mode says whether the reconciler has observed a snapshot yet.
type Mode int

const (
	// ModeBaseline means no snapshot has been observed this session:
	// the next pass records the server state as the starting point and
	// invalidates nothing. First observation is a baseline, not a
	// change; anything else would storm-invalidate every view at
	// startup.
	ModeBaseline Mode = iota
	// ModeTracking means diffs against the cache are meaningful.
	ModeTracking
)

func (m Mode) String() string {
	switch m {
	case ModeBaseline:
		return "Baseline"
	case ModeTracking:
		return "Tracking"
	default:
		return "InvalidMode"
	}
}

// Reason records what woke the reconciler, for logs and metrics.
type Reason string

const (
	ReasonPollTick  Reason = "poll-tick"
	ReasonPushEvent Reason = "push-event"
)

// SnapshotFetcher retrieves the authoritative server snapshot, keyed by
// server-side entity-group names.
type SnapshotFetcher interface {
	FetchVersions(ctx context.Context) (version.Snapshot, error)
}

// Invalidator marks cached queries stale.
type Invalidator interface {
	Invalidate(ids ...string)
}

// Reloader performs the critical-path full reload.
type Reloader interface {
	Reload(current string) error
}

// Config assembles a Reconciler's collaborators.
type Config struct {
	Fetcher     SnapshotFetcher
	Cache       *version.Cache
	Mapper      *keymap.Mapper
	Invalidator Invalidator
	Reloader    Reloader

	// Location returns the current view location (path plus query).
	Location func() string

	// CriticalKeys are client-side entity-group keys for which
	// incremental invalidation is insufficient on critical views.
	CriticalKeys []string

	// CriticalViewPrefixes are the view path prefixes where a critical
	// change escalates to a full reload.
	CriticalViewPrefixes []string

	Logger logger.Logger
}

// Outcome reports what a single reconciliation pass did.
type Outcome struct {
	// Coalesced is true when the pass was dropped because another pass
	// was already in flight.
	Coalesced bool

	// Baseline is true when the pass recorded the first snapshot of the
	// session instead of diffing.
	Baseline bool

	// Changed holds the client-side keys that differed, after the
	// version cache was already advanced past them.
	Changed []string

	// Invalidated holds the query identifiers passed to the
	// invalidator.
	Invalidated []string

	// Reloaded is true when the critical path took over. Reloaded and a
	// non-empty Invalidated are mutually exclusive: the reload
	// supersedes incremental invalidation.
	Reloaded bool
}

// Reconciler owns the client version cache and runs the reconciliation
// algorithm. One instance per session; passes never run concurrently (a
// wake that arrives mid-pass is dropped, since the next wake re-fetches
// the authoritative snapshot anyway).
type Reconciler struct {
	fetcher     SnapshotFetcher
	cache       *version.Cache
	mapper      *keymap.Mapper
	invalidator Invalidator
	reloader    Reloader
	location    func() string
	log         logger.Logger

	criticalKeys     map[string]bool
	criticalPrefixes []string

	mode     Mode
	inFlight atomic.Bool
}

// New validates the config and returns a reconciler. The starting mode is
// derived from the cache: a populated cache (freshness state carried
// across an ordinary navigation) resumes tracking; an empty one starts a
// new baseline.
func New(cfg Config) (*Reconciler, error) {
	switch {
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("reconcile: config requires a Fetcher")
	case cfg.Cache == nil:
		return nil, fmt.Errorf("reconcile: config requires a Cache")
	case cfg.Mapper == nil:
		return nil, fmt.Errorf("reconcile: config requires a Mapper")
	case cfg.Invalidator == nil:
		return nil, fmt.Errorf("reconcile: config requires an Invalidator")
	case cfg.Reloader == nil:
		return nil, fmt.Errorf("reconcile: config requires a Reloader")
	case cfg.Location == nil:
		return nil, fmt.Errorf("reconcile: config requires a Location func")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	critical := make(map[string]bool, len(cfg.CriticalKeys))
	for _, k := range cfg.CriticalKeys {
		critical[k] = true
	}

	mode := ModeBaseline
	if cfg.Cache.Len() > 0 {
		mode = ModeTracking
	}

	return &Reconciler{
		fetcher:          cfg.Fetcher,
		cache:            cfg.Cache,
		mapper:           cfg.Mapper,
		invalidator:      cfg.Invalidator,
		reloader:         cfg.Reloader,
		location:         cfg.Location,
		log:              log,
		criticalKeys:     critical,
		criticalPrefixes: cfg.CriticalViewPrefixes,
		mode:             mode,
	}, nil
}

// Mode returns the current mode. Mode only ever moves Baseline to
// Tracking, so a stale read during an in-flight pass is harmless.
func (r *Reconciler) Mode() Mode {
	return r.mode
}

// Reconcile runs one pass. Fetch failures are returned to the caller,
// which is expected to swallow them and rely on the next wake; everything
// else is handled here.
func (r *Reconciler) Reconcile(ctx context.Context, reason Reason) (Outcome, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.log.Debug("reconcile pass already in flight, coalescing", "reason", reason)
		return Outcome{Coalesced: true}, nil
	}
	defer r.inFlight.Store(false)

	serverSnap, err := r.fetcher.FetchVersions(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile: version fetch failed: %w", err)
	}

	// Everything past this point works in client vocabulary.
	normalized := make(version.Snapshot, len(serverSnap))
	for key, ver := range serverSnap {
		normalized[r.mapper.Normalize(key)] = ver
	}

	if r.mode == ModeBaseline {
		r.cache.Replace(normalized)
		r.persist()
		r.mode = ModeTracking
		r.log.Info("reconcile recorded baseline snapshot", "keys", len(normalized), "reason", reason)
		return Outcome{Baseline: true}, nil
	}

	changed := version.Diff(r.cache.Snapshot(), normalized)
	if len(changed) == 0 {
		return Outcome{}, nil
	}

	// Advance the cache before acting. A key is never re-processed as
	// changed once observed, even when the reload path is taken instead
	// of invalidation; this is what makes a repeated pass over the same
	// snapshot a no-op.
	for _, key := range changed {
		r.cache.Set(key, normalized[key])
	}
	r.persist()

	loc := r.location()
	if r.criticalChange(changed) && r.onCriticalView(loc) {
		if reload.HasToken(loc) {
			// This is the load produced by a previous reload; another
			// one would loop. Fall through to incremental invalidation.
			r.log.Warn("reconcile suppressing repeat reload on fresh location", "location", loc, "changed", changed)
		} else {
			if err := r.reloader.Reload(loc); err != nil {
				// Best effort: a failed navigation degrades to
				// incremental invalidation rather than stale state.
				r.log.Error("reconcile reload failed, falling back to invalidation", "error", err)
			} else {
				r.log.Info("reconcile escalated to full reload", "changed", changed, "location", loc, "reason", reason)
				return Outcome{Changed: changed, Reloaded: true}, nil
			}
		}
	}

	ids := r.collectQueryIDs(changed)
	if len(ids) > 0 {
		r.invalidator.Invalidate(ids...)
	}

	r.log.Debug("reconcile invalidated queries", "changed", changed, "ids", ids, "reason", reason)
	return Outcome{Changed: changed, Invalidated: ids}, nil
}

func (r *Reconciler) persist() {
	if err := r.cache.Flush(); err != nil {
		// Losing the persisted record only costs an extra baseline pass
		// on the next load.
		r.log.Warn("reconcile failed to persist version cache", "error", err)
	}
}

func (r *Reconciler) criticalChange(changed []string) bool {
	for _, key := range changed {
		if r.criticalKeys[key] {
			return true
		}
	}
	return false
}

func (r *Reconciler) onCriticalView(location string) bool {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	for _, prefix := range r.criticalPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// collectQueryIDs resolves the changed keys to their query identifiers,
// deduplicated, in changed-key order.
func (r *Reconciler) collectQueryIDs(changed []string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, key := range changed {
		for _, id := range r.mapper.QueryIDs(key) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
