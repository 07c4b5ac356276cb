package freshness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/svelumani/MusicianManager-sub005/pkg/config"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/push"
	"github.com/svelumani/MusicianManager-sub005/pkg/querycache"
	"github.com/svelumani/MusicianManager-sub005/pkg/reconcile"
	"github.com/svelumani/MusicianManager-sub005/pkg/reload"
	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

// Deps are the collaborators the host application must supply. The
// engine owns everything else.
type Deps struct {
	// Fetch loads the backing data for a cached query.
	Fetch querycache.FetchFunc

	// Navigator performs full page reloads.
	Navigator reload.Navigator

	// Location returns the current view location (path plus query).
	Location func() string

	Logger logger.Logger
}

// Engine drives data freshness for one client session: it consumes the
// notification channel, polls the version snapshot as a fallback, and
// reconciles both into query invalidations or full reloads.
type Engine struct {
	cfg       config.Config
	sessionID string
	log       logger.Logger

	channel *push.Channel
	rec     *reconcile.Reconciler
	queries *querycache.Cache
	vcache  *version.Cache

	connected    atomic.Bool
	reconnecting atomic.Bool

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles an Engine. It loads the persisted version cache, so a
// session that saw data before resumes change tracking instead of
// starting from a silent baseline.
func New(cfg config.Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetch == nil {
		return nil, errors.New("freshness: Deps.Fetch is required")
	}
	if deps.Navigator == nil {
		return nil, errors.New("freshness: Deps.Navigator is required")
	}
	if deps.Location == nil {
		return nil, errors.New("freshness: Deps.Location is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	mapper, err := cfg.Mapper()
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()

	vcache := version.NewCache(cfg.Client.CachePath, log)
	if err := vcache.Load(); err != nil {
		return nil, fmt.Errorf("freshness: failed to load version cache: %w", err)
	}

	queries := querycache.New(deps.Fetch, log)
	trigger := reload.NewTrigger(cfg.Entities.LegacyPathRemap, deps.Navigator, queries, log)
	fetcher := NewVersionClient(cfg.Client.ServerURL, sessionID)

	rec, err := reconcile.New(reconcile.Config{
		Fetcher:              fetcher,
		Cache:                vcache,
		Mapper:               mapper,
		Invalidator:          queries,
		Reloader:             trigger,
		Location:             deps.Location,
		CriticalKeys:         cfg.Entities.CriticalKeys,
		CriticalViewPrefixes: cfg.Entities.CriticalViewPrefixes,
		Logger:               log,
	})
	if err != nil {
		return nil, err
	}

	channel := push.NewChannel(
		WSEndpoint(cfg.Client.ServerURL),
		push.WithToken(sessionID),
		push.WithLogger(log),
	)

	return &Engine{
		cfg:       cfg,
		sessionID: sessionID,
		log:       log,
		channel:   channel,
		rec:       rec,
		queries:   queries,
		vcache:    vcache,
	}, nil
}

// SessionID returns the engine's session identity. It is also sent as
// the bearer token on the channel and the versions endpoint.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Queries exposes the session's query cache.
func (e *Engine) Queries() *querycache.Cache {
	return e.queries
}

// Connected reports whether the notification channel is currently up.
// When false the engine still converges through polling.
func (e *Engine) Connected() bool {
	return e.connected.Load()
}

// Reconnecting reports whether the channel is between connection
// attempts.
func (e *Engine) Reconnecting() bool {
	return e.reconnecting.Load()
}

// Start runs an immediate reconciliation pass, then keeps the session
// fresh until Stop or ctx cancellation. A failure of the initial pass
// is logged, not returned: the server may simply not be up yet, and the
// poll loop retries.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("freshness: engine already started")
	}

	ctx, e.cancel = context.WithCancel(ctx)

	if _, err := e.rec.Reconcile(ctx, reconcile.ReasonPollTick); err != nil {
		e.log.Warn("initial reconciliation failed, polling will retry", "error", err)
	}

	e.wg.Add(2)
	go e.runChannel(ctx)
	go e.runPoll(ctx)

	e.log.Info("freshness engine started",
		"session", e.sessionID,
		"server", e.cfg.Client.ServerURL,
		"poll_interval", e.cfg.Client.PollInterval)
	return nil
}

// Refresh forces a reconciliation pass outside the normal schedule.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err := e.rec.Reconcile(ctx, reconcile.ReasonPollTick)
	return err
}

// Stop shuts the engine down and flushes the version cache, so the next
// session resumes change tracking where this one left off.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	err := e.channel.Close(ctx)
	e.wg.Wait()

	if ferr := e.vcache.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

// StopAndReset shuts the engine down and discards all session-local
// freshness state. Use it on logout: the next session must not diff
// against versions this user saw.
func (e *Engine) StopAndReset(ctx context.Context) error {
	err := e.Stop(ctx)
	e.queries.Clear()
	if cerr := e.vcache.Clear(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// runChannel connects the notification channel, retrying until ctx
// ends, and dispatches its messages.
func (e *Engine) runChannel(ctx context.Context) {
	defer e.wg.Done()

	if err := e.channel.ConnectWithRetry(ctx); err != nil {
		if ctx.Err() == nil {
			e.log.Warn("notification channel unavailable, relying on polling", "error", err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.channel.Events():
			e.handleMessage(ctx, msg)
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, msg push.Message) {
	switch msg.Type {
	case push.KindDataUpdate:
		if _, err := e.rec.Reconcile(ctx, reconcile.ReasonPushEvent); err != nil && ctx.Err() == nil {
			e.log.Warn("reconciliation after push failed", "entity", msg.Entity, "error", err)
		}
	case push.KindConnectionStatus:
		wasConnected := e.connected.Swap(msg.Connected)
		e.reconnecting.Store(msg.Reconnecting)
		if msg.Connected && !wasConnected {
			// Pushes may have been lost while the channel was down.
			if _, err := e.rec.Reconcile(ctx, reconcile.ReasonPushEvent); err != nil && ctx.Err() == nil {
				e.log.Warn("reconciliation after reconnect failed", "error", err)
			}
		}
	case push.KindSystemMessage:
		e.log.Info("server notice", "message", msg.Text)
	}
}

// runPoll is the fallback path: it fires a reconciliation pass on a
// fixed period whether or not the channel is healthy.
func (e *Engine) runPoll(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Client.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.rec.Reconcile(ctx, reconcile.ReasonPollTick); err != nil && ctx.Err() == nil {
				e.log.Warn("poll reconciliation failed", "error", err)
			}
		}
	}
}
