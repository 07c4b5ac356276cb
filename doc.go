// Package freshness keeps a client session's view of the booking data
// in step with the server.
//
// The server counts changes: every mutation to an entity group bumps a
// monotonic version counter and pushes a notification over a WebSocket
// channel (pkg/hub). Each client session runs an Engine that listens to
// that channel, polls the version snapshot as a fallback, and reconciles
// the authoritative versions against its persisted local copy
// (pkg/reconcile). Ordinary drift invalidates the affected cached
// queries (pkg/querycache); drift on a critical entity group while the
// user is on a critical view escalates to a full page reload
// (pkg/reload).
//
// Engine is the session-facing entry point. Everything below it is
// usable on its own.
package freshness
