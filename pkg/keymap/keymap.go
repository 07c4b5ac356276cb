// Package keymap translates between the server's and the client's
// entity-group vocabularies, and from an entity group to the cached-query
// identifiers it affects.
//
// The two vocabularies evolved independently, so a handful of keys have
// drifted (the server's "planner" is the client's "plannerAssignments").
// Rather than scattering per-call fallback tables, the whole drift is one
// static bidirectional mapping validated at construction.
package keymap

import "fmt"

// Rule maps one server-side key to one client-side key. Keys without an
// explicit rule map to themselves.
type Rule struct {
	Server string
	Client string
}

// Mapper is a static, bidirectional key translation plus the entity-group
// to query-identifier fan-out. It is immutable after construction and safe
// for concurrent use.
type Mapper struct {
	serverToClient map[string]string
	clientToServer map[string]string

	// queryIDs is keyed by client-side entity-group key.
	queryIDs map[string][]string
}

// New validates the rule table and the query-identifier map.
//
// The table must be bijective: two server keys normalizing to the same
// client key (or the reverse) would make invalidation ambiguous, so that
// is a construction error, caught at startup rather than at reconcile
// time. Query-identifier entries for client keys are allowed for keys
// without an explicit rule, because identity-mapped keys are the common
// case.
func New(rules []Rule, queryIDs map[string][]string) (*Mapper, error) {
	m := &Mapper{
		serverToClient: make(map[string]string, len(rules)),
		clientToServer: make(map[string]string, len(rules)),
		queryIDs:       make(map[string][]string, len(queryIDs)),
	}

	for _, r := range rules {
		if r.Server == "" || r.Client == "" {
			return nil, fmt.Errorf("keymap: rule with empty side: %+v", r)
		}
		if prev, dup := m.serverToClient[r.Server]; dup {
			return nil, fmt.Errorf("keymap: server key %q mapped to both %q and %q", r.Server, prev, r.Client)
		}
		if prev, dup := m.clientToServer[r.Client]; dup {
			return nil, fmt.Errorf("keymap: client key %q mapped to both %q and %q", r.Client, prev, r.Server)
		}
		m.serverToClient[r.Server] = r.Client
		m.clientToServer[r.Client] = r.Server
	}

	for key, ids := range queryIDs {
		cp := make([]string, len(ids))
		copy(cp, ids)
		m.queryIDs[key] = cp
	}

	return m, nil
}

// Normalize translates a server-side key to the client vocabulary.
// Total: unknown keys map to themselves.
func (m *Mapper) Normalize(serverKey string) string {
	if clientKey, ok := m.serverToClient[serverKey]; ok {
		return clientKey
	}
	return serverKey
}

// Denormalize translates a client-side key back to the server vocabulary.
// Total: unknown keys map to themselves.
func (m *Mapper) Denormalize(clientKey string) string {
	if serverKey, ok := m.clientToServer[clientKey]; ok {
		return serverKey
	}
	return clientKey
}

// QueryIDs returns the cached-query identifiers affected by a change to
// the given client-side entity group. Unknown keys return nil rather than
// an error; unknown future entity groups are silently ignored.
func (m *Mapper) QueryIDs(clientKey string) []string {
	ids, ok := m.queryIDs[clientKey]
	if !ok {
		return nil
	}
	cp := make([]string, len(ids))
	copy(cp, ids)
	return cp
}
