// Package version tracks per-entity-group version counters: the server-side
// monotonic Store, the Snapshot map exchanged between server and client, and
// the client-side persisted Cache of last-observed versions.
package version

import "sort"

// Snapshot maps an entity-group key to its last-known version counter.
// Whether the keys are server-side or client-side names depends on which
// side of the keymap the snapshot sits on; the reconciler always works
// with normalized client-side keys.
type Snapshot map[string]int64

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Diff returns the keys of next whose version differs from what prev
// recorded, sorted for deterministic processing. A key missing from prev
// counts as changed. So does a key whose version went *down*: a lower
// version means the server restarted and reset its counters, and the only
// safe reading of that is "everything under this key is unknown".
//
// Keys present in prev but absent from next are not reported; the server
// snapshot is authoritative for which groups exist.
func Diff(prev, next Snapshot) []string {
	var changed []string
	for key, nextVer := range next {
		prevVer, seen := prev[key]
		if !seen || nextVer != prevVer {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
