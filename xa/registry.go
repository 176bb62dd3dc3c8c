/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package xa

import "sync"

// XidRegistry is the process-wide xid -> branch map, mirroring MySQL's
// global xid_cache: every live or recovered branch anywhere in the server
// is findable here by its xid key.
type XidRegistry struct {
	mu       sync.Mutex
	branches map[string]*BranchState
}

// NewXidRegistry returns an empty registry ready to use.
func NewXidRegistry() *XidRegistry {
	return &XidRegistry{branches: make(map[string]*BranchState)}
}

// Lookup finds the branch record for xid, if any.
func (r *XidRegistry) Lookup(xid XID) (*BranchState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bs, ok := r.branches[xid.Key()]
	return bs, ok
}

// InsertLive registers a brand-new live branch (the result of XA START)
// under its xid, failing with DUPID if one is already registered.
func (r *XidRegistry) InsertLive(bs *BranchState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := bs.XID().Key()
	if _, exists := r.branches[key]; exists {
		return newErr(DUPID)
	}
	r.branches[key] = bs
	return nil
}

// InsertRecovered registers (or returns the existing registration for) a
// branch discovered during crash recovery. Idempotent: recovery can run
// its discovery pass more than once without clobbering state.
func (r *XidRegistry) InsertRecovered(xid XID) *BranchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := xid.Key()
	if bs, exists := r.branches[key]; exists {
		return bs
	}
	bs := &BranchState{}
	bs.StartRecovery(xid)
	r.branches[key] = bs
	return bs
}

// Remove drops a branch's registration, e.g. once a verb has fully
// resolved it (committed or rolled back).
func (r *XidRegistry) Remove(bs *BranchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.branches, bs.XID().Key())
}

// Iterate invokes fn once per currently-registered branch. The branch
// list is copied under the lock before fn runs, so a slow caller (e.g. an
// XA RECOVER scan) never holds the registry mutex across its own work;
// inserts or removes racing with the scan may or may not be observed by
// it, but the scan itself never sees a torn map.
func (r *XidRegistry) Iterate(fn func(*BranchState)) {
	r.mu.Lock()
	snapshot := make([]*BranchState, 0, len(r.branches))
	for _, bs := range r.branches {
		snapshot = append(snapshot, bs)
	}
	r.mu.Unlock()
	for _, bs := range snapshot {
		fn(bs)
	}
}
