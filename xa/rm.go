/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package xa

import (
	"fmt"
	"sync"

	"github.com/launix-de/go-mysqlstack/xlog"
)

// RMState mirrors a storage engine plugin's handlerton state: only an
// ENABLED, 2PC-capable RM participates in fan-out and recovery.
type RMState uint8

const (
	RMDisabled RMState = iota
	RMEnabled
)

// Session is the opaque per-connection handle a ResourceManager uses to
// find its own transaction-local state for Prepare/CommitTrans/
// RollbackTrans. It is always a *XaSessionOps - unique per session and
// comparable, so a ResourceManager can key a plain map on it exactly the
// way a storage engine keys its own transaction table on thd->ha_data.
type Session = *XaSessionOps

// ResourceManager is the collaborator interface a storage engine (or
// anything else capable of participating in two-phase commit) implements
// to be driven by the coordinator. It is the Go shape of a MySQL
// handlerton's 2PC surface: state, prepare/commit/rollback of the
// session's current transaction, and xid-addressed commit/rollback/
// recovery for branches that outlive the session that prepared them.
type ResourceManager interface {
	Name() string
	State() RMState
	TwoPC() bool // true iff Recover/CommitByXID/RollbackByXID are meaningful

	Prepare(session Session) error
	CommitTrans(session Session, all bool) error
	RollbackTrans(session Session, all bool) error

	CommitByXID(xid XID) error
	RollbackByXID(xid XID) error
	// Recover fills buf with prepared branches this RM still holds,
	// returning how many it wrote (0 <= n <= len(buf)).
	Recover(buf []XID) (int, error)
}

// RMRegistry is the process-wide set of registered resource managers,
// mirroring the storage-engine plugin list original_source iterates via
// plugin_foreach.
type RMRegistry struct {
	mu  sync.RWMutex
	rms []ResourceManager
}

// NewRMRegistry returns an empty registry.
func NewRMRegistry() *RMRegistry {
	return &RMRegistry{}
}

// Register adds rm to the registry.
func (r *RMRegistry) Register(rm ResourceManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rms = append(r.rms, rm)
}

// Unregister removes rm from the registry, if present.
func (r *RMRegistry) Unregister(rm ResourceManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.rms {
		if cur == rm {
			r.rms = append(r.rms[:i], r.rms[i+1:]...)
			return
		}
	}
}

// TwoPCCount reports how many currently-enabled, 2PC-capable RMs are
// registered - the EngineCount a host passes into RecoveryOptions.
func (r *RMRegistry) TwoPCCount() int {
	return len(r.twoPCCapable())
}

// twoPCCapable returns a snapshot of the currently-enabled, 2PC-capable
// RMs, safe to range over without holding the registry lock.
func (r *RMRegistry) twoPCCapable() []ResourceManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceManager, 0, len(r.rms))
	for _, rm := range r.rms {
		if rm.State() == RMEnabled && rm.TwoPC() {
			out = append(out, rm)
		}
	}
	return out
}

// RmFanout drives every registered 2PC-capable RM through the verbs a
// distributed transaction needs, logging per-RM failures rather than
// letting one RM's error abort the others - the same policy
// ha_commit_or_rollback_by_xid applies across storage engine plugins.
type RmFanout struct {
	registry *RMRegistry
	log      *xlog.Log
}

// NewRmFanout builds a fan-out helper over registry, logging to log.
func NewRmFanout(registry *RMRegistry, log *xlog.Log) *RmFanout {
	return &RmFanout{registry: registry, log: log}
}

// Prepare asks every 2PC-capable RM to prepare session's transaction. The
// first RM to fail aborts the fan-out (a transaction cannot be prepared
// if any branch refuses).
func (f *RmFanout) Prepare(session Session) error {
	for _, rm := range f.registry.twoPCCapable() {
		if err := rm.Prepare(session); err != nil {
			return err
		}
	}
	return nil
}

// CommitTrans asks every 2PC-capable RM to commit session's transaction.
// Like Prepare, the first failure aborts the fan-out; by this point the
// RMs that already committed cannot be undone, which is why callers only
// reach here after a successful Prepare or for an XA COMMIT ... ONE PHASE,
// which skips Prepare.
func (f *RmFanout) CommitTrans(session Session, all bool) error {
	for _, rm := range f.registry.twoPCCapable() {
		if err := rm.CommitTrans(session, all); err != nil {
			return err
		}
	}
	return nil
}

// RollbackTrans asks every 2PC-capable RM to roll back session's
// transaction. Unlike commit, rollback fans out to all RMs regardless of
// earlier failures - there is nothing left to protect by stopping early.
func (f *RmFanout) RollbackTrans(session Session, all bool) error {
	var first error
	for _, rm := range f.registry.twoPCCapable() {
		if err := rm.RollbackTrans(session, all); err != nil {
			f.log.Error(fmt.Sprintf("xa: rollback_trans failed in rm %s: %v", rm.Name(), err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ResolveByXID fans XA COMMIT/XA ROLLBACK of a recovered (foreign or
// owned-but-orphaned) branch out to every registered RM, exactly as
// ha_commit_or_rollback_by_xid asks every storage engine plugin in turn -
// the caller does not know, and does not need to know, which RM actually
// prepared this particular xid. Per-RM errors are logged, never
// returned: one RM not recognizing the xid is not a fan-out failure.
// onResolved, if non-nil, runs once after every RM has been asked - the
// hook the session layer uses to reset its own GTID bookkeeping.
func (f *RmFanout) ResolveByXID(xid XID, commit bool, onResolved func()) {
	verb := "rollback_by_xid"
	if commit {
		verb = "commit_by_xid"
	}
	for _, rm := range f.registry.twoPCCapable() {
		var err error
		if commit {
			err = rm.CommitByXID(xid)
		} else {
			err = rm.RollbackByXID(xid)
		}
		if err != nil {
			f.log.Error(fmt.Sprintf("xa: %s failed in rm %s: %v", verb, rm.Name(), err))
		}
	}
	if onResolved != nil {
		onResolved()
	}
}
