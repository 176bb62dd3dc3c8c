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
	"sync"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"
)

// StartOption is the optional modifier to XA START. Only the bare form
// and RESUME are supported; JOIN is a Non-goal (see SPEC_FULL.md).
type StartOption uint8

const (
	StartNone StartOption = iota
	StartJoin
	StartResume
)

// EndOption is the optional modifier to XA END. Only the bare form is
// supported; SUSPEND and SUSPEND FOR MIGRATE are Non-goals.
type EndOption uint8

const (
	EndNone EndOption = iota
	EndSuspend
	EndSuspendForMigrate
)

// CommitOption is the optional modifier to XA COMMIT.
type CommitOption uint8

const (
	CommitNone CommitOption = iota
	CommitOnePhase
)

// SessionHooks are the collaborators XaSessionOps needs from the layer
// that owns session/thread state - explicitly out of scope for this
// package (SPEC_FULL.md's AMBIENT STACK / spec.md §1). None of them know
// anything about XA; they are the same primitives a plain (non-
// distributed) local transaction needs.
type SessionHooks struct {
	// BeginLocalTxn starts a fresh local transaction for this session,
	// the thing every RM's Prepare/CommitTrans/RollbackTrans will later
	// operate against via the session handle.
	BeginLocalTxn func() error
	// RollbackLocalTxn undoes a local transaction BeginLocalTxn just
	// started, for the sole case where XA START begins one and then
	// fails before a BranchState ever takes ownership of it (XAER_DUPID
	// from the registry). Without this the local transaction begun by
	// BeginLocalTxn is left dangling - bound to an RM, never resolved.
	RollbackLocalTxn func()
	// InActiveMultiStmtTxn reports whether the session already has a
	// non-XA local transaction open.
	InActiveMultiStmtTxn func() bool
	// LockedTablesMode reports whether the session is in LOCK TABLES
	// mode, which XA START is not allowed to start inside.
	LockedTablesMode func() bool
	// ClearTxnFlags clears the session's "inside a transaction" status
	// once a branch has fully resolved (committed or rolled back).
	ClearTxnFlags func()
	// OnResolved runs after any commit/rollback resolution, own or
	// foreign - the hook that lets the session reset its GTID state
	// without xa needing to know what a GTID is.
	OnResolved func()
}

// XaSessionOps is the per-session XA verb dispatcher: one instance per
// connection, driving that connection's own branch through
// Start/End/Prepare/Commit/Rollback, plus a process-wide Recover.
type XaSessionOps struct {
	registry        *XidRegistry
	fanout          *RmFanout
	identity        ServerIdentity
	mdl             *CommitLockManager
	tcLog           TcLog // nil: fall back to committing through fanout directly
	lockWaitTimeout time.Duration
	hooks           SessionHooks
	log             *xlog.Log

	mu     sync.Mutex
	branch *BranchState
}

// NewXaSessionOps builds the XA verb dispatcher for one session. hooks
// must be fully populated before the first verb runs (SetHooks may
// install them after construction); log receives diagnostic lines the same way
// original_source's sql_print_* calls do.
func NewXaSessionOps(registry *XidRegistry, fanout *RmFanout, identity ServerIdentity, mdl *CommitLockManager, tcLog TcLog, lockWaitTimeout time.Duration, log *xlog.Log, hooks SessionHooks) *XaSessionOps {
	return &XaSessionOps{
		registry:        registry,
		fanout:          fanout,
		identity:        identity,
		mdl:             mdl,
		tcLog:           tcLog,
		lockWaitTimeout: lockWaitTimeout,
		hooks:           hooks,
		log:             log,
		branch:          &BranchState{},
	}
}

// Start implements XA START [JOIN|RESUME]. See spec.md §4.3.
func (x *XaSessionOps) Start(xid XID, opt StartOption) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if opt == StartResume && x.branch.Observe() == IDLE {
		if !x.branch.XID().Equal(xid) {
			return newErr(NOTA)
		}
		x.branch.setState(ACTIVE)
		return nil
	}

	if opt != StartNone {
		return newErr(INVAL)
	}
	if state := x.branch.Observe(); state != NOTR {
		return rmfail(state)
	}
	if x.hooks.LockedTablesMode() || x.hooks.InActiveMultiStmtTxn() {
		return newErr(OUTSIDE)
	}
	if err := x.hooks.BeginLocalTxn(); err != nil {
		return newErr(RMERR)
	}

	bs := &BranchState{}
	bs.StartLive(xid)
	if err := x.registry.InsertLive(bs); err != nil {
		x.hooks.RollbackLocalTxn()
		x.hooks.ClearTxnFlags()
		return err
	}
	x.branch = bs
	return nil
}

// End implements XA END [SUSPEND]. See spec.md §4.3.
func (x *XaSessionOps) End(xid XID, opt EndOption) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if opt != EndNone {
		return newErr(INVAL)
	}
	// Read the state without Observe's promotion, so a latched async error
	// on an ACTIVE branch reaches CheckRolledBack below and is reported as
	// its XA_RB* code rather than as XAER_RMFAIL.
	x.branch.mu.Lock()
	state := x.branch.state
	x.branch.mu.Unlock()
	if state != ACTIVE {
		return rmfail(x.branch.Observe())
	}
	if !x.branch.XID().Equal(xid) {
		return newErr(NOTA)
	}
	if poisoned, code := x.branch.CheckRolledBack(); poisoned {
		return newErr(code)
	}
	x.branch.setState(IDLE)
	return nil
}

// Prepare implements XA PREPARE. See spec.md §4.3.
func (x *XaSessionOps) Prepare(xid XID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if state := x.branch.Observe(); state != IDLE {
		return rmfail(state)
	}
	if !x.branch.XID().Equal(xid) {
		return newErr(NOTA)
	}
	if err := x.fanout.Prepare(x); err != nil {
		x.fanout.RollbackTrans(x, true)
		x.hooks.ClearTxnFlags()
		x.registry.Remove(x.branch)
		x.branch.reset()
		return newErr(RBROLLBACK)
	}
	x.branch.setState(PREPARED)
	return nil
}

// Commit implements XA COMMIT [ONE PHASE]. See spec.md §4.3-§4.4.
func (x *XaSessionOps) Commit(xid XID, opt CommitOption) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.branch.Observe() == NOTR || !x.branch.XID().Equal(xid) {
		return x.commitForeign(xid)
	}

	poisoned, code := x.branch.CheckRolledBack()
	state := x.branch.Observe()

	var resErr error
	switch {
	case poisoned:
		if err := x.forceRollback(); err != nil {
			resErr = newErr(RMERR)
		} else {
			resErr = newErr(code)
		}
	case state == IDLE && opt == CommitOnePhase:
		if err := x.fanout.CommitTrans(x, true); err != nil {
			resErr = newErr(RMERR)
		}
	case state == PREPARED && opt == CommitNone:
		release, ok := x.mdl.AcquireCommitLock(x.lockWaitTimeout)
		if !ok {
			x.fanout.RollbackTrans(x, true)
			resErr = newErr(RMERR)
		} else {
			defer release()
			var err error
			if x.tcLog != nil {
				err = x.tcLog.Commit(x, true)
			} else {
				err = x.fanout.CommitTrans(x, true)
			}
			if err != nil {
				resErr = newErr(RMERR)
			}
		}
	default:
		return rmfail(state)
	}

	x.hooks.ClearTxnFlags()
	x.registry.Remove(x.branch)
	x.branch.reset()
	if x.hooks.OnResolved != nil {
		x.hooks.OnResolved()
	}
	return resErr
}

// commitForeign resolves an xid this session did not itself START: a
// recovered branch (crash recovery, or committed/rolled back on behalf
// of a remote transaction manager via plain XA COMMIT/XA ROLLBACK). It
// never touches this session's own local transaction - there isn't one.
func (x *XaSessionOps) commitForeign(xid XID) error {
	bs, ok := x.registry.Lookup(xid)
	if !ok || !bs.InRecovery() {
		return newErr(NOTA)
	}
	poisoned, code := bs.CheckRolledBack()
	x.fanout.ResolveByXID(xid, !poisoned, x.hooks.OnResolved)
	x.registry.Remove(bs)
	if poisoned {
		return newErr(code)
	}
	return nil
}

// Rollback implements XA ROLLBACK. See spec.md §4.3-§4.4.
func (x *XaSessionOps) Rollback(xid XID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.branch.Observe() == NOTR || !x.branch.XID().Equal(xid) {
		return x.rollbackForeign(xid)
	}

	state := x.branch.Observe()
	if state == NOTR || state == ACTIVE {
		return rmfail(state)
	}

	resErr := x.forceRollback()
	x.hooks.ClearTxnFlags()
	x.registry.Remove(x.branch)
	x.branch.reset()
	if x.hooks.OnResolved != nil {
		x.hooks.OnResolved()
	}
	return resErr
}

func (x *XaSessionOps) rollbackForeign(xid XID) error {
	bs, ok := x.registry.Lookup(xid)
	if !ok || !bs.InRecovery() {
		return newErr(NOTA)
	}
	poisoned, code := bs.CheckRolledBack()
	x.fanout.ResolveByXID(xid, false, x.hooks.OnResolved)
	x.registry.Remove(bs)
	if poisoned {
		return newErr(code)
	}
	return nil
}

// forceRollback resets the rm_error latch before rolling back, so a
// branch already poisoned by an async RM error doesn't re-poison itself
// off the same stale error once it's resolved (original_source's
// xa_trans_force_rollback ordering - see SPEC_FULL.md Supplemented
// Feature 1).
func (x *XaSessionOps) forceRollback() error {
	x.branch.ResetError()
	if err := x.fanout.RollbackTrans(x, true); err != nil {
		return newErr(RMERR)
	}
	return nil
}

// SetHooks installs hooks, called once by sessionOps right after
// construction to close the cycle between a freshly built XaSessionOps
// and the SessionHooks a HookFactory builds from its own Session handle.
func (x *XaSessionOps) SetHooks(hooks SessionHooks) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.hooks = hooks
}

// CurrentXID returns the xid of the branch this session currently owns,
// the zero XID if none. A ResourceManager's Prepare/CommitTrans/
// RollbackTrans receive the session handle, not the xid directly
// (mirroring original_source's ha_prepare(thd) signature), so an RM
// that needs to key its own per-branch state off the xid calls this.
func (x *XaSessionOps) CurrentXID() XID {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.branch.XID()
}

// Recover implements XA RECOVER: the xid of every currently PREPARED
// branch in the registry, live or recovered. The caller renders each one
// into a result row with XID.RecoverRow().
func (x *XaSessionOps) Recover() []XID {
	var rows []XID
	x.registry.Iterate(func(bs *BranchState) {
		if bs.Observe() == PREPARED {
			rows = append(rows, bs.XID())
		}
	})
	return rows
}
