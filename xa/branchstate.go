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

import "sync"

// State is a branch's position in the XA state machine.
type State uint8

const (
	NOTR State = iota
	ACTIVE
	IDLE
	PREPARED
	ROLLBACK_ONLY
)

func (s State) String() string {
	switch s {
	case NOTR:
		return "NOTR"
	case ACTIVE:
		return "ACTIVE"
	case IDLE:
		return "IDLE"
	case PREPARED:
		return "PREPARED"
	case ROLLBACK_ONLY:
		return "ROLLBACK_ONLY"
	default:
		return "UNKNOWN"
	}
}

// RMErrorClass classifies the async RM failure that poisons a branch.
type RMErrorClass int

const (
	RMErrorNone RMErrorClass = iota
	RMErrorTimeout
	RMErrorDeadlock
	RMErrorOther
)

// BranchState is the per-xid record the registry holds: one instance per
// live or recovered branch, guarding its own fields since SetError can be
// called from whichever goroutine is driving the resource manager that
// detected the lock-wait timeout or deadlock, concurrently with the owning
// session observing or transitioning state.
type BranchState struct {
	mu         sync.Mutex
	state      State
	xid        XID
	rmError    RMErrorClass
	inRecovery bool
}

// StartLive transitions a fresh (NOTR) record into ACTIVE for a session
// that just issued XA START. Precondition: state == NOTR.
func (bs *BranchState) StartLive(xid XID) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.state != NOTR {
		panic("xa: StartLive called on a branch that is not NOTR")
	}
	bs.state = ACTIVE
	bs.xid = xid
	bs.rmError = RMErrorNone
	bs.inRecovery = false
}

// StartRecovery seeds a record discovered during crash recovery: it is
// already PREPARED and owned by the registry rather than a live session.
func (bs *BranchState) StartRecovery(xid XID) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.state = PREPARED
	bs.xid = xid
	bs.rmError = RMErrorNone
	bs.inRecovery = true
}

// SetError latches the first async RM failure reported against this
// branch. Once set, the next Observe/CheckRolledBack promotes the branch
// to ROLLBACK_ONLY. A branch that has already returned to NOTR ignores
// further errors - there is nothing left to poison.
func (bs *BranchState) SetError(class RMErrorClass) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.state == NOTR {
		return
	}
	if bs.rmError == RMErrorNone {
		bs.rmError = class
	}
}

// ResetError clears the latch without touching state. Used by forced
// rollback, which must reset rm_error before it rolls the branch back so
// the branch doesn't re-poison itself off its own stale error.
func (bs *BranchState) ResetError() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.rmError = RMErrorNone
}

// Observe returns the current state, promoting it to ROLLBACK_ONLY first
// if an async error has been latched since the last observation.
func (bs *BranchState) Observe() State {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.rmError != RMErrorNone {
		bs.state = ROLLBACK_ONLY
	}
	return bs.state
}

// CheckRolledBack reports whether the branch is poisoned and, if so, the
// mapped XA result code for the latched error class.
func (bs *BranchState) CheckRolledBack() (bool, ErrCode) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.rmError != RMErrorNone {
		bs.state = ROLLBACK_ONLY
	}
	code := RBROLLBACK
	switch bs.rmError {
	case RMErrorTimeout:
		code = RBTIMEOUT
	case RMErrorDeadlock:
		code = RBDEADLOCK
	}
	return bs.state == ROLLBACK_ONLY, code
}

// XID returns the xid this branch is currently tracking.
func (bs *BranchState) XID() XID {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.xid
}

// InRecovery reports whether this record was seeded by crash recovery
// rather than a live XA START on this process.
func (bs *BranchState) InRecovery() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.inRecovery
}

// setState is the internal transition used once a caller has already
// validated the precondition under its own higher-level lock.
func (bs *BranchState) setState(s State) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.state = s
}

// reset returns the branch to its pristine NOTR state, e.g. after a
// commit/rollback has resolved it and it is about to leave the registry.
func (bs *BranchState) reset() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.state = NOTR
	bs.xid = XID{}
	bs.rmError = RMErrorNone
	bs.inRecovery = false
}
