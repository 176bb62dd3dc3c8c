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

import "testing"

func TestBranchStateStartLive(t *testing.T) {
	bs := &BranchState{}
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g"), BranchQual: []byte("b")}
	bs.StartLive(xid)
	if got := bs.Observe(); got != ACTIVE {
		t.Errorf("want ACTIVE after StartLive, got %s", got)
	}
	if !bs.XID().Equal(xid) {
		t.Error("XID() should return the xid passed to StartLive")
	}
	if bs.InRecovery() {
		t.Error("a live-started branch must not report InRecovery")
	}
}

func TestBranchStateStartLiveTwicePanics(t *testing.T) {
	bs := &BranchState{}
	bs.StartLive(XID{FormatID: 1})
	defer func() {
		if recover() == nil {
			t.Error("StartLive on an already-started branch should panic")
		}
	}()
	bs.StartLive(XID{FormatID: 1})
}

func TestBranchStateStartRecovery(t *testing.T) {
	bs := &BranchState{}
	xid := XID{FormatID: 7, GlobalTxnID: []byte("r")}
	bs.StartRecovery(xid)
	if got := bs.Observe(); got != PREPARED {
		t.Errorf("want PREPARED after StartRecovery, got %s", got)
	}
	if !bs.InRecovery() {
		t.Error("a recovery-seeded branch must report InRecovery")
	}
}

func TestBranchStateSetErrorPoisons(t *testing.T) {
	bs := &BranchState{}
	bs.StartLive(XID{FormatID: 1})
	bs.setState(IDLE)
	bs.SetError(RMErrorDeadlock)
	if got := bs.Observe(); got != ROLLBACK_ONLY {
		t.Errorf("want ROLLBACK_ONLY after SetError, got %s", got)
	}
	poisoned, code := bs.CheckRolledBack()
	if !poisoned {
		t.Error("CheckRolledBack should report poisoned after SetError")
	}
	if code != RBDEADLOCK {
		t.Errorf("want RBDEADLOCK, got %s", code)
	}
}

func TestBranchStateSetErrorLatchesFirstOnly(t *testing.T) {
	bs := &BranchState{}
	bs.StartLive(XID{FormatID: 1})
	bs.SetError(RMErrorTimeout)
	bs.SetError(RMErrorDeadlock) // should not overwrite the first
	_, code := bs.CheckRolledBack()
	if code != RBTIMEOUT {
		t.Errorf("first latched error should win, want RBTIMEOUT got %s", code)
	}
}

func TestBranchStateSetErrorIgnoredWhenNOTR(t *testing.T) {
	bs := &BranchState{}
	bs.SetError(RMErrorDeadlock)
	if got := bs.Observe(); got != NOTR {
		t.Errorf("SetError on a NOTR branch should be a no-op, got %s", got)
	}
}

func TestBranchStateResetErrorClearsLatch(t *testing.T) {
	bs := &BranchState{}
	bs.StartLive(XID{FormatID: 1})
	bs.SetError(RMErrorDeadlock)
	bs.ResetError()
	if got := bs.Observe(); got != ACTIVE {
		t.Errorf("ResetError should un-poison the branch, got %s", got)
	}
}

func TestBranchStateReset(t *testing.T) {
	bs := &BranchState{}
	bs.StartLive(XID{FormatID: 1, GlobalTxnID: []byte("g")})
	bs.reset()
	if got := bs.Observe(); got != NOTR {
		t.Errorf("want NOTR after reset, got %s", got)
	}
	if !bs.XID().Equal(XID{}) {
		t.Error("reset should clear the xid")
	}
}
