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

func recoveryFixture(xids ...XID) (*XidRegistry, *RMRegistry, *fakeRM) {
	reg := NewXidRegistry()
	rms := NewRMRegistry()
	rm := newFakeRM()
	rm.recoverable = xids
	rms.Register(rm)
	return reg, rms, rm
}

func TestRecoveryNoOpWhenNoExtraEngines(t *testing.T) {
	reg, rms, _ := recoveryFixture()
	cr := NewCrashRecovery(reg, rms, MyXID(1), testLog())
	stats, err := cr.Run(RecoveryOptions{EngineCount: 1, BinlogParticipants: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.FoundForeign != 0 || stats.FoundOwned != 0 {
		t.Error("want no-op when EngineCount <= BinlogParticipants")
	}
}

func TestRecoveryForeignBranchRegistered(t *testing.T) {
	foreign := XID{FormatID: 1, GlobalTxnID: []byte("foreign-owner")}
	reg, rms, _ := recoveryFixture(foreign)
	cr := NewCrashRecovery(reg, rms, MyXID(1), testLog())

	stats, err := cr.Run(RecoveryOptions{EngineCount: 1, Heuristic: HeuristicNone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.FoundForeign != 1 {
		t.Errorf("want 1 foreign branch found, got %d", stats.FoundForeign)
	}
	if _, ok := reg.Lookup(foreign); !ok {
		t.Error("foreign branch should be registered for later resolution")
	}
}

func TestRecoverySingleEngineForcesRollback(t *testing.T) {
	owned := []byte("own-tag")
	var tag [8]byte
	copy(tag[:], owned)
	xid := XID{FormatID: 1, GlobalTxnID: tag[:]}
	reg, rms, rm := recoveryFixture(xid)
	identity := func(data []byte) int64 {
		return 1 // every xid in this test is "owned"
	}
	cr := NewCrashRecovery(reg, rms, identity, testLog())

	// single 2PC-capable engine, no coordinator log: must be forced to
	// rollback, never left as a dry-run fatal error.
	stats, err := cr.Run(RecoveryOptions{EngineCount: 1})
	if err != nil {
		t.Fatalf("single-engine recovery should never be a dry run, got %v", err)
	}
	if stats.FoundOwned != 0 {
		t.Error("single-engine branches should be resolved immediately, not counted as FoundOwned")
	}
	if len(rm.byXIDRollbacks) != 1 {
		t.Errorf("want 1 forced rollback, got %d", len(rm.byXIDRollbacks))
	}
}

func TestRecoveryCommitListHonored(t *testing.T) {
	var tag [8]byte
	xid := XID{FormatID: 1, GlobalTxnID: tag[:]}
	reg, rms, rm := recoveryFixture(xid)
	identity := func(data []byte) int64 { return 1 }
	cr := NewCrashRecovery(reg, rms, identity, testLog())

	stats, err := cr.Run(RecoveryOptions{
		EngineCount: 2,
		CommitList:  map[string]struct{}{xid.Key(): {}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.FoundOwned != 0 {
		t.Error("branch named in the commit list should be resolved, not left dry")
	}
	if len(rm.byXIDCommits) != 1 {
		t.Errorf("want 1 commit from the commit list, got %d", len(rm.byXIDCommits))
	}
}

func TestRecoveryDryRunReportsMissingInfo(t *testing.T) {
	var tag [8]byte
	xid := XID{FormatID: 1, GlobalTxnID: tag[:]}
	reg, rms, _ := recoveryFixture(xid)
	identity := func(data []byte) int64 { return 1 }
	cr := NewCrashRecovery(reg, rms, identity, testLog())

	// two engines, no commit list, no heuristic: nothing safe to do.
	_, err := cr.Run(RecoveryOptions{EngineCount: 2})
	if err != ErrRecoveryInfoMissing {
		t.Fatalf("want ErrRecoveryInfoMissing, got %v", err)
	}
}

func TestRecoveryUnsafeRollbackHeuristicRejected(t *testing.T) {
	reg, rms, _ := recoveryFixture()
	cr := NewCrashRecovery(reg, rms, MyXID(1), testLog())

	_, err := cr.Run(RecoveryOptions{EngineCount: 3, Heuristic: HeuristicRollback})
	if err != ErrRecoveryUnsafeHeuristic {
		t.Fatalf("want ErrRecoveryUnsafeHeuristic, got %v", err)
	}
}

func TestRecoveryHeuristicCommit(t *testing.T) {
	var tag [8]byte
	xid := XID{FormatID: 1, GlobalTxnID: tag[:]}
	reg, rms, rm := recoveryFixture(xid)
	identity := func(data []byte) int64 { return 1 }
	cr := NewCrashRecovery(reg, rms, identity, testLog())

	stats, err := cr.Run(RecoveryOptions{EngineCount: 2, Heuristic: HeuristicCommit})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.FoundOwned != 0 {
		t.Error("heuristic-resolved branch should not be reported as FoundOwned")
	}
	if len(rm.byXIDCommits) != 1 {
		t.Error("HeuristicCommit should commit the orphaned branch")
	}
}
