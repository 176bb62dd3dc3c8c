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
	"testing"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"
)

// fakeRM is an in-memory ResourceManager for testing the session verb
// dispatcher without a real storage engine behind it.
type fakeRM struct {
	mu sync.Mutex

	failPrepare  bool
	failCommit   bool
	prepared     map[Session]bool
	committed    []Session
	rolledBack   []Session
	byXIDCommits []XID
	byXIDRollbacks []XID
	recoverable  []XID
}

func newFakeRM() *fakeRM {
	return &fakeRM{prepared: make(map[Session]bool)}
}

func (f *fakeRM) Name() string      { return "fake" }
func (f *fakeRM) State() RMState    { return RMEnabled }
func (f *fakeRM) TwoPC() bool       { return true }

func (f *fakeRM) Prepare(session Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrepare {
		return newErr(RMERR)
	}
	f.prepared[session] = true
	return nil
}

func (f *fakeRM) CommitTrans(session Session, all bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit {
		return newErr(RMERR)
	}
	delete(f.prepared, session)
	f.committed = append(f.committed, session)
	return nil
}

func (f *fakeRM) RollbackTrans(session Session, all bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prepared, session)
	f.rolledBack = append(f.rolledBack, session)
	return nil
}

func (f *fakeRM) CommitByXID(xid XID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byXIDCommits = append(f.byXIDCommits, xid)
	return nil
}

func (f *fakeRM) RollbackByXID(xid XID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byXIDRollbacks = append(f.byXIDRollbacks, xid)
	return nil
}

func (f *fakeRM) Recover(buf []XID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(buf, f.recoverable)
	return n, nil
}

func testLog() *xlog.Log {
	return xlog.NewStdLog(xlog.Level(xlog.INFO))
}

func noopHooks() SessionHooks {
	var inTxn bool
	return SessionHooks{
		BeginLocalTxn:        func() error { inTxn = true; return nil },
		RollbackLocalTxn:     func() { inTxn = false },
		InActiveMultiStmtTxn: func() bool { return false },
		LockedTablesMode:     func() bool { return false },
		ClearTxnFlags:        func() { inTxn = false },
		OnResolved:           func() {},
	}
}

func newTestOps(rm ResourceManager) (*XaSessionOps, *RMRegistry) {
	reg := NewXidRegistry()
	rms := NewRMRegistry()
	rms.Register(rm)
	fanout := NewRmFanout(rms, testLog())
	mdl := NewCommitLockManager()
	ops := NewXaSessionOps(reg, fanout, MyXID(1), mdl, nil, time.Second, testLog(), noopHooks())
	return ops, rms
}

func TestXAHappyPath(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g"), BranchQual: []byte("b")}

	if err := ops.Start(xid, StartNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ops.End(xid, EndNone); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := ops.Prepare(xid); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ops.Commit(xid, CommitNone); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(rm.committed) != 1 {
		t.Errorf("want 1 commit fanned out, got %d", len(rm.committed))
	}
}

func TestXAOnePhaseCommitSkipsPrepare(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g"), BranchQual: []byte("b")}

	ops.Start(xid, StartNone)
	ops.End(xid, EndNone)
	if err := ops.Commit(xid, CommitOnePhase); err != nil {
		t.Fatalf("one-phase commit: %v", err)
	}
	if len(rm.committed) != 1 {
		t.Error("one-phase commit should still fan out to CommitTrans")
	}
}

func TestXAStartWrongStateRejected(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	ops.Start(xid, StartNone)

	err := ops.Start(xid, StartNone)
	if err == nil {
		t.Fatal("starting an already-active branch should fail")
	}
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != RMFAIL {
		t.Errorf("want XAER_RMFAIL, got %v", err)
	}
}

func TestXAEndWrongXidRejected(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	other := XID{FormatID: 1, GlobalTxnID: []byte("other")}
	ops.Start(xid, StartNone)

	err := ops.End(other, EndNone)
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != NOTA {
		t.Errorf("want XAER_NOTA for mismatched xid, got %v", err)
	}
}

func TestXAPrepareFailureRollsBackAndFreesXid(t *testing.T) {
	rm := newFakeRM()
	rm.failPrepare = true
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}

	ops.Start(xid, StartNone)
	ops.End(xid, EndNone)
	err := ops.Prepare(xid)
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != RBROLLBACK {
		t.Fatalf("want XA_RBROLLBACK on prepare failure, got %v", err)
	}

	// the xid must be free again - a retry with the same xid should work.
	if err := ops.Start(xid, StartNone); err != nil {
		t.Fatalf("xid should be reusable after a failed prepare, got %v", err)
	}
}

func TestXARollbackForeignXid(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	reg := ops.registry

	foreign := XID{FormatID: 9, GlobalTxnID: []byte("foreign")}
	reg.InsertRecovered(foreign)

	if err := ops.Rollback(foreign); err != nil {
		t.Fatalf("rollback of a recovered foreign xid should succeed, got %v", err)
	}
	if len(rm.byXIDRollbacks) != 1 {
		t.Error("want RollbackByXID fanned out for the foreign xid")
	}
	if _, ok := reg.Lookup(foreign); ok {
		t.Error("resolved foreign xid should be removed from the registry")
	}
}

func TestXACommitUnknownXidRejected(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	unknown := XID{FormatID: 1, GlobalTxnID: []byte("nope")}

	err := ops.Commit(unknown, CommitNone)
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != NOTA {
		t.Errorf("want XAER_NOTA for unknown xid, got %v", err)
	}
}

func TestXARecoverListsOnlyPrepared(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	ops.Start(xid, StartNone)
	ops.End(xid, EndNone)
	ops.Prepare(xid)

	rows := ops.Recover()
	if len(rows) != 1 || !rows[0].Equal(xid) {
		t.Fatalf("want [xid] from Recover, got %v", rows)
	}
}

func TestXAAsyncRMErrorForcesRollbackOnly(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	ops.Start(xid, StartNone)
	ops.End(xid, EndNone)

	ops.branch.SetError(RMErrorTimeout)

	err := ops.Commit(xid, CommitNone)
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != RBTIMEOUT {
		t.Fatalf("want XA_RBTIMEOUT once the branch is poisoned, got %v", err)
	}
}

func TestTcLogUsedWhenConfigured(t *testing.T) {
	rm := newFakeRM()
	reg := NewXidRegistry()
	rms := NewRMRegistry()
	rms.Register(rm)
	fanout := NewRmFanout(rms, testLog())
	mdl := NewCommitLockManager()
	tclog := &FakeTcLog{}
	ops := NewXaSessionOps(reg, fanout, MyXID(1), mdl, tclog, time.Second, testLog(), noopHooks())

	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	ops.Start(xid, StartNone)
	ops.End(xid, EndNone)
	ops.Prepare(xid)
	if err := ops.Commit(xid, CommitNone); err != nil {
		t.Fatalf("Commit via TcLog: %v", err)
	}
	if len(tclog.Calls()) != 1 {
		t.Error("configured TcLog should be used instead of committing through the fanout directly")
	}
	if len(rm.committed) != 0 {
		t.Error("when a TcLog is configured, RMs must not be committed directly")
	}
}

// TestXADuplicateStartRollsBackLocalTxn mirrors spec.md §8 scenario 2: a
// second session tries XA START on an xid another session already owns.
// XAER_DUPID must come back, and crucially the second session's local
// transaction - begun by BeginLocalTxn before the duplicate was even
// detected - must be rolled back and unbound, not left dangling.
func TestXADuplicateStartRollsBackLocalTxn(t *testing.T) {
	reg := NewXidRegistry()
	rms := NewRMRegistry()
	rm := newFakeRM()
	rms.Register(rm)
	fanout := NewRmFanout(rms, testLog())
	mdl := NewCommitLockManager()

	s1 := NewXaSessionOps(reg, fanout, MyXID(1), mdl, nil, time.Second, testLog(), noopHooks())

	var s2Begun, s2RolledBack, s2Cleared bool
	s2Hooks := SessionHooks{
		BeginLocalTxn:        func() error { s2Begun = true; return nil },
		RollbackLocalTxn:     func() { s2RolledBack = true; s2Begun = false },
		InActiveMultiStmtTxn: func() bool { return s2Begun },
		LockedTablesMode:     func() bool { return false },
		ClearTxnFlags:        func() { s2Cleared = true },
		OnResolved:           func() {},
	}
	s2 := NewXaSessionOps(reg, fanout, MyXID(1), mdl, nil, time.Second, testLog(), s2Hooks)

	xid := XID{FormatID: 1, GlobalTxnID: []byte("shared"), BranchQual: []byte("b")}
	if err := s1.Start(xid, StartNone); err != nil {
		t.Fatalf("S1 Start: %v", err)
	}

	err := s2.Start(xid, StartNone)
	xaErr, ok := err.(*XAError)
	if !ok || xaErr.Code != DUPID {
		t.Fatalf("want XAER_DUPID for S2's duplicate start, got %v", err)
	}
	if !s2RolledBack {
		t.Error("S2's local transaction must be rolled back on XAER_DUPID")
	}
	if !s2Cleared {
		t.Error("S2's txn flags must be cleared on XAER_DUPID")
	}
	if s2Begun {
		t.Error("S2 must not be left believing it is inside a local transaction")
	}

	// S2 must be free to start its own, unrelated branch afterwards -
	// nothing about the failed duplicate start should wedge the session.
	other := XID{FormatID: 1, GlobalTxnID: []byte("s2-own"), BranchQual: []byte("b")}
	if err := s2.Start(other, StartNone); err != nil {
		t.Fatalf("S2 should be able to start its own branch after the failed duplicate, got %v", err)
	}
}

func TestCurrentXID(t *testing.T) {
	rm := newFakeRM()
	ops, _ := newTestOps(rm)
	if got := ops.CurrentXID(); !got.Equal(XID{}) {
		t.Errorf("CurrentXID should be the zero xid before Start, got %v", got)
	}
	xid := XID{FormatID: 1, GlobalTxnID: []byte("g")}
	ops.Start(xid, StartNone)
	if got := ops.CurrentXID(); !got.Equal(xid) {
		t.Errorf("CurrentXID should report the started branch, got %v", got)
	}
}
