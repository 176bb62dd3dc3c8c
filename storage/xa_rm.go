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
package storage

import (
	"fmt"
	"sync"

	"github.com/launix-de/go-mysqlstack/xlog"
	"github.com/launix-de/memcp-xa/xa"
)

// xaJournalShard is the pseudo-shard name the XA journal is kept under -
// it is not a real table shard, just a PersistenceEngine.OpenLog/ReplayLog
// key, the same mechanism a real shard's insert/delete log uses.
const xaJournalShard = "__xa"

// preparedBranch is one XA branch this process has PREPAREd and not yet
// resolved.
type preparedBranch struct {
	xid     xa.XID
	tx      *TxContext
	session xa.Session
}

// XARM adapts storage's local TxContext into the xa.ResourceManager
// interface, so a TxACID or TxCursorStability transaction can take part
// in two-phase commit. Grounded on storage/transaction.go's TxContext and
// the PersistenceEngine/PersistenceLogfile interfaces in persistence.go.
//
// A cursor-stability transaction has already durably applied its writes
// by the time XA PREPARE is even reachable (there is no undo-log replay
// across a process restart, only within one). Only branches with live
// in-memory TxContext state can be committed or rolled back. A branch
// found PREPARED in the journal at startup with no matching resolve entry,
// whatever its mode, is counted as orphaned and logged by NewXARM; Recover
// does not report it, and CommitByXID/RollbackByXID on its xid fail - see
// DESIGN.md's known limitation for storage/xa_rm.go.
type XARM struct {
	engine  PersistenceEngine
	journal PersistenceLogfile
	log     *xlog.Log

	mu       sync.Mutex
	active   map[xa.Session]*TxContext
	prepared map[string]*preparedBranch
	orphaned map[string]bool // seen "xa-prepare" in the journal with no matching resolve and no live TxContext
}

// NewXARM opens (or creates) the XA journal on engine and replays it to
// find branches a previous run prepared but never resolved. Those are
// reported as orphaned: there is no TxContext left to actually commit or
// roll them back, only a record that they existed.
func NewXARM(engine PersistenceEngine, log *xlog.Log) *XARM {
	rm := &XARM{
		engine:   engine,
		log:      log,
		active:   make(map[xa.Session]*TxContext),
		prepared: make(map[string]*preparedBranch),
		orphaned: make(map[string]bool),
	}
	replay, logfile := engine.ReplayLog(xaJournalShard)
	for entry := range replay {
		switch e := entry.(type) {
		case LogEntryXAPrepare:
			rm.orphaned[e.xid] = true
		case LogEntryXAResolve:
			delete(rm.orphaned, e.xid)
		}
	}
	rm.journal = logfile
	if len(rm.orphaned) > 0 {
		log.Warning(fmt.Sprintf("xa: %d prepared transaction(s) from a previous run could not be resolved automatically (storage engine has no crash-safe undo past restart); they must be resolved manually", len(rm.orphaned)))
	}
	return rm
}

func (rm *XARM) Name() string { return "memcp-storage" }

func (rm *XARM) State() xa.RMState { return xa.RMEnabled }

func (rm *XARM) TwoPC() bool { return true }

// BindSession associates a session's local transaction with this RM, so a
// later Prepare/CommitTrans/RollbackTrans(session) call has something to
// act on. The host calls this from its SessionHooks.BeginLocalTxn.
func (rm *XARM) BindSession(session xa.Session, tx *TxContext) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.active[session] = tx
}

// UnbindSession forgets a session's local transaction, once its branch
// has fully resolved.
func (rm *XARM) UnbindSession(session xa.Session) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.active, session)
}

func (rm *XARM) txFor(session xa.Session) (*TxContext, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	tx, ok := rm.active[session]
	return tx, ok
}

func (rm *XARM) Prepare(session xa.Session) error {
	tx, ok := rm.txFor(session)
	if !ok {
		return fmt.Errorf("xa: no local transaction bound to this session")
	}
	if err := tx.Prepare(); err != nil {
		return err
	}
	xid := session.CurrentXID()
	key := xid.Key()

	rm.mu.Lock()
	rm.prepared[key] = &preparedBranch{xid: xid, tx: tx, session: session}
	rm.mu.Unlock()

	rm.journal.Write(LogEntryXAPrepare{key})
	return nil
}

func (rm *XARM) CommitTrans(session xa.Session, all bool) error {
	tx, ok := rm.txFor(session)
	if !ok {
		return fmt.Errorf("xa: no local transaction bound to this session")
	}
	err := tx.Commit()
	rm.forget(session, true)
	return err
}

func (rm *XARM) RollbackTrans(session xa.Session, all bool) error {
	tx, ok := rm.txFor(session)
	if !ok {
		return fmt.Errorf("xa: no local transaction bound to this session")
	}
	tx.Rollback()
	rm.forget(session, false)
	return nil
}

// forget clears a session's binding and, if it had reached PREPARED,
// removes it from the prepared set and journals the resolution (commit or
// rollback).
func (rm *XARM) forget(session xa.Session, commit bool) {
	rm.mu.Lock()
	delete(rm.active, session)
	var key string
	for k, pb := range rm.prepared {
		if pb.session == session {
			key = k
			break
		}
	}
	if key != "" {
		delete(rm.prepared, key)
	}
	rm.mu.Unlock()
	if key != "" {
		rm.journal.Write(LogEntryXAResolve{key, commit})
	}
}

func (rm *XARM) CommitByXID(xid xa.XID) error {
	key := xid.Key()
	rm.mu.Lock()
	pb, ok := rm.prepared[key]
	if ok {
		delete(rm.prepared, key)
		delete(rm.active, pb.session)
	}
	_, wasOrphaned := rm.orphaned[key]
	rm.mu.Unlock()

	if !ok {
		if wasOrphaned {
			return fmt.Errorf("xa: branch %s was prepared before the last restart and cannot be committed now (no surviving transaction state)", key)
		}
		return fmt.Errorf("xa: no prepared branch for xid %s", key)
	}
	err := pb.tx.Commit()
	rm.journal.Write(LogEntryXAResolve{key, true})
	return err
}

func (rm *XARM) RollbackByXID(xid xa.XID) error {
	key := xid.Key()
	rm.mu.Lock()
	pb, ok := rm.prepared[key]
	if ok {
		delete(rm.prepared, key)
		delete(rm.active, pb.session)
	}
	_, wasOrphaned := rm.orphaned[key]
	rm.mu.Unlock()

	if !ok {
		if wasOrphaned {
			return fmt.Errorf("xa: branch %s was prepared before the last restart and cannot be rolled back now (no surviving transaction state)", key)
		}
		return fmt.Errorf("xa: no prepared branch for xid %s", key)
	}
	pb.tx.Rollback()
	rm.journal.Write(LogEntryXAResolve{key, false})
	return nil
}

// Recover reports every PREPARED branch this RM still has live
// TxContext state for. Branches found orphaned in the journal at startup
// (prepared by a previous run, never resolved) are logged as a warning
// in NewXARM but are not reported here - the journal only records the
// xid's Key() string, and nothing decodes that back into an XID to hand
// back.
func (rm *XARM) Recover(buf []xa.XID) (int, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := 0
	for _, pb := range rm.prepared {
		if n >= len(buf) {
			return n, nil
		}
		buf[n] = pb.xid
		n++
	}
	return n, nil
}
