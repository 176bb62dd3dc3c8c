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

// memcpxa boots a standalone memCP storage engine with two-phase commit
// (XA) wired in on top of its local transactions. It is the
// demonstration entrypoint for the xa package, replacing the plain
// single-node main.go the rest of this codebase came from: where that
// one only ever ran local tx_begin/tx_commit scripts, this one also
// registers xa_start/xa_end/xa_prepare/xa_commit/xa_rollback/xa_recover
// and drives crash recovery at boot.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"

	"github.com/launix-de/memcp-xa/scm"
	"github.com/launix-de/memcp-xa/storage"
	"github.com/launix-de/memcp-xa/xa"
)

func main() {
	dataDir := flag.String("data", "data", "base directory for persisted schemas")
	serverID := flag.Int64("server-id", 1, "this server's id, embedded in xids this process mints")
	recoverHeuristic := flag.String("recover", "", "crash-recovery heuristic override for this run: COMMIT or ROLLBACK (default: storage.Settings.TCHeuristicRecover)")
	flag.Parse()

	log := xlog.NewStdLog(xlog.Level(xlog.INFO))

	storage.Basepath = *dataDir
	en := scm.Env{Vars: make(scm.Vars), Outer: &scm.Globalenv}
	storage.InitEngine(en)

	identity := xa.MyXID(*serverID)
	coord := xa.NewCoordinator(identity, log)
	coord.LockWaitTimeout = storage.Settings.LockWaitTimeout
	storage.LockWaitTimeoutChanged = func(d time.Duration) { coord.LockWaitTimeout = d }

	journal := (&storage.FileFactory{Basepath: *dataDir}).CreateDatabase("__xa")
	rm := storage.NewXARM(journal, log)
	coord.RMs.Register(rm)

	hooks := xaHooks(rm)
	xa.InitXA(en, coord, hooks)

	if err := runRecovery(coord, *recoverHeuristic, log); err != nil {
		fmt.Fprintln(os.Stderr, "memcpxa: recovery failed:", err)
		os.Exit(1)
	}

	log.Info("memcpxa ready: xa_start/xa_end/xa_prepare/xa_commit/xa_rollback/xa_recover registered")

	// A real server would hand `en` to its SQL/network front end here
	// (scm.Repl, the MySQL wire protocol wrapper in scm/mysql.go, or an
	// embedder's own driver) and let incoming connections call the
	// builtins just registered. That front end is a separate concern
	// from the XA coordinator this entrypoint exists to demonstrate.
	_ = en
}

// runRecovery runs one coordinator recovery pass using the registered
// RMs. With a single RM and no coordinator log (TcLog is never wired
// here, see DESIGN.md), an empty heuristic lets the single-engine
// shortcut in xa.CrashRecovery.Run resolve everything safely by itself;
// the heuristic only matters once a second 2PC-capable RM is registered.
// -recover overrides storage.Settings.TCHeuristicRecover for this one run
// when given; left empty, the operator-configured server setting applies,
// the same "there is one knob, tc_heuristic_recover" shape original_source
// uses (it has no separate per-invocation override).
func runRecovery(coord *xa.Coordinator, heuristicFlag string, log *xlog.Log) error {
	if heuristicFlag == "" {
		heuristicFlag = storage.Settings.TCHeuristicRecover
	}
	heuristic := xa.HeuristicNone
	switch heuristicFlag {
	case "COMMIT":
		heuristic = xa.HeuristicCommit
	case "ROLLBACK":
		heuristic = xa.HeuristicRollback
	case "", "NONE":
	default:
		return fmt.Errorf("unknown -recover/TCHeuristicRecover value %q (want COMMIT, ROLLBACK, or NONE)", heuristicFlag)
	}

	stats, err := coord.Recover(xa.RecoveryOptions{
		Heuristic:   heuristic,
		EngineCount: coord.RMs.TwoPCCount(),
	})
	if err != nil {
		return err
	}
	if stats.FoundForeign > 0 {
		log.Warning(fmt.Sprintf("memcpxa: %d branch(es) recovered for an external transaction manager to resolve via XA RECOVER", stats.FoundForeign))
	}
	return nil
}

// xaHooks builds the HookFactory that binds a fresh XaSessionOps to a
// local cursor-stability transaction, the same tx_begin/__memcp_tx
// session-slot convention storage/transaction.go's own builtins use, and
// to rm's session->TxContext map so XARM.Prepare/CommitTrans/
// RollbackTrans have something to act on.
func xaHooks(rm *storage.XARM) xa.HookFactory {
	return func(session xa.Session, sessionFn func(...scm.Scmer) scm.Scmer) xa.SessionHooks {
		return xa.SessionHooks{
			BeginLocalTxn: func() error {
				tx := storage.NewTxContext(storage.TxCursorStability)
				sessionFn(scm.NewString("__memcp_tx"), scm.NewAny(tx))
				rm.BindSession(session, tx)
				return nil
			},
			RollbackLocalTxn: func() {
				existing := sessionFn(scm.NewString("__memcp_tx"))
				if tx, ok := existing.Any().(*storage.TxContext); ok {
					tx.Rollback()
				}
				sessionFn(scm.NewString("__memcp_tx"), scm.NewNil())
				rm.UnbindSession(session)
			},
			InActiveMultiStmtTxn: func() bool {
				existing := sessionFn(scm.NewString("__memcp_tx"))
				if existing.IsNil() {
					return false
				}
				tx, ok := existing.Any().(*storage.TxContext)
				return ok && tx.State == storage.TxActive
			},
			LockedTablesMode: func() bool {
				return false // LOCK TABLES is out of scope for this demo
			},
			ClearTxnFlags: func() {
				sessionFn(scm.NewString("__memcp_tx"), scm.NewNil())
				sessionFn(scm.NewString("transaction"), scm.NewNil())
				rm.UnbindSession(session)
			},
			OnResolved: func() {},
		}
	}
}
