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
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"
)

// Coordinator bundles the process-wide XA collaborators: the xid
// registry, the RM registry and its fan-out helper, the commit lock, and
// the logger. It is explicitly constructed and passed to whoever needs
// it (xa/builtins.go, cmd/memcpxa/main.go) rather than a package-level
// singleton, so more than one coordinator can exist in the same process
// (e.g. one per embedded database instance) and tests never share state.
type Coordinator struct {
	Registry        *XidRegistry
	RMs             *RMRegistry
	Fanout          *RmFanout
	MDL             *CommitLockManager
	TcLog           TcLog // nil unless the host wires in a coordinator log
	Identity        ServerIdentity
	LockWaitTimeout time.Duration
	Log             *xlog.Log
}

// NewCoordinator builds a Coordinator with fresh registries and a 50s
// default commit-lock timeout (original_source's lock_wait_timeout
// default).
func NewCoordinator(identity ServerIdentity, log *xlog.Log) *Coordinator {
	rms := NewRMRegistry()
	return &Coordinator{
		Registry:        NewXidRegistry(),
		RMs:             rms,
		Fanout:          NewRmFanout(rms, log),
		MDL:             NewCommitLockManager(),
		Identity:        identity,
		LockWaitTimeout: 50 * time.Second,
		Log:             log,
	}
}

// NewSessionOps builds the per-session verb dispatcher for a new
// connection, wired against this coordinator's shared state.
func (c *Coordinator) NewSessionOps(hooks SessionHooks) *XaSessionOps {
	return NewXaSessionOps(c.Registry, c.Fanout, c.Identity, c.MDL, c.TcLog, c.LockWaitTimeout, c.Log, hooks)
}

// Recover runs one crash-recovery pass using this coordinator's RMs and
// registry, recording recovered foreign branches into Registry.
func (c *Coordinator) Recover(opts RecoveryOptions) (RecoveryStats, error) {
	cr := NewCrashRecovery(c.Registry, c.RMs, c.Identity, c.Log)
	return cr.Run(opts)
}
