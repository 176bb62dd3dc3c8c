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
	"errors"
	"fmt"

	"github.com/launix-de/go-mysqlstack/xlog"
)

const (
	// MaxXIDListSize is the largest recovery batch we try to allocate in
	// one go, and MinXIDListSize the smallest we're willing to fall back
	// to before giving up - original_source's MAX_XID_LIST_SIZE /
	// MIN_XID_LIST_SIZE.
	MaxXIDListSize = 1024 * 128
	MinXIDListSize = 128
)

// Heuristic is the crash-time resolution policy for prepared branches
// this server cannot otherwise resolve (no coordinator log entry names
// them, or there is more than one 2PC-capable engine without one).
type Heuristic uint8

const (
	HeuristicNone Heuristic = iota
	HeuristicCommit
	HeuristicRollback
)

// RecoveryOptions configures one CrashRecovery.Run pass.
type RecoveryOptions struct {
	// CommitList holds XID.Key() values the coordinator log says were
	// durably committed; nil means "no coordinator log available".
	CommitList map[string]struct{}
	// Heuristic is the operator-supplied fallback when CommitList is
	// nil and no other safe resolution is possible.
	Heuristic Heuristic
	// EngineCount is the number of 2PC-capable RMs registered
	// (original_source's total_ha_2pc).
	EngineCount int
	// BinlogParticipants is 1 if a binlog-like single extra participant
	// is itself 2PC-capable and already accounted for, else 0
	// (original_source's opt_bin_log).
	BinlogParticipants int
}

// RecoveryStats summarizes one recovery pass.
type RecoveryStats struct {
	FoundForeign int // branches not minted by this server
	FoundOwned   int // branches minted by this server, only counted in a dry run
}

var (
	// ErrRecoveryUnsafeHeuristic is returned when more than one 2PC-
	// capable engine is prepared and the operator chose ROLLBACK without
	// a coordinator log to confirm it - rolling back could silently
	// diverge engines that actually committed before the crash.
	ErrRecoveryUnsafeHeuristic = errors.New("xa: ROLLBACK heuristic is unsafe with more than one 2PC-capable engine and no coordinator log")
	// ErrRecoveryOutOfMemory is returned when even the smallest xid
	// recovery batch could not be allocated.
	ErrRecoveryOutOfMemory = errors.New("xa: cannot allocate xid recovery buffer")
	// ErrRecoveryInfoMissing is returned by a dry run that found
	// branches this server owns but had no coordinator log or
	// heuristic to resolve them with.
	ErrRecoveryInfoMissing = errors.New("xa: found prepared XA transactions but no coordinator log or heuristic was given; restart with a recovery heuristic")
)

// CrashRecovery drives the startup recovery scan: ask every registered
// 2PC-capable RM for its still-prepared branches, classify each as
// foreign (hand it to the registry for an external TM to resolve later)
// or owned (resolve it here, per the coordinator log or heuristic).
type CrashRecovery struct {
	registry   *XidRegistry
	rmRegistry *RMRegistry
	identity   ServerIdentity
	log        *xlog.Log
}

// NewCrashRecovery builds a recovery runner over registry/rmRegistry.
func NewCrashRecovery(registry *XidRegistry, rmRegistry *RMRegistry, identity ServerIdentity, log *xlog.Log) *CrashRecovery {
	return &CrashRecovery{registry: registry, rmRegistry: rmRegistry, identity: identity, log: log}
}

// Run executes one recovery pass. See spec.md §4.5 and
// original_source's ha_recover for the exact algorithm this follows.
func (c *CrashRecovery) Run(opts RecoveryOptions) (RecoveryStats, error) {
	var stats RecoveryStats

	if opts.EngineCount <= opts.BinlogParticipants {
		return stats, nil // nothing but the binlog participates in 2PC: no-op
	}

	heuristic := opts.Heuristic
	dryRun := opts.CommitList == nil && heuristic == HeuristicNone

	if opts.EngineCount > opts.BinlogParticipants+1 {
		if heuristic == HeuristicRollback {
			return stats, ErrRecoveryUnsafeHeuristic
		}
	} else if opts.CommitList == nil {
		// Exactly one 2PC-capable engine beyond the binlog and no
		// coordinator log: rolling back is always safe here, since
		// there is nothing else to diverge from.
		heuristic = HeuristicRollback
		dryRun = false
	}

	buf, err := allocateXIDBuffer()
	if err != nil {
		return stats, err
	}

	for _, rm := range c.rmRegistry.twoPCCapable() {
		for {
			got, rerr := rm.Recover(buf)
			if rerr != nil {
				c.log.Error(fmt.Sprintf("xa: recover failed in rm %s: %v", rm.Name(), rerr))
				break
			}
			if got > 0 {
				c.log.Info(fmt.Sprintf("Found %d prepared transaction(s) in %s", got, rm.Name()))
			}
			for i := 0; i < got; i++ {
				xid := buf[i]
				if xid.IsForeign(c.identity) {
					c.registry.InsertRecovered(xid)
					stats.FoundForeign++
					continue
				}
				if dryRun {
					stats.FoundOwned++
					continue
				}
				_, inCommitList := opts.CommitList[xid.Key()]
				commit := inCommitList || heuristic == HeuristicCommit
				if commit {
					if e := rm.CommitByXID(xid); e != nil {
						c.log.Error(fmt.Sprintf("xa: recovery commit_by_xid failed in rm %s: %v", rm.Name(), e))
					}
				} else {
					if e := rm.RollbackByXID(xid); e != nil {
						c.log.Error(fmt.Sprintf("xa: recovery rollback_by_xid failed in rm %s: %v", rm.Name(), e))
					}
				}
			}
			if got < len(buf) {
				break
			}
		}
	}

	if stats.FoundForeign > 0 {
		c.log.Warning(fmt.Sprintf("Found %d prepared XA transactions", stats.FoundForeign))
	}
	if dryRun && stats.FoundOwned > 0 {
		return stats, ErrRecoveryInfoMissing
	}
	return stats, nil
}

func allocateXIDBuffer() ([]XID, error) {
	for n := MaxXIDListSize; n >= MinXIDListSize; n /= 2 {
		if buf, err := tryAllocateXIDBuffer(n); err == nil {
			return buf, nil
		}
	}
	return nil, ErrRecoveryOutOfMemory
}

// tryAllocateXIDBuffer recovers from the allocation panic Go raises
// instead of C's malloc-returns-null, so the halving loop above can
// still degrade batch size the way original_source's does rather than
// failing outright on the first size it tries.
func tryAllocateXIDBuffer(n int) (buf []XID, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("allocate %d xids: %v", n, r)
		}
	}()
	return make([]XID, n), nil
}
