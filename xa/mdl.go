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

import "time"

// CommitLockManager grants the single, process-wide intention-exclusive
// commit lock a prepared XA transaction must hold while its RMs commit
// (MDL_key::COMMIT in original_source - one global key, not a per-table
// lock). Modeled as a one-token channel the way storage/limits.go bounds
// concurrent disk loads, extended with a timeout branch since a commit
// that can't get the lock must fail, not hang forever.
type CommitLockManager struct {
	free chan struct{}
}

// NewCommitLockManager returns a manager with its single token available.
func NewCommitLockManager() *CommitLockManager {
	m := &CommitLockManager{free: make(chan struct{}, 1)}
	m.free <- struct{}{}
	return m
}

// AcquireCommitLock blocks until the commit lock is available or timeout
// elapses. On success it returns a release func the caller must invoke
// exactly once; on timeout it returns ok=false and a nil release func.
func (m *CommitLockManager) AcquireCommitLock(timeout time.Duration) (release func(), ok bool) {
	select {
	case <-m.free:
		return func() { m.free <- struct{}{} }, true
	case <-time.After(timeout):
		return nil, false
	}
}
