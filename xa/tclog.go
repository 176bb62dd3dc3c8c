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

// TcLog is the coordinator log a prepared transaction commits through
// instead of committing each RM directly - tc_log in original_source.
// Its durable implementation (binlog-backed or otherwise) is out of
// scope here; XaSessionOps falls back to RmFanout.CommitTrans directly
// when no TcLog is configured.
type TcLog interface {
	Commit(session Session, all bool) error
}

// FakeTcLog is a minimal in-memory TcLog for tests: it always succeeds
// and just remembers which sessions it was asked to commit.
type FakeTcLog struct {
	mu    sync.Mutex
	calls []Session
}

// Commit records the call and reports success.
func (l *FakeTcLog) Commit(session Session, all bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, session)
	return nil
}

// Calls returns the sessions Commit has been called with, in order.
func (l *FakeTcLog) Calls() []Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Session, len(l.calls))
	copy(out, l.calls)
	return out
}
