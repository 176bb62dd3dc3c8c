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
	"testing"
	"time"
)

func TestCommitLockManagerExclusive(t *testing.T) {
	m := NewCommitLockManager()

	release, ok := m.AcquireCommitLock(time.Second)
	if !ok {
		t.Fatal("first acquire should succeed immediately")
	}

	_, ok = m.AcquireCommitLock(20 * time.Millisecond)
	if ok {
		t.Error("second acquire should block while the lock is held")
	}

	release()

	release2, ok := m.AcquireCommitLock(time.Second)
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
	release2()
}

func TestCommitLockManagerTimeoutThenRecovers(t *testing.T) {
	m := NewCommitLockManager()
	release, _ := m.AcquireCommitLock(time.Second)

	_, ok := m.AcquireCommitLock(10 * time.Millisecond)
	if ok {
		t.Fatal("acquire should time out while lock is held")
	}

	release()

	release2, ok := m.AcquireCommitLock(time.Second)
	if !ok {
		t.Fatal("lock should be acquirable again once released")
	}
	release2()
}
