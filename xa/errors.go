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

import "fmt"

// ErrCode is the closed set of XA result codes a verb can report. It
// deliberately does not try to be a general error framework: spec'd as a
// fixed list, the way the X/Open XA switch values are fixed.
type ErrCode int

const (
	_ ErrCode = iota
	NOTA       // XAER_NOTA: xid not known to this resource manager
	DUPID      // XAER_DUPID: xid already has a branch registered
	RMFAIL     // XAER_RMFAIL: verb not allowed in the branch's current state
	RMERR      // XAER_RMERR: the resource manager failed to perform the operation
	OUTSIDE    // XAER_OUTSIDE: session is already inside a non-XA local transaction
	INVAL      // XAER_INVAL: invalid combination of arguments (e.g. unsupported option)
	RBROLLBACK // XA_RBROLLBACK: branch was rolled back, unspecified reason
	RBTIMEOUT  // XA_RBTIMEOUT: branch was rolled back after a lock-wait timeout
	RBDEADLOCK // XA_RBDEADLOCK: branch was rolled back after a deadlock
)

func (c ErrCode) String() string {
	switch c {
	case NOTA:
		return "XAER_NOTA"
	case DUPID:
		return "XAER_DUPID"
	case RMFAIL:
		return "XAER_RMFAIL"
	case RMERR:
		return "XAER_RMERR"
	case OUTSIDE:
		return "XAER_OUTSIDE"
	case INVAL:
		return "XAER_INVAL"
	case RBROLLBACK:
		return "XA_RBROLLBACK"
	case RBTIMEOUT:
		return "XA_RBTIMEOUT"
	case RBDEADLOCK:
		return "XA_RBDEADLOCK"
	default:
		return "XAER_UNKNOWN"
	}
}

// XAError carries an ErrCode plus, for RMFAIL, the branch state that made
// the verb illegal (useful to a caller building a human-readable message
// without having to re-derive it).
type XAError struct {
	Code  ErrCode
	State State
}

func (e *XAError) Error() string {
	if e.Code == RMFAIL {
		return fmt.Sprintf("%s: branch is %s", e.Code, e.State)
	}
	return e.Code.String()
}

func newErr(code ErrCode) *XAError {
	return &XAError{Code: code}
}

func rmfail(s State) *XAError {
	return &XAError{Code: RMFAIL, State: s}
}
