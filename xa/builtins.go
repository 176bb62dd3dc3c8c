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
	"github.com/launix-de/memcp-xa/scm"
)

const sessionXAKey = "__memcp_xa"

// HookFactory builds the SessionHooks for a brand-new per-connection
// XaSessionOps the first time a session issues an XA verb. It is
// supplied by whoever embeds this package (cmd/memcpxa/main.go) since
// only the host knows how to begin/inspect/clear a local transaction for
// its own session representation - xa itself never imports storage. It
// receives the Session handle being built alongside sessionFn so a host
// whose ResourceManager keys its own state off that same pointer (see
// storage/xa_rm.go's XARM.BindSession) can bind the two together as soon
// as a local transaction starts, without xa needing to know that such a
// binding exists.
type HookFactory func(session Session, sessionFn func(...scm.Scmer) scm.Scmer) SessionHooks

// sessionOps fetches (or lazily builds) this scm session's XaSessionOps,
// following storage/transaction.go's own sessionFn(key)/sessionFn(key,
// value) get-or-set convention. The session is constructed with empty
// hooks first so HookFactory can be handed the real Session pointer -
// hooks and the session they operate on are circular, one has to exist
// before the other.
func sessionOps(coord *Coordinator, hooks HookFactory, sessionFn func(...scm.Scmer) scm.Scmer) *XaSessionOps {
	existing := sessionFn(scm.NewString(sessionXAKey))
	if !existing.IsNil() {
		if ops, ok := existing.Any().(*XaSessionOps); ok {
			return ops
		}
	}
	ops := coord.NewSessionOps(SessionHooks{})
	ops.SetHooks(hooks(ops, sessionFn))
	sessionFn(scm.NewString(sessionXAKey), scm.NewAny(ops))
	return ops
}

func parseXID(a []scm.Scmer) XID {
	return XID{
		FormatID:    int32(a[0].Int()),
		GlobalTxnID: []byte(a[1].String()),
		BranchQual:  []byte(a[2].String()),
	}
}

func parseStartOption(a []scm.Scmer) StartOption {
	if len(a) == 0 {
		return StartNone
	}
	switch a[0].String() {
	case "JOIN":
		return StartJoin
	case "RESUME":
		return StartResume
	default:
		return StartNone
	}
}

func parseEndOption(a []scm.Scmer) EndOption {
	if len(a) == 0 {
		return EndNone
	}
	switch a[0].String() {
	case "SUSPEND":
		return EndSuspend
	case "SUSPEND FOR MIGRATE":
		return EndSuspendForMigrate
	default:
		return EndNone
	}
}

func parseCommitOption(a []scm.Scmer) CommitOption {
	if len(a) == 0 {
		return CommitNone
	}
	if a[0].String() == "ONE PHASE" {
		return CommitOnePhase
	}
	return CommitNone
}

// errScmer turns an XA verb result into the scm return convention:
// true on success, the XA error code's name as a string on failure -
// the caller (the SQL layer, out of scope here) maps that string to
// whatever wire-level error it sends the client.
func errScmer(err error) scm.Scmer {
	if err == nil {
		return scm.NewBool(true)
	}
	if xaErr, ok := err.(*XAError); ok {
		return scm.NewString(xaErr.Code.String())
	}
	return scm.NewString(err.Error())
}

// InitXA registers the xa_start/xa_end/xa_prepare/xa_commit/
// xa_rollback/xa_recover builtins against en, backed by coord. hooks
// supplies the per-session local-transaction glue. Grounded on
// storage/transaction.go's initTransaction: same scm.Declare shape, same
// session-function-as-key-value-store convention.
func InitXA(en scm.Env, coord *Coordinator, hooks HookFactory) {
	scm.DeclareTitle("XA Transactions")

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_start",
		Desc:         "starts a new XA branch, or resumes this session's idle (ended) branch with RESUME (formatid gtrid bqual [JOIN|RESUME])",
		MinParameter: 4,
		MaxParameter: 5,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
			{Name: "formatid", Type: "number", Desc: "xid format identifier"},
			{Name: "gtrid", Type: "string", Desc: "global transaction id"},
			{Name: "bqual", Type: "string", Desc: "branch qualifier"},
			{Name: "option", Type: "string", Desc: "JOIN | RESUME (optional)"},
		},
		Returns: "bool on success, else an XA error code string",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			xid := parseXID(a[1:4])
			opt := parseStartOption(a[4:])
			err := ops.Start(xid, opt)
			if err == nil {
				sessionFn(scm.NewString("transaction"), scm.NewInt(1))
			}
			return errScmer(err)
		},
	})

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_end",
		Desc:         "ends the active XA branch owned by this session (formatid gtrid bqual [SUSPEND])",
		MinParameter: 4,
		MaxParameter: 5,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
			{Name: "formatid", Type: "number", Desc: "xid format identifier"},
			{Name: "gtrid", Type: "string", Desc: "global transaction id"},
			{Name: "bqual", Type: "string", Desc: "branch qualifier"},
			{Name: "option", Type: "string", Desc: "SUSPEND (optional)"},
		},
		Returns: "bool on success, else an XA error code string",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			xid := parseXID(a[1:4])
			opt := parseEndOption(a[4:])
			return errScmer(ops.End(xid, opt))
		},
	})

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_prepare",
		Desc:         "prepares the idle XA branch owned by this session for commit (formatid gtrid bqual)",
		MinParameter: 4,
		MaxParameter: 4,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
			{Name: "formatid", Type: "number", Desc: "xid format identifier"},
			{Name: "gtrid", Type: "string", Desc: "global transaction id"},
			{Name: "bqual", Type: "string", Desc: "branch qualifier"},
		},
		Returns: "bool on success, else an XA error code string",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			xid := parseXID(a[1:4])
			return errScmer(ops.Prepare(xid))
		},
	})

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_commit",
		Desc:         "commits a prepared (or, with ONE PHASE, idle) XA branch; also resolves a recovered/foreign xid (formatid gtrid bqual [ONE PHASE])",
		MinParameter: 4,
		MaxParameter: 5,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
			{Name: "formatid", Type: "number", Desc: "xid format identifier"},
			{Name: "gtrid", Type: "string", Desc: "global transaction id"},
			{Name: "bqual", Type: "string", Desc: "branch qualifier"},
			{Name: "option", Type: "string", Desc: "ONE PHASE (optional)"},
		},
		Returns: "bool on success, else an XA error code string",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			xid := parseXID(a[1:4])
			opt := parseCommitOption(a[4:])
			err := ops.Commit(xid, opt)
			sessionFn(scm.NewString("transaction"), scm.NewNil())
			return errScmer(err)
		},
	})

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_rollback",
		Desc:         "rolls back an idle, prepared, or recovered/foreign XA branch (formatid gtrid bqual)",
		MinParameter: 4,
		MaxParameter: 4,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
			{Name: "formatid", Type: "number", Desc: "xid format identifier"},
			{Name: "gtrid", Type: "string", Desc: "global transaction id"},
			{Name: "bqual", Type: "string", Desc: "branch qualifier"},
		},
		Returns: "bool on success, else an XA error code string",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			xid := parseXID(a[1:4])
			err := ops.Rollback(xid)
			sessionFn(scm.NewString("transaction"), scm.NewNil())
			return errScmer(err)
		},
	})

	scm.Declare(&en, &scm.Declaration{
		Name:         "xa_recover",
		Desc:         "lists every currently PREPARED XA branch as (formatid gtrid_length bqual_length data) rows",
		MinParameter: 1,
		MaxParameter: 1,
		Params: []scm.DeclarationParameter{
			{Name: "session", Type: "func", Desc: "session key-value store"},
		},
		Returns: "list of (formatid gtrid_length bqual_length data) rows",
		Fn: func(a ...scm.Scmer) scm.Scmer {
			sessionFn := a[0].Func()
			ops := sessionOps(coord, hooks, sessionFn)
			rows := ops.Recover()
			out := make([]scm.Scmer, len(rows))
			for i, xid := range rows {
				formatID, gtridLen, bqualLen, data := xid.RecoverRow()
				out[i] = scm.NewSlice([]scm.Scmer{
					scm.NewInt(int64(formatID)),
					scm.NewInt(int64(gtridLen)),
					scm.NewInt(int64(bqualLen)),
					scm.NewString(data),
				})
			}
			return scm.NewSlice(out)
		},
	})
}
