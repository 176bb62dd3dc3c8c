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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// MaxXIDDataSize bounds gtrid+bqual the way the X/Open XA struct does (64+64).
const MaxXIDDataSize = 128

// XID identifies a branch of a distributed transaction: a format identifier
// plus the global transaction id and branch qualifier byte strings.
type XID struct {
	FormatID    int32
	GlobalTxnID []byte // gtrid
	BranchQual  []byte // bqual
}

// Key returns the registry lookup key for this xid. Two XIDs with the same
// formatID/gtrid/bqual always produce the same key.
func (x XID) Key() string {
	var buf bytes.Buffer
	var formatID [4]byte
	binary.BigEndian.PutUint32(formatID[:], uint32(x.FormatID))
	buf.Write(formatID[:])
	var gtridLen [4]byte
	binary.BigEndian.PutUint32(gtridLen[:], uint32(len(x.GlobalTxnID)))
	buf.Write(gtridLen[:]) // length prefix: gtrid/bqual are not self-delimiting
	buf.Write(x.GlobalTxnID)
	buf.Write(x.BranchQual)
	return buf.String()
}

// Equal reports whether two xids name the same branch.
func (x XID) Equal(other XID) bool {
	return x.FormatID == other.FormatID &&
		bytes.Equal(x.GlobalTxnID, other.GlobalTxnID) &&
		bytes.Equal(x.BranchQual, other.BranchQual)
}

// ServerIdentity derives an ownership tag from the raw gtrid||bqual bytes of
// an xid, returning 0 when the xid was not generated by this server (a
// foreign xid, handed to us only so we can participate as a plain RM).
// It generalizes MySQL's get_my_xid().
type ServerIdentity func(data []byte) int64

// MyXID builds a ServerIdentity that recognizes xids this server minted
// itself: a server-generated xid carries its minting server's id as the
// trailing 8 bytes of gtrid||bqual. Any other server's tag, or no tag at
// all (too short), makes the xid foreign.
func MyXID(serverID int64) ServerIdentity {
	return func(data []byte) int64 {
		if len(data) < 8 {
			return 0
		}
		tag := int64(binary.BigEndian.Uint64(data[len(data)-8:]))
		if tag == serverID {
			return tag
		}
		return 0
	}
}

// ownerTag evaluates identity against this xid's gtrid||bqual bytes.
func (x XID) ownerTag(identity ServerIdentity) int64 {
	data := make([]byte, 0, len(x.GlobalTxnID)+len(x.BranchQual))
	data = append(data, x.GlobalTxnID...)
	data = append(data, x.BranchQual...)
	return identity(data)
}

// IsForeign reports whether this xid was not minted by this server, i.e.
// it reached us purely through XA RECOVER/XA COMMIT/XA ROLLBACK from an
// external transaction manager.
func (x XID) IsForeign(identity ServerIdentity) bool {
	return x.ownerTag(identity) == 0
}

// IsPrintable mirrors XID::is_printable_xid: every byte of gtrid and bqual
// must fall in [32,127] for the RECOVER row to carry the raw bytes instead
// of a hex-encoded fallback.
func (x XID) IsPrintable() bool {
	for _, b := range x.GlobalTxnID {
		if b < 32 || b > 127 {
			return false
		}
	}
	for _, b := range x.BranchQual {
		if b < 32 || b > 127 {
			return false
		}
	}
	return true
}

// RecoverRow renders the columns an XA RECOVER statement reports for this
// xid: formatID, gtrid length, bqual length, and the data column itself
// (raw bytes when printable, "0x"+uppercase hex of gtrid||bqual otherwise).
func (x XID) RecoverRow() (formatID int32, gtridLen int, bqualLen int, data string) {
	formatID = x.FormatID
	gtridLen = len(x.GlobalTxnID)
	bqualLen = len(x.BranchQual)
	if x.IsPrintable() {
		data = string(x.GlobalTxnID) + string(x.BranchQual)
		return
	}
	raw := make([]byte, 0, len(x.GlobalTxnID)+len(x.BranchQual))
	raw = append(raw, x.GlobalTxnID...)
	raw = append(raw, x.BranchQual...)
	data = "0x" + strings.ToUpper(hex.EncodeToString(raw))
	return
}
