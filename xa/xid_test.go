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
	"encoding/binary"
	"strings"
	"testing"
)

func TestXIDEqual(t *testing.T) {
	a := XID{FormatID: 1, GlobalTxnID: []byte("g1"), BranchQual: []byte("b1")}
	b := XID{FormatID: 1, GlobalTxnID: []byte("g1"), BranchQual: []byte("b1")}
	c := XID{FormatID: 1, GlobalTxnID: []byte("g1"), BranchQual: []byte("b2")}
	if !a.Equal(b) {
		t.Error("identical xids should be equal")
	}
	if a.Equal(c) {
		t.Error("xids differing in bqual should not be equal")
	}
}

func TestXIDKeyDistinguishesGtridBqualSplit(t *testing.T) {
	// "ab"/"" and "a"/"b" must not collide just because concatenated
	// gtrid+bqual is the same bytes.
	x1 := XID{FormatID: 1, GlobalTxnID: []byte("ab"), BranchQual: []byte("")}
	x2 := XID{FormatID: 1, GlobalTxnID: []byte("a"), BranchQual: []byte("b")}
	if x1.Key() == x2.Key() {
		t.Error("Key() must distinguish gtrid/bqual split, not just concatenation")
	}
}

func TestMyXIDOwnership(t *testing.T) {
	identity := MyXID(42)

	var tagged [8]byte
	binary.BigEndian.PutUint64(tagged[:], 42)
	mine := XID{FormatID: 1, GlobalTxnID: append([]byte("g"), tagged[:]...)}
	if mine.IsForeign(identity) {
		t.Error("xid minted by this server should not be foreign")
	}

	var otherTag [8]byte
	binary.BigEndian.PutUint64(otherTag[:], 7)
	foreign := XID{FormatID: 1, GlobalTxnID: append([]byte("g"), otherTag[:]...)}
	if !foreign.IsForeign(identity) {
		t.Error("xid minted by a different server should be foreign")
	}

	short := XID{FormatID: 1, GlobalTxnID: []byte("short")}
	if !short.IsForeign(identity) {
		t.Error("xid too short to carry a server tag should be foreign")
	}
}

func TestIsPrintable(t *testing.T) {
	printable := XID{GlobalTxnID: []byte("hello"), BranchQual: []byte("world")}
	if !printable.IsPrintable() {
		t.Error("ascii-only xid should be printable")
	}
	unprintable := XID{GlobalTxnID: []byte{0x01, 0x02}, BranchQual: []byte("x")}
	if unprintable.IsPrintable() {
		t.Error("xid with control bytes should not be printable")
	}
}

func TestRecoverRowHexFallback(t *testing.T) {
	x := XID{FormatID: 3, GlobalTxnID: []byte{0x00, 0xFF}, BranchQual: []byte{0xAB}}
	formatID, gtridLen, bqualLen, data := x.RecoverRow()
	if formatID != 3 || gtridLen != 2 || bqualLen != 1 {
		t.Fatalf("unexpected lengths: %d %d %d", formatID, gtridLen, bqualLen)
	}
	if !strings.HasPrefix(data, "0x") {
		t.Errorf("non-printable xid data should be hex-encoded, got %q", data)
	}
}

func TestRecoverRowPrintable(t *testing.T) {
	x := XID{FormatID: 1, GlobalTxnID: []byte("gt"), BranchQual: []byte("bq")}
	_, _, _, data := x.RecoverRow()
	if data != "gtbq" {
		t.Errorf("printable xid data should be raw gtrid+bqual, got %q", data)
	}
}
