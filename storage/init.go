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
package storage

import "github.com/launix-de/memcp-xa/scm"

// InitEngine wires up the parts of the storage package an embedder needs
// regardless of which schema persistence model is in play: settings,
// the tx_begin/tx_commit/... builtins, and loading whatever schemas
// already exist under Basepath. It supersedes storage.go's own Init,
// which still targets the pre-persistence-engine schema layer and a
// Scmer representation this package no longer uses (see DESIGN.md).
func InitEngine(en scm.Env) {
	InitSettings()
	initTransaction(en)
	LoadDatabases()
}
