/*
Copyright (C) 2026  Graft Contributors

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

package rt

import (
	"context"

	"github.com/orbitinghail/graft"
	"github.com/orbitinghail/graft/snapshot"
)

// Reader is a point-in-time, read-only view of a Volume (spec §6
// "reader(vid)"). A Reader never observes writes made after it was
// created, even by the same caller.
type Reader struct {
	rt   *Runtime
	snap snapshot.Snapshot
}

// ReadPage returns the page at idx as of this Reader's snapshot (spec §6
// "read_page"). Indices beyond the snapshot's page count, or never
// written, return the all-zero page.
func (r *Reader) ReadPage(ctx context.Context, idx graft.PageIdx) (graft.Page, error) {
	return snapshot.ReadPage(ctx, r.snap, r.rt, idx)
}

// PageCount returns the Volume's page count as of this Reader's snapshot.
func (r *Reader) PageCount() graft.PageCount {
	return r.snap.PageCount
}
