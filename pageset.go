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
package graft

import (
	"github.com/RoaringBitmap/roaring"
)

// PageSet is a compressed integer set over page indices (spec §3). The
// original graft-core crate uses its own splinter/splinter2 bitset; Go's
// closest ecosystem analogue is a Roaring bitmap, which gives the same
// "compressed set of u32s with fast union/contains" shape without us
// hand-rolling a bitset container.
type PageSet struct {
	bm *roaring.Bitmap
}

// NewPageSet returns an empty PageSet.
func NewPageSet() PageSet {
	return PageSet{bm: roaring.New()}
}

// PageSetOf builds a PageSet containing the given indices.
func PageSetOf(idxs ...PageIdx) PageSet {
	ps := NewPageSet()
	for _, idx := range idxs {
		ps.Add(idx)
	}
	return ps
}

func (ps *PageSet) ensure() {
	if ps.bm == nil {
		ps.bm = roaring.New()
	}
}

// Add inserts idx into the set.
func (ps *PageSet) Add(idx PageIdx) {
	ps.ensure()
	ps.bm.Add(uint32(idx))
}

// Contains reports whether idx is a member of the set.
func (ps PageSet) Contains(idx PageIdx) bool {
	if ps.bm == nil {
		return false
	}
	return ps.bm.Contains(uint32(idx))
}

// Len returns the number of members.
func (ps PageSet) Len() int {
	if ps.bm == nil {
		return 0
	}
	return int(ps.bm.GetCardinality())
}

// Union returns a new PageSet containing the members of both sets.
func (ps PageSet) Union(other PageSet) PageSet {
	out := NewPageSet()
	if ps.bm != nil {
		out.bm.Or(ps.bm)
	}
	if other.bm != nil {
		out.bm.Or(other.bm)
	}
	return out
}

// Each calls fn for every member in ascending order.
func (ps PageSet) Each(fn func(PageIdx)) {
	if ps.bm == nil {
		return
	}
	it := ps.bm.Iterator()
	for it.HasNext() {
		fn(PageIdx(it.Next()))
	}
}

// ToSlice materializes the set in ascending order.
func (ps PageSet) ToSlice() []PageIdx {
	out := make([]PageIdx, 0, ps.Len())
	ps.Each(func(idx PageIdx) {
		out = append(out, idx)
	})
	return out
}

// MarshalBinary produces the Roaring bitmap's own compressed serialization,
// used when a PageSet is persisted as part of a SegmentIdx.
func (ps PageSet) MarshalBinary() ([]byte, error) {
	if ps.bm == nil {
		return roaring.New().ToBytes()
	}
	return ps.bm.ToBytes()
}

// UnmarshalBinary restores a PageSet from MarshalBinary's output.
func (ps *PageSet) UnmarshalBinary(data []byte) error {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return WrapError(KindStorageCorruption, err, "corrupt page set")
	}
	ps.bm = bm
	return nil
}
