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
package segment

import "github.com/orbitinghail/graft"

// RangeRef identifies a contiguous byte span of a single segment's body
// that a fetcher should retrieve with one ranged read, along with the set
// of pages that span is expected to satisfy (spec §4.1, Testable Property
// 4: adjacent ranges over the same segment must be coalescible).
type RangeRef struct {
	SegmentId graft.SegmentId
	Start     uint64 // inclusive
	End       uint64 // exclusive
	Pages     graft.PageSet
}

// Adjacent reports whether r and other describe byte-adjacent spans of the
// same segment (either order).
func (r RangeRef) Adjacent(other RangeRef) bool {
	if r.SegmentId != other.SegmentId {
		return false
	}
	return r.End == other.Start || other.End == r.Start
}

// Coalesce merges r and other into a single RangeRef spanning their union,
// provided they are Adjacent (or overlapping) over the same segment. The
// caller must check Adjacent (or that the ranges overlap) first.
func Coalesce(r, other RangeRef) RangeRef {
	start := r.Start
	if other.Start < start {
		start = other.Start
	}
	end := r.End
	if other.End > end {
		end = other.End
	}
	return RangeRef{
		SegmentId: r.SegmentId,
		Start:     start,
		End:       end,
		Pages:     r.Pages.Union(other.Pages),
	}
}

// CoalesceAll groups ranges by SegmentId (groups are emitted in the order
// their segment first appears), sorts each group by Start, and merges
// every run of adjacent-or-overlapping ranges within the same segment
// into the minimum number of RangeRefs, per spec §4.7 HydrateSnapshot.
func CoalesceAll(ranges []RangeRef) []RangeRef {
	if len(ranges) == 0 {
		return nil
	}

	bySeg := make(map[graft.SegmentId][]RangeRef)
	var order []graft.SegmentId
	for _, r := range ranges {
		if _, ok := bySeg[r.SegmentId]; !ok {
			order = append(order, r.SegmentId)
		}
		bySeg[r.SegmentId] = append(bySeg[r.SegmentId], r)
	}

	var out []RangeRef
	for _, sid := range order {
		rs := bySeg[sid]
		insertionSort(rs)

		merged := rs[0]
		for _, r := range rs[1:] {
			if r.Start <= merged.End {
				merged = Coalesce(merged, r)
			} else {
				out = append(out, merged)
				merged = r
			}
		}
		out = append(out, merged)
	}
	return out
}

func insertionSort(rs []RangeRef) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Start < rs[j-1].Start; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
