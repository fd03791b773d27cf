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

import (
	"testing"

	"github.com/orbitinghail/graft"
)

func TestRangeRefAdjacent(t *testing.T) {
	sid := graft.NewSegmentId()
	a := RangeRef{SegmentId: sid, Start: 0, End: 100}
	b := RangeRef{SegmentId: sid, Start: 100, End: 200}
	if !a.Adjacent(b) || !b.Adjacent(a) {
		t.Fatal("expected byte-adjacent ranges in the same segment to be Adjacent")
	}

	c := RangeRef{SegmentId: graft.NewSegmentId(), Start: 100, End: 200}
	if a.Adjacent(c) {
		t.Fatal("did not expect ranges in different segments to be Adjacent")
	}

	d := RangeRef{SegmentId: sid, Start: 150, End: 250}
	if a.Adjacent(d) {
		t.Fatal("did not expect a gapped range to be Adjacent")
	}
}

func TestCoalesceAllMergesAdjacentAndOverlapping(t *testing.T) {
	sid := graft.NewSegmentId()
	ranges := []RangeRef{
		{SegmentId: sid, Start: 200, End: 300, Pages: graft.PageSetOf(3)},
		{SegmentId: sid, Start: 0, End: 100, Pages: graft.PageSetOf(1)},
		{SegmentId: sid, Start: 90, End: 200, Pages: graft.PageSetOf(2)},
	}

	merged := CoalesceAll(ranges)
	if len(merged) != 1 {
		t.Fatalf("expected one merged range, got %d: %+v", len(merged), merged)
	}
	if merged[0].Start != 0 || merged[0].End != 300 {
		t.Fatalf("merged span: got [%d, %d), want [0, 300)", merged[0].Start, merged[0].End)
	}
	if merged[0].Pages.Len() != 3 {
		t.Fatalf("expected the union to contain 3 pages, got %d", merged[0].Pages.Len())
	}
}

func TestCoalesceAllKeepsDisjointSpansSeparate(t *testing.T) {
	sid := graft.NewSegmentId()
	ranges := []RangeRef{
		{SegmentId: sid, Start: 0, End: 50},
		{SegmentId: sid, Start: 100, End: 150},
	}
	merged := CoalesceAll(ranges)
	if len(merged) != 2 {
		t.Fatalf("expected disjoint spans to stay separate, got %d", len(merged))
	}
}

func TestCoalesceAllKeepsSegmentsSeparate(t *testing.T) {
	ranges := []RangeRef{
		{SegmentId: graft.NewSegmentId(), Start: 0, End: 100},
		{SegmentId: graft.NewSegmentId(), Start: 0, End: 100},
	}
	merged := CoalesceAll(ranges)
	if len(merged) != 2 {
		t.Fatalf("expected ranges from different segments to never merge, got %d", len(merged))
	}
}

func TestCoalesceAllEmpty(t *testing.T) {
	if got := CoalesceAll(nil); got != nil {
		t.Fatalf("expected nil for no input ranges, got %v", got)
	}
}
