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
	"reflect"
	"testing"
)

func TestPageSetMembership(t *testing.T) {
	ps := PageSetOf(3, 1, 4, 1, 5)
	if ps.Len() != 4 {
		t.Fatalf("expected 4 distinct members, got %d", ps.Len())
	}
	for _, idx := range []PageIdx{1, 3, 4, 5} {
		if !ps.Contains(idx) {
			t.Errorf("expected set to contain %d", idx)
		}
	}
	if ps.Contains(2) {
		t.Error("did not expect set to contain 2")
	}
}

func TestPageSetEachIsAscending(t *testing.T) {
	ps := PageSetOf(9, 2, 7, 1)
	var got []PageIdx
	ps.Each(func(idx PageIdx) { got = append(got, idx) })
	want := []PageIdx{1, 2, 7, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPageSetMarshalRoundTrip(t *testing.T) {
	ps := PageSetOf(1, 100, 1000)
	data, err := ps.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var out PageSet
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !reflect.DeepEqual(out.ToSlice(), ps.ToSlice()) {
		t.Fatalf("round trip mismatch: got %v, want %v", out.ToSlice(), ps.ToSlice())
	}
}

func TestPageCountContains(t *testing.T) {
	c := PageCount(5)
	if c.Contains(0) {
		t.Error("page index 0 is never valid")
	}
	if !c.Contains(1) || !c.Contains(5) {
		t.Error("expected [1, 5] to be contained")
	}
	if c.Contains(6) {
		t.Error("did not expect 6 to be contained")
	}
}

func TestPageEmptyAndFromBytes(t *testing.T) {
	if !EmptyPage.IsEmpty() {
		t.Fatal("EmptyPage should report IsEmpty")
	}
	buf := make([]byte, PageSize)
	buf[10] = 0x42
	p, err := PageFromBytes(buf)
	if err != nil {
		t.Fatalf("PageFromBytes: %v", err)
	}
	if p.IsEmpty() {
		t.Fatal("page with a non-zero byte should not be empty")
	}
	if _, err := PageFromBytes(buf[:10]); err == nil {
		t.Fatal("expected an error for a short byte slice")
	}
}
