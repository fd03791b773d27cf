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

import "fmt"

// PageSize is the fixed size of every Page, in bytes (spec §3/§6).
const PageSize = 4096

// Page is an immutable 4096-byte block. Being a fixed-size array, it copies
// by value on assignment: there's no separate "reference-counted buffer"
// type to manage, Go's own value semantics give us the immutability the
// spec asks for directly.
type Page [PageSize]byte

// EmptyPage is the all-zero page returned for unwritten or truncated pages.
var EmptyPage = Page{}

// IsEmpty reports whether p is the all-zero page.
func (p Page) IsEmpty() bool {
	return p == EmptyPage
}

func (p Page) Bytes() []byte {
	return p[:]
}

// PageFromBytes copies b into a new Page. b must be exactly PageSize bytes.
func PageFromBytes(b []byte) (Page, error) {
	var p Page
	if len(b) != PageSize {
		return p, NewError(KindStorageCorruption, fmt.Sprintf("page must be %d bytes, got %d", PageSize, len(b)))
	}
	copy(p[:], b)
	return p, nil
}

// PageIdx is a 1-based page index. Zero is never a valid index.
type PageIdx uint32

// FirstPageIdx is the lowest valid PageIdx.
const FirstPageIdx PageIdx = 1

func (p PageIdx) IsValid() bool {
	return p >= FirstPageIdx
}

// PageCount is the number of pages in a Volume at some point in its history.
type PageCount uint32

// Contains reports whether idx falls within [FirstPageIdx, count].
func (c PageCount) Contains(idx PageIdx) bool {
	return idx >= FirstPageIdx && idx <= PageIdx(c)
}

// LastIdx returns the highest valid PageIdx for count pages, or zero when
// count is zero.
func (c PageCount) LastIdx() PageIdx {
	if c == 0 {
		return 0
	}
	return PageIdx(c)
}
