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

// Package commithash implements the order-independent commit-hash rollup
// described in spec §4.2: a cryptographic summary of a commit's logical
// content (which pages it introduces and what they contain) that two
// independently-produced, logically-identical commits will always agree
// on, regardless of the order pages were visited in while building it.
package commithash

import (
	"encoding/binary"
	"math/big"

	"github.com/zeebo/blake3"

	"github.com/orbitinghail/graft"
)

// Builder accumulates (PageIdx, Page) rows in any order and produces a
// CommitHash. Construct one with New; the zero value is not ready to use,
// since its 2^128 modulus is only set by New.
type Builder struct {
	xor   [16]byte
	sum   big.Int
	mod   big.Int
	count uint64
	bytes uint64
}

func New() *Builder {
	b := &Builder{}
	b.mod.Lsh(big.NewInt(1), 128)
	return b
}

// rowHash returns BLAKE3(pageidx_be || page) truncated to 128 bits.
func rowHash(idx graft.PageIdx, page graft.Page) [16]byte {
	h := blake3.New()
	var idxb [4]byte
	binary.BigEndian.PutUint32(idxb[:], uint32(idx))
	h.Write(idxb[:])
	h.Write(page.Bytes())
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// AddPage folds one page into the accumulator. Order and repetition do not
// matter for the final Finish result's XOR component, but the sum/count
// components make the overall rollup sensitive to multiset membership, not
// just the XOR (spec §4.2: "so two sets with the same XOR but different
// multiplicity remain distinguishable").
func (b *Builder) AddPage(idx graft.PageIdx, page graft.Page) {
	row := rowHash(idx, page)
	for i := range b.xor {
		b.xor[i] ^= row[i]
	}
	rowInt := new(big.Int).SetBytes(row[:])
	b.sum.Add(&b.sum, rowInt)
	b.sum.Mod(&b.sum, &b.mod)
	b.count++
	b.bytes += graft.PageSize
}

// Finish combines the accumulated rows with the commit's identity fields
// and returns the final CommitHash.
func (b *Builder) Finish(vid graft.VolumeId, lsn graft.LSN, pageCount graft.PageCount) graft.CommitHash {
	h := blake3.New()
	h.Write(vid.Bytes())

	var lsnb [8]byte
	binary.BigEndian.PutUint64(lsnb[:], uint64(lsn))
	h.Write(lsnb[:])

	var pcb [4]byte
	binary.BigEndian.PutUint32(pcb[:], uint32(pageCount))
	h.Write(pcb[:])

	h.Write(b.xor[:])

	sumBytes := b.sum.Bytes()
	var sumb [16]byte
	copy(sumb[16-len(sumBytes):], sumBytes)
	h.Write(sumb[:])

	var countb [8]byte
	binary.BigEndian.PutUint64(countb[:], b.count)
	h.Write(countb[:])

	var totalb [8]byte
	binary.BigEndian.PutUint64(totalb[:], b.bytes)
	h.Write(totalb[:])

	sum := h.Sum(nil)
	var out graft.CommitHash
	copy(out[:], sum[:16])
	return out
}

// Of is a convenience wrapper for hashing a fixed, already-known set of
// pages in one call.
func Of(vid graft.VolumeId, lsn graft.LSN, pageCount graft.PageCount, pages map[graft.PageIdx]graft.Page) graft.CommitHash {
	b := New()
	for idx, page := range pages {
		b.AddPage(idx, page)
	}
	return b.Finish(vid, lsn, pageCount)
}
