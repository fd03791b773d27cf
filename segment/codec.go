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

// Package segment builds and decodes the container format that packs a
// sorted sequence of (PageIdx, Page) pairs into compressed zstd frames with
// an index of frame boundaries (spec §4.1).
package segment

import (
	"bytes"

	"github.com/klauspost/compress/zstd"

	"github.com/orbitinghail/graft"
)

// MaxPagesPerFrame bounds how many pages a single zstd frame may hold
// (spec §4.1/§6).
const MaxPagesPerFrame = 64

// Builder accumulates pages in strictly increasing PageIdx order and packs
// them into zstd frames of up to MaxPagesPerFrame pages each. Pages need
// not be contiguous: a builder fed indices 1 and 3 packs both into one
// frame.
type Builder struct {
	pending     bytes.Buffer
	pendingIdxs []graft.PageIdx
	lastIdx     graft.PageIdx
	haveLast    bool
	frames      []graft.FrameMeta
	chunks      [][]byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Push appends one page. idx must be strictly greater than the previous
// call's idx.
func (b *Builder) Push(idx graft.PageIdx, page graft.Page) error {
	if b.haveLast && idx <= b.lastIdx {
		return graft.NewError(graft.KindStorageCorruption, "segment builder requires strictly increasing page indices")
	}
	b.pending.Write(page.Bytes())
	b.pendingIdxs = append(b.pendingIdxs, idx)
	b.lastIdx = idx
	b.haveLast = true

	if len(b.pendingIdxs) >= MaxPagesPerFrame {
		if err := b.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) flush() error {
	if len(b.pendingIdxs) == 0 {
		return nil
	}
	chunk, err := compressFrame(b.pending.Bytes())
	if err != nil {
		return err
	}
	b.chunks = append(b.chunks, chunk)
	b.frames = append(b.frames, graft.FrameMeta{
		FrameSize: uint64(len(chunk)),
		PageIdxs:  b.pendingIdxs,
	})
	b.pending.Reset()
	b.pendingIdxs = nil
	return nil
}

// Finish flushes any partial frame and returns the frame index alongside
// the ordered list of opaque chunks whose concatenation is the segment
// body (spec §4.1).
func (b *Builder) Finish() ([]graft.FrameMeta, [][]byte, error) {
	if err := b.flush(); err != nil {
		return nil, nil, err
	}
	return b.frames, b.chunks, nil
}

var encoderOpts = []zstd.EOption{
	zstd.WithEncoderLevel(zstd.SpeedDefault), // level 3 equivalent
	zstd.WithEncoderCRC(true),                // content checksum on
}

func compressFrame(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, encoderOpts...)
	if err != nil {
		return nil, graft.WrapError(graft.KindStorageIO, err, "failed to create zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decompressFrame(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, graft.WrapError(graft.KindStorageIO, err, "failed to create zstd decoder")
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, graft.WrapError(graft.KindStorageCorruption, err, "failed to decompress segment frame")
	}
	return out, nil
}

// Locate returns the index into frames of the frame containing idx, the
// byte offset range of that frame within the segment body (the sum of
// earlier frames' FrameSize), and the frame's exact PageIdx list (as
// needed by DecodeFrame). ok is false if no frame in frames covers idx.
func Locate(frames []graft.FrameMeta, idx graft.PageIdx) (frameNo int, byteStart, byteEnd uint64, pageIdxs []graft.PageIdx, ok bool) {
	var offset uint64
	for i, fr := range frames {
		for _, pidx := range fr.PageIdxs {
			if pidx == idx {
				return i, offset, offset + fr.FrameSize, fr.PageIdxs, true
			}
		}
		offset += fr.FrameSize
	}
	return 0, 0, 0, nil, false
}

// DecodeFrame decompresses one frame's compressed bytes into its pages,
// keyed by PageIdx, using the frame's exact PageIdx list (as returned by
// Locate/FrameMeta.PageIdxs) rather than inferring a contiguous range -
// pages within a frame need not be contiguous.
func DecodeFrame(compressed []byte, pageIdxs []graft.PageIdx) (map[graft.PageIdx]graft.Page, error) {
	raw, err := decompressFrame(compressed)
	if err != nil {
		return nil, err
	}
	count := len(pageIdxs)
	if len(raw) != count*graft.PageSize {
		return nil, graft.NewError(graft.KindStorageCorruption, "decompressed frame has unexpected size")
	}
	out := make(map[graft.PageIdx]graft.Page, count)
	for i, idx := range pageIdxs {
		page, err := graft.PageFromBytes(raw[i*graft.PageSize : (i+1)*graft.PageSize])
		if err != nil {
			return nil, err
		}
		out[idx] = page
	}
	return out, nil
}
