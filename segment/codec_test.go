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
	"bytes"
	"testing"

	"github.com/orbitinghail/graft"
)

func testPage(b byte) graft.Page {
	buf := make([]byte, graft.PageSize)
	buf[0] = b
	p, err := graft.PageFromBytes(buf)
	if err != nil {
		panic(err)
	}
	return p
}

func TestBuilderSingleFrameRoundTrip(t *testing.T) {
	b := NewBuilder()
	for _, idx := range []graft.PageIdx{1, 2, 3} {
		if err := b.Push(idx, testPage(byte(idx))); err != nil {
			t.Fatalf("Push(%d): %v", idx, err)
		}
	}
	frames, chunks, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(frames) != 1 || len(chunks) != 1 {
		t.Fatalf("expected a single frame, got %d frames/%d chunks", len(frames), len(chunks))
	}
	if frames[0].LastPageIdx() != 3 {
		t.Fatalf("LastPageIdx: got %d, want 3", frames[0].LastPageIdx())
	}

	pages, err := DecodeFrame(chunks[0], frames[0].PageIdxs)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	for _, idx := range []graft.PageIdx{1, 2, 3} {
		if pages[idx].Bytes()[0] != byte(idx) {
			t.Errorf("page %d: unexpected content", idx)
		}
	}
}

func TestBuilderSplitsOnFrameLimit(t *testing.T) {
	b := NewBuilder()
	for i := 1; i <= MaxPagesPerFrame+1; i++ {
		if err := b.Push(graft.PageIdx(i), testPage(1)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	frames, chunks, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(frames) != 2 || len(chunks) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].LastPageIdx() != MaxPagesPerFrame {
		t.Errorf("first frame LastPageIdx: got %d, want %d", frames[0].LastPageIdx(), MaxPagesPerFrame)
	}
	if frames[1].LastPageIdx() != MaxPagesPerFrame+1 {
		t.Errorf("second frame LastPageIdx: got %d, want %d", frames[1].LastPageIdx(), MaxPagesPerFrame+1)
	}
}

func TestBuilderRejectsNonIncreasingIdx(t *testing.T) {
	b := NewBuilder()
	if err := b.Push(5, testPage(1)); err != nil {
		t.Fatalf("Push(5): %v", err)
	}
	if err := b.Push(5, testPage(1)); err == nil {
		t.Fatal("expected an error for a repeated page index")
	}
	if err := b.Push(3, testPage(1)); err == nil {
		t.Fatal("expected an error for a decreasing page index")
	}
}

func TestLocate(t *testing.T) {
	frames := []graft.FrameMeta{
		{FrameSize: 100, PageIdxs: []graft.PageIdx{1, 5, 10}},
		{FrameSize: 200, PageIdxs: []graft.PageIdx{15, 20}},
	}

	frameNo, start, end, pageIdxs, ok := Locate(frames, 15)
	if !ok || frameNo != 1 || start != 100 || end != 300 || len(pageIdxs) != 2 || pageIdxs[0] != 15 || pageIdxs[1] != 20 {
		t.Fatalf("Locate(15): got frameNo=%d start=%d end=%d pageIdxs=%v ok=%v",
			frameNo, start, end, pageIdxs, ok)
	}

	if _, _, _, _, ok := Locate(frames, 21); ok {
		t.Fatal("expected Locate to miss a page index not carried by any frame")
	}
	// 11 falls between the two frames' LastPageIdx but isn't stored by
	// either: Locate must not infer it belongs to the second frame just
	// because it's numerically below the frame's highest index.
	if _, _, _, _, ok := Locate(frames, 11); ok {
		t.Fatal("expected Locate to miss an index in the gap between stored indices")
	}
}

func TestLocateNonContiguousWithinOneFrame(t *testing.T) {
	b := NewBuilder()
	for _, idx := range []graft.PageIdx{1, 3, 7} {
		if err := b.Push(idx, testPage(byte(idx))); err != nil {
			t.Fatalf("Push(%d): %v", idx, err)
		}
	}
	frames, chunks, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected a single frame, got %d", len(frames))
	}

	for _, idx := range []graft.PageIdx{1, 3, 7} {
		frameNo, _, _, pageIdxs, ok := Locate(frames, idx)
		if !ok {
			t.Fatalf("Locate(%d): not found", idx)
		}
		pages, err := DecodeFrame(chunks[frameNo], pageIdxs)
		if err != nil {
			t.Fatalf("DecodeFrame for idx %d: %v", idx, err)
		}
		if pages[idx].Bytes()[0] != byte(idx) {
			t.Errorf("page %d: unexpected content", idx)
		}
	}

	if _, _, _, _, ok := Locate(frames, 2); ok {
		t.Fatal("expected Locate to miss page 2, which was never pushed")
	}
}

func TestDecodeFrameSizeMismatch(t *testing.T) {
	b := NewBuilder()
	_ = b.Push(1, testPage(1))
	_, chunks, _ := b.Finish()

	if _, err := DecodeFrame(chunks[0], []graft.PageIdx{1, 2}); err == nil {
		t.Fatal("expected an error when the claimed page list does not match the decompressed size")
	}
}

func TestCompressDecompressFrame(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, graft.PageSize*3)
	compressed, err := compressFrame(raw)
	if err != nil {
		t.Fatalf("compressFrame: %v", err)
	}
	out, err := decompressFrame(compressed)
	if err != nil {
		t.Fatalf("decompressFrame: %v", err)
	}
	if !bytes.Equal(raw, out) {
		t.Fatal("decompressed bytes did not match the original")
	}
}
