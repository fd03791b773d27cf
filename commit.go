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
	"bytes"
	"encoding/binary"
	"io"
)

// FrameMeta records one zstd frame's place within a segment's byte body
// (spec §4.1): the frame's byte size, so a reader can compute its byte
// range by scanning forward from the start, and the exact, in-order list
// of PageIdx values it carries. PageIdxs is stored explicitly rather than
// inferred from a first/last range because neither a frame's own pages
// nor the gap between one frame and the next are guaranteed contiguous -
// a commit that writes pages 1 and 3 but not 2 still packs both into one
// frame.
type FrameMeta struct {
	FrameSize uint64
	PageIdxs  []PageIdx
}

// LastPageIdx returns the highest PageIdx this frame carries, or zero if
// the frame is empty.
func (f FrameMeta) LastPageIdx() PageIdx {
	if len(f.PageIdxs) == 0 {
		return 0
	}
	return f.PageIdxs[len(f.PageIdxs)-1]
}

// SegmentIdx is the decoded index of a Segment: which pages it carries and
// where their compressed frames live (spec §3).
type SegmentIdx struct {
	SegmentId SegmentId
	Pages     PageSet
	Frames    []FrameMeta
}

// CommitHash is the order-independent rollup described in spec §4.2.
type CommitHash [16]byte

func (h CommitHash) IsZero() bool {
	return h == CommitHash{}
}

// Commit is an immutable record of one atomic step in a Log (spec §3/§4.2).
// The (LogId, LSN) identity is carried by the storage key the Commit is
// filed under, not by the Commit value itself.
type Commit struct {
	PageCount   PageCount
	CommitHash  CommitHash // zero value means "absent"; local commits may omit it
	HasSegment  bool
	Segment     SegmentIdx // only meaningful when HasSegment is true
	Checkpoints []LSN      // LSNs (including possibly this commit's own) treated as checkpoints
}

// IsCheckpoint reports whether lsn (this commit's own LSN) appears in its
// own Checkpoints list (spec §4.2).
func (c Commit) IsCheckpoint(lsn LSN) bool {
	for _, cp := range c.Checkpoints {
		if cp == lsn {
			return true
		}
	}
	return false
}

// Wire encoding: a flat sequence of (tag uvarint, length uvarint, value
// bytes) records, the length-delimited tagged format spec §6 calls for.
// Unknown tags are skipped, not rejected, so the format can grow new fields
// without breaking old readers (spec §9, Open Question on reserved tags).
const (
	tagPageCount   = 1
	tagCommitHash  = 2
	tagSegmentId   = 3
	tagSegmentSet  = 4
	tagSegmentFrm  = 5
	tagCheckpoints = 6
	// tagReserved7 is intentionally unused: reserved for a future field so
	// that old decoders (which ignore unknown tags) degrade gracefully if a
	// newer writer starts emitting it.
)

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putField(buf *bytes.Buffer, tag uint64, value []byte) {
	putUvarint(buf, tag)
	putUvarint(buf, uint64(len(value)))
	buf.Write(value)
}

// Encode serializes the Commit using the tagged length-delimited format.
func (c Commit) Encode() []byte {
	var buf bytes.Buffer

	var pc [4]byte
	binary.BigEndian.PutUint32(pc[:], uint32(c.PageCount))
	putField(&buf, tagPageCount, pc[:])

	if !c.CommitHash.IsZero() {
		putField(&buf, tagCommitHash, c.CommitHash[:])
	}

	if c.HasSegment {
		putField(&buf, tagSegmentId, c.Segment.SegmentId.Bytes())

		setBytes, _ := c.Segment.Pages.MarshalBinary()
		putField(&buf, tagSegmentSet, setBytes)

		var frames bytes.Buffer
		putUvarint(&frames, uint64(len(c.Segment.Frames)))
		for _, fr := range c.Segment.Frames {
			putUvarint(&frames, fr.FrameSize)
			putUvarint(&frames, uint64(len(fr.PageIdxs)))
			for _, idx := range fr.PageIdxs {
				putUvarint(&frames, uint64(idx))
			}
		}
		putField(&buf, tagSegmentFrm, frames.Bytes())
	}

	if len(c.Checkpoints) > 0 {
		var cps bytes.Buffer
		putUvarint(&cps, uint64(len(c.Checkpoints)))
		for _, lsn := range c.Checkpoints {
			putUvarint(&cps, uint64(lsn))
		}
		putField(&buf, tagCheckpoints, cps.Bytes())
	}

	return buf.Bytes()
}

// DecodeCommit parses the format produced by Commit.Encode. Unknown tags
// are skipped so that older binaries can read newer records.
func DecodeCommit(data []byte) (Commit, error) {
	var c Commit
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		tag, err := binary.ReadUvarint(r)
		if err != nil {
			return Commit{}, WrapError(KindStorageCorruption, err, "truncated commit tag")
		}
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return Commit{}, WrapError(KindStorageCorruption, err, "truncated commit length")
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(r, value); err != nil {
			return Commit{}, WrapError(KindStorageCorruption, err, "truncated commit value")
		}

		switch tag {
		case tagPageCount:
			if len(value) != 4 {
				return Commit{}, NewError(KindStorageCorruption, "bad page_count field")
			}
			c.PageCount = PageCount(binary.BigEndian.Uint32(value))
		case tagCommitHash:
			if len(value) != 16 {
				return Commit{}, NewError(KindStorageCorruption, "bad commit_hash field")
			}
			copy(c.CommitHash[:], value)
		case tagSegmentId:
			if len(value) != GIDSize {
				return Commit{}, NewError(KindStorageCorruption, "bad segment_id field")
			}
			var g GID
			copy(g[:], value)
			c.HasSegment = true
			c.Segment.SegmentId = SegmentId(g)
		case tagSegmentSet:
			if err := c.Segment.Pages.UnmarshalBinary(value); err != nil {
				return Commit{}, err
			}
			c.HasSegment = true
		case tagSegmentFrm:
			fr := bytes.NewReader(value)
			n, err := binary.ReadUvarint(fr)
			if err != nil {
				return Commit{}, WrapError(KindStorageCorruption, err, "bad frame list")
			}
			frames := make([]FrameMeta, 0, n)
			for i := uint64(0); i < n; i++ {
				size, err := binary.ReadUvarint(fr)
				if err != nil {
					return Commit{}, WrapError(KindStorageCorruption, err, "bad frame entry")
				}
				pageN, err := binary.ReadUvarint(fr)
				if err != nil {
					return Commit{}, WrapError(KindStorageCorruption, err, "bad frame entry")
				}
				idxs := make([]PageIdx, 0, pageN)
				for j := uint64(0); j < pageN; j++ {
					idx, err := binary.ReadUvarint(fr)
					if err != nil {
						return Commit{}, WrapError(KindStorageCorruption, err, "bad frame entry")
					}
					idxs = append(idxs, PageIdx(idx))
				}
				frames = append(frames, FrameMeta{FrameSize: size, PageIdxs: idxs})
			}
			c.Segment.Frames = frames
			c.HasSegment = true
		case tagCheckpoints:
			cr := bytes.NewReader(value)
			n, err := binary.ReadUvarint(cr)
			if err != nil {
				return Commit{}, WrapError(KindStorageCorruption, err, "bad checkpoint list")
			}
			checkpoints := make([]LSN, 0, n)
			for i := uint64(0); i < n; i++ {
				lsn, err := binary.ReadUvarint(cr)
				if err != nil {
					return Commit{}, WrapError(KindStorageCorruption, err, "bad checkpoint entry")
				}
				checkpoints = append(checkpoints, LSN(lsn))
			}
			c.Checkpoints = checkpoints
		default:
			// unknown tag: ignore, per spec §9.
		}
	}

	return c, nil
}
