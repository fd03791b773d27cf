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

// Package snapshot implements the layered read path described in spec
// §4.4: a point-in-time view composed of a prefix of the remote log
// followed by a suffix of the local log, read newest-commit-first with
// fetch-on-miss against the segment store.
package snapshot

import (
	"context"

	"github.com/orbitinghail/graft"
)

// CommitSource reads back committed entries for a single log, newest
// first. Package rt implements it with a thin adapter over local.Store,
// which serves both the local log and the locally indexed copy of the
// remote log, so this package never imports local or remote.
type CommitSource interface {
	// WalkCommitsDesc visits commits for logId from fromLSN down to (and
	// including) lowerBound, newest first, stopping early if fn returns
	// false.
	WalkCommitsDesc(ctx context.Context, logId graft.LogId, fromLSN, lowerBound graft.LSN, fn func(lsn graft.LSN, commit graft.Commit) (bool, error)) error
}

// SegmentFetcher resolves page bytes for a located segment range,
// fetching from the object store on cache miss (spec §4.4 "fetch on
// miss"). Implemented by rt, which owns both the local page cache and the
// remote client.
type SegmentFetcher interface {
	FetchPage(ctx context.Context, seg graft.SegmentIdx, idx graft.PageIdx) (graft.Page, error)
}

// Layer identifies one contiguous run of a Snapshot: which log it reads
// from and the LSN window (inclusive on both ends) visible in that log.
type Layer struct {
	Log     graft.LogId
	FromLSN graft.LSN // newest visible LSN in this layer
	ToLSN   graft.LSN // oldest visible LSN in this layer (the layer's floor)
	Source  CommitSource
}

// Snapshot is a point-in-time, read-only view of a Volume: a remote layer
// (possibly absent) overlaid by a local layer (spec §4.4: "a prefix of the
// remote log plus a suffix of the local log").
type Snapshot struct {
	Layers    []Layer // ordered newest-layer-first; at most 2 in the current design (local, then remote)
	PageCount graft.PageCount
}

// New builds a Snapshot. layers must be ordered newest-first (local
// layer, if any, before the remote layer).
func New(pageCount graft.PageCount, layers ...Layer) Snapshot {
	return Snapshot{Layers: layers, PageCount: pageCount}
}

// ReadPage implements spec §4.4's read algorithm: walk layers newest
// first, and within each layer walk commits newest first, stopping as
// soon as a commit's own PageCount no longer covers idx (a later
// truncation shadows anything older, even across a subsequent extend
// that never rewrote idx), otherwise skipping commits with no segment or
// whose PageSet doesn't contain idx, until a commit that wrote idx is
// found. If no commit ever wrote it, the page is logically all-zero
// (spec §3, "pages never explicitly written read as all-zero").
func ReadPage(ctx context.Context, snap Snapshot, fetcher SegmentFetcher, idx graft.PageIdx) (graft.Page, error) {
	if !snap.PageCount.Contains(idx) {
		return graft.EmptyPage, nil
	}

	for _, layer := range snap.Layers {
		var found *graft.Page
		var truncated bool
		var walkErr error

		err := layer.Source.WalkCommitsDesc(ctx, layer.Log, layer.FromLSN, layer.ToLSN, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
			if !commit.PageCount.Contains(idx) {
				// A later commit shrank the volume past idx; any older
				// commit's content for idx - in this layer or any older
				// layer beneath it - is shadowed by that truncation (spec
				// §4.4 step 2), even if a subsequent commit grew the
				// volume back out without rewriting idx.
				truncated = true
				return false, nil
			}
			if !commit.HasSegment || !commit.Segment.Pages.Contains(idx) {
				return true, nil
			}
			page, err := fetcher.FetchPage(ctx, commit.Segment, idx)
			if err != nil {
				walkErr = err
				return false, err
			}
			found = &page
			return false, nil
		})
		if err != nil {
			return graft.Page{}, err
		}
		if walkErr != nil {
			return graft.Page{}, walkErr
		}
		if found != nil {
			return *found, nil
		}
		if truncated {
			return graft.EmptyPage, nil
		}
	}

	return graft.EmptyPage, nil
}

// FindMissingFrames scans every commit a read would visit across snap's
// layers and returns the segment byte ranges that would need to be
// fetched to answer any read against it (spec §4.7 HydrateSnapshot): one
// Range per uncached page, so pages sharing a frame yield repeated
// ranges; they are not coalesced here. isCached reports whether a given
// segment+index pair is already available locally.
func FindMissingFrames(ctx context.Context, snap Snapshot, isCached func(sid graft.SegmentId, idx graft.PageIdx) bool, locate func(seg graft.SegmentIdx, idx graft.PageIdx) (start, end uint64, ok bool)) ([]Range, error) {
	var missing []Range

	for _, layer := range snap.Layers {
		err := layer.Source.WalkCommitsDesc(ctx, layer.Log, layer.FromLSN, layer.ToLSN, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
			if !commit.HasSegment {
				return true, nil
			}
			commit.Segment.Pages.Each(func(idx graft.PageIdx) {
				if isCached(commit.Segment.SegmentId, idx) {
					return
				}
				start, end, ok := locate(commit.Segment, idx)
				if !ok {
					return
				}
				missing = append(missing, Range{SegmentId: commit.Segment.SegmentId, Start: start, End: end})
			})
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}

	return missing, nil
}

// Range is a segment byte span awaiting fetch, kept free of a dependency
// on package segment's RangeRef so snapshot has no sibling-package import
// beyond the root types; callers convert as needed.
type Range struct {
	SegmentId graft.SegmentId
	Start     uint64
	End       uint64
}
