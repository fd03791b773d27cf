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

package rt

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/orbitinghail/graft"
	"github.com/orbitinghail/graft/commithash"
	"github.com/orbitinghail/graft/segment"
	"github.com/orbitinghail/graft/snapshot"
)

// Volume is a caller's handle onto one Graft Volume (spec §6). All
// methods are safe for concurrent use.
type Volume struct {
	rt *Runtime
	id graft.VolumeId

	mu    sync.Mutex
	state graft.Volume

	syncing  atomic.Bool
	diverged atomic.Bool
}

// Id returns this Volume's identifier.
func (v *Volume) Id() graft.VolumeId { return v.id }

// Reader returns a read-only Snapshot-backed view as of the current local
// state (spec §6 "reader(vid)", spec §4.4 snapshot composition). It finds
// the latest local LSN and the most recent local checkpoint at or before
// it; if one exists, the Snapshot is a single local layer running from
// that checkpoint through the latest LSN. Otherwise the local layer runs
// from the Volume's sync watermark (pages below it are already covered
// by the remote layer) through the latest local LSN, and — if the Volume
// has ever synced — a second layer covers the remote log from its own
// latest checkpoint through the synced remote LSN.
func (v *Volume) Reader(ctx context.Context) (*Reader, error) {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	localLatest, hasLocal, err := v.rt.store.LatestLSN(state.Local)
	if err != nil {
		return nil, err
	}

	pageCount, err := v.pageCountAt(state.Local, localLatest, hasLocal)
	if err != nil {
		return nil, err
	}

	var layers []snapshot.Layer
	localSource := localCommitSource{v.rt.store}

	if hasLocal {
		if cp, ok, err := v.rt.store.LatestCheckpointLE(state.Local, localLatest); err != nil {
			return nil, err
		} else if ok {
			layers = append(layers, snapshot.Layer{
				Log: state.Local, FromLSN: localLatest, ToLSN: cp, Source: localSource,
			})
			return &Reader{rt: v.rt, snap: snapshot.New(pageCount, layers...)}, nil
		}

		from := graft.FirstLSN
		if state.HasSync && state.Sync.HasWatermark {
			from = state.Sync.LocalWatermark.Next()
		}
		layers = append(layers, snapshot.Layer{
			Log: state.Local, FromLSN: localLatest, ToLSN: from, Source: localSource,
		})
	}

	if state.HasSync {
		remoteCp, hasRemoteCp, err := v.rt.store.LatestCheckpointLE(state.Remote, state.Sync.RemoteLSN)
		if err != nil {
			return nil, err
		}
		remoteFrom := graft.FirstLSN
		if hasRemoteCp {
			remoteFrom = remoteCp
		}
		layers = append(layers, snapshot.Layer{
			Log: state.Remote, FromLSN: state.Sync.RemoteLSN, ToLSN: remoteFrom, Source: localSource,
		})
		if !hasLocal {
			remoteCount, err := v.pageCountAt(state.Remote, state.Sync.RemoteLSN, true)
			if err != nil {
				return nil, err
			}
			pageCount = remoteCount
		}
	}

	return &Reader{rt: v.rt, snap: snapshot.New(pageCount, layers...)}, nil
}

// pageCountAt returns the PageCount as of lsn, per the newest commit's
// PageCount field (a later commit's PageCount always reflects truncation,
// spec §4.5).
func (v *Volume) pageCountAt(logId graft.LogId, lsn graft.LSN, hasAny bool) (graft.PageCount, error) {
	if !hasAny {
		return 0, nil
	}
	commit, ok, err := v.rt.store.GetCommit(logId, lsn)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return commit.PageCount, nil
}

// Writer accumulates page writes and a possible truncation into a single
// pending commit (spec §6 "writer(vid)", spec §4.5 "Volume writer and
// local commit"). It captures a base Snapshot at creation: read_page
// falls back to it for pages not dirtied by this Writer, and commit()
// fails with VolumeConcurrentWrite if the Volume's local log has moved
// past it by the time commit runs.
type Writer struct {
	v       *Volume
	base    *Reader
	baseLSN graft.LSN

	mu        sync.Mutex
	pages     map[graft.PageIdx]graft.Page
	truncate  bool
	pageCount graft.PageCount
}

// Writer returns a fresh Writer over v, capturing the Volume's current
// Snapshot as its base (spec §6 "writer(vid)").
func (v *Volume) Writer(ctx context.Context) (*Writer, error) {
	base, err := v.Reader(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	localLog := v.state.Local
	v.mu.Unlock()

	baseLSN, _, err := v.rt.store.LatestLSN(localLog)
	if err != nil {
		return nil, err
	}

	return &Writer{v: v, base: base, baseLSN: baseLSN, pages: make(map[graft.PageIdx]graft.Page), pageCount: base.PageCount()}, nil
}

// WritePage stages a page write (spec §6 "write_page").
func (w *Writer) WritePage(idx graft.PageIdx, page graft.Page) error {
	if !idx.IsValid() {
		return graft.NewError(graft.KindStorageCorruption, "page index 0 is reserved")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pages[idx] = page
	needed := graft.PageCount(idx)
	if needed > w.pageCount {
		w.pageCount = needed
	}
	return nil
}

// ReadPage returns a page dirtied by this Writer if present, else falls
// back to the base Snapshot (spec §4.5 "read_page(pageidx) returns a
// dirty page if present, else the base-snapshot read").
func (w *Writer) ReadPage(ctx context.Context, idx graft.PageIdx) (graft.Page, error) {
	w.mu.Lock()
	page, dirty := w.pages[idx]
	truncated := !w.pageCount.Contains(idx)
	w.mu.Unlock()

	if truncated {
		return graft.EmptyPage, nil
	}
	if dirty {
		return page, nil
	}
	return w.base.ReadPage(ctx, idx)
}

// Truncate stages a truncation to newCount pages (spec §6 "truncate").
// Pages beyond newCount are dropped from this write's pending set.
func (w *Writer) Truncate(newCount graft.PageCount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.truncate = true
	w.pageCount = newCount
	for idx := range w.pages {
		if !newCount.Contains(idx) {
			delete(w.pages, idx)
		}
	}
}

// Commit builds a segment from every staged page, computes its
// commit-hash, and appends it to the local log as the next LSN (spec §6
// "commit", spec §4.5 "local commit"). It fails with
// VolumeConcurrentWrite if another Writer has committed to this Volume's
// local log since this Writer's base Snapshot was taken. On success it
// returns a Reader pinned to the new commit.
func (w *Writer) Commit(ctx context.Context) (*Reader, error) {
	w.mu.Lock()
	pages := w.pages
	pageCount := w.pageCount
	w.mu.Unlock()

	v := w.v
	v.mu.Lock()
	localLog := v.state.Local
	v.mu.Unlock()

	_, err := v.rt.store.CommitLocal(localLog, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
		prevLSN, hasPrev, err := v.rt.store.LatestLSN(localLog)
		if err != nil {
			return graft.Commit{}, nil, err
		}
		currentBase := graft.LSN(0)
		if hasPrev {
			currentBase = prevLSN
		}
		if currentBase != w.baseLSN {
			return graft.Commit{}, nil, graft.NewError(graft.KindVolumeConcurrentWrite, "local log advanced past this writer's base snapshot")
		}

		commit := graft.Commit{PageCount: pageCount}

		if len(pages) > 0 {
			sid := graft.NewSegmentId()
			builder := segment.NewBuilder()
			idxs := sortedPageIdxs(pages)
			for _, idx := range idxs {
				if err := builder.Push(idx, pages[idx]); err != nil {
					return graft.Commit{}, nil, err
				}
			}
			// Local commits never touch the remote store: the segment built
			// here stays local (cached in the pages keyspace via the
			// AppendCommit batch) until a push re-segments pending local
			// commits for upload (see sync.go planPush/buildSegment).
			frames, _, err := builder.Finish()
			if err != nil {
				return graft.Commit{}, nil, err
			}

			ps := graft.PageSetOf(idxs...)
			commit.HasSegment = true
			commit.Segment = graft.SegmentIdx{SegmentId: sid, Pages: ps, Frames: frames}

			hb := commithash.New()
			for _, idx := range idxs {
				hb.AddPage(idx, pages[idx])
			}
			commit.CommitHash = hb.Finish(v.id, next, pageCount)

			if graft.PageCount(commit.Segment.Pages.Len()) == pageCount {
				commit.Checkpoints = []graft.LSN{next}
			}
		}

		return commit, pages, nil
	})
	if err != nil {
		return nil, err
	}

	return v.Reader(ctx)
}

func sortedPageIdxs(pages map[graft.PageIdx]graft.Page) []graft.PageIdx {
	out := make([]graft.PageIdx, 0, len(pages))
	for idx := range pages {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func joinChunks(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Status reports the Volume's current sync classification (spec §6
// "status(vid)"). SyncNeedsRecovery means a push crashed between Put
// commit and Finalize and Push/Pull haven't been called since to resolve
// it (see sync.go recover); SyncPrepared means there are committed local
// changes not yet reflected in any pending or finalized remote commit.
func (v *Volume) Status() graft.Status {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	st := graft.Status{Local: state.Local, Remote: state.Remote, Sync: state.Sync}

	switch {
	case v.diverged.Load():
		st.State = graft.SyncDiverged
	case state.HasPending:
		st.State = graft.SyncNeedsRecovery
	default:
		from := graft.FirstLSN
		if state.HasSync && state.Sync.HasWatermark {
			from = state.Sync.LocalWatermark.Next()
		}
		if latest, ok, err := v.rt.store.LatestLSN(state.Local); err == nil && ok && latest >= from {
			st.State = graft.SyncPrepared
		} else {
			st.State = graft.SyncIdle
		}
	}
	return st
}

// localCommitSource adapts local.Store to snapshot.CommitSource.
type localCommitSource struct {
	store interface {
		WalkCommitsDesc(logId graft.LogId, fromLSN, lowerBound graft.LSN, fn func(lsn graft.LSN, commit graft.Commit) (bool, error)) error
	}
}

func (s localCommitSource) WalkCommitsDesc(ctx context.Context, logId graft.LogId, fromLSN, lowerBound graft.LSN, fn func(lsn graft.LSN, commit graft.Commit) (bool, error)) error {
	return s.store.WalkCommitsDesc(logId, fromLSN, lowerBound, fn)
}
