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
	"errors"

	"github.com/docker/go-units"

	"github.com/orbitinghail/graft"
	"github.com/orbitinghail/graft/commithash"
	"github.com/orbitinghail/graft/segment"
)

// Push reconciles every local commit since the last successful push into
// one new remote commit (spec §4.7.1): Recover -> Plan -> Build segment ->
// Upload segment -> Prepare -> Put commit -> Finalize.
func (v *Volume) Push(ctx context.Context) error {
	if err := v.recover(ctx); err != nil {
		return err
	}

	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	from := graft.FirstLSN
	if state.HasSync && state.Sync.HasWatermark {
		from = state.Sync.LocalWatermark.Next()
	}

	latest, hasLatest, err := v.rt.store.LatestLSN(state.Local)
	if err != nil {
		return err
	}
	if !hasLatest || latest < from {
		return nil // nothing new to push
	}

	pages, pageCount, checkpoints, err := v.planPush(state.Local, from, latest)
	if err != nil {
		return err
	}

	nextRemote := graft.FirstLSN
	if state.HasSync {
		nextRemote = state.Sync.RemoteLSN.Next()
	}

	var commit graft.Commit
	commit.PageCount = pageCount
	commit.Checkpoints = checkpoints

	if len(pages) > 0 {
		sid := graft.NewSegmentId()
		frames, body, err := buildSegment(pages)
		if err != nil {
			return err
		}
		if err := v.rt.remote.PutSegment(ctx, sid, body); err != nil {
			return err
		}
		ps := graft.NewPageSet()
		for idx := range pages {
			ps.Add(idx)
		}
		commit.HasSegment = true
		commit.Segment = graft.SegmentIdx{SegmentId: sid, Pages: ps, Frames: frames}

		hb := commithash.New()
		for idx, page := range pages {
			hb.AddPage(idx, page)
		}
		// Hash over the commit's logical identity LSN - the remote slot it
		// is landing at - not the local LSN that produced it, so two
		// runtimes independently producing the same logical commit at the
		// same remote slot derive the same hash (spec §4.2).
		commit.CommitHash = hb.Finish(state.Id, nextRemote, pageCount)
	}

	state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		existing.HasPending = true
		existing.Pending = graft.PendingCommit{Local: latest, Commit: nextRemote, CommitHash: commit.CommitHash}
		return existing, nil
	})
	if err != nil {
		return err
	}
	v.setState(state)

	if err := v.rt.remote.PutCommit(ctx, state.Remote, nextRemote, commit); err != nil {
		if errors.Is(err, graft.ErrKind(graft.KindRemotePreconditionFailed)) {
			v.rt.log.Warn("push: remote rejected commit, another writer raced us", "volume", v.id.String(), "lsn", nextRemote)
		}
		return err
	}

	// Finalize: index the just-pushed commit into the local copy of the
	// remote log so Readers can see it immediately, without waiting on a
	// Pull round trip.
	if err := v.rt.store.AppendCommit(state.Remote, nextRemote, commit, nil); err != nil {
		return err
	}

	state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		existing.HasSync = true
		existing.Sync.RemoteLSN = nextRemote
		existing.Sync.HasWatermark = true
		existing.Sync.LocalWatermark = latest
		existing.HasPending = false
		return existing, nil
	})
	if err != nil {
		return err
	}
	v.setState(state)

	if commit.HasSegment {
		v.rt.log.Info("push: committed", "volume", v.id.String(), "lsn", nextRemote,
			"pages", commit.Segment.Pages.Len(), "bytes", units.BytesSize(float64(pageCount)*graft.PageSize))
	}
	return nil
}

// recover checks for a pending push left over from a crash between Put
// commit and Finalize (spec §4.7.2): if the remote object landed, finalize
// it; otherwise clear the stale pending marker so Push starts fresh.
func (v *Volume) recover(ctx context.Context) error {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	if !state.HasPending {
		return nil
	}

	remoteCommit, err := v.rt.remote.GetCommit(ctx, state.Remote, state.Pending.Commit)
	if err != nil {
		if errors.Is(err, graft.ErrKind(graft.KindRemoteNotFound)) {
			state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
				existing.HasPending = false
				return existing, nil
			})
			if err != nil {
				return err
			}
			v.setState(state)
			return nil
		}
		return err
	}

	if remoteCommit.CommitHash != state.Pending.CommitHash {
		state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
			existing.HasPending = false
			return existing, nil
		})
		if err != nil {
			return err
		}
		v.setState(state)
		v.diverged.Store(true)
		return graft.NewError(graft.KindVolumeDiverged, "pending commit hash does not match the remote object at its LSN")
	}

	// Finalize, as Push does: index the landed commit into the local copy
	// of the remote log before advancing the sync state past it.
	if err := v.rt.store.AppendCommit(state.Remote, state.Pending.Commit, remoteCommit, nil); err != nil {
		return err
	}

	state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		existing.HasSync = true
		existing.Sync.RemoteLSN = state.Pending.Commit
		existing.Sync.HasWatermark = true
		existing.Sync.LocalWatermark = state.Pending.Local
		existing.HasPending = false
		return existing, nil
	})
	if err != nil {
		return err
	}
	v.setState(state)
	return nil
}

// planPush reads back every pending local commit and its pages, returning
// the merged page set to re-segment, the page count as of the newest
// commit, and any checkpoint LSNs in range (spec §4.7.1 "Plan").
func (v *Volume) planPush(localLog graft.LogId, from, to graft.LSN) (map[graft.PageIdx]graft.Page, graft.PageCount, []graft.LSN, error) {
	pages := make(map[graft.PageIdx]graft.Page)
	var pageCount graft.PageCount
	var checkpoints []graft.LSN

	err := v.rt.store.WalkCommitsDesc(localLog, to, from, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
		if lsn == to {
			pageCount = commit.PageCount
		}
		for _, cp := range commit.Checkpoints {
			checkpoints = append(checkpoints, cp)
		}
		if commit.HasSegment {
			commit.Segment.Pages.Each(func(idx graft.PageIdx) {
				if _, already := pages[idx]; already {
					return // a newer commit already supplied this page
				}
				page, ok, err := v.rt.store.GetPage(commit.Segment.SegmentId, idx)
				if err == nil && ok {
					pages[idx] = page
				}
			})
		}
		return true, nil
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return pages, pageCount, checkpoints, nil
}

func buildSegment(pages map[graft.PageIdx]graft.Page) ([]graft.FrameMeta, []byte, error) {
	idxs := sortedPageIdxs(pages)
	builder := segment.NewBuilder()
	for _, idx := range idxs {
		if err := builder.Push(idx, pages[idx]); err != nil {
			return nil, nil, err
		}
	}
	frames, chunks, err := builder.Finish()
	if err != nil {
		return nil, nil, err
	}
	return frames, joinChunks(chunks), nil
}

// Pull fetches every remote commit past the last known RemoteLSN and
// indexes them locally under the Volume's remote log (spec §6 "pull",
// spec §4.7 "FetchLog"), so readers can layer the remote log beneath the
// local one. It also resolves any pending push left over from a prior
// crash (spec §6 "pull ... recover pending (if any), advance local
// watermark"), so a caller that only ever pulls (never explicitly
// pushes) still converges a stuck pending commit.
func (v *Volume) Pull(ctx context.Context) error {
	if err := v.recover(ctx); err != nil {
		return err
	}

	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	from := graft.FirstLSN
	if state.HasSync {
		from = state.Sync.RemoteLSN.Next()
	}

	refs, err := v.rt.remote.StreamCommitsOrdered(ctx, state.Remote, from, graft.LSN(^uint64(0)))
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	for _, ref := range refs {
		if err := v.rt.store.AppendCommit(state.Remote, ref.LSN, ref.Commit, nil); err != nil {
			return err
		}
	}

	latest := refs[len(refs)-1].LSN
	state, err = v.rt.store.MutateVolume(v.id, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		existing.HasSync = true
		existing.Sync.RemoteLSN = latest
		return existing, nil
	})
	if err != nil {
		return err
	}
	v.setState(state)
	return nil
}

func (v *Volume) setState(state graft.Volume) {
	v.mu.Lock()
	v.state = state
	v.mu.Unlock()
}
