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
package local

import (
	"path/filepath"
	"testing"

	"github.com/orbitinghail/graft"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graft.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPage(b byte) graft.Page {
	buf := make([]byte, graft.PageSize)
	buf[0] = b
	p, err := graft.PageFromBytes(buf)
	if err != nil {
		panic(err)
	}
	return p
}

func TestTagRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.TagGet("main"); err != nil || ok {
		t.Fatalf("expected no tag yet, got ok=%v err=%v", ok, err)
	}

	vid := graft.NewVolumeId()
	if err := s.TagReplace("main", vid); err != nil {
		t.Fatalf("TagReplace: %v", err)
	}
	got, ok, err := s.TagGet("main")
	if err != nil || !ok || got != vid {
		t.Fatalf("TagGet: got %v ok=%v err=%v, want %v", got, ok, err, vid)
	}

	if err := s.TagDelete("main"); err != nil {
		t.Fatalf("TagDelete: %v", err)
	}
	if _, ok, _ := s.TagGet("main"); ok {
		t.Fatal("expected the tag to be gone after TagDelete")
	}
}

func TestMutateVolumeCreatesAndUpdates(t *testing.T) {
	s := openTestStore(t)
	vid := graft.NewVolumeId()

	got, err := s.MutateVolume(vid, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		if existed {
			t.Fatal("expected the volume not to exist yet")
		}
		return graft.Volume{Local: graft.NewLogId(), Remote: graft.NewLogId()}, nil
	})
	if err != nil {
		t.Fatalf("MutateVolume (create): %v", err)
	}
	if got.Id != vid {
		t.Fatalf("expected MutateVolume to stamp the volume id, got %v", got.Id)
	}

	local := got.Local
	got2, err := s.MutateVolume(vid, func(existing graft.Volume, existed bool) (graft.Volume, error) {
		if !existed || existing.Local != local {
			t.Fatalf("expected to see the previously stored state, got existed=%v local=%v", existed, existing.Local)
		}
		existing.HasSync = true
		return existing, nil
	})
	if err != nil {
		t.Fatalf("MutateVolume (update): %v", err)
	}
	if !got2.HasSync {
		t.Fatal("expected the update to stick")
	}

	stored, ok, err := s.GetVolume(vid)
	if err != nil || !ok || !stored.HasSync {
		t.Fatalf("GetVolume after update: got %+v ok=%v err=%v", stored, ok, err)
	}
}

func TestListVolumes(t *testing.T) {
	s := openTestStore(t)
	var want []graft.VolumeId
	for i := 0; i < 3; i++ {
		vid := graft.NewVolumeId()
		want = append(want, vid)
		if _, err := s.MutateVolume(vid, func(_ graft.Volume, _ bool) (graft.Volume, error) {
			return graft.Volume{Local: graft.NewLogId(), Remote: graft.NewLogId()}, nil
		}); err != nil {
			t.Fatalf("MutateVolume: %v", err)
		}
	}

	got, err := s.ListVolumes()
	if err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ListVolumes: got %d entries, want %d", len(got), len(want))
	}
}

func TestCommitLocalAssignsIncreasingLSNs(t *testing.T) {
	s := openTestStore(t)
	logId := graft.NewLogId()

	for i := 0; i < 3; i++ {
		lsn, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
			if next != graft.FirstLSN+graft.LSN(i) {
				t.Fatalf("expected next LSN %d, got %d", graft.FirstLSN+graft.LSN(i), next)
			}
			return graft.Commit{PageCount: 1}, nil, nil
		})
		if err != nil {
			t.Fatalf("CommitLocal: %v", err)
		}
		if lsn != graft.FirstLSN+graft.LSN(i) {
			t.Fatalf("CommitLocal returned %d, want %d", lsn, graft.FirstLSN+graft.LSN(i))
		}
	}

	latest, ok, err := s.LatestLSN(logId)
	if err != nil || !ok || latest != graft.FirstLSN+2 {
		t.Fatalf("LatestLSN: got %d ok=%v err=%v", latest, ok, err)
	}
}

func TestWalkCommitsDescOrderAndBound(t *testing.T) {
	s := openTestStore(t)
	logId := graft.NewLogId()

	for i := 0; i < 5; i++ {
		if _, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
			return graft.Commit{PageCount: graft.PageCount(next)}, nil, nil
		}); err != nil {
			t.Fatalf("CommitLocal: %v", err)
		}
	}

	var seen []graft.LSN
	err := s.WalkCommitsDesc(logId, graft.FirstLSN+4, graft.FirstLSN+2, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
		seen = append(seen, lsn)
		return true, nil
	})
	if err != nil {
		t.Fatalf("WalkCommitsDesc: %v", err)
	}
	want := []graft.LSN{graft.FirstLSN + 4, graft.FirstLSN + 3, graft.FirstLSN + 2}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestWalkCommitsDescStopsEarly(t *testing.T) {
	s := openTestStore(t)
	logId := graft.NewLogId()
	for i := 0; i < 3; i++ {
		if _, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
			return graft.Commit{PageCount: 1}, nil, nil
		}); err != nil {
			t.Fatalf("CommitLocal: %v", err)
		}
	}

	calls := 0
	err := s.WalkCommitsDesc(logId, graft.FirstLSN+2, graft.FirstLSN, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("WalkCommitsDesc: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the walk to stop after the first call, got %d calls", calls)
	}
}

func TestLatestCheckpointLE(t *testing.T) {
	s := openTestStore(t)
	logId := graft.NewLogId()

	if _, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
		return graft.Commit{PageCount: 1}, nil, nil
	}); err != nil {
		t.Fatalf("CommitLocal: %v", err)
	}
	if _, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
		return graft.Commit{PageCount: 1, Checkpoints: []graft.LSN{next}}, nil, nil
	}); err != nil {
		t.Fatalf("CommitLocal: %v", err)
	}
	if _, err := s.CommitLocal(logId, func(next graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error) {
		return graft.Commit{PageCount: 1}, nil, nil
	}); err != nil {
		t.Fatalf("CommitLocal: %v", err)
	}

	cp, ok, err := s.LatestCheckpointLE(logId, graft.FirstLSN+2)
	if err != nil || !ok || cp != graft.FirstLSN+1 {
		t.Fatalf("LatestCheckpointLE: got %d ok=%v err=%v, want %d", cp, ok, err, graft.FirstLSN+1)
	}

	if _, ok, err := s.LatestCheckpointLE(logId, graft.FirstLSN); err != nil || ok {
		t.Fatalf("expected no checkpoint at or below the first LSN, got ok=%v err=%v", ok, err)
	}
}

func TestAppendCommitCachesPages(t *testing.T) {
	s := openTestStore(t)
	logId := graft.NewLogId()
	sid := graft.NewSegmentId()

	commit := graft.Commit{
		PageCount:  1,
		HasSegment: true,
	}
	commit.Segment.SegmentId = sid
	commit.Segment.Pages = graft.PageSetOf(1)

	pages := map[graft.PageIdx]graft.Page{1: testPage(0x7)}
	if err := s.AppendCommit(logId, graft.FirstLSN, commit, pages); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}

	got, ok, err := s.GetPage(sid, 1)
	if err != nil || !ok {
		t.Fatalf("GetPage: ok=%v err=%v", ok, err)
	}
	if got.Bytes()[0] != 0x7 {
		t.Fatal("cached page content mismatch")
	}

	stored, ok, err := s.GetCommit(logId, graft.FirstLSN)
	if err != nil || !ok {
		t.Fatalf("GetCommit: ok=%v err=%v", ok, err)
	}
	if !stored.HasSegment || stored.Segment.SegmentId != sid {
		t.Fatal("expected the stored commit to carry the segment metadata")
	}
}

func TestPutPagesAndGetPage(t *testing.T) {
	s := openTestStore(t)
	sid := graft.NewSegmentId()

	if _, ok, err := s.GetPage(sid, 1); err != nil || ok {
		t.Fatalf("expected a miss before PutPages, got ok=%v err=%v", ok, err)
	}

	if err := s.PutPages(sid, map[graft.PageIdx]graft.Page{1: testPage(1), 2: testPage(2)}); err != nil {
		t.Fatalf("PutPages: %v", err)
	}

	p2, ok, err := s.GetPage(sid, 2)
	if err != nil || !ok || p2.Bytes()[0] != 2 {
		t.Fatalf("GetPage(2): got ok=%v err=%v page[0]=%v", ok, err, p2.Bytes()[0])
	}
}
