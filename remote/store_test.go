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
package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/orbitinghail/graft"
)

func TestPutCommitThenGetCommit(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	logId := graft.NewLogId()
	ctx := context.Background()

	commit := graft.Commit{PageCount: 3}
	if err := s.PutCommit(ctx, logId, graft.FirstLSN, commit); err != nil {
		t.Fatalf("PutCommit: %v", err)
	}

	got, err := s.GetCommit(ctx, logId, graft.FirstLSN)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if got.PageCount != 3 {
		t.Fatalf("PageCount: got %d, want 3", got.PageCount)
	}
}

func TestPutCommitRejectsOverwrite(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	logId := graft.NewLogId()
	ctx := context.Background()

	if err := s.PutCommit(ctx, logId, graft.FirstLSN, graft.Commit{PageCount: 1}); err != nil {
		t.Fatalf("first PutCommit: %v", err)
	}
	err := s.PutCommit(ctx, logId, graft.FirstLSN, graft.Commit{PageCount: 2})
	if !errors.Is(err, graft.ErrKind(graft.KindRemotePreconditionFailed)) {
		t.Fatalf("expected KindRemotePreconditionFailed, got %v", err)
	}
}

func TestGetCommitNotFound(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	_, err := s.GetCommit(context.Background(), graft.NewLogId(), graft.FirstLSN)
	if !errors.Is(err, graft.ErrKind(graft.KindRemoteNotFound)) {
		t.Fatalf("expected KindRemoteNotFound, got %v", err)
	}
}

func TestFetchSegmentRangeNotFound(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	_, err := s.FetchSegmentRange(context.Background(), graft.NewSegmentId(), 0, 10)
	if !errors.Is(err, graft.ErrKind(graft.KindRemoteNotFound)) {
		t.Fatalf("expected KindRemoteNotFound, got %v", err)
	}
}

func TestStreamCommitsOrderedFiltersAndSorts(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	logId := graft.NewLogId()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := s.PutCommit(ctx, logId, graft.LSN(i), graft.Commit{PageCount: graft.PageCount(i)}); err != nil {
			t.Fatalf("PutCommit(%d): %v", i, err)
		}
	}

	refs, err := s.StreamCommitsOrdered(ctx, logId, 2, 4)
	if err != nil {
		t.Fatalf("StreamCommitsOrdered: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 commits in range, got %d", len(refs))
	}
	for i, want := range []graft.LSN{2, 3, 4} {
		if refs[i].LSN != want {
			t.Fatalf("refs[%d].LSN: got %d, want %d", i, refs[i].LSN, want)
		}
	}
}

func TestPutSegmentAndFetchSegmentRanges(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	sid := graft.NewSegmentId()
	ctx := context.Background()

	body := []byte("0123456789")
	if err := s.PutSegment(ctx, sid, body); err != nil {
		t.Fatalf("PutSegment: %v", err)
	}

	out, err := s.FetchSegmentRanges(ctx, []SegmentRangeRequest{
		{SegmentId: sid, Start: 0, End: 3},
		{SegmentId: sid, Start: 5, End: 10},
	})
	if err != nil {
		t.Fatalf("FetchSegmentRanges: %v", err)
	}
	if string(out[0]) != "012" || string(out[1]) != "56789" {
		t.Fatalf("unexpected range contents: %q, %q", out[0], out[1])
	}
}
