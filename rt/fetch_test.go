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
	"path/filepath"
	"testing"

	"github.com/orbitinghail/graft"
	"github.com/orbitinghail/graft/local"
	"github.com/orbitinghail/graft/remote"
)

// Hydrate should populate the local page cache for a Reader built from a
// freshly pulled remote log, so a subsequent ReadPage never needs to touch
// the remote backend again.
func TestHydrateCachesEveryPage(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewMemoryBackend()

	storeA, err := local.Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("local.Open A: %v", err)
	}
	defer storeA.Close()
	rtA := Open(storeA, remote.NewStore(backend), Config{})

	volA, err := rtA.OpenVolume(ctx, OpenVolumeOptions{})
	if err != nil {
		t.Fatalf("OpenVolume A: %v", err)
	}
	w, err := volA.Writer(ctx)
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	for _, idx := range []graft.PageIdx{1, 2, 3} {
		_ = w.WritePage(idx, testPage(byte(idx)))
	}
	if _, err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := volA.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	storeB, err := local.Open(filepath.Join(t.TempDir(), "b.db"))
	if err != nil {
		t.Fatalf("local.Open B: %v", err)
	}
	defer storeB.Close()
	rtB := Open(storeB, remote.NewStore(backend), Config{})

	volB, err := rtB.OpenVolume(ctx, OpenVolumeOptions{RemoteLog: volA.Status().Remote})
	if err != nil {
		t.Fatalf("OpenVolume B: %v", err)
	}
	if err := volB.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	reader, err := volB.Reader(ctx)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if err := reader.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	for _, idx := range []graft.PageIdx{1, 2, 3} {
		page, ok, err := storeB.GetPage(findSegmentId(t, ctx, reader, idx), idx)
		if err != nil || !ok {
			t.Fatalf("expected page %d to be cached locally after Hydrate, ok=%v err=%v", idx, ok, err)
		}
		if page.Bytes()[0] != byte(idx) {
			t.Fatalf("page %d content mismatch after Hydrate", idx)
		}
	}
}

// findSegmentId recovers the SegmentId backing idx by reading it back
// through the Reader's own layers - a test-only shortcut since Reader
// doesn't expose its snapshot's segment layout directly.
func findSegmentId(t *testing.T, ctx context.Context, r *Reader, idx graft.PageIdx) graft.SegmentId {
	t.Helper()
	var found graft.SegmentId
	for _, layer := range r.snap.Layers {
		_ = layer.Source.WalkCommitsDesc(ctx, layer.Log, layer.FromLSN, layer.ToLSN, func(lsn graft.LSN, commit graft.Commit) (bool, error) {
			if commit.HasSegment && commit.Segment.Pages.Contains(idx) {
				found = commit.Segment.SegmentId
				return false, nil
			}
			return true, nil
		})
		if !found.IsZero() {
			break
		}
	}
	return found
}
