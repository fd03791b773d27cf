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

// Package local implements the durable key-value substrate backing a
// Graft runtime (spec §4.3): six logical keyspaces — tags, volumes, log,
// checkpoints, page_versions, pages — layered on top of a single embedded
// bbolt database.
package local

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/orbitinghail/graft"
)

var (
	bucketTags         = []byte("tags")
	bucketVolumes      = []byte("volumes")
	bucketLog          = []byte("log")
	bucketCheckpoints  = []byte("checkpoints")
	bucketPageVersions = []byte("page_versions")
	bucketPages        = []byte("pages")
)

// Store is the embedded KV engine described in spec §4.3. A Store is safe
// for concurrent use by multiple goroutines.
type Store struct {
	db *bbolt.DB

	// writeMu gates every read-modify-write path on the volumes and log
	// keyspaces (spec §4.3 "single-writer critical section"). Write-only
	// paths (caching fetched pages) and read-only paths (snapshot reads)
	// don't need it: the log is append-only with monotonic keys, and reads
	// use bbolt's own MVCC snapshot.
	writeMu sync.Mutex

	segIdx *SegmentIndexCache
}

// Open opens (creating if absent) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, graft.WrapError(graft.KindStorageIO, err, "failed to open local store")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTags, bucketVolumes, bucketLog, bucketCheckpoints, bucketPageVersions, bucketPages} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, graft.WrapError(graft.KindStorageIO, err, "failed to initialize keyspaces")
	}

	return &Store{db: db, segIdx: NewSegmentIndexCache(256)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------- tags --

// TagGet resolves a tag to its VolumeId. ok is false if the tag is unset.
func (s *Store) TagGet(name string) (vid graft.VolumeId, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTags).Get([]byte(name))
		if v == nil {
			return nil
		}
		var g [graft.GIDSize]byte
		copy(g[:], v)
		vid = graft.VolumeId(g)
		ok = true
		return nil
	})
	return
}

// TagReplace sets name to point at vid, last-write-wins (spec §3).
func (s *Store) TagReplace(name string, vid graft.VolumeId) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTags).Put([]byte(name), vid.Bytes())
	})
}

// TagDelete removes a tag, if present.
func (s *Store) TagDelete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTags).Delete([]byte(name))
	})
}

// ------------------------------------------------------------- volumes --

// GetVolume reads a Volume's current state. ok is false if it doesn't exist.
func (s *Store) GetVolume(vid graft.VolumeId) (vol graft.Volume, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketVolumes).Get(vid.Bytes())
		if v == nil {
			return nil
		}
		decoded, derr := graft.DecodeVolume(vid, v)
		if derr != nil {
			return derr
		}
		vol = decoded
		ok = true
		return nil
	})
	return
}

// MutateVolume atomically reads the current Volume (or the zero value if
// absent) and replaces it with whatever fn returns, inside the storage
// mutex (spec §4.3 "single-writer critical section"). Returning an error
// from fn aborts the write.
func (s *Store) MutateVolume(vid graft.VolumeId, fn func(existing graft.Volume, existed bool) (graft.Volume, error)) (graft.Volume, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result graft.Volume
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		raw := b.Get(vid.Bytes())

		var existing graft.Volume
		existed := raw != nil
		if existed {
			decoded, err := graft.DecodeVolume(vid, raw)
			if err != nil {
				return err
			}
			existing = decoded
		}

		next, err := fn(existing, existed)
		if err != nil {
			return err
		}
		next.Id = vid
		result = next
		return b.Put(vid.Bytes(), graft.EncodeVolume(next))
	})
	if err != nil {
		return graft.Volume{}, err
	}
	return result, nil
}

// ListVolumes enumerates every VolumeId stored locally (SPEC_FULL.md §5).
// The runtime's autosync loop does not call it: it iterates only the
// Volumes opened on that Runtime.
func (s *Store) ListVolumes() ([]graft.VolumeId, error) {
	var out []graft.VolumeId
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketVolumes).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var g [graft.GIDSize]byte
			copy(g[:], k)
			out = append(out, graft.VolumeId(g))
		}
		return nil
	})
	return out, err
}

// ------------------------------------------------------------------ log --

func logKey(logId graft.LogId, lsn graft.LSN) []byte {
	key := make([]byte, graft.GIDSize+8)
	copy(key, logId.Bytes())
	cbe := lsn.CBE64()
	copy(key[graft.GIDSize:], cbe[:])
	return key
}

// LatestLSN returns the highest LSN recorded for logId. ok is false if the
// log is empty.
func (s *Store) LatestLSN(logId graft.LogId) (lsn graft.LSN, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		prefix := logId.Bytes()
		k, _ := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		lsn = graft.LSNFromCBE64(k[graft.GIDSize:])
		ok = true
		return nil
	})
	return
}

// GetCommit reads a single commit by (logId, lsn).
func (s *Store) GetCommit(logId graft.LogId, lsn graft.LSN) (commit graft.Commit, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketLog).Get(logKey(logId, lsn))
		if v == nil {
			return nil
		}
		decoded, derr := graft.DecodeCommit(v)
		if derr != nil {
			return derr
		}
		commit = decoded
		ok = true
		return nil
	})
	return
}

// WalkCommitsDesc calls fn for every commit in logId with
// lowerBound <= lsn <= fromLSN, newest first. fn returning false stops the
// walk early.
func (s *Store) WalkCommitsDesc(logId graft.LogId, fromLSN, lowerBound graft.LSN, fn func(lsn graft.LSN, commit graft.Commit) (bool, error)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		prefix := logId.Bytes()
		c := tx.Bucket(bucketLog).Cursor()
		start := logKey(logId, fromLSN)
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			lsn := graft.LSNFromCBE64(k[graft.GIDSize:])
			if lsn < lowerBound {
				break
			}
			commit, err := graft.DecodeCommit(v)
			if err != nil {
				return err
			}
			cont, err := fn(lsn, commit)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

// LatestCheckpointLE returns the highest checkpoint LSN <= maxLSN recorded
// for logId. ok is false if none exists.
func (s *Store) LatestCheckpointLE(logId graft.LogId, maxLSN graft.LSN) (lsn graft.LSN, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		prefix := logId.Bytes()
		c := tx.Bucket(bucketCheckpoints).Cursor()
		k, _ := c.Seek(logKey(logId, maxLSN))
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		lsn = graft.LSNFromCBE64(k[graft.GIDSize:])
		ok = true
		return nil
	})
	return
}

// pageVersionKey builds the (LogId, big-endian PageIdx, CBE64(LSN)) key.
func pageVersionKey(logId graft.LogId, idx graft.PageIdx, lsn graft.LSN) []byte {
	key := make([]byte, graft.GIDSize+4+8)
	copy(key, logId.Bytes())
	binary.BigEndian.PutUint32(key[graft.GIDSize:], uint32(idx))
	cbe := lsn.CBE64()
	copy(key[graft.GIDSize+4:], cbe[:])
	return key
}

// AppendCommit writes a new commit and every index row it implies as one
// atomic batch (spec §4.3 "Batch atomicity"): the log row, page_versions
// rows for every page the commit introduces, checkpoints rows it
// declares, and (if pages is non-nil) the corresponding pages rows. The
// caller is responsible for having already chosen lsn under a lock that
// also covers reading the prior latest LSN (AppendCommit itself does not
// check for LSN reuse) — CommitLocal does this for the common "assign the
// next LSN and append" case.
func (s *Store) AppendCommit(logId graft.LogId, lsn graft.LSN, commit graft.Commit, pages map[graft.PageIdx]graft.Page) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.appendCommitLocked(logId, lsn, commit, pages)
}

// CommitLocal atomically reads the current latest LSN for logId, asks
// build to construct a Commit for the next LSN, and appends it — all
// inside one acquisition of writeMu, so two concurrent local commits can
// never be assigned the same LSN (spec §4.3 "single-writer critical
// section").
func (s *Store) CommitLocal(logId graft.LogId, build func(nextLSN graft.LSN) (graft.Commit, map[graft.PageIdx]graft.Page, error)) (graft.LSN, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var next graft.LSN
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		prefix := logId.Bytes()
		k, _ := c.Seek(prefix)
		if k != nil && bytes.HasPrefix(k, prefix) {
			next = graft.LSNFromCBE64(k[graft.GIDSize:]).Next()
		} else {
			next = graft.FirstLSN
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	commit, pages, err := build(next)
	if err != nil {
		return 0, err
	}
	if err := s.appendCommitLocked(logId, next, commit, pages); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) appendCommitLocked(logId graft.LogId, lsn graft.LSN, commit graft.Commit, pages map[graft.PageIdx]graft.Page) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		logB := tx.Bucket(bucketLog)
		if err := logB.Put(logKey(logId, lsn), commit.Encode()); err != nil {
			return err
		}

		if commit.HasSegment {
			pvB := tx.Bucket(bucketPageVersions)
			var werr error
			commit.Segment.Pages.Each(func(idx graft.PageIdx) {
				if werr != nil {
					return
				}
				werr = pvB.Put(pageVersionKey(logId, idx, lsn), nil)
			})
			if werr != nil {
				return werr
			}
		}

		cpB := tx.Bucket(bucketCheckpoints)
		for _, cp := range commit.Checkpoints {
			if err := cpB.Put(logKey(logId, cp), nil); err != nil {
				return err
			}
		}

		if len(pages) > 0 {
			pagesB := tx.Bucket(bucketPages)
			for idx, page := range pages {
				key := pageKey(commit.Segment.SegmentId, idx)
				if err := pagesB.Put(key, page.Bytes()); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

// ---------------------------------------------------------------- pages --

func pageKey(sid graft.SegmentId, idx graft.PageIdx) []byte {
	key := make([]byte, graft.GIDSize+4)
	copy(key, sid.Bytes())
	binary.BigEndian.PutUint32(key[graft.GIDSize:], uint32(idx))
	return key
}

// GetPage returns a cached page, if present.
func (s *Store) GetPage(sid graft.SegmentId, idx graft.PageIdx) (page graft.Page, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketPages).Get(pageKey(sid, idx))
		if v == nil {
			return nil
		}
		p, perr := graft.PageFromBytes(v)
		if perr != nil {
			return perr
		}
		page = p
		ok = true
		return nil
	})
	return
}

// PutPages caches a batch of pages under the same SegmentId. Pages are
// content-addressed and immutable once written, so this path doesn't need
// the single-writer mutex: concurrent writers of the same (sid, idx) pair
// would write byte-identical values (spec §3 "may be evicted at any time
// without affecting correctness").
func (s *Store) PutPages(sid graft.SegmentId, pages map[graft.PageIdx]graft.Page) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPages)
		for idx, page := range pages {
			if err := b.Put(pageKey(sid, idx), page.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// SegmentIndexCache exposes the shared decoded-segment-index cache (see
// SPEC_FULL.md §5, "Segment index caching").
func (s *Store) SegmentIndexCache() *SegmentIndexCache {
	return s.segIdx
}
