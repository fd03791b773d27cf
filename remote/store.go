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

// Package remote talks to the shared object store backing a Graft
// deployment (spec §4.6): commit objects keyed by (LogId, LSN), written
// exactly once via a conditional put, and segment objects keyed by
// SegmentId, fetched in byte ranges.
package remote

import (
	"context"
	"errors"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/orbitinghail/graft"
)

// ErrAlreadyExists is returned by Backend.PutIfAbsent when an object
// already exists at the target key. Store.PutCommit does not pass it on:
// it reports that case as a *graft.Error of KindRemotePreconditionFailed.
var ErrAlreadyExists = errors.New("remote: object already exists")

// ErrNotFound is returned when a requested object doesn't exist.
var ErrNotFound = errors.New("remote: object not found")

// commitKey and segmentKey implement the path scheme from spec §4.6.
func commitKey(logId graft.LogId, lsn graft.LSN) string {
	return "logs/" + logId.String() + "/commits/" + lsn.CBE64Hex()
}

func segmentKey(sid graft.SegmentId) string {
	return "segments/" + sid.String()
}

// Backend is the minimal object-store primitive every remote
// implementation provides: conditional create, whole-object put, full and
// ranged get, and prefix listing. Store builds the Graft-specific
// operations on top of it.
type Backend interface {
	// PutIfAbsent writes key only if it doesn't already exist. Returns
	// ErrAlreadyExists if it does.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	// Put writes key unconditionally, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Get reads the full object at key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetRange reads [start, end) of the object at key.
	GetRange(ctx context.Context, key string, start, end uint64) ([]byte, error)
	// List returns every key with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Store exposes the Graft-domain object operations (spec §4.6) over a
// Backend.
type Store struct {
	backend Backend

	// fetchConcurrency bounds how many ranged segment reads or commit
	// fetches run in parallel during StreamCommitsOrdered / FetchSegmentRange
	// batching (spec §4.6, "bounded concurrency").
	fetchConcurrency int
}

// NewStore wraps backend with the default fetch concurrency (5, matching
// the teacher's own default worker-pool sizing conventions).
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, fetchConcurrency: 5}
}

// WithConcurrency overrides the bounded-concurrency limit used for batched
// fetches.
func (s *Store) WithConcurrency(n int) *Store {
	if n > 0 {
		s.fetchConcurrency = n
	}
	return s
}

// PutCommit writes a commit at its (logId, lsn) key, failing with a
// KindRemotePreconditionFailed error (not ErrAlreadyExists, and not
// KindRemoteAlreadyExists) if one is already there (spec §4.7.1
// Prepare/Put commit: this is the linearization point of a push).
func (s *Store) PutCommit(ctx context.Context, logId graft.LogId, lsn graft.LSN, commit graft.Commit) error {
	err := s.backend.PutIfAbsent(ctx, commitKey(logId, lsn), commit.Encode())
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return graft.NewError(graft.KindRemotePreconditionFailed, "commit already exists at this LSN")
		}
		return graft.WrapError(graft.KindRemoteIO, err, "failed to put commit")
	}
	return nil
}

// GetCommit fetches one commit by (logId, lsn).
func (s *Store) GetCommit(ctx context.Context, logId graft.LogId, lsn graft.LSN) (graft.Commit, error) {
	data, err := s.backend.Get(ctx, commitKey(logId, lsn))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return graft.Commit{}, graft.NewError(graft.KindRemoteNotFound, "commit not found")
		}
		return graft.Commit{}, graft.WrapError(graft.KindRemoteIO, err, "failed to get commit")
	}
	commit, err := graft.DecodeCommit(data)
	if err != nil {
		return graft.Commit{}, graft.WrapError(graft.KindRemoteDecode, err, "failed to decode commit")
	}
	return commit, nil
}

// CommitRef pairs a fetched commit with the LSN it was stored at.
type CommitRef struct {
	LSN    graft.LSN
	Commit graft.Commit
}

// StreamCommitsOrdered lists every commit object for logId in [fromLSN,
// toLSN] and fetches them with bounded concurrency, returning them ordered
// by ascending LSN (spec §4.6 "stream_commits_ordered", used by recovery
// and catch-up pull).
func (s *Store) StreamCommitsOrdered(ctx context.Context, logId graft.LogId, fromLSN, toLSN graft.LSN) ([]CommitRef, error) {
	prefix := "logs/" + logId.String() + "/commits/"
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, graft.WrapError(graft.KindRemoteIO, err, "failed to list commits")
	}

	var lsns []graft.LSN
	for _, k := range keys {
		hex := k[len(prefix):]
		if len(hex) != 16 {
			continue
		}
		lsn, perr := parseCBE64Hex(hex)
		if perr != nil {
			continue
		}
		if lsn >= fromLSN && lsn <= toLSN {
			lsns = append(lsns, lsn)
		}
	}
	sort.Slice(lsns, func(i, j int) bool { return lsns[i] < lsns[j] })

	out := make([]CommitRef, len(lsns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, lsn := range lsns {
		i, lsn := i, lsn
		g.Go(func() error {
			commit, err := s.GetCommit(gctx, logId, lsn)
			if err != nil {
				return err
			}
			out[i] = CommitRef{LSN: lsn, Commit: commit}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutSegment uploads a complete segment body, keyed by its SegmentId.
// Every segment is built under a freshly generated SegmentId and never
// rewritten, so a plain Put (not PutIfAbsent) is used.
func (s *Store) PutSegment(ctx context.Context, sid graft.SegmentId, body []byte) error {
	if err := s.backend.Put(ctx, segmentKey(sid), body); err != nil {
		return graft.WrapError(graft.KindRemoteIO, err, "failed to put segment")
	}
	return nil
}

// FetchSegmentRange retrieves [start, end) of a segment body.
func (s *Store) FetchSegmentRange(ctx context.Context, sid graft.SegmentId, start, end uint64) ([]byte, error) {
	data, err := s.backend.GetRange(ctx, segmentKey(sid), start, end)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, graft.NewError(graft.KindRemoteNotFound, "segment not found")
		}
		return nil, graft.WrapError(graft.KindRemoteIO, err, "failed to fetch segment range")
	}
	return data, nil
}

// SegmentRangeRequest is one ranged fetch to issue against a segment.
type SegmentRangeRequest struct {
	SegmentId graft.SegmentId
	Start     uint64
	End       uint64
}

// FetchSegmentRanges issues a batch of ranged segment reads with bounded
// concurrency, returning results in the same order as requests (spec §4.7
// HydrateSnapshot).
func (s *Store) FetchSegmentRanges(ctx context.Context, requests []SegmentRangeRequest) ([][]byte, error) {
	out := make([][]byte, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			data, err := s.FetchSegmentRange(gctx, req.SegmentId, req.Start, req.End)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// drain reads r fully, used by backends whose underlying client returns an
// io.ReadCloser rather than a []byte.
func drain(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}

func parseCBE64Hex(hex string) (graft.LSN, error) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		hi, err := hexDigit(hex[i*2])
		if err != nil {
			return 0, err
		}
		lo, err := hexDigit(hex[i*2+1])
		if err != nil {
			return 0, err
		}
		b[i] = hi<<4 | lo
	}
	return graft.LSNFromCBE64(b[:]), nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, graft.NewError(graft.KindRemoteDecode, "invalid hex digit in commit key")
	}
}
