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

// SyncState is the portion of Volume state that tracks how far the local
// log has been reconciled with the remote (spec §3).
type SyncState struct {
	RemoteLSN LSN // only ever advances

	HasWatermark   bool
	LocalWatermark LSN // highest local LSN known to be subsumed by a successful push
}

// PendingCommit records a remote push that has been prepared but not yet
// finalized or rejected (spec §3/§4.7.1).
type PendingCommit struct {
	Local      LSN // the local LSN this push is bundling up through
	Commit     LSN // the remote LSN this push is claiming
	CommitHash CommitHash
}

// Volume is the durable state of one Volume (spec §3): which local and
// remote Log it pairs, and (if any sync has ever happened) its SyncState
// and in-flight PendingCommit.
type Volume struct {
	Id     VolumeId
	Local  LogId
	Remote LogId

	HasSync bool
	Sync    SyncState

	HasPending bool
	Pending    PendingCommit
}

// SyncVolumeState is the caller-observable classification of a Volume's
// sync status (spec §6 status(vid), enriched per the original graft
// runtime's richer status enum — see SPEC_FULL.md §5).
type SyncVolumeState int

const (
	SyncIdle SyncVolumeState = iota
	SyncPrepared
	SyncDiverged
	SyncNeedsRecovery
)

func (s SyncVolumeState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncPrepared:
		return "prepared"
	case SyncDiverged:
		return "diverged"
	case SyncNeedsRecovery:
		return "needs-recovery"
	default:
		return "unknown"
	}
}

// Status is returned by the public status(vid) operation (spec §6).
type Status struct {
	Local  LogId
	Remote LogId
	Sync   SyncState
	State  SyncVolumeState
}

const (
	volTagLocal          = 1
	volTagRemote         = 2
	volTagSyncRemote     = 3
	volTagSyncWatermark  = 4
	volTagPendingLocal   = 5
	volTagPendingCommit  = 6
	volTagPendingHash    = 7
)

// EncodeVolume serializes v using the same tagged length-delimited shape as
// Commit.Encode, for the same forward-compatibility reasons.
func EncodeVolume(v Volume) []byte {
	var buf bytes.Buffer

	putField(&buf, volTagLocal, v.Local.Bytes())
	putField(&buf, volTagRemote, v.Remote.Bytes())

	if v.HasSync {
		var rb [8]byte
		binary.BigEndian.PutUint64(rb[:], uint64(v.Sync.RemoteLSN))
		putField(&buf, volTagSyncRemote, rb[:])
		if v.Sync.HasWatermark {
			var wb [8]byte
			binary.BigEndian.PutUint64(wb[:], uint64(v.Sync.LocalWatermark))
			putField(&buf, volTagSyncWatermark, wb[:])
		}
	}

	if v.HasPending {
		var lb [8]byte
		binary.BigEndian.PutUint64(lb[:], uint64(v.Pending.Local))
		putField(&buf, volTagPendingLocal, lb[:])

		var cb [8]byte
		binary.BigEndian.PutUint64(cb[:], uint64(v.Pending.Commit))
		putField(&buf, volTagPendingCommit, cb[:])

		putField(&buf, volTagPendingHash, v.Pending.CommitHash[:])
	}

	return buf.Bytes()
}

// DecodeVolume parses the format produced by EncodeVolume.
func DecodeVolume(id VolumeId, data []byte) (Volume, error) {
	v := Volume{Id: id}
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		tag, err := binary.ReadUvarint(r)
		if err != nil {
			return Volume{}, WrapError(KindStorageCorruption, err, "truncated volume tag")
		}
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return Volume{}, WrapError(KindStorageCorruption, err, "truncated volume length")
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(r, value); err != nil {
			return Volume{}, WrapError(KindStorageCorruption, err, "truncated volume value")
		}

		switch tag {
		case volTagLocal:
			var g GID
			copy(g[:], value)
			v.Local = LogId(g)
		case volTagRemote:
			var g GID
			copy(g[:], value)
			v.Remote = LogId(g)
		case volTagSyncRemote:
			v.HasSync = true
			v.Sync.RemoteLSN = LSN(binary.BigEndian.Uint64(value))
		case volTagSyncWatermark:
			v.HasSync = true
			v.Sync.HasWatermark = true
			v.Sync.LocalWatermark = LSN(binary.BigEndian.Uint64(value))
		case volTagPendingLocal:
			v.HasPending = true
			v.Pending.Local = LSN(binary.BigEndian.Uint64(value))
		case volTagPendingCommit:
			v.HasPending = true
			v.Pending.Commit = LSN(binary.BigEndian.Uint64(value))
		case volTagPendingHash:
			v.HasPending = true
			copy(v.Pending.CommitHash[:], value)
		default:
			// unknown tag: ignore, per spec §9.
		}
	}

	return v, nil
}
