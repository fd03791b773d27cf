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

// Package rt assembles local, segment, snapshot, remote and commithash
// into the public Graft runtime (spec §6): Runtime, Volume, Reader,
// Writer, and the push/pull/recovery synchronizer described in spec
// §4.7.
package rt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitinghail/graft"
	"github.com/orbitinghail/graft/local"
	"github.com/orbitinghail/graft/remote"
)

// Config controls a Runtime's autosync behavior and logging, the ambient
// configuration surface described in SPEC_FULL.md §3 (a plain struct, in
// the teacher's style of passing factories/options by value rather than
// via a DI container).
type Config struct {
	// AutosyncInterval is how often the background ticker runs a pull
	// followed by a push for every Volume opened on this Runtime (spec §4.7
	// "Autosync"). Zero disables autosync; callers drive push/pull
	// manually.
	AutosyncInterval time.Duration

	// Logger receives structured diagnostics for sync activity. Defaults
	// to slog.Default() if nil.
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Runtime owns a local.Store and a remote.Store and hosts every open
// Volume (spec §6).
type Runtime struct {
	cfg    Config
	store  *local.Store
	remote *remote.Store
	log    *slog.Logger

	mu      sync.Mutex
	volumes map[graft.VolumeId]*Volume

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds a Runtime over an already-opened local store and remote
// client.
func Open(store *local.Store, remoteStore *remote.Store, cfg Config) *Runtime {
	rt := &Runtime{
		cfg:     cfg,
		store:   store,
		remote:  remoteStore,
		log:     cfg.logger(),
		volumes: make(map[graft.VolumeId]*Volume),
	}

	if cfg.AutosyncInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		rt.cancel = cancel
		rt.wg.Add(1)
		go rt.autosyncLoop(ctx)
	}

	return rt
}

// Close stops the autosync loop, if running, and waits for any in-flight
// cycle to finish.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
		rt.wg.Wait()
	}
	return rt.store.Close()
}

// OpenVolumeOptions carries open_volume's optional parameters (spec §6
// "open_volume(vid?, local_log?, remote_log?)"). The zero value means
// "generate a fresh VolumeId and a fresh pair of logs".
type OpenVolumeOptions struct {
	// Vid pins the VolumeId to open or create. If zero, a fresh VolumeId
	// is generated.
	Vid graft.VolumeId
	// LocalLog, if non-zero, pins the LogId used for a newly created
	// Volume's private local log.
	LocalLog graft.LogId
	// RemoteLog, if non-zero, pins the LogId a newly created Volume syncs
	// against, or is checked against an existing Volume's remote log.
	RemoteLog graft.LogId
}

// OpenVolume resolves a Volume to its durable state, creating a fresh,
// unpaired Volume record if this is the first time it's been opened
// locally, and returns a handle (spec §6 "open_volume"). It is idempotent:
// opening an already-open Volume returns the same handle. If RemoteLog is
// given and an existing Volume's remote log differs, it fails with
// VolumeRemoteMismatch.
func (rt *Runtime) OpenVolume(ctx context.Context, opts OpenVolumeOptions) (*Volume, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	vid := opts.Vid
	if vid == (graft.VolumeId{}) {
		vid = graft.NewVolumeId()
	}

	if v, ok := rt.volumes[vid]; ok {
		if opts.RemoteLog != (graft.LogId{}) && v.state.Remote != opts.RemoteLog {
			return nil, graft.NewError(graft.KindVolumeRemoteMismatch, "requested remote_log does not match the volume's existing remote log")
		}
		return v, nil
	}

	state, ok, err := rt.store.GetVolume(vid)
	if err != nil {
		return nil, err
	}
	if !ok {
		state, err = rt.store.MutateVolume(vid, func(existing graft.Volume, existed bool) (graft.Volume, error) {
			if existed {
				return existing, nil
			}
			local := opts.LocalLog
			if local == (graft.LogId{}) {
				local = graft.NewLogId()
			}
			remoteLog := opts.RemoteLog
			if remoteLog == (graft.LogId{}) {
				remoteLog = graft.NewLogId()
			}
			return graft.Volume{
				Id:     vid,
				Local:  local,
				Remote: remoteLog,
			}, nil
		})
		if err != nil {
			return nil, err
		}
	}

	if opts.RemoteLog != (graft.LogId{}) && state.Remote != opts.RemoteLog {
		return nil, graft.NewError(graft.KindVolumeRemoteMismatch, "requested remote_log does not match the volume's stored remote log")
	}

	v := &Volume{rt: rt, id: vid, state: state}
	rt.volumes[vid] = v
	return v, nil
}

// TagGet, TagReplace and TagDelete expose the local tag registry (spec §6:
// human-friendly aliases for VolumeId, last-write-wins).
func (rt *Runtime) TagGet(name string) (graft.VolumeId, bool, error) { return rt.store.TagGet(name) }
func (rt *Runtime) TagReplace(name string, vid graft.VolumeId) error { return rt.store.TagReplace(name, vid) }
func (rt *Runtime) TagDelete(name string) error                      { return rt.store.TagDelete(name) }

func (rt *Runtime) autosyncLoop(ctx context.Context) {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.cfg.AutosyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.autosyncTick(ctx)
		}
	}
}

// autosyncTick runs one FetchLog-then-RemoteCommit cycle per open Volume
// (spec §4.7 "Autosync"), skipping any Volume whose previous cycle is
// still in flight (skip-if-still-running, avoiding unbounded goroutine
// pileup if a cycle runs long).
func (rt *Runtime) autosyncTick(ctx context.Context) {
	rt.mu.Lock()
	volumes := make([]*Volume, 0, len(rt.volumes))
	for _, v := range rt.volumes {
		volumes = append(volumes, v)
	}
	rt.mu.Unlock()

	for _, v := range volumes {
		if !v.syncing.CompareAndSwap(false, true) {
			rt.log.Debug("autosync: skipping volume, previous cycle still running", "volume", v.id.String())
			continue
		}
		rt.wg.Add(1)
		go func(v *Volume) {
			defer rt.wg.Done()
			defer v.syncing.Store(false)
			if err := v.Pull(ctx); err != nil {
				rt.log.Warn("autosync: fetch failed", "volume", v.id.String(), "error", err)
				return
			}
			if err := v.Push(ctx); err != nil {
				rt.log.Warn("autosync: push failed", "volume", v.id.String(), "error", err)
			}
		}(v)
	}
}
