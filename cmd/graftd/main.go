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

// Command graftd wires a local store and a selectable remote backend
// into a runtime and drives it from the command line: open (or create,
// via a tag) a Volume, then push, pull, or report its status. It is a
// thin wrapper, in the same spirit as the teacher's own single-purpose
// main that does nothing but call into its storage package and hand off
// to a REPL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/orbitinghail/graft/local"
	"github.com/orbitinghail/graft/remote"
	"github.com/orbitinghail/graft/rt"
)

func main() {
	dataDir := flag.String("data", "graft-data", "local bbolt store path")
	backendKind := flag.String("backend", "filesystem", "remote backend: memory|filesystem|s3")
	remoteDir := flag.String("remote", "graft-remote", "filesystem remote root (backend=filesystem)")
	s3Bucket := flag.String("s3-bucket", "", "S3 bucket (backend=s3)")
	s3Prefix := flag.String("s3-prefix", "", "S3 key prefix (backend=s3)")
	s3Endpoint := flag.String("s3-endpoint", "", "custom S3 endpoint, e.g. for MinIO/R2 (backend=s3)")
	s3Region := flag.String("s3-region", "us-east-1", "S3 region (backend=s3)")
	tag := flag.String("tag", "default", "volume tag to open")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: graftd [-data dir] [-backend memory|filesystem|s3] [-remote dir] [-tag name] <push|pull|status>")
		os.Exit(2)
	}

	cfg := backendConfig{
		kind:       *backendKind,
		remoteDir:  *remoteDir,
		s3Bucket:   *s3Bucket,
		s3Prefix:   *s3Prefix,
		s3Endpoint: *s3Endpoint,
		s3Region:   *s3Region,
	}
	if err := run(*dataDir, cfg, *tag, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "graftd:", err)
		os.Exit(1)
	}
}

// backendConfig is the minimum environment/configuration surface for
// selecting a remote backend variant (spec §6 "Remote backend selector
// with three variants: in-memory, local filesystem, S3-compatible").
type backendConfig struct {
	kind       string
	remoteDir  string
	s3Bucket   string
	s3Prefix   string
	s3Endpoint string
	s3Region   string
}

func (c backendConfig) build() (remote.Backend, error) {
	switch c.kind {
	case "memory":
		return remote.NewMemoryBackend(), nil
	case "filesystem":
		return remote.NewFilesystemBackend(c.remoteDir)
	case "s3":
		if c.s3Bucket == "" {
			return nil, fmt.Errorf("backend=s3 requires -s3-bucket")
		}
		return remote.NewS3Backend(remote.S3Config{
			Region:         c.s3Region,
			Endpoint:       c.s3Endpoint,
			Bucket:         c.s3Bucket,
			Prefix:         c.s3Prefix,
			ForcePathStyle: c.s3Endpoint != "",
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory, filesystem, or s3)", c.kind)
	}
}

func run(dataDir string, backendCfg backendConfig, tag, cmd string) error {
	store, err := local.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()

	backend, err := backendCfg.build()
	if err != nil {
		return fmt.Errorf("open remote backend: %w", err)
	}
	remoteStore := remote.NewStore(backend)

	runtime := rt.Open(store, remoteStore, rt.Config{Logger: slog.Default()})
	defer runtime.Close()

	ctx := context.Background()

	vid, ok, err := runtime.TagGet(tag)
	if err != nil {
		return fmt.Errorf("resolve tag %q: %w", tag, err)
	}

	opts := rt.OpenVolumeOptions{}
	if ok {
		opts.Vid = vid
	}
	vol, err := runtime.OpenVolume(ctx, opts)
	if err != nil {
		return fmt.Errorf("open volume: %w", err)
	}
	if !ok {
		if err := runtime.TagReplace(tag, vol.Id()); err != nil {
			return fmt.Errorf("tag volume: %w", err)
		}
	}

	switch cmd {
	case "push":
		return vol.Push(ctx)
	case "pull":
		return vol.Pull(ctx)
	case "status":
		st := vol.Status()
		fmt.Printf("volume=%s local=%s remote=%s state=%s\n", vol.Id(), st.Local, st.Remote, st.State)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
