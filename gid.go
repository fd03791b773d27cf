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
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GIDSize is the fixed on-disk and wire size of every GID variant.
const GIDSize = 16

// gidKind is the prefix byte stamped into byte 0 of a GID. Every constant
// keeps the high bit set so the leading byte of the 16-byte value is always
// in [0x80, 0xff]; combined with the guard bits forced into the timestamp
// and random fields below, this guarantees the base58 string form below is
// always exactly the same length (see gidBase58Len).
type gidKind byte

const (
	kindVolume  gidKind = 0xA1
	kindLog     gidKind = 0xA2
	kindSegment gidKind = 0xA3
)

func (k gidKind) tag() byte {
	switch k {
	case kindVolume:
		return 'v'
	case kindLog:
		return 'l'
	case kindSegment:
		return 's'
	default:
		return '?'
	}
}

func tagToKind(tag byte) (gidKind, bool) {
	switch tag {
	case 'v':
		return kindVolume, true
	case 'l':
		return kindLog, true
	case 's':
		return kindSegment, true
	default:
		return 0, false
	}
}

// GID is a 16-byte globally-unique identifier: a 1-byte variant prefix, a
// 6-byte big-endian millisecond timestamp (with a forced guard bit), and a
// 9-byte random tail (with a forced guard bit on its first byte). See
// on-disk format invariants in spec §6.
type GID [GIDSize]byte

// VolumeId, LogId and SegmentId are GID newtypes distinguished at the type
// level so callers can't accidentally pass a SegmentId where a VolumeId is
// expected. Conversion to/from GID is always explicit.
type (
	VolumeId  GID
	LogId     GID
	SegmentId GID
)

const tsGuardBit = uint64(1) << 47
const tsMask = tsGuardBit - 1

func newGID(kind gidKind, now time.Time) GID {
	var g GID
	g[0] = byte(kind)

	ms := uint64(now.UnixMilli()) & tsMask
	ms |= tsGuardBit
	g[1] = byte(ms >> 40)
	g[2] = byte(ms >> 32)
	g[3] = byte(ms >> 24)
	g[4] = byte(ms >> 16)
	g[5] = byte(ms >> 8)
	g[6] = byte(ms)

	// google/uuid sources its randomness from crypto/rand; we reuse it here
	// to produce the high-entropy random tail instead of calling crypto/rand
	// directly, matching the teacher's storage/fast_uuid.go habit of routing
	// all random-id generation through the uuid package.
	tail := uuid.New()
	copy(g[7:16], tail[:9])
	g[7] |= 0x80 // guard bit: first random byte is never zero

	return g
}

// NewVolumeId generates a fresh, time-ordered VolumeId.
func NewVolumeId() VolumeId { return VolumeId(newGID(kindVolume, time.Now())) }

// NewLogId generates a fresh, time-ordered LogId.
func NewLogId() LogId { return LogId(newGID(kindLog, time.Now())) }

// NewSegmentId generates a fresh, time-ordered SegmentId.
func NewSegmentId() SegmentId { return SegmentId(newGID(kindSegment, time.Now())) }

func (v VolumeId) gid() GID   { return GID(v) }
func (l LogId) gid() GID      { return GID(l) }
func (s SegmentId) gid() GID  { return GID(s) }
func (v VolumeId) Bytes() []byte  { g := v.gid(); return g[:] }
func (l LogId) Bytes() []byte     { g := l.gid(); return g[:] }
func (s SegmentId) Bytes() []byte { g := s.gid(); return g[:] }

// IsZero reports whether the id is the zero value (never produced by
// NewVolumeId/NewLogId/NewSegmentId; useful for "optional GID" fields).
func (v VolumeId) IsZero() bool  { return v == VolumeId{} }
func (l LogId) IsZero() bool     { return l == LogId{} }
func (s SegmentId) IsZero() bool { return s == SegmentId{} }

func (v VolumeId) AsTime() time.Time  { return gidTime(GID(v)) }
func (l LogId) AsTime() time.Time     { return gidTime(GID(l)) }
func (s SegmentId) AsTime() time.Time { return gidTime(GID(s)) }

func gidTime(g GID) time.Time {
	ms := uint64(g[1])<<40 | uint64(g[2])<<32 | uint64(g[3])<<24 | uint64(g[4])<<16 | uint64(g[5])<<8 | uint64(g[6])
	ms &= tsMask
	return time.UnixMilli(int64(ms))
}

func (v VolumeId) String() string  { return gidString(GID(v), kindVolume) }
func (l LogId) String() string     { return gidString(GID(l), kindLog) }
func (s SegmentId) String() string { return gidString(GID(s), kindSegment) }

// gidBase58Len is the fixed width of a base58-encoded 16-byte GID, given
// that byte 0 always has its high bit set: the smallest possible value is
// 2^127 (needs ceil(log58(2^127)) = 22 digits) and the largest is 2^128-1
// (needs ceil(log58(2^128-1)) = 22 digits too), so the width never varies
// and no leading-zero-digit padding logic is required.
const gidBase58Len = 22

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index [256]int8

func init() {
	for i := range base58Index {
		base58Index[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		base58Index[base58Alphabet[i]] = int8(i)
	}
}

func gidString(g GID, kind gidKind) string {
	var sb strings.Builder
	sb.WriteByte(kind.tag())
	sb.WriteByte('-')
	sb.WriteString(base58Encode(g[:]))
	return sb.String()
}

func base58Encode(b []byte) string {
	n := new(big.Int).SetBytes(b)
	base := big.NewInt(58)
	mod := new(big.Int)
	digits := make([]byte, 0, gidBase58Len)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, base58Alphabet[mod.Int64()])
	}
	for len(digits) < gidBase58Len {
		digits = append(digits, base58Alphabet[0])
	}
	// digits were produced least-significant first; reverse for display.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func base58Decode(s string) ([]byte, error) {
	n := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		idx := base58Index[s[i]]
		if idx < 0 {
			return nil, NewError(KindStorageCorruption, "invalid base58 character in gid")
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	raw := n.Bytes()
	if len(raw) > GIDSize {
		return nil, NewError(KindStorageCorruption, "gid value overflows 16 bytes")
	}
	out := make([]byte, GIDSize)
	copy(out[GIDSize-len(raw):], raw)
	return out, nil
}

func parseGID(s string, want gidKind) (GID, error) {
	if len(s) != 1+1+gidBase58Len {
		return GID{}, NewError(KindStorageCorruption, "gid string has wrong length")
	}
	kind, ok := tagToKind(s[0])
	if !ok || s[1] != '-' {
		return GID{}, NewError(KindStorageCorruption, "gid string has unknown prefix tag")
	}
	if kind != want {
		return GID{}, NewError(KindStorageCorruption, "gid string has wrong variant tag")
	}
	raw, err := base58Decode(s[2:])
	if err != nil {
		return GID{}, err
	}
	var g GID
	copy(g[:], raw)
	if gidKind(g[0]) != want {
		return GID{}, NewError(KindStorageCorruption, "decoded gid prefix byte mismatch")
	}
	return g, nil
}

// ParseVolumeId parses the canonical string form produced by VolumeId.String.
func ParseVolumeId(s string) (VolumeId, error) {
	g, err := parseGID(s, kindVolume)
	if err != nil {
		return VolumeId{}, err
	}
	return VolumeId(g), nil
}

// ParseLogId parses the canonical string form produced by LogId.String.
func ParseLogId(s string) (LogId, error) {
	g, err := parseGID(s, kindLog)
	if err != nil {
		return LogId{}, err
	}
	return LogId(g), nil
}

// ParseSegmentId parses the canonical string form produced by SegmentId.String.
func ParseSegmentId(s string) (SegmentId, error) {
	g, err := parseGID(s, kindSegment)
	if err != nil {
		return SegmentId{}, err
	}
	return SegmentId(g), nil
}
