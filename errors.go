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

import "fmt"

// Kind distinguishes the error taxonomy the core propagates across package
// boundaries (spec §7). Callers should compare with errors.Is against the
// sentinel Kind values below, not against a specific *Error value.
type Kind int

const (
	_ Kind = iota

	// Volume errors
	KindVolumeNotFound
	KindVolumeRemoteMismatch
	KindVolumeConcurrentWrite
	KindVolumeDiverged
	KindVolumeNeedsRecovery

	// Storage errors
	KindStorageCorruption
	KindStorageIO

	// Remote errors
	KindRemoteNotFound
	KindRemoteAlreadyExists
	KindRemotePreconditionFailed
	KindRemoteIO
	KindRemoteDecode
)

func (k Kind) String() string {
	switch k {
	case KindVolumeNotFound:
		return "VolumeNotFound"
	case KindVolumeRemoteMismatch:
		return "VolumeRemoteMismatch"
	case KindVolumeConcurrentWrite:
		return "VolumeConcurrentWrite"
	case KindVolumeDiverged:
		return "VolumeDiverged"
	case KindVolumeNeedsRecovery:
		return "VolumeNeedsRecovery"
	case KindStorageCorruption:
		return "StorageCorruption"
	case KindStorageIO:
		return "StorageIO"
	case KindRemoteNotFound:
		return "RemoteNotFound"
	case KindRemoteAlreadyExists:
		return "RemoteAlreadyExists"
	case KindRemotePreconditionFailed:
		return "RemotePreconditionFailed"
	case KindRemoteIO:
		return "RemoteIO"
	case KindRemoteDecode:
		return "RemoteDecode"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across every package boundary in the
// core. Wrap with fmt.Errorf("...: %w", err) as usual; Kind is preserved
// through errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, graft.ErrKind(KindVolumeDiverged)) style checks,
// and also lets two *Error values of the same Kind compare equal regardless
// of Message/Cause, matching how the rest of the core tests for error kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == Kind(k)
	}
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

type kindSentinel Kind

// ErrKind returns a sentinel error suitable for errors.Is(err, graft.ErrKind(k)).
func ErrKind(k Kind) error {
	return kindSentinel(k)
}

func (k kindSentinel) Error() string {
	return Kind(k).String()
}
