package upload

import (
	"errors"
	"fmt"
)

// Sentinel errors for upload operations.
var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionExists   = errors.New("upload session already exists")
	ErrInvalidRequest  = errors.New("invalid upload request")
)

// Specific InvalidRequest causes, all matching ErrInvalidRequest via
// errors.Is.
var (
	ErrFileTooLarge        = fmt.Errorf("%w: file exceeds the configured maximum size", ErrInvalidRequest)
	ErrExtensionNotAllowed = fmt.Errorf("%w: file extension is not allowed", ErrInvalidRequest)
	ErrBadChunkIndex       = fmt.Errorf("%w: chunk index out of range", ErrInvalidRequest)
	ErrBadSessionParams    = fmt.Errorf("%w: malformed session parameters", ErrInvalidRequest)
)

// IncompleteUploadError reports a Complete call on a session that has
// not received every chunk. Missing is sorted ascending.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload incomplete: missing chunks %v", e.Missing)
}

// CorruptSessionError reports a chunk that the session bookkeeping
// says was received but that is absent from chunk storage at assembly
// time. It signals external tampering or a storage bug, not user error.
type CorruptSessionError struct {
	SessionID string
	Index     int
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("session %s corrupt: chunk %d missing from storage", e.SessionID, e.Index)
}

// AssemblyMismatchError reports an assembled file whose size differs
// from the declared total size.
type AssemblyMismatchError struct {
	SessionID string
	Got       int64
	Want      int64
}

func (e *AssemblyMismatchError) Error() string {
	return fmt.Sprintf("session %s assembly mismatch: assembled %d bytes, declared %d", e.SessionID, e.Got, e.Want)
}
