package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Chunk files are named chunk_0000.part, chunk_0001.part, ... so that a
// plain directory listing reconstructs the received-set after a crash.
const (
	chunkPrefix = "chunk_"
	chunkSuffix = ".part"
)

// ChunkStore keeps the in-flight chunks of each session in a directory
// of its own under root.
type ChunkStore struct {
	root string
}

func NewChunkStore(root string) (*ChunkStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk root: %w", err)
	}
	return &ChunkStore{root: root}, nil
}

func (cs *ChunkStore) sessionDir(sessionID string) string {
	return filepath.Join(cs.root, sessionID)
}

func (cs *ChunkStore) chunkPath(sessionID string, index int) string {
	return filepath.Join(cs.sessionDir(sessionID), fmt.Sprintf("%s%04d%s", chunkPrefix, index, chunkSuffix))
}

// Allocate creates the session's chunk directory.
func (cs *ChunkStore) Allocate(sessionID string) error {
	return os.MkdirAll(cs.sessionDir(sessionID), 0o755)
}

// Write persists one chunk. The write goes to a temp file first and is
// renamed into place, so a resubmission of the same index is a clean
// last-write-wins overwrite even under concurrent submission.
func (cs *ChunkStore) Write(sessionID string, index int, r io.Reader) (int64, error) {
	dir := cs.sessionDir(sessionID)
	// The directory may be gone after a crash or restart; recreate it
	// rather than depend on Allocate having run first.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, chunkPrefix+"*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create chunk temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write chunk %d: %w", index, err)
	}

	if err := os.Rename(tmp.Name(), cs.chunkPath(sessionID, index)); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("store chunk %d: %w", index, err)
	}
	return n, nil
}

// Received rebuilds the set of stored chunk indices from the session's
// directory listing, sorted ascending. A missing directory means no
// chunks.
func (cs *ChunkStore) Received(sessionID string) ([]int, error) {
	entries, err := os.ReadDir(cs.sessionDir(sessionID))
	if os.IsNotExist(err) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkSuffix))
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// Open opens one stored chunk for reading.
func (cs *ChunkStore) Open(sessionID string, index int) (*os.File, error) {
	return os.Open(cs.chunkPath(sessionID, index))
}

// Remove reclaims the session's chunk directory.
func (cs *ChunkStore) Remove(sessionID string) error {
	return os.RemoveAll(cs.sessionDir(sessionID))
}
