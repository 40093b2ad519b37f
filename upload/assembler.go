package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vidserve/store"
)

// Assembler concatenates a completed session's chunks, strictly in
// index order, into a single original file.
type Assembler struct {
	chunks    *ChunkStore
	videosDir string
}

func NewAssembler(chunks *ChunkStore, videosDir string) (*Assembler, error) {
	if err := os.MkdirAll(videosDir, 0o755); err != nil {
		return nil, fmt.Errorf("create videos dir: %w", err)
	}
	return &Assembler{chunks: chunks, videosDir: videosDir}, nil
}

// Assemble writes chunks 0..TotalChunks-1 into one output file and
// returns its path. Every chunk's presence is checked again here even
// though Complete has already verified the received-set: chunk storage
// could have been externally tampered with between the two.
// On any failure the partial output is removed and the chunks are left
// intact for retry.
func (a *Assembler) Assemble(sess *store.UploadSession) (string, error) {
	outPath := filepath.Join(a.videosDir, fmt.Sprintf("original_%s_%s", sess.SessionID, sess.Filename))

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create assembled file: %w", err)
	}

	var written int64
	for i := 0; i < sess.TotalChunks; i++ {
		chunk, err := a.chunks.Open(sess.SessionID, i)
		if os.IsNotExist(err) {
			out.Close()
			os.Remove(outPath)
			return "", &CorruptSessionError{SessionID: sess.SessionID, Index: i}
		}
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return "", fmt.Errorf("open chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, chunk)
		chunk.Close()
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return "", fmt.Errorf("append chunk %d: %w", i, err)
		}
		written += n
	}

	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("close assembled file: %w", err)
	}

	if written != sess.TotalSize {
		os.Remove(outPath)
		return "", &AssemblyMismatchError{SessionID: sess.SessionID, Got: written, Want: sess.TotalSize}
	}
	return outPath, nil
}
