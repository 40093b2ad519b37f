package upload

import (
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vidserve/config"
	"vidserve/logging"
	"vidserve/metrics"
	"vidserve/store"
)

// Enqueuer hands a finalized video to the processing queue. Implemented
// by the task manager; kept as an interface so the registry never
// depends on queue internals.
type Enqueuer interface {
	EnqueueProcess(videoID uint) error
}

// Registry owns the upload session lifecycle: open, chunk submission,
// completion (assembly + media record + task enqueue) and resume.
// All mutations of one session's fields run under that session's own
// lock; unrelated sessions never contend.
type Registry struct {
	cfg      *config.Config
	sessions *store.SessionStore
	videos   *store.VideoStore
	chunks   *ChunkStore
	asm      *Assembler
	queue    Enqueuer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry(cfg *config.Config, sessions *store.SessionStore, videos *store.VideoStore, chunks *ChunkStore, asm *Assembler, queue Enqueuer) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: sessions,
		videos:   videos,
		chunks:   chunks,
		asm:      asm,
		queue:    queue,
		locks:    map[string]*sync.Mutex{},
	}
}

func (r *Registry) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

func (r *Registry) dropSessionLock(sessionID string) {
	r.mu.Lock()
	delete(r.locks, sessionID)
	r.mu.Unlock()
}

// OpenSession validates the declared upload and allocates chunk
// storage for it. The session id is client-supplied and opaque.
func (r *Registry) OpenSession(sessionID, filename string, totalSize int64, totalChunks int) error {
	if sessionID == "" || filename == "" || totalSize <= 0 || totalChunks <= 0 {
		return ErrBadSessionParams
	}
	// Reject anything that is not a plain file name.
	if filepath.Base(filename) != filename || strings.Contains(filename, "..") {
		return ErrBadSessionParams
	}
	if totalSize > r.cfg.MaxUploadSize {
		return ErrFileTooLarge
	}
	if !r.cfg.ExtensionAllowed(filepath.Ext(filename)) {
		return ErrExtensionNotAllowed
	}

	l := r.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := &store.UploadSession{
		SessionID:      sessionID,
		Filename:       filename,
		TotalSize:      totalSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: store.IndexSet{},
		Status:         store.SessionUploading,
	}
	if err := r.sessions.Create(sess); err != nil {
		if err == store.ErrDuplicate {
			return ErrSessionExists
		}
		return err
	}
	if err := r.chunks.Allocate(sessionID); err != nil {
		return err
	}

	logging.Infow("upload session opened",
		"sessionId", sessionID, "filename", filename,
		"totalSize", totalSize, "totalChunks", totalChunks)
	return nil
}

// SubmitChunk persists one chunk and records its index. The disk write
// happens outside the session lock so concurrent submissions of
// different indices only serialize on the received-set update, never on
// each other's I/O. Resubmitting an index overwrites the stored bytes
// without changing the received count.
func (r *Registry) SubmitChunk(sessionID string, index int, chunk io.Reader) (received, total int, err error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, 0, ErrSessionNotFound
		}
		return 0, 0, err
	}
	if index < 0 || index >= sess.TotalChunks {
		return 0, 0, ErrBadChunkIndex
	}

	n, err := r.chunks.Write(sessionID, index, chunk)
	if err != nil {
		return 0, 0, err
	}

	l := r.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err = r.sessions.MarkChunkReceived(sessionID, index)
	if err != nil {
		if err == store.ErrNotFound {
			// Session disappeared between the read and the write
			// (completed or reclaimed concurrently); discard the chunk.
			_ = r.chunks.Remove(sessionID)
			return 0, 0, ErrSessionNotFound
		}
		return 0, 0, err
	}

	metrics.ChunksReceived.Inc()
	metrics.ChunkBytes.Add(float64(n))
	return len(sess.ReceivedChunks), sess.TotalChunks, nil
}

// missingChunks returns the sorted indices of [0, total) absent from
// the received set.
func missingChunks(received store.IndexSet, total int) []int {
	missing := []int{}
	for i := 0; i < total; i++ {
		if !received.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Complete verifies the session received every chunk, assembles the
// original file, creates the media record in processing state, enqueues
// a process task and deletes the session. Chunk storage is reclaimed
// only after successful assembly; an assembly failure leaves the chunks
// intact so Complete can be retried.
func (r *Registry) Complete(sessionID, title, description string) (uint, error) {
	l := r.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}

	// The row may lag the chunk directory after a crash mid-submission;
	// the stored files are the source of truth, same as on resume.
	onDisk, err := r.chunks.Received(sessionID)
	if err != nil {
		return 0, err
	}
	for _, idx := range onDisk {
		if idx < sess.TotalChunks {
			sess.ReceivedChunks = sess.ReceivedChunks.Add(idx)
		}
	}

	if missing := missingChunks(sess.ReceivedChunks, sess.TotalChunks); len(missing) > 0 {
		return 0, &IncompleteUploadError{Missing: missing}
	}

	sourcePath, err := r.asm.Assemble(sess)
	if err != nil {
		return 0, err
	}

	video := &store.Video{
		SessionID:        sessionID,
		Title:            title,
		Description:      description,
		OriginalFilename: sess.Filename,
		SourcePath:       sourcePath,
		OriginalSize:     sess.TotalSize,
		Status:           store.StatusProcessing,
		UploadedAt:       time.Now(),
	}
	if err := r.videos.Create(video); err != nil {
		return 0, err
	}

	if err := r.queue.EnqueueProcess(video.ID); err != nil {
		// The record exists and is visible via status polling; it can
		// be re-enqueued through the reprocess endpoint.
		logging.Warnw("enqueue after completion failed",
			"videoId", video.ID, "error", err)
	}

	sess.Status = store.SessionCompleted
	if err := r.sessions.Save(sess); err != nil {
		logging.Warnw("mark session completed failed", "sessionId", sessionID, "error", err)
	}
	if err := r.chunks.Remove(sessionID); err != nil {
		logging.Warnw("chunk reclaim failed", "sessionId", sessionID, "error", err)
	}
	if err := r.sessions.Delete(sessionID); err != nil {
		logging.Warnw("session delete failed", "sessionId", sessionID, "error", err)
	}
	r.dropSessionLock(sessionID)

	logging.Infow("upload completed", "sessionId", sessionID, "videoId", video.ID)
	return video.ID, nil
}

// ResumeStatus reports the received chunk indices so a client can diff
// its local chunk list and resubmit only the gap. The set is the union
// of the session row and the chunk directory listing: after a crash the
// directory is the source of truth.
func (r *Registry) ResumeStatus(sessionID string) (received []int, total int, filename string, err error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, 0, "", ErrSessionNotFound
		}
		return nil, 0, "", err
	}
	if sess.Status == store.SessionCompleted {
		return nil, 0, "", ErrSessionNotFound
	}

	onDisk, err := r.chunks.Received(sessionID)
	if err != nil {
		return nil, 0, "", err
	}

	set := sess.ReceivedChunks
	for _, idx := range onDisk {
		if idx < sess.TotalChunks {
			set = set.Add(idx)
		}
	}
	received = append([]int{}, set...)
	sort.Ints(received)
	return received, sess.TotalChunks, sess.Filename, nil
}

// ReclaimStale deletes sessions that have been idle longer than ttl and
// frees their chunk storage. Only still-uploading sessions qualify; it
// is invoked explicitly, never on a timer. Returns the number of
// sessions reclaimed.
func (r *Registry) ReclaimStale(ttl time.Duration) (int, error) {
	stale, err := r.sessions.ListStale(time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, sess := range stale {
		l := r.sessionLock(sess.SessionID)
		l.Lock()
		// Re-check under the lock: the session may have completed since
		// the listing.
		current, err := r.sessions.Get(sess.SessionID)
		if err != nil || current.Status != store.SessionUploading {
			l.Unlock()
			continue
		}
		if err := r.chunks.Remove(sess.SessionID); err != nil {
			logging.Warnw("stale chunk reclaim failed", "sessionId", sess.SessionID, "error", err)
		}
		if err := r.sessions.Delete(sess.SessionID); err != nil {
			logging.Warnw("stale session delete failed", "sessionId", sess.SessionID, "error", err)
			l.Unlock()
			continue
		}
		l.Unlock()
		r.dropSessionLock(sess.SessionID)
		reclaimed++
		logging.Infow("stale session reclaimed", "sessionId", sess.SessionID)
	}
	return reclaimed, nil
}
