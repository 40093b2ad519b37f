package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SessionStore persists upload sessions, keyed by the client-supplied
// session id.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session row. Returns ErrDuplicate if a session
// with the same id already exists.
func (s *SessionStore) Create(sess *UploadSession) error {
	var count int64
	if err := s.db.Model(&UploadSession{}).Where("session_id = ?", sess.SessionID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}
	return s.db.Create(sess).Error
}

// Get fetches a session by id.
func (s *SessionStore) Get(sessionID string) (*UploadSession, error) {
	var sess UploadSession
	err := s.db.Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save writes the full session row back.
func (s *SessionStore) Save(sess *UploadSession) error {
	return s.db.Save(sess).Error
}

// MarkChunkReceived adds index to the session's received set.
// Re-adding a present index is a no-op, so resubmissions never
// double-count toward completeness.
func (s *SessionStore) MarkChunkReceived(sessionID string, index int) (*UploadSession, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.ReceivedChunks = sess.ReceivedChunks.Add(index)
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session row. Deleting a missing row is not an error.
func (s *SessionStore) Delete(sessionID string) error {
	return s.db.Where("session_id = ?", sessionID).Delete(&UploadSession{}).Error
}

// ListStale returns sessions still uploading whose last update is
// older than cutoff. Completed sessions are never returned.
func (s *SessionStore) ListStale(cutoff time.Time) ([]UploadSession, error) {
	var sessions []UploadSession
	err := s.db.
		Where("status = ?", SessionUploading).
		Where("updated_at < ?", cutoff).
		Find(&sessions).Error
	return sessions, err
}
