package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// VideoStore persists finalized video records. Video ids are assigned
// monotonically by the table's auto-increment key.
type VideoStore struct {
	db *gorm.DB
}

func NewVideoStore(db *gorm.DB) *VideoStore {
	return &VideoStore{db: db}
}

// Create inserts a new record and fills in its assigned id.
func (s *VideoStore) Create(v *Video) error {
	if v.Artifacts == nil {
		v.Artifacts = ArtifactMap{}
	}
	if v.UploadedAt.IsZero() {
		v.UploadedAt = time.Now()
	}
	return s.db.Create(v).Error
}

// Get fetches a record by video id.
func (s *VideoStore) Get(videoID uint) (*Video, error) {
	var v Video
	err := s.db.First(&v, videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListByStatus returns all records in the given status, oldest first.
func (s *VideoStore) ListByStatus(status VideoStatus) ([]Video, error) {
	var videos []Video
	err := s.db.Where("status = ?", status).Order("id asc").Find(&videos).Error
	return videos, err
}

// SetProcessing moves a record back to processing and clears any prior
// error cause. Used when a task starts (including re-processing).
func (s *VideoStore) SetProcessing(videoID uint) error {
	return s.update(videoID, map[string]interface{}{
		"status": StatusProcessing,
		"error":  "",
	})
}

// MarkProcessed transitions a record to its terminal success state.
func (s *VideoStore) MarkProcessed(videoID uint) error {
	now := time.Now()
	return s.update(videoID, map[string]interface{}{
		"status":       StatusProcessed,
		"error":        "",
		"processed_at": &now,
	})
}

// SetError transitions a record to its terminal failure state with a
// human-readable cause. Artifacts written by earlier steps are left
// untouched.
func (s *VideoStore) SetError(videoID uint, cause string) error {
	return s.update(videoID, map[string]interface{}{
		"status": StatusError,
		"error":  cause,
	})
}

// MergeArtifacts adds the given artifact entries to the record's map.
// Existing keys not named in artifacts are preserved; a key is only
// overwritten by a new successful path for the same kind.
func (s *VideoStore) MergeArtifacts(videoID uint, artifacts map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var v Video
		if err := tx.First(&v, videoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if v.Artifacts == nil {
			v.Artifacts = ArtifactMap{}
		}
		for kind, path := range artifacts {
			v.Artifacts[kind] = path
		}
		return tx.Model(&Video{}).Where("id = ?", videoID).
			Update("artifacts", v.Artifacts).Error
	})
}

// SetProbeMetadata stores the container/stream metadata on the record.
func (s *VideoStore) SetProbeMetadata(videoID uint, duration float64, width, height int, codec string, bitrate int64, format string, fps float64) error {
	return s.update(videoID, map[string]interface{}{
		"duration": duration,
		"width":    width,
		"height":   height,
		"codec":    codec,
		"bitrate":  bitrate,
		"format":   format,
		"fps":      fps,
	})
}

// IncrementViews bumps the view counter and returns the stored value,
// so concurrent bumps never report the same count from a stale read.
func (s *VideoStore) IncrementViews(videoID uint) (int64, error) {
	var views int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Video{}).Where("id = ?", videoID).
			Update("views", gorm.Expr("views + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var v Video
		if err := tx.First(&v, videoID).Error; err != nil {
			return err
		}
		views = v.Views
		return nil
	})
	return views, err
}

func (s *VideoStore) update(videoID uint, fields map[string]interface{}) error {
	res := s.db.Model(&Video{}).Where("id = ?", videoID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
