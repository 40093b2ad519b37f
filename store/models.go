package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	SessionUploading SessionStatus = "uploading"
	SessionCompleted SessionStatus = "completed"
)

// VideoStatus is the processing state of a finalized video.
type VideoStatus string

const (
	StatusProcessing VideoStatus = "processing"
	StatusProcessed  VideoStatus = "processed"
	StatusError      VideoStatus = "error"
)

// IsValid returns true if the status is a known VideoStatus.
func (s VideoStatus) IsValid() bool {
	switch s {
	case StatusProcessing, StatusProcessed, StatusError:
		return true
	}
	return false
}

// Artifact kinds recorded on a video.
const (
	ArtifactCompressed = "compressed"
	ArtifactThumbnail  = "thumbnail"
	ArtifactPackage    = "package"
)

// IndexSet is a set of chunk indices persisted as a JSON array.
type IndexSet []int

func (s IndexSet) Value() (driver.Value, error) {
	if s == nil {
		s = IndexSet{}
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *IndexSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = IndexSet{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into IndexSet", src)
	}
}

// Contains reports whether index i is in the set.
func (s IndexSet) Contains(i int) bool {
	for _, v := range s {
		if v == i {
			return true
		}
	}
	return false
}

// Add returns the set with i added, untouched if already present.
func (s IndexSet) Add(i int) IndexSet {
	if s.Contains(i) {
		return s
	}
	return append(s, i)
}

// ArtifactMap maps artifact kind to output path, persisted as JSON.
type ArtifactMap map[string]string

func (m ArtifactMap) Value() (driver.Value, error) {
	if m == nil {
		m = ArtifactMap{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *ArtifactMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = ArtifactMap{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into ArtifactMap", src)
	}
}

// UploadSession is one durable row per in-flight chunked upload.
type UploadSession struct {
	SessionID      string        `gorm:"primaryKey;column:session_id" json:"sessionId"`
	Filename       string        `gorm:"not null" json:"filename"`
	TotalSize      int64         `gorm:"not null" json:"totalSize"`
	TotalChunks    int           `gorm:"not null" json:"totalChunks"`
	ReceivedChunks IndexSet      `gorm:"type:text" json:"receivedChunks"`
	Status         SessionStatus `gorm:"type:varchar(16);not null;default:'uploading'" json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Video is the durable per-video record tracking processing progress.
type Video struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	SessionID        string      `gorm:"index" json:"sessionId"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	OriginalFilename string      `json:"originalFilename"`
	SourcePath       string      `gorm:"not null" json:"sourcePath"`
	OriginalSize     int64       `json:"originalSize"`
	Status           VideoStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Error            string      `json:"error,omitempty"`
	Artifacts        ArtifactMap `gorm:"type:text" json:"artifacts"`
	Views            int64       `gorm:"not null;default:0" json:"views"`

	// Probe metadata, populated once probing succeeds.
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Bitrate  int64   `json:"bitrate,omitempty"`
	Format   string  `json:"format,omitempty"`
	FPS      float64 `json:"fps,omitempty"`

	UploadedAt  time.Time  `json:"uploadedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Resolution renders "1920x1080", or "" before probing.
func (v *Video) Resolution() string {
	if v.Width == 0 || v.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}
