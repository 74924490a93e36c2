package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaType is the coarse class of an attachment, inferred from its
// mime type at initiate time (spec.md §4.4).
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// MediaProcessingStatus tracks an attachment through the upload/process
// pipeline (spec.md §3 "Media Attachment"). Monotonic except into
// Failed/Expired.
type MediaProcessingStatus string

const (
	MediaPending    MediaProcessingStatus = "pending"
	MediaUploaded   MediaProcessingStatus = "uploaded"
	MediaProcessing MediaProcessingStatus = "processing"
	MediaReady      MediaProcessingStatus = "ready"
	MediaFailed     MediaProcessingStatus = "failed"
	MediaExpired    MediaProcessingStatus = "expired"
)

// MediaAttachment is the durable record of one uploaded file moving
// through presign/confirm/process (spec.md §3, §4.4).
type MediaAttachment struct {
	BaseModel
	UploadID         string                `gorm:"size:64;not null;uniqueIndex" json:"upload_id"`
	UploaderID       uuid.UUID             `gorm:"type:uuid;not null;index" json:"uploader_id"`
	OriginalName     string                `gorm:"size:500;not null" json:"original_name"`
	MimeType         string                `gorm:"size:150;not null" json:"mime_type"`
	MediaType        MediaType             `gorm:"size:20;not null" json:"media_type"`
	Size             int64                 `gorm:"not null" json:"size"`
	S3KeyTemp        string                `gorm:"size:500" json:"s3_key_temp,omitempty"`
	S3Key            string                `gorm:"size:500" json:"s3_key,omitempty"`
	CDNURL           string                `gorm:"type:text" json:"cdn_url,omitempty"`
	ThumbnailURL     string                `gorm:"type:text" json:"thumbnail_url,omitempty"`
	OptimizedURL     string                `gorm:"type:text" json:"optimized_url,omitempty"`
	HLSPlaylistURL   string                `gorm:"type:text" json:"hls_playlist_url,omitempty"`
	ProcessingStatus MediaProcessingStatus `gorm:"size:20;not null;default:'pending';index" json:"processing_status"`
	ProcessingError  string                `gorm:"type:text" json:"processing_error,omitempty"`
	RetryCount       int                   `gorm:"not null;default:0" json:"retry_count"`
	MessageID        *uuid.UUID            `gorm:"type:uuid;index" json:"message_id,omitempty"`
}

func (MediaAttachment) TableName() string {
	return "media_attachments"
}
