// Package media implements the upload/processing pipeline of spec.md
// §4.4: presigned upload initiation and confirmation, inline vs.
// queued-worker branching by media type, streaming image/video
// post-processing, and per-user progress events. It generalizes the
// teacher's single-purpose recording uploader (internal/storage/s3.go,
// internal/calling/session.go's finalizeRecording) into the full
// attachment lifecycle, and adapts the teacher's internal/tts external-
// process idiom for ffmpeg-driven video work.
package media

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/clock"
	"github.com/nyife/rtcore/internal/config"
	"github.com/nyife/rtcore/internal/eventbus"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/internal/queue"
	"github.com/nyife/rtcore/internal/storage"
)

// Service implements upload initiation/confirmation and the inline
// processing path. Queued (image/video) processing is handled by Worker,
// which shares this Service's process* methods.
type Service struct {
	db       *gorm.DB
	storage  *storage.S3Client
	queue    queue.Queue
	bus      *eventbus.Bus
	progress *ProgressHub
	clk      clock.Clock
	log      logf.Logger
	cfg      config.MediaConfig
}

// New creates a Service.
func New(db *gorm.DB, s3 *storage.S3Client, q queue.Queue, bus *eventbus.Bus, progress *ProgressHub, clk clock.Clock, log logf.Logger, cfg config.MediaConfig) *Service {
	return &Service{db: db, storage: s3, queue: q, bus: bus, progress: progress, clk: clk, log: log, cfg: cfg}
}

// InitiateResult is returned to the caller so it can PUT the file body
// directly to object storage.
type InitiateResult struct {
	UploadID  string    `json:"uploadId"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InitiateUpload validates size against the per-type limit, mints a temp
// key and a presigned PUT URL, and persists a pending attachment row
// (spec.md §4.4 "Initiate... Failures here do not create orphans").
func (s *Service) InitiateUpload(ctx context.Context, uploaderID, filename, mimeType string, size int64) (*InitiateResult, error) {
	uploaderUUID, err := uuid.Parse(uploaderID)
	if err != nil {
		return nil, apperr.New(apperr.BadInput, "invalid uploader id")
	}

	mediaType := inferMediaType(mimeType)
	if limit, ok := s.cfg.MaxBytesByType[string(mediaType)]; ok && size > limit {
		return nil, apperr.New(apperr.ValidationFailed, fmt.Sprintf("file exceeds the %d byte limit for %s uploads", limit, mediaType))
	}

	uploadID := uuid.New().String()
	tempKey := fmt.Sprintf("temp/%s/%s", uploaderID, uploadID)

	uploadURL, err := s.storage.PresignedPutURL(ctx, tempKey, mimeType, s.cfg.PresignExpiry)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "failed to presign upload", err)
	}

	att := models.MediaAttachment{
		UploadID:         uploadID,
		UploaderID:       uploaderUUID,
		OriginalName:     filename,
		MimeType:         mimeType,
		MediaType:        mediaType,
		Size:             size,
		S3KeyTemp:        tempKey,
		ProcessingStatus: models.MediaPending,
	}
	if err := s.db.WithContext(ctx).Create(&att).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to persist attachment", err)
	}

	return &InitiateResult{
		UploadID:  uploadID,
		UploadURL: uploadURL,
		ExpiresAt: s.clk.Now().Add(s.cfg.PresignExpiry),
	}, nil
}

// ConfirmUpload marks an attachment uploaded and branches by media type:
// audio/document process inline and return ready; image/video are
// enqueued for a worker (spec.md §4.4 "Inline path" / "Queued path").
func (s *Service) ConfirmUpload(ctx context.Context, uploadID string) error {
	att, err := s.loadByUploadID(ctx, uploadID)
	if err != nil {
		return err
	}
	if att.ProcessingStatus != models.MediaPending {
		return apperr.New(apperr.Conflict, "upload already confirmed")
	}

	att.ProcessingStatus = models.MediaUploaded
	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update attachment", err)
	}
	s.publishUploaded(att)
	s.emitProgress(att, "uploaded", 0, "")

	switch att.MediaType {
	case models.MediaTypeAudio, models.MediaTypeDocument:
		return s.processInline(ctx, att)
	default:
		return s.enqueueForProcessing(ctx, att)
	}
}

func (s *Service) loadByUploadID(ctx context.Context, uploadID string) (models.MediaAttachment, error) {
	var att models.MediaAttachment
	err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return att, apperr.New(apperr.NotFound, "unknown upload")
	}
	if err != nil {
		return att, apperr.Wrap(apperr.Internal, "failed to load attachment", err)
	}
	return att, nil
}

func (s *Service) enqueueForProcessing(ctx context.Context, att models.MediaAttachment) error {
	att.ProcessingStatus = models.MediaProcessing
	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to mark attachment processing", err)
	}

	job := queue.Job{
		AttachmentID: att.ID.String(),
		UploadID:     att.UploadID,
		S3Key:        att.S3KeyTemp,
		UploaderID:   att.UploaderID.String(),
	}

	var err error
	switch att.MediaType {
	case models.MediaTypeImage:
		err = s.queue.EnqueueImage(ctx, job)
	case models.MediaTypeVideo:
		err = s.queue.EnqueueVideo(ctx, job)
	default:
		err = s.queue.EnqueueFile(ctx, job)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to enqueue processing job", err)
	}
	return nil
}

// processInline handles audio/document uploads synchronously: download,
// deep-validate, atomic move, mark ready (spec.md §4.4 "Inline path").
func (s *Service) processInline(ctx context.Context, att models.MediaAttachment) error {
	tmpPath, err := s.downloadToTemp(ctx, att.S3KeyTemp)
	if err != nil {
		return s.fail(ctx, att, apperr.Wrap(apperr.Internal, "failed to download upload for validation", err))
	}
	defer os.Remove(tmpPath)

	detected, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		return s.fail(ctx, att, apperr.Wrap(apperr.Internal, "failed to sniff uploaded file", err))
	}
	if !sameBroadCategory(detected.String(), att.MimeType) {
		return s.fail(ctx, att, apperr.New(apperr.ValidationFailed, "uploaded file's content does not match its declared mime type"))
	}

	permanentKey := permanentKey(s.clk.Now(), att.UploadID, detected.Extension())
	if err := s.storage.Move(ctx, att.S3KeyTemp, permanentKey); err != nil {
		return s.fail(ctx, att, apperr.Wrap(apperr.Internal, "failed to move upload to its permanent key", err))
	}

	att.S3Key = permanentKey
	att.S3KeyTemp = ""
	att.CDNURL = s.storage.PublicURL(permanentKey)
	att.ProcessingStatus = models.MediaReady
	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to finalize attachment", err)
	}

	s.publishProcessed(att)
	s.emitProgress(att, "ready", 100, "")
	return nil
}

// fail records a processing failure on the attachment row and emits a
// failed progress event on every attempt; the media.failed domain event
// only fires once the queue has exhausted redelivery (spec.md §4.4 "On
// any error... emit per-user progress {status=failed, error}...
// Final-attempt failures emit media.failed"). The inline path has no
// retries, so its failures are always final.
func (s *Service) fail(ctx context.Context, att models.MediaAttachment, cause error) error {
	return s.failAttempt(ctx, att, cause, true)
}

// failRetryable is fail's queued-path counterpart: attempt is the job's
// current delivery count, compared against the shared retry ceiling to
// decide whether this is the final attempt.
func (s *Service) failRetryable(ctx context.Context, att models.MediaAttachment, cause error, attempt int) error {
	return s.failAttempt(ctx, att, cause, attempt >= s.cfg.LocalBrokerAttempts)
}

func (s *Service) failAttempt(ctx context.Context, att models.MediaAttachment, cause error, final bool) error {
	att.RetryCount++
	att.ProcessingStatus = models.MediaFailed
	att.ProcessingError = cause.Error()
	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		s.log.Error("media: failed to record processing failure", "error", err, "attachment_id", att.ID)
	}
	if final {
		s.publishFailed(att)
	}
	s.emitProgress(att, "failed", 0, cause.Error())
	return cause
}

func (s *Service) emitProgress(att models.MediaAttachment, status string, progress int, errMsg string) {
	s.progress.Emit(att.UploaderID.String(), ProgressEvent{
		MediaID:        att.ID.String(),
		Status:         status,
		Progress:       progress,
		ThumbnailURL:   att.ThumbnailURL,
		HLSPlaylistURL: att.HLSPlaylistURL,
		CDNURL:         att.CDNURL,
		Error:          errMsg,
		MessageID:      messageIDString(att.MessageID),
	})
}

func (s *Service) downloadToTemp(ctx context.Context, key string) (string, error) {
	body, err := s.storage.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	dir := s.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "rtcore-media-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func inferMediaType(mime string) models.MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.MediaTypeImage
	case strings.HasPrefix(mime, "video/"):
		return models.MediaTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return models.MediaTypeAudio
	default:
		return models.MediaTypeDocument
	}
}

// sameBroadCategory reports whether detected and declared agree on the
// image/video/audio/other split, the deep-validation spec.md §4.4 asks
// for on the inline path ("deep-validate (magic bytes...)").
func sameBroadCategory(detected, declared string) bool {
	category := func(m string) string {
		m = strings.SplitN(m, ";", 2)[0]
		parts := strings.SplitN(m, "/", 2)
		if len(parts) != 2 {
			return m
		}
		switch parts[0] {
		case "image", "video", "audio":
			return parts[0]
		default:
			return "other"
		}
	}
	return category(detected) == category(declared)
}

// permanentKey builds the unlinked permanent key spec.md §4.4 names:
// permanent/YYYY/MM/unlinked/{md5(uploadId)[:12]}.{ext}. An attachment is
// "linked" to a message later by a separate, out-of-scope call that sets
// MessageID; this pipeline never assumes a message exists yet.
func permanentKey(now time.Time, uploadID, ext string) string {
	sum := md5.Sum([]byte(uploadID))
	hash := fmt.Sprintf("%x", sum)[:12]
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("permanent/%04d/%02d/unlinked/%s.%s", now.Year(), int(now.Month()), hash, ext)
}

func messageIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
