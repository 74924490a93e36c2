package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/internal/queue"
)

// ffmpegTimeout bounds one external-process invocation, matching the
// teacher's tts.PiperTTS.Generate's own fixed ceiling on its CLI calls.
const ffmpegTimeout = 5 * time.Minute

// processVideo implements spec.md §4.4 step 4's video branch: a
// thumbnail frame at 1s always, HLS transcoding gated by
// cfg.HLSEnabled and the duration/width thresholds. Grounded on the
// teacher's internal/tts.PiperTTS.Generate idiom: exec.CommandContext,
// stderr capture, temp file plus atomic rename.
func (s *Service) processVideo(ctx context.Context, job queue.Job) error {
	att, err := s.loadByAttachmentID(ctx, job.AttachmentID)
	if err != nil {
		return err
	}

	tmpPath, err := s.downloadToTemp(ctx, att.S3KeyTemp)
	if err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to download video for processing", err), job.Attempt)
	}
	defer os.Remove(tmpPath)

	duration, width, err := s.probe(ctx, tmpPath)
	if err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.ValidationFailed, "failed to probe video", err), job.Attempt)
	}

	thumbPath, err := s.extractThumbnail(ctx, tmpPath)
	if err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to extract video thumbnail", err), job.Attempt)
	}
	defer os.Remove(thumbPath)

	thumbKey := permanentKey(s.clk.Now(), att.UploadID+"-thumb", "jpg")
	if err := s.uploadFile(ctx, thumbPath, thumbKey, "image/jpeg"); err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to upload video thumbnail", err), job.Attempt)
	}
	att.ThumbnailURL = s.storage.PublicURL(thumbKey)

	if s.cfg.HLSEnabled && duration >= s.cfg.HLSMinDuration && width >= s.cfg.HLSMinWidth {
		playlistKey, err := s.transcodeHLS(ctx, tmpPath, att.UploadID)
		if err != nil {
			s.log.Warn("media: hls transcode failed, continuing without it", "error", err, "attachment_id", att.ID)
		} else {
			att.HLSPlaylistURL = s.storage.PublicURL(playlistKey)
		}
	}

	originalKey := permanentKey(s.clk.Now(), att.UploadID, "mp4")
	if err := s.storage.Move(ctx, att.S3KeyTemp, originalKey); err != nil {
		return s.failRetryable(ctx, att, apperr.Wrap(apperr.Internal, "failed to move original video", err), job.Attempt)
	}
	att.S3Key = originalKey
	att.S3KeyTemp = ""
	att.CDNURL = s.storage.PublicURL(originalKey)
	att.ProcessingStatus = models.MediaReady

	if err := s.db.WithContext(ctx).Save(&att).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to finalize video attachment", err)
	}
	s.publishProcessed(att)
	s.emitProgress(att, "ready", 100, "")
	return nil
}

// probe reads duration and width via ffprobe, ffmpeg's own inspection
// tool, shelled out the same way the teacher shells out to opusenc.
func (s *Service) probe(ctx context.Context, path string) (time.Duration, int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, ffmpegTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffprobe",
		"-v", "error",
		"-show_entries", "stream=width:format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, 0, &execError{"ffprobe", err, stderr.String()}
	}

	var duration time.Duration
	var width int
	for _, line := range strings.Split(out.String(), "\n") {
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "width":
			if w, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && width == 0 {
				width = w
			}
		case "duration":
			if secs, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64); err == nil {
				duration = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return duration, width, nil
}

func (s *Service) extractThumbnail(ctx context.Context, videoPath string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, ffmpegTimeout)
	defer cancel()

	outPath := filepath.Join(s.tempDir(), "rtcore-thumb-"+filepath.Base(videoPath)+".jpg")
	cmd := exec.CommandContext(cmdCtx, s.ffmpegBinary(),
		"-y",
		"-ss", "00:00:01",
		"-i", videoPath,
		"-frames:v", "1",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &execError{"ffmpeg thumbnail", err, stderr.String()}
	}
	return outPath, nil
}

// transcodeHLS produces an HLS playlist alongside its segments, all
// uploaded under one permanent prefix, and returns the playlist's key.
func (s *Service) transcodeHLS(ctx context.Context, videoPath, uploadID string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, ffmpegTimeout)
	defer cancel()

	outDir, err := os.MkdirTemp(s.tempDir(), "rtcore-hls-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	playlistPath := filepath.Join(outDir, "playlist.m3u8")
	cmd := exec.CommandContext(cmdCtx, s.ffmpegBinary(),
		"-y",
		"-i", videoPath,
		"-c", "copy",
		"-start_number", "0",
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-f", "hls",
		playlistPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &execError{"ffmpeg hls", err, stderr.String()}
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("permanent/hls/%s", uploadID)
	var playlistKey string
	for _, entry := range entries {
		key := prefix + "/" + entry.Name()
		if err := s.uploadFile(ctx, filepath.Join(outDir, entry.Name()), key, hlsContentType(entry.Name())); err != nil {
			return "", err
		}
		if entry.Name() == "playlist.m3u8" {
			playlistKey = key
		}
	}
	if playlistKey == "" {
		return "", fmt.Errorf("hls transcode produced no playlist")
	}
	return playlistKey, nil
}

func hlsContentType(name string) string {
	if strings.HasSuffix(name, ".m3u8") {
		return "application/vnd.apple.mpegurl"
	}
	return "video/mp2t"
}

func (s *Service) ffmpegBinary() string {
	if s.cfg.FFmpegBinary != "" {
		return s.cfg.FFmpegBinary
	}
	return "ffmpeg"
}

func (s *Service) uploadFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.storage.Upload(ctx, key, f, contentType)
}

type execError struct {
	tool   string
	cause  error
	stderr string
}

func (e *execError) Error() string {
	return e.tool + " failed: " + e.cause.Error() + " (stderr: " + e.stderr + ")"
}

func (e *execError) Unwrap() error { return e.cause }
