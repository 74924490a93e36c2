package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nyife/rtcore/internal/config"
)

// S3Client provides upload, presign, and move operations over the object
// store backing both call recordings and the media pipeline's
// temp/permanent attachment keys.
type S3Client struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Client creates a new S3 client from the application's StorageConfig.
func NewS3Client(cfg *config.StorageConfig) (*S3Client, error) {
	if cfg.S3Bucket == "" || cfg.S3Region == "" {
		return nil, fmt.Errorf("s3_bucket and s3_region are required")
	}

	opts := s3.Options{
		Region: cfg.S3Region,
	}

	if cfg.S3Key != "" && cfg.S3Secret != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")
	}

	client := s3.New(opts)
	return &S3Client{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// PublicURL builds the virtual-hosted-style URL for key, used as the
// derived CDN/thumbnail/optimized URL once an attachment reaches its
// permanent key (spec.md §3 "derived URLs (CDN, thumbnail, optimized,
// HLS playlist)").
func (s *S3Client) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Upload uploads a file to S3 at the given key.
func (s *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

// GetPresignedURL returns a time-limited download URL for the given S3 key.
func (s *S3Client) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// PresignedPutURL returns a time-limited upload URL for key, handed to a
// client at upload-initiate time (spec.md §4.4 "return a presigned URL
// with a fixed expiry").
func (s *S3Client) PresignedPutURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Download streams an object's body to the caller, who must close it.
func (s *S3Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Move atomically relocates an object from srcKey to dstKey via
// server-side copy followed by delete of the source, the closest S3
// offers to a rename (spec.md §3 "s3Key is assigned only after a
// successful atomic move").
func (s *S3Client) Move(ctx context.Context, srcKey, dstKey string) error {
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	}); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	if err := s.Delete(ctx, srcKey); err != nil {
		return fmt.Errorf("copied to %s but failed to delete source %s: %w", dstKey, srcKey, err)
	}
	return nil
}

// Delete removes an object. Used both to clean up a temp key after a
// successful move and to physically delete a soft-deleted attachment
// once its grace window expires.
func (s *S3Client) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
