// Package queue defines the media-processing queue abstraction: one
// capability set implemented by two backends, a local in-process broker
// and a Redis Streams consumer group standing in for a remote long-poll
// queue (spec.md §2 "Queue Abstraction", §9 "Define a single capability
// set {enqueueImage, enqueueVideo, enqueueFile, stats} implemented by
// both backends. Consumers differ only in their polling loop;
// processing code is shared").
package queue

import (
	"context"
	"time"
)

// JobType names the media kind a Job carries. Image and video match
// models.MediaType; file is a generic kind with no MediaType counterpart.
type JobType string

const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
	JobTypeFile  JobType = "file"
)

// Job is the unit of work handed to a media worker: enough to re-fetch
// and process one attachment without round-tripping through the caller
// (spec.md §4.4 "Workers (shared logic across queue backends)").
type Job struct {
	Type         JobType   `json:"type"`
	AttachmentID string    `json:"attachmentId"`
	UploadID     string    `json:"uploadId"`
	S3Key        string    `json:"s3Key"`
	UploaderID   string    `json:"uploaderId"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	Attempt      int       `json:"attempt"`
}

// JobHandler processes one Job. A returned error causes the backend's
// own retry policy to decide redelivery (spec.md §4.4 "the queue
// provider decides re-delivery").
type JobHandler func(ctx context.Context, job Job) error

// Stats reports a queue backend's current depth and in-flight count,
// enough for an operator to answer "is the media pipeline backed up".
type Stats struct {
	Pending  int64
	InFlight int64
}

// Queue is the capability set every backend implements. Producers call
// the three Enqueue* methods; Stats is read-only introspection.
type Queue interface {
	EnqueueImage(ctx context.Context, job Job) error
	EnqueueVideo(ctx context.Context, job Job) error
	EnqueueFile(ctx context.Context, job Job) error
	Stats(ctx context.Context) (Stats, error)
}

// Consumer drains a Queue, invoking handler for each Job. Consume blocks
// until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler JobHandler) error
}

func (j *Job) withType(t JobType) Job {
	out := *j
	out.Type = t
	if out.EnqueuedAt.IsZero() {
		out.EnqueuedAt = time.Now()
	}
	return out
}
