package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zerodha/logf"
)

// LocalBroker is the in-process queue backend: a buffered channel plus
// a bounded per-job retry count, grounded on the pack's channel-based
// async bus (ManuGH-xg2g/internal/pipeline/bus/memory_bus.go) adapted
// into a single consumer-group-free queue rather than a fan-out bus
// (spec.md §4.4 "local broker respects a configured attempts/backoff").
type LocalBroker struct {
	ch       chan Job
	log      logf.Logger
	attempts int
	backoff  time.Duration
	pending  int64
	inFlight int64
}

// NewLocalBroker creates a LocalBroker with the given channel capacity,
// maximum delivery attempts per job, and backoff between retries.
func NewLocalBroker(capacity, attempts int, backoff time.Duration, log logf.Logger) *LocalBroker {
	return &LocalBroker{
		ch:       make(chan Job, capacity),
		log:      log,
		attempts: attempts,
		backoff:  backoff,
	}
}

func (b *LocalBroker) enqueue(ctx context.Context, job Job) error {
	select {
	case b.ch <- job:
		atomic.AddInt64(&b.pending, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueImage enqueues an image-processing job.
func (b *LocalBroker) EnqueueImage(ctx context.Context, job Job) error {
	return b.enqueue(ctx, job.withType(JobTypeImage))
}

// EnqueueVideo enqueues a video-processing job.
func (b *LocalBroker) EnqueueVideo(ctx context.Context, job Job) error {
	return b.enqueue(ctx, job.withType(JobTypeVideo))
}

// EnqueueFile enqueues a generic file-processing job.
func (b *LocalBroker) EnqueueFile(ctx context.Context, job Job) error {
	return b.enqueue(ctx, job.withType(JobTypeFile))
}

// Stats reports the channel's current depth and in-flight count.
func (b *LocalBroker) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		Pending:  atomic.LoadInt64(&b.pending),
		InFlight: atomic.LoadInt64(&b.inFlight),
	}, nil
}

// Consume drains jobs until ctx is cancelled, retrying a failing job up
// to attempts times with backoff between tries before giving up on it
// (spec.md §4.4, §9 "processing code is shared" across backends — only
// the polling loop here is backend-specific).
func (b *LocalBroker) Consume(ctx context.Context, handler JobHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-b.ch:
			atomic.AddInt64(&b.pending, -1)
			atomic.AddInt64(&b.inFlight, 1)
			b.runWithRetry(ctx, job, handler)
			atomic.AddInt64(&b.inFlight, -1)
		}
	}
}

func (b *LocalBroker) runWithRetry(ctx context.Context, job Job, handler JobHandler) {
	for attempt := 1; attempt <= b.attempts; attempt++ {
		job.Attempt = attempt
		if err := handler(ctx, job); err == nil {
			return
		} else if attempt == b.attempts {
			b.log.Error("queue: job exhausted local-broker retry budget", "error", err, "attachment_id", job.AttachmentID, "attempt", attempt)
			return
		} else {
			b.log.Warn("queue: job failed, retrying", "error", err, "attachment_id", job.AttachmentID, "attempt", attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.backoff):
			}
		}
	}
}
