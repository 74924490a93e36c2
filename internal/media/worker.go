package media

import (
	"context"

	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/queue"
)

// Worker drains a queue.Consumer and dispatches each job to the media
// type's processing method, the "processing code is shared across queue
// backends" half of spec.md §4.4/§9 — only the polling loop differs
// between LocalBroker and RemoteQueue/RemoteConsumer, and that
// difference lives entirely in the queue package.
type Worker struct {
	svc      *Service
	consumer queue.Consumer
	log      logf.Logger
}

// NewWorker creates a Worker bound to svc and consumer.
func NewWorker(svc *Service, consumer queue.Consumer, log logf.Logger) *Worker {
	return &Worker{svc: svc, consumer: consumer, log: log}
}

// Run drains the queue until ctx is cancelled. Call in its own
// goroutine; multiple Workers may share one queue.Consumer's backing
// stream, since "each message is processed by exactly one task at a
// time per broker" (spec.md §4.4 "Workers").
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Consume(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case queue.JobTypeImage:
		return w.svc.processImage(ctx, job)
	case queue.JobTypeVideo:
		return w.svc.processVideo(ctx, job)
	default:
		w.log.Warn("media: worker received unrecognized job type", "type", job.Type, "attachment_id", job.AttachmentID)
		return nil
	}
}
