package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
)

// Redis Streams tunables, adapted from the teacher's campaign-job queue
// (internal/queue/redis.go) onto a media-job stream: one stream for all
// three job types, consumer group per worker fleet, stale-message
// reclaim on behalf of crashed workers (spec.md §4.4 "remote queue
// relies on visibility-timeout expiry... until the broker's maximum-
// receive count routes the message to its dead-letter queue"). This
// backend has no dead-letter stream: a pending message delivered more
// than MaxDeliveries times is acked and dropped when it is next reclaimed.
const (
	StreamName       = "rtcore:media-jobs"
	ConsumerGroup    = "media-workers"
	BlockTimeout     = 5 * time.Second
	ClaimMinIdleTime = 5 * time.Minute
	MaxDeliveries    = 5
)

// RemoteQueue implements Queue over a Redis stream, standing in for a
// cloud long-poll queue (spec.md §4.4 "cloud queue with long polling").
type RemoteQueue struct {
	client *redis.Client
	log    logf.Logger
}

// NewRemoteQueue creates a RemoteQueue.
func NewRemoteQueue(client *redis.Client, log logf.Logger) *RemoteQueue {
	return &RemoteQueue{client: client, log: log}
}

func (q *RemoteQueue) enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal media job: %w", err)
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]interface{}{
			"type":    string(job.Type),
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue media job: %w", err)
	}
	return nil
}

func (q *RemoteQueue) EnqueueImage(ctx context.Context, job Job) error {
	return q.enqueue(ctx, job.withType(JobTypeImage))
}

func (q *RemoteQueue) EnqueueVideo(ctx context.Context, job Job) error {
	return q.enqueue(ctx, job.withType(JobTypeVideo))
}

func (q *RemoteQueue) EnqueueFile(ctx context.Context, job Job) error {
	return q.enqueue(ctx, job.withType(JobTypeFile))
}

// Stats reports the stream's backlog length and the consumer group's
// pending (claimed-but-unacked) count.
func (q *RemoteQueue) Stats(ctx context.Context) (Stats, error) {
	length, err := q.client.XLen(ctx, StreamName).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stream length: %w", err)
	}
	pending, err := q.client.XPending(ctx, StreamName, ConsumerGroup).Result()
	if err != nil && err != redis.Nil {
		return Stats{}, fmt.Errorf("failed to read pending summary: %w", err)
	}
	var inFlight int64
	if pending != nil {
		inFlight = pending.Count
	}
	return Stats{Pending: length - inFlight, InFlight: inFlight}, nil
}

// RemoteConsumer consumes RemoteQueue via a Redis Streams consumer
// group, reclaiming messages abandoned by crashed workers before
// reading new ones.
type RemoteConsumer struct {
	client     *redis.Client
	log        logf.Logger
	consumerID string
}

// NewRemoteConsumer creates a RemoteConsumer, creating the consumer
// group if it does not already exist.
func NewRemoteConsumer(client *redis.Client, log logf.Logger) (*RemoteConsumer, error) {
	hostname, _ := os.Hostname()
	consumerID := fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())

	ctx := context.Background()
	err := client.XGroupCreateMkStream(ctx, StreamName, ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Info("media queue consumer initialized", "consumer_id", consumerID)
	return &RemoteConsumer{client: client, log: log, consumerID: consumerID}, nil
}

// Consume drains the stream until ctx is cancelled. A job that errors
// is left un-acked; Redis redelivers it to whichever consumer next
// claims it once ClaimMinIdleTime has elapsed.
func (c *RemoteConsumer) Consume(ctx context.Context, handler JobHandler) error {
	if err := c.claimPending(ctx, handler); err != nil {
		c.log.Warn("queue: failed to claim pending messages", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: c.consumerID,
			Streams:  []string{StreamName, ">"},
			Count:    1,
			Block:    BlockTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("queue: failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg, 1, handler)
			}
		}
	}
}

func (c *RemoteConsumer) claimPending(ctx context.Context, handler JobHandler) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamName,
		Group:  ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
		Idle:   ClaimMinIdleTime,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	for _, p := range pending {
		if p.RetryCount > MaxDeliveries {
			c.log.Error("queue: job exceeded max deliveries, dropping", "message_id", p.ID, "deliveries", p.RetryCount)
			c.client.XAck(ctx, StreamName, ConsumerGroup, p.ID)
			continue
		}
		messages, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   StreamName,
			Group:    ConsumerGroup,
			Consumer: c.consumerID,
			MinIdle:  ClaimMinIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error("queue: failed to claim message", "error", err, "message_id", p.ID)
			continue
		}
		for _, msg := range messages {
			c.handle(ctx, msg, int(p.RetryCount), handler)
		}
	}
	return nil
}

// handle processes one claimed message. attempt is the delivery count
// Redis has tracked for this message (1 on first read via XReadGroup,
// the pending entry's RetryCount once reclaimed), threaded onto the job
// so handlers can tell a final attempt from a retry (spec.md §4.4
// "Final-attempt failures emit media.failed").
func (c *RemoteConsumer) handle(ctx context.Context, msg redis.XMessage, attempt int, handler JobHandler) {
	jobType, ok := msg.Values["type"].(string)
	if !ok {
		c.log.Error("queue: message missing type field", "message_id", msg.ID)
		return
	}
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		c.log.Error("queue: message missing payload field", "message_id", msg.ID)
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		c.log.Error("queue: failed to unmarshal job", "error", err, "message_id", msg.ID, "type", jobType)
		return
	}
	job.Attempt = attempt

	if err := handler(ctx, job); err != nil {
		c.log.Error("queue: handler failed, leaving message unacked for reclaim", "error", err, "message_id", msg.ID)
		return
	}
	if err := c.client.XAck(ctx, StreamName, ConsumerGroup, msg.ID).Err(); err != nil {
		c.log.Error("queue: failed to ack message", "error", err, "message_id", msg.ID)
	}
}

// Close is a no-op; the redis.Client is owned by the caller.
func (c *RemoteConsumer) Close() error { return nil }
