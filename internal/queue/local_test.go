package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/queue"
)

func TestLocalBroker_EnqueueAndConsume(t *testing.T) {
	broker := queue.NewLocalBroker(8, 3, time.Millisecond, logf.New(logf.Opts{}))

	require.NoError(t, broker.EnqueueImage(context.Background(), queue.Job{AttachmentID: "a1"}))

	stats, err := broker.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	ctx, cancel := context.WithCancel(context.Background())
	var got queue.Job
	var handled int64
	go broker.Consume(ctx, func(_ context.Context, job queue.Job) error {
		got = job
		atomic.AddInt64(&handled, 1)
		cancel()
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt64(&handled) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "a1", got.AttachmentID)
	assert.Equal(t, queue.JobTypeImage, got.Type)
}

func TestLocalBroker_RetriesThenGivesUp(t *testing.T) {
	broker := queue.NewLocalBroker(8, 3, time.Millisecond, logf.New(logf.Opts{}))
	require.NoError(t, broker.EnqueueFile(context.Background(), queue.Job{AttachmentID: "a2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var attempts int64
	done := make(chan struct{})
	go func() {
		broker.Consume(ctx, func(_ context.Context, job queue.Job) error {
			n := atomic.AddInt64(&attempts, 1)
			if n == 3 {
				close(done)
			}
			return errors.New("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected 3 attempts before giving up")
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}
