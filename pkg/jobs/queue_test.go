package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("generation", func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "generate", Payload: "run-1"}))
	select {
	case job := <-done:
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "run-1", job.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueueReportsExhaustedJobs(t *testing.T) {
	var attempts int32
	exhausted := make(chan error, 1)
	q := NewQueue("generation", func(context.Context, Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("database unavailable")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
		OnExhausted: func(_ context.Context, _ Job, err error) {
			exhausted <- err
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "run-2", Type: "generate"}))
	select {
	case err := <-exhausted:
		assert.EqualError(t, err, "database unavailable")
		assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion was not reported")
	}
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("generation", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{}))
	assert.Equal(t, 0, q.Pending())
}
