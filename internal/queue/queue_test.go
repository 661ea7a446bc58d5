package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	q, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func memConfig() Config {
	return Config{
		InMemory:           true,
		MaxAttempts:        3,
		BackoffBase:        5 * time.Millisecond,
		CompletedRetention: 100,
		FailedRetention:    50,
	}
}

func TestEnqueueDequeueComplete(t *testing.T) {
	q := openTestQueue(t, memConfig())
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, Job{ID: "ord-1", TokenIn: "ETH", TokenOut: "USDC", Amount: 100, OrderType: "IMMEDIATE"})
	require.NoError(t, err)
	require.Equal(t, StateWaiting, rec.State)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "ord-1", got.Job.ID)
	require.Equal(t, StateActive, got.State)
	require.Equal(t, 1, got.Attempts)

	m := q.GetMetrics()
	require.Equal(t, Metrics{Active: 1}, m)

	require.NoError(t, q.Complete("ord-1"))
	m = q.GetMetrics()
	require.Equal(t, Metrics{Completed: 1}, m)
}

func TestEnqueueIsIdempotentPerKey(t *testing.T) {
	q := openTestQueue(t, memConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{ID: "ord-1", Amount: 1})
	require.NoError(t, err)
	again, err := q.Enqueue(ctx, Job{ID: "ord-1", Amount: 999})
	require.NoError(t, err)
	// 第二次入队是空操作：保留首次载荷，不产生重复任务
	require.Equal(t, float64(1), again.Job.Amount)
	require.Equal(t, 1, q.GetMetrics().Waiting)

	// active 状态下入队同样幂等
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Job{ID: "ord-1"})
	require.NoError(t, err)
	m := q.GetMetrics()
	require.Equal(t, 0, m.Waiting)
	require.Equal(t, 1, m.Active)
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q := openTestQueue(t, memConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{ID: "ord-1"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		rec, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, attempt, rec.Attempts)
		require.NoError(t, q.Fail("ord-1", errors.New("boom")))
	}

	m := q.GetMetrics()
	require.Equal(t, 1, m.Failed)
	require.Equal(t, 0, m.Waiting+m.Active+m.Delayed)

	rec, ok := q.Record("ord-1")
	require.True(t, ok)
	require.Equal(t, StateFailed, rec.State)
	require.Equal(t, "boom", rec.LastError)
}

func TestBackoffDoubles(t *testing.T) {
	q := openTestQueue(t, memConfig())
	require.Equal(t, 5*time.Millisecond, q.backoff(1))
	require.Equal(t, 10*time.Millisecond, q.backoff(2))
	require.Equal(t, 20*time.Millisecond, q.backoff(3))
}

func TestDelayedJobBecomesReady(t *testing.T) {
	q := openTestQueue(t, memConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{ID: "ord-1"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail("ord-1", errors.New("transient")))
	require.Equal(t, 1, q.GetMetrics().Delayed)

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := q.Dequeue(dctx)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Attempts)
}

func TestRetentionTrimsOldest(t *testing.T) {
	cfg := memConfig()
	cfg.CompletedRetention = 2
	q := openTestQueue(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("ord-%d", i)
		_, err := q.Enqueue(ctx, Job{ID: id})
		require.NoError(t, err)
		_, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(id))
	}

	require.Equal(t, 2, q.GetMetrics().Completed)
	_, ok := q.Record("ord-0")
	require.False(t, ok, "oldest completed record should be trimmed")
	_, ok = q.Record("ord-2")
	require.True(t, ok)
}

func TestCloseWakesBlockedDequeue(t *testing.T) {
	q := openTestQueue(t, memConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not return after close")
	}

	_, err := q.Enqueue(context.Background(), Job{ID: "late"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestRecoveryAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := memConfig()
	cfg.InMemory = false
	cfg.Dir = dir

	q, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = q.Enqueue(ctx, Job{ID: "ord-a"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Job{ID: "ord-b"})
	require.NoError(t, err)
	// ord-a 处于 active 时进程退出
	rec, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "ord-a", rec.Job.ID)
	require.NoError(t, q.Close())

	q2, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	defer q2.Close()

	m := q2.GetMetrics()
	require.Equal(t, 2, m.Waiting, "active job should be rescheduled on recovery")
	first, err := q2.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "ord-a", first.Job.ID, "recovery keeps enqueue order")
}
