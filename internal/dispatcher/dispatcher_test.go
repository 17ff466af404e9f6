package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

type countingRunner struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	<-ctx.Done()
	r.stopped.Add(1)
}

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	dispatch := New(&stubQueue{}, []Runner{runner, runner, runner}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.started.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.EqualValues(t, 3, runner.stopped.Load())
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	dispatch := New(&stubQueue{err: boom}, nil, nil)
	err := dispatch.Enqueue(context.Background(), novel.QueueItem{JobID: "job"})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "queue enqueue")

	q := &stubQueue{}
	require.NoError(t, New(q, nil, nil).Enqueue(context.Background(), novel.QueueItem{JobID: "job"}))
	require.Equal(t, []string{"job"}, q.ids)
}

type stubQueue struct {
	err error
	ids []string
}

func (q *stubQueue) Enqueue(_ context.Context, item novel.QueueItem) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, item.JobID)
	return nil
}

func (q *stubQueue) Dequeue(ctx context.Context) (novel.QueueItem, error) {
	<-ctx.Done()
	return novel.QueueItem{}, ctx.Err()
}
