package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

func TestPublishLogsNotification(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	p := New(zap.New(core))

	n := novel.JobNotification{Event: novel.EventJobCompleted, JobID: "job-1"}
	id, err := p.Publish(context.Background(), n.Event, n)
	require.NoError(t, err)
	require.Equal(t, "log-1", id)

	id, err = p.Publish(context.Background(), novel.EventJobFailed, n)
	require.NoError(t, err)
	require.Equal(t, "log-2", id)

	entries := logs.FilterMessage("job notification").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	require.Equal(t, novel.EventJobCompleted, fields["topic"])
	require.Equal(t, "log-1", fields["message_id"])
}

func TestPublishHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Publish(ctx, novel.EventJobCompleted, nil)
	require.ErrorIs(t, err, context.Canceled)
}
