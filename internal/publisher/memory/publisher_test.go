package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, novel.EventJobCompleted, novel.JobNotification{JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, novel.EventJobFailed, novel.JobNotification{JobID: "job-2"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, novel.EventJobCompleted, msgs[0].Topic)
	require.Equal(t, "job-2", msgs[1].Payload.(novel.JobNotification).JobID)

	msgs[0].Topic = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic deleted"))
	_, err := pub.Publish(context.Background(), novel.EventJobCompleted, nil)
	require.ErrorContains(t, err, "topic deleted")
	require.Empty(t, pub.Messages())
}
