package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/serial-archiver/internal/novel"
	notify "github.com/JakeFAU/serial-archiver/internal/publisher/pubsub"
)

func TestPublisherPublishesJSONWithEventAttribute(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "jobs")
	require.NoError(t, err)

	pub := notify.NewWithClient(client, "jobs")
	defer func() { _ = pub.Close() }()

	payload := novel.JobNotification{
		Event: novel.EventJobCompleted,
		JobID: "job-1",
		Work:  novel.WorkRef{Platform: novel.PlatformNovelpia, WorkID: "42"},
	}
	id, err := pub.Publish(ctx, novel.EventJobCompleted, payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, novel.EventJobCompleted, msgs[0].Attributes["event"])

	var got novel.JobNotification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, payload.Work, got.Work)
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := notify.New(context.Background(), notify.Config{ProjectID: "p"})
	require.Error(t, err)
}
