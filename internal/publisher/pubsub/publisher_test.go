package pubsub

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

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "audit-complete")
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	defer pub.Close()

	score := 91.0
	id, err := pub.Publish(ctx, "audit-complete", audit.Notification{
		JobID:        "job-1",
		Status:       audit.StatusCompleted,
		OverallScore: &score,
		ReportURI:    "memory://audits/job-1/summary.json",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	require.Equal(t, "COMPLETED", msgs[0].Attributes["status"])

	var got audit.Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, 91.0, *got.OverallScore)
}

func TestPublishUnknownTopic(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub, err := New(client)
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "missing", map[string]string{"k": "v"})
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
