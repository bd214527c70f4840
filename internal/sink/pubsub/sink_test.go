package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/storefront-crawler/internal/sink"
)

func newTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)
	return srv, topic
}

func TestEmitPublishesJSON(t *testing.T) {
	t.Parallel()

	srv, topic := newTopic(t)
	s, err := New(topic, "run-1")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, map[string]any{"id": "7", "url": "https://shop.test/products/tee"}))
	require.NoError(t, s.Emit(ctx, sink.Failed(map[string]any{"url": "https://shop.test/products/gone.json"})))
	require.NoError(t, s.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	byURL := map[string]*pstest.Message{}
	for _, m := range msgs {
		byURL[m.Attributes["url"]] = m
	}
	ok := byURL["https://shop.test/products/tee"]
	require.NotNil(t, ok)
	require.JSONEq(t, `{"id":"7","url":"https://shop.test/products/tee"}`, string(ok.Data))
	require.Equal(t, "run-1", ok.Attributes["run_id"])
	require.Equal(t, "7", ok.Attributes["variant_id"])

	failed := byURL["https://shop.test/products/gone.json"]
	require.NotNil(t, failed)
	require.Equal(t, "true", failed.Attributes["failed"])
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "run")
	require.Error(t, err)
}
