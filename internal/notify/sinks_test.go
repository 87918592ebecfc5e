package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookSink_PostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())
	err := sink.Send(context.Background(), Event{Kind: KindDecided, ReleaseID: "rel-9", Status: "CONTINUE"})
	require.NoError(t, err)
	assert.Equal(t, "Release rel-9 decided: CONTINUE", got["text"])
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())
	err := sink.Send(context.Background(), Event{Kind: KindRequested})
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "relgate:approvals:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(rdb, "relgate:approvals:events")
	require.NoError(t, sink.Send(ctx, Event{Kind: KindRequested, ApprovalID: "appr_1", ReleaseID: "rel-9"}))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, KindRequested, ev.Kind)
		assert.Equal(t, "appr_1", ev.ApprovalID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}
